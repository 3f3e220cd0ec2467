// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package starless

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/median"
	"github.com/nightphotons/contsub/internal/star"
)

// Removes stars without external tools, replacing each detected star disc with the median of a surrounding ring.
// Crude compared to neural network tools, but always available.
type BuiltinRemover struct {
	Detector *star.Detector
	HFRScale float64    // Disc radius in multiples of the star's half-flux radius
	Ring     int        // Width of the background ring in pixels
	Log      io.Writer
}

func NewBuiltin(log io.Writer) *BuiltinRemover {
	return &BuiltinRemover{Detector:star.NewDetector(), HFRScale:3, Ring:3, Log:log}
}

func (b *BuiltinRemover) Remove(ctx context.Context, img *fits.Image) error {
	if !img.IsMono() {
		return fmt.Errorf("%d: star removal needs a single channel image, got %s", img.ID, img.DimensionsToString())
	}
	dets, err:=b.Detector.Detect(ctx, img, nil)
	if err!=nil { return err }

	width, height:=int(img.Width()), int(img.Height())
	ring:=[]float32{}
	for _,d:=range dets {
		r:=int(math.Ceil(b.HFRScale*d.HFR))+1
		if r<2 { r=2 }
		outer:=r+b.Ring
		cx, cy:=int(math.Round(d.X)), int(math.Round(d.Y))

		ring=ring[:0]
		forDisc(cx, cy, outer, width, height, func(x, y, d2 int) {
			if d2>r*r {
				if v:=img.Data[y*width+x]; !math.IsNaN(float64(v)) { ring=append(ring, v) }
			}
		})
		if len(ring)==0 { continue }
		bg:=median.MedianFloat32(ring)
		forDisc(cx, cy, r, width, height, func(x, y, d2 int) {
			img.Data[y*width+x]=bg
		})
	}
	img.UpdateStats()
	if b.Log!=nil {
		fmt.Fprintf(b.Log, "%d: Replaced %d stars with local background\n", img.ID, len(dets))
	}
	return nil
}

// Calls f for all pixels within radius of (cx,cy) that lie on the image, with their squared distance
func forDisc(cx, cy, radius, width, height int, f func(x, y, d2 int)) {
	for y:=cy-radius; y<=cy+radius; y++ {
		if y<0 || y>=height { continue }
		for x:=cx-radius; x<=cx+radius; x++ {
			if x<0 || x>=width { continue }
			dx, dy:=x-cx, y-cy
			if d2:=dx*dx+dy*dy; d2<=radius*radius { f(x, y, d2) }
		}
	}
}
