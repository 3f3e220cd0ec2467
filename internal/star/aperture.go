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


package star

import (
	"context"
	"fmt"
	"math"

	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/median"
)

// Candidates between cancellation checks
const checkEvery = 64

// Box aperture photometry with a local background from a surrounding ring.
// Deterministic and linear in the pixel values, so a scaled image yields scaled fluxes.
type ApertureFitter struct {
	SearchRadius int    // Recenter on the brightest pixel within this distance of the candidate position
	Annulus      int    // Width of the background ring around the box, in pixels
}

func NewApertureFitter() *ApertureFitter {
	return &ApertureFitter{SearchRadius:2, Annulus:4}
}

// Measures flux for each candidate. Candidates whose box leaves the image, whose peak is not above
// the background, or whose background-subtracted flux is not positive, are omitted.
func (a *ApertureFitter) Fit(ctx context.Context, img *fits.Image, cands []Candidate) ([]Measurement, error) {
	if !img.IsMono() {
		return nil, fmt.Errorf("%d: photometry needs a single channel image, got %s", img.ID, img.DimensionsToString())
	}
	width, height:=int(img.Width()), int(img.Height())
	res:=make([]Measurement, 0, len(cands))
	ring:=[]float32{}

	for i,c:=range cands {
		if i%checkEvery==0 && ctx.Err()!=nil { return nil, ErrCancelled }

		cx, cy:=brightestNear(img.Data, width, height, c.X, c.Y, a.SearchRadius)
		r:=c.Radius
		outer:=r+a.Annulus
		if cx-r<0 || cy-r<0 || cx+r>=width || cy+r>=height { continue }

		sum, n:=0.0, 0
		ring=ring[:0]
		for y:=cy-outer; y<=cy+outer; y++ {
			if y<0 || y>=height { continue }
			for x:=cx-outer; x<=cx+outer; x++ {
				if x<0 || x>=width { continue }
				v:=img.Data[y*width+x]
				if math.IsNaN(float64(v)) { continue }
				if abs(x-cx)<=r && abs(y-cy)<=r {
					sum+=float64(v)
					n++
				} else {
					ring=append(ring, v)
				}
			}
		}
		if n==0 { continue }
		background:=0.0
		if len(ring)>0 {
			background=float64(median.MedianFloat32(ring))
		}
		// no signal above the local background
		if float64(img.Data[cy*width+cx])<=background { continue }
		box:=(2*r+1)*(2*r+1)
		flux:=sum*float64(box)/float64(n)-float64(box)*background
		if flux>0 && !math.IsInf(flux, 0) {
			res=append(res, Measurement{Index:c.Index, Flux:flux})
		}
	}
	return res, nil
}

// Integer position of the brightest pixel within radius of (x,y)
func brightestNear(data []float32, width, height int, xf, yf float64, radius int) (bx, by int) {
	xc, yc:=int(math.Round(xf)), int(math.Round(yf))
	bx, by=xc, yc
	best:=float32(-math.MaxFloat32)
	for y:=yc-radius; y<=yc+radius; y++ {
		if y<0 || y>=height { continue }
		for x:=xc-radius; x<=xc+radius; x++ {
			if x<0 || x>=width { continue }
			if v:=data[y*width+x]; v>best {
				best, bx, by = v, x, y
			}
		}
	}
	return bx, by
}

func abs(x int) int {
	if x<0 { return -x }
	return x
}
