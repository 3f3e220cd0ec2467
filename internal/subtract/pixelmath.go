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


package subtract

import (
	"fmt"
	"io"
	"math"

	"github.com/nightphotons/contsub/internal/fits"
)

// Looks up images by id
type Images interface {
	Get(name string) (*fits.Image, bool)
}

// Evaluates subtraction requests on images of a session
type PixelMath struct {
	Images Images
	Log    io.Writer
}

// Computes the request. Returns a new image, or the minuend itself if the request is in place
func (p *PixelMath) Evaluate(req Request) (*fits.Image, error) {
	minuend, ok:=p.Images.Get(req.Minuend)
	if !ok { return nil, fmt.Errorf("image %s not found", req.Minuend) }
	subtrahend, ok:=p.Images.Get(req.Subtrahend)
	if !ok { return nil, fmt.Errorf("image %s not found", req.Subtrahend) }

	var dst *fits.Image
	if !req.InPlace() {
		dst=fits.NewImageFromNaxisn(minuend.Naxisn, nil)
		dst.Header=minuend.Header.Clone()
		dst.Exposure=minuend.Exposure
		dst.Bitpix=-32
		fits.ClearAstrometricSolution(dst)
	}
	out, err:=Apply(minuend, subtrahend, req.Ratio, dst)
	if err!=nil { return nil, err }
	if p.Log!=nil {
		fmt.Fprintf(p.Log, "%d: %s\n", out.ID, req.Expression())
	}
	return out, nil
}

// Writes minuend - (subtrahend - med(subtrahend))/ratio into dst and returns it. A nil dst overwrites the minuend.
func Apply(minuend, subtrahend *fits.Image, ratio float64, dst *fits.Image) (*fits.Image, error) {
	if !minuend.IsMono() || !subtrahend.IsMono() {
		return nil, fmt.Errorf("%d: subtraction needs single channel images, got %s and %s", minuend.ID, minuend.DimensionsToString(), subtrahend.DimensionsToString())
	}
	if !minuend.SameDimensions(subtrahend) {
		return nil, fmt.Errorf("%d: dimension mismatch %s vs %s", minuend.ID, minuend.DimensionsToString(), subtrahend.DimensionsToString())
	}
	if ratio==0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("%d: invalid ratio %g", minuend.ID, ratio)
	}
	med:=subtrahend.Median()
	if math.IsNaN(med) {
		return nil, fmt.Errorf("%d: subtrahend has no valid pixels", subtrahend.ID)
	}
	if dst==nil { dst=minuend }
	fits.SubtractScaled(dst, minuend, subtrahend, med, ratio)
	dst.Header.History=append(dst.Header.History, fmt.Sprintf("continuum subtracted, ratio %.6g, median %.6g", ratio, med))
	return dst, nil
}

// Copies the astrometric solution to out from the first source that has one, primary first.
// Returns the source's file name or id, or "" if neither has a solution.
func PropagateAstrometry(out, primary, secondary *fits.Image) string {
	for _,src:=range []*fits.Image{primary, secondary} {
		if src==nil || !fits.HasAstrometricSolution(src) { continue }
		if src!=out { fits.CopyAstrometricSolution(out, src) }
		if src.FileName!="" { return src.FileName }
		return fmt.Sprintf("%d", src.ID)
	}
	return ""
}
