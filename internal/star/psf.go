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

	"gonum.org/v1/gonum/optimize"
	"github.com/nightphotons/contsub/internal/fits"
)

// Fits an elliptical Gaussian with constant background to each candidate, and reports its integral as flux
type GaussianFitter struct {
	SearchRadius  int   // Recenter on the brightest pixel within this distance before fitting
	MaxIterations int   // Limit on Nelder-Mead iterations per star, 0=library default
}

func NewGaussianFitter() *GaussianFitter {
	return &GaussianFitter{SearchRadius:2, MaxIterations:2000}
}

// Parameters of a fitted Gaussian
type Gaussian struct {
	Background float64
	Amplitude  float64
	X0, Y0     float64
	SigmaX     float64
	SigmaY     float64
}

// Integral of the Gaussian above background
func (g Gaussian) Flux() float64 {
	return 2*math.Pi*g.Amplitude*g.SigmaX*g.SigmaY
}

// Measures flux for each candidate. Fits that fail, leave the fitting box or are not positive are omitted.
// The fitting box is twice the candidate radius plus the search radius, and at least 4 pixels.
func (g *GaussianFitter) Fit(ctx context.Context, img *fits.Image, cands []Candidate) ([]Measurement, error) {
	if !img.IsMono() {
		return nil, fmt.Errorf("%d: photometry needs a single channel image, got %s", img.ID, img.DimensionsToString())
	}
	width, height:=int(img.Width()), int(img.Height())
	res:=make([]Measurement, 0, len(cands))
	for i,c:=range cands {
		if i%checkEvery==0 && ctx.Err()!=nil { return nil, ErrCancelled }

		cx, cy:=brightestNear(img.Data, width, height, c.X, c.Y, g.SearchRadius)
		r:=2*c.Radius
		if r<4 { r=4 }
		gauss, err:=g.fitOne(img.Data, width, height, cx, cy, r)
		if err!=nil { continue }
		if flux:=gauss.Flux(); flux>0 && !math.IsInf(flux, 0) && !math.IsNaN(flux) {
			res=append(res, Measurement{Index:c.Index, Flux:flux})
		}
	}
	return res, nil
}

// Fits a Gaussian to the box of given radius around (cx,cy)
func (g *GaussianFitter) fitOne(data []float32, width, height, cx, cy, r int) (Gaussian, error) {
	if cx-r<0 || cy-r<0 || cx+r>=width || cy+r>=height {
		return Gaussian{}, fmt.Errorf("fitting box at (%d,%d) leaves the image", cx, cy)
	}

	// gather box, and take the minimum as initial background guess
	side:=2*r+1
	box:=make([]float64, side*side)
	bg:=math.MaxFloat64
	for y:=0; y<side; y++ {
		for x:=0; x<side; x++ {
			v:=float64(data[(cy-r+y)*width+(cx-r+x)])
			if math.IsNaN(v) { return Gaussian{}, fmt.Errorf("NaN in fitting box at (%d,%d)", cx, cy) }
			box[y*side+x]=v
			if v<bg { bg=v }
		}
	}
	peak:=box[r*side+r]

	problem:=optimize.Problem{
		Func: func(p []float64) float64 {
			b, amp, x0, y0, sx, sy:=p[0], p[1], p[2], p[3], p[4], p[5]
			if sx<=0.1 || sy<=0.1 { return math.Inf(1) }
			ax, ay:=1/(2*sx*sx), 1/(2*sy*sy)
			sumSq:=0.0
			for y:=0; y<side; y++ {
				dy:=float64(y)-y0
				for x:=0; x<side; x++ {
					dx:=float64(x)-x0
					diff:=box[y*side+x]-(b+amp*math.Exp(-dx*dx*ax-dy*dy*ay))
					sumSq+=diff*diff
				}
			}
			return sumSq
		},
	}
	x0:=[]float64{bg, peak-bg, float64(r), float64(r), 1.5, 1.5}
	var settings *optimize.Settings
	if g.MaxIterations>0 {
		settings=&optimize.Settings{MajorIterations: g.MaxIterations}
	}
	result, err:=optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err!=nil { return Gaussian{}, err }

	p:=result.X
	gauss:=Gaussian{Background:p[0], Amplitude:p[1], X0:p[2]+float64(cx-r), Y0:p[3]+float64(cy-r), SigmaX:p[4], SigmaY:p[5]}
	if p[2]<0 || p[2]>float64(side-1) || p[3]<0 || p[3]>float64(side-1) {
		return Gaussian{}, fmt.Errorf("fitted center (%.2f,%.2f) outside box", gauss.X0, gauss.Y0)
	}
	if p[4]>float64(r) || p[5]>float64(r) {
		return Gaussian{}, fmt.Errorf("fitted width (%.2f,%.2f) exceeds box", p[4], p[5])
	}
	return gauss, nil
}
