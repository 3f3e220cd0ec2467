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


package plot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nightphotons/contsub/internal/photometry"
	"github.com/nightphotons/contsub/internal/stats"
)

var ErrTimeout      = errors.New("plotting timed out")
var ErrNotInstalled = errors.New("gnuplot not installed")
var ErrNoData       = errors.New("nothing to plot")

// Colors of data points and trend line
const (
	PointColor = "#E00000"
	TrendColor = "#0000E0"
)

// Renders the flux scatter plot of a calibration and returns the path of the generated file
type Plotter interface {
	Plot(ctx context.Context, res photometry.CalibrationResult) (string, error)
}

// Axis ranges of the plot. X is broadband flux, Y narrowband flux
type Range struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Ranges from the quartiles of the fluxes, [Q1/2, 2*Q3] on each axis, which keeps outliers from squashing the plot
func Ranges(res photometry.CalibrationResult) (Range, error) {
	qx, err:=stats.Quartiles(res.FluxesA)
	if err!=nil { return Range{}, ErrNoData }
	qy, err:=stats.Quartiles(res.FluxesB)
	if err!=nil { return Range{}, ErrNoData }
	return Range{MinX:qx.Q1*0.5, MaxX:qx.Q3*2, MinY:qy.Q1*0.5, MaxY:qy.Q3*2}, nil
}

// End point of the trend line from the origin with slope 1/ratio, stopping just inside the plot range
func Trendline(r Range, ratio float64) (x, y float64) {
	if r.MaxX/ratio < r.MaxY {
		return 0.99*r.MaxX, 0.99*r.MaxX/ratio
	}
	return 0.99*r.MaxY*ratio, 0.99*r.MaxY
}

// Tries gnuplot first, and falls back to the native renderer when it is not installed
type Auto struct {
	Gnuplot *Gnuplot
	Native  *Native
	Log     io.Writer
}

func NewAuto(dir string, log io.Writer) *Auto {
	return &Auto{Gnuplot:NewGnuplot(dir), Native:&Native{Dir:dir}, Log:log}
}

func (a *Auto) Plot(ctx context.Context, res photometry.CalibrationResult) (string, error) {
	path, err:=a.Gnuplot.Plot(ctx, res)
	if err==nil || !errors.Is(err, ErrNotInstalled) { return path, err }
	if a.Log!=nil {
		fmt.Fprintf(a.Log, "gnuplot not found, using built-in plot renderer\n")
	}
	return a.Native.Plot(ctx, res)
}

// The given directory, or a fresh temporary one so concurrent runs do not share files
func runDir(dir string) (string, error) {
	if dir!="" { return dir, nil }
	return os.MkdirTemp("", "contsub-plot-")
}
