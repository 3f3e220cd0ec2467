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
	"fmt"
	"path/filepath"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/nightphotons/contsub/internal/photometry"
)

// Renders the plot as PNG in-process, for systems without gnuplot
type Native struct {
	Dir  string   // Empty is a new temp dir per plot
	Size int      // Edge length in pixels, 0 means 600
}

func (n *Native) Plot(ctx context.Context, res photometry.CalibrationResult) (string, error) {
	dir, err:=runDir(n.Dir)
	if err!=nil { return "", err }
	path:=filepath.Join(dir, "fluxes.png")
	size:=n.Size
	if size<=0 { size=600 }
	if err:=RenderPNG(path, size, res); err!=nil { return "", err }
	return path, nil
}

// Renders the flux scatter plot with trend line into a PNG file of given edge length
func RenderPNG(fileName string, size int, res photometry.CalibrationResult) error {
	r, err:=Ranges(res)
	if err!=nil { return err }
	if r.MaxX<=r.MinX { r.MaxX=r.MinX+1 }
	if r.MaxY<=r.MinY { r.MaxY=r.MinY+1 }
	point, err:=colorful.Hex(PointColor)
	if err!=nil { return err }
	trend, err:=colorful.Hex(TrendColor)
	if err!=nil { return err }

	const margin=60.0
	s:=float64(size)
	plotW:=s-2*margin
	toX:=func(x float64) float64 { return margin+(x-r.MinX)/(r.MaxX-r.MinX)*plotW }
	toY:=func(y float64) float64 { return s-margin-(y-r.MinY)/(r.MaxY-r.MinY)*plotW }

	dc:=gg.NewContext(size, size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// grid and frame
	dc.SetRGB(0.85, 0.85, 0.85)
	dc.SetLineWidth(1)
	for i:=0; i<=10; i++ {
		f:=margin+float64(i)*plotW/10
		dc.DrawLine(f, margin, f, s-margin)
		dc.DrawLine(margin, f, s-margin, f)
	}
	dc.Stroke()
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(margin, margin, plotW, plotW)
	dc.Stroke()

	dc.DrawStringAnchored("Broadband vs. Narrowband Flux", s/2, margin/2, 0.5, 0.5)
	dc.DrawStringAnchored("Broadband Flux", s/2, s-margin/3, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3f", r.MinX), margin, s-margin+12, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3f", r.MaxX), s-margin, s-margin+12, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3f", r.MinY), margin-4, s-margin, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3f", r.MaxY), margin-4, margin, 1, 0.5)
	dc.Push()
	dc.RotateAbout(gg.Radians(-90), margin/3, s/2)
	dc.DrawStringAnchored("Narrowband Flux", margin/3, s/2, 0.5, 0.5)
	dc.Pop()

	// clip data to the plot area
	dc.DrawRectangle(margin, margin, plotW, plotW)
	dc.Clip()

	dc.SetRGB(point.R, point.G, point.B)
	for i:=range res.FluxesA {
		dc.DrawCircle(toX(res.FluxesA[i]), toY(res.FluxesB[i]), 2.5)
		dc.Fill()
	}

	x, y:=Trendline(r, res.Ratio)
	dc.SetRGB(trend.R, trend.G, trend.B)
	dc.SetLineWidth(1.5)
	dc.DrawLine(toX(0), toY(0), toX(x), toY(y))
	dc.Stroke()
	dc.ResetClip()

	return dc.SavePNG(fileName)
}
