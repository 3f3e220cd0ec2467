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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nightphotons/contsub/internal/photometry"
)

const DefaultTimeout = 10*time.Second

// Renders the plot as SVG with a gnuplot subprocess
type Gnuplot struct {
	Binary  string         // Name or path of the gnuplot binary
	Timeout time.Duration  // Hard limit on the subprocess run time
	Dir     string         // Directory for data, script and output. Empty is a new temp dir per plot
}

func NewGnuplot(dir string) *Gnuplot {
	return &Gnuplot{Binary:"gnuplot", Timeout:DefaultTimeout, Dir:dir}
}

func (g *Gnuplot) Plot(ctx context.Context, res photometry.CalibrationResult) (string, error) {
	binary, err:=exec.LookPath(g.Binary)
	if err!=nil {
		return "", fmt.Errorf("%s: %w", g.Binary, ErrNotInstalled)
	}
	r, err:=Ranges(res)
	if err!=nil { return "", err }

	dir, err:=runDir(g.Dir)
	if err!=nil { return "", err }
	data, trend:=filepath.Join(dir, "data.dat"), filepath.Join(dir, "trendline.dat")
	script, svg:=filepath.Join(dir, "fluxes.gnu"), filepath.Join(dir, "fluxes.svg")

	if err:=writeLines(data, func(w *bufio.Writer) {
		for i:=range res.FluxesA {
			fmt.Fprintf(w, "%.4f %.4f\n", res.FluxesA[i], res.FluxesB[i])
		}
	}); err!=nil { return "", err }
	if err:=writeLines(trend, func(w *bufio.Writer) {
		x, y:=Trendline(r, res.Ratio)
		fmt.Fprintf(w, "0 0\n%.4f %.4f\n", x, y)
	}); err!=nil { return "", err }
	if err:=writeLines(script, func(w *bufio.Writer) {
		writeScript(w, r, data, trend, svg)
	}); err!=nil { return "", err }

	timeout:=g.Timeout
	if timeout<=0 { timeout=DefaultTimeout }
	ctx, cancel:=context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd:=exec.CommandContext(ctx, binary, script)
	var stderr bytes.Buffer
	cmd.Stderr=&stderr
	cmd.WaitDelay=time.Second
	if err:=cmd.Run(); err!=nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("after %v: %w", timeout, ErrTimeout)
		}
		return "", fmt.Errorf("gnuplot failed: %v %s", err, strings.TrimSpace(stderr.String()))
	}
	return svg, nil
}

func writeScript(w *bufio.Writer, r Range, data, trend, svg string) {
	fmt.Fprintln(w, "set terminal svg size 600,600 enhanced font 'helvetica,12' background rgb 'white'")
	fmt.Fprintln(w, "set title 'Broadband vs. Narrowband Flux' font 'helvetica,16'")
	fmt.Fprintln(w, "set grid")
	fmt.Fprintln(w, "set xlabel \"Broadband Flux\"")
	fmt.Fprintln(w, "set ylabel \"Narrowband Flux\"")
	fmt.Fprintf(w, "set xrange [%.3f:%.3f]\n", r.MinX, r.MaxX)
	fmt.Fprintf(w, "set yrange [%.3f:%.3f]\n", r.MinY, r.MaxY)
	fmt.Fprintf(w, "set output '%s'\n", svg)
	fmt.Fprintf(w, "plot '%s' with points lc rgbcolor '%s' title \"Fluxes\", \\\n", data, PointColor)
	fmt.Fprintf(w, "'%s' with lines lc rgbcolor '%s' title \"Trendline\"\n", trend, TrendColor)
}

func writeLines(fileName string, f func(w *bufio.Writer)) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()
	w:=bufio.NewWriter(file)
	f(w)
	if err:=w.Flush(); err!=nil { return err }
	return file.Close()
}
