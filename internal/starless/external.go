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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nightphotons/contsub/internal/fits"
)

const DefaultTimeout = 10*time.Minute

// Runs an external star removal tool on a temporary 16-bit TIFF, and reads the result back
type ExternalRemover struct {
	Binary  string
	Args    []string        // {in} and {out} are replaced with the temporary file names
	Timeout time.Duration
	Log     io.Writer
}

// Creates an external remover from a command line like "starnet++ {in} {out} 256".
// Returns ErrUnavailable if the command is empty or its binary cannot be found.
func NewExternal(command, timeout string, log io.Writer) (*ExternalRemover, error) {
	fields:=strings.Fields(command)
	if len(fields)==0 {
		return nil, fmt.Errorf("no external command configured: %w", ErrUnavailable)
	}
	binary, err:=exec.LookPath(fields[0])
	if err!=nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrUnavailable)
	}
	e:=&ExternalRemover{Binary:binary, Args:fields[1:], Timeout:DefaultTimeout, Log:log}
	if timeout!="" {
		if e.Timeout, err=time.ParseDuration(timeout); err!=nil {
			return nil, fmt.Errorf("star removal timeout: %w", err)
		}
	}
	return e, nil
}

func (e *ExternalRemover) Remove(ctx context.Context, img *fits.Image) error {
	if !img.IsMono() {
		return fmt.Errorf("%d: star removal needs a single channel image, got %s", img.ID, img.DimensionsToString())
	}
	dir, err:=os.MkdirTemp("", "contsub-starless-")
	if err!=nil { return err }
	defer os.RemoveAll(dir)

	img.UpdateStats()
	min, max:=img.Stats.Min, img.Stats.Max
	in, out:=filepath.Join(dir, "in.tif"), filepath.Join(dir, "out.tif")
	if err:=img.WriteMonoTIFF16ToFile(in, min, max, 1); err!=nil {
		return fmt.Errorf("%d: writing star removal input: %w", img.ID, err)
	}

	args:=make([]string, len(e.Args))
	for i,a:=range e.Args {
		a=strings.ReplaceAll(a, "{in}", in)
		args[i]=strings.ReplaceAll(a, "{out}", out)
	}
	timeout:=e.Timeout
	if timeout<=0 { timeout=DefaultTimeout }
	ctx, cancel:=context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd:=exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir=dir
	var stderr bytes.Buffer
	cmd.Stderr=&stderr
	cmd.WaitDelay=time.Second
	if e.Log!=nil { cmd.Stdout=e.Log }
	start:=time.Now()
	if err:=cmd.Run(); err!=nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%d: star removal timed out after %v: %w", img.ID, timeout, ErrUnavailable)
		}
		return fmt.Errorf("%d: star removal failed: %v %s", img.ID, err, strings.TrimSpace(stderr.String()))
	}

	res:=fits.NewImage()
	if err:=res.ReadTIFF(out); err!=nil {
		return fmt.Errorf("%d: reading star removal output: %w", img.ID, err)
	}
	if res.Width()!=img.Width() || res.Height()!=img.Height() {
		return fmt.Errorf("%d: star removal output has dimensions %s, want %s", img.ID, res.DimensionsToString(), img.DimensionsToString())
	}

	// map [0,65535] back to the original range, averaging channels if the tool returned color
	plane:=len(img.Data)
	channels:=int(res.Channels())
	scale:=(max-min)/65535/float32(channels)
	for i:=range img.Data {
		sum:=float32(0)
		for c:=0; c<channels; c++ {
			sum+=res.Data[i+c*plane]
		}
		img.Data[i]=min+sum*scale
	}
	img.UpdateStats()
	if e.Log!=nil {
		fmt.Fprintf(e.Log, "%d: Removed stars with %s in %v\n", img.ID, filepath.Base(e.Binary), time.Since(start))
	}
	return nil
}
