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


package calib

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/history"
	"github.com/nightphotons/contsub/internal/subtract"
)

// Reads images from storage and releases them when done
type Loader interface {
	Load(path string, id int) (*fits.Image, error)
	Release(img *fits.Image)
}

// Writes images to storage
type Saver interface {
	Save(img *fits.Image, path string) error
}

// Persists run and target outcomes
type Recorder interface {
	StartRun(id, kind, reference string, targets int) error
	RecordTarget(runID string, t history.Target) error
	FinishRun(id, state string, succeeded, skipped, failed int) error
}

// Input files of a calibration. Starless files are optional
type Files struct {
	Narrowband         string   `json:"narrowband"`
	Broadband          string   `json:"broadband"`
	NarrowbandStarless string   `json:"narrowbandStarless,omitempty"`
	BroadbandStarless  string   `json:"broadbandStarless,omitempty"`
	Output             string   `json:"output,omitempty"`   // Star output file, default <narrowband>_sub in the output directory
}

// Loads the files into the pipeline's session, runs the calibration and writes the outputs next to the
// configured output. Returns the result and the written paths. Loaded inputs are released on return.
func (p *Pipeline) RunFiles(ctx context.Context, loader Loader, saver Saver, cfg config.Config, f Files) (Result, []string, error) {
	ids:=make([]string, 4)
	for i,path:=range []string{f.Narrowband, f.Broadband, f.NarrowbandStarless, f.BroadbandStarless} {
		if path=="" { continue }
		img, err:=loader.Load(path, 0)
		if err!=nil { return Result{}, nil, fmt.Errorf("loading %s: %w", path, err) }
		id:=subtract.UniqueName(p.Session, stem(path))
		if err:=p.Session.Add(id, img); err!=nil {
			loader.Release(img)
			return Result{}, nil, err
		}
		defer func(id string, img *fits.Image) {
			p.Session.Remove(id)
			loader.Release(img)
		}(id, img)
		ids[i]=id
	}

	res, err:=p.Run(ctx, cfg.WithImages(ids[0], ids[1], ids[2], ids[3]))
	if err!=nil { return res, nil, err }
	defer func() {
		for _,id:=range res.Outputs { p.Session.Remove(id) }
	}()

	out:=f.Output
	if out=="" {
		ext:=cfg.OutputExtension
		if ext=="" { ext=".fits" }
		out=subtract.OutputPath(f.Narrowband, cfg.OutputDirectory, "_sub", ext)
	}
	namer:=subtract.NewFileNamer(cfg.OverwriteExisting)
	written:=[]string{}
	for i,id:=range res.Outputs {
		img, ok:=p.Session.Get(id)
		if !ok { return res, written, fmt.Errorf("output %s missing from session", id) }
		path:=out
		if i>0 {
			// further outputs are named after their session id, next to the first
			path=filepath.Join(filepath.Dir(out), id+filepath.Ext(out))
		}
		path=namer.Reserve(path)
		if err:=saver.Save(img, path); err!=nil { return res, written, err }
		written=append(written, path)
	}
	return res, written, nil
}

// File name without directory and extensions
func stem(path string) string {
	base:=filepath.Base(path)
	for ext:=filepath.Ext(base); ext!=""; ext=filepath.Ext(base) {
		base=strings.TrimSuffix(base, ext)
	}
	return base
}

// Records a single-pair run and returns its id. Recording errors are logged, not returned
func (p *Pipeline) Record(h Recorder, f Files, res Result, written []string, runErr error) string {
	id:=uuid.NewString()
	if h==nil { return id }
	t:=history.Target{Path:f.Narrowband, Status:"succeeded", Ratio:res.Calibration.Ratio,
	                  PairsUsed:res.Calibration.PairsUsed, Warnings:strings.Join(res.Warnings, "; ")}
	if len(written)>0 { t.Output=written[0] }
	succeeded, failed, state:=1, 0, "done"
	if runErr!=nil {
		t.Status, t.Error="failed", runErr.Error()
		succeeded, failed, state=0, 1, "failed"
	}
	for _,err:=range []error{
		h.StartRun(id, "subtract", f.Broadband, 1),
		h.RecordTarget(id, t),
		h.FinishRun(id, state, succeeded, 0, failed),
	} {
		if err!=nil { fmt.Fprintf(p.C.Log, "Warning: recording history: %v\n", err) }
	}
	return id
}
