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


package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nightphotons/contsub/internal/calib"
	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/ops"
	"github.com/nightphotons/contsub/internal/star"
	"github.com/nightphotons/contsub/internal/subtract"
)

type Loader = calib.Loader
type Saver  = calib.Saver

type Recorder = calib.Recorder

// Files of one batch and where the outputs go
type Job struct {
	Reference string
	Targets   []string
	OutputDir string    // Empty keeps each target's directory
	Postfix   string
	Extension string    // Empty keeps each target's extension
	Overwrite bool
}

// Job for the given targets with the output settings of the configuration
func NewJob(cfg config.Config, targets []string) Job {
	return Job{
		Reference: cfg.ReferencePath,
		Targets:   targets,
		OutputDir: cfg.OutputDirectory,
		Postfix:   cfg.OutputPostfix,
		Extension: cfg.OutputExtension,
		Overwrite: cfg.OverwriteExisting,
	}
}

// The reference image with its calibration data. Read-only once prepared
type Reference struct {
	Path       string
	Image      *fits.Image
	Median     float64
	Candidates []star.Candidate
	Fluxes     []star.Measurement

	once       sync.Once
	release    func(*fits.Image)
}

// Releases the reference image. Safe to call more than once
func (r *Reference) Release() {
	if r==nil { return }
	r.once.Do(func() {
		if r.release!=nil { r.release(r.Image) }
	})
}

// Applies the calibration of one reference image to many target files
type Runner struct {
	C        *ops.Context
	Config   config.Config
	Detector calib.Detector
	Fitter   calib.Fitter
	Loader   Loader
	Saver    Saver
	History  Recorder       // nil disables recording

	mutex    sync.Mutex
	state    State
}

// Creates a runner with the built-in detector, the configured fitter and file storage
func NewRunner(c *ops.Context, cfg config.Config) *Runner {
	return &Runner{
		C:        c,
		Config:   cfg,
		Detector: star.NewDetector(),
		Fitter:   calib.NewFitter(cfg),
		Loader:   &ops.FileLoader{C:c},
		Saver:    &ops.FileSaver{C:c},
	}
}

func (r *Runner) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mutex.Lock()
	r.state=s
	r.mutex.Unlock()
}

// Loads the reference and computes its star candidates and fluxes. On failure after loading, the reference is released
func (r *Runner) Prepare(ctx context.Context, job Job) (*Reference, error) {
	r.setState(LoadReference)
	img, err:=r.Loader.Load(job.Reference, 0)
	if err!=nil {
		r.setState(Failed)
		return nil, &ReferenceLoadError{Path:job.Reference, Err:err}
	}
	ref:=&Reference{Path:job.Reference, Image:img, release:r.Loader.Release}

	r.setState(ComputeReferenceCalibration)
	if !img.IsMono() {
		ref.Release()
		r.setState(Failed)
		return nil, fmt.Errorf("reference %s: needs a single channel image, got %s", job.Reference, img.DimensionsToString())
	}
	ref.Candidates, err=calib.SelectStars(ctx, r.C, r.Detector, img, r.Config)
	if err==nil {
		ref.Fluxes, err=r.Fitter.Fit(ctx, img, ref.Candidates)
	}
	if err==nil && len(ref.Fluxes)==0 {
		err=fmt.Errorf("%d: no star could be measured: %w", img.ID, star.ErrNoStars)
	}
	if err!=nil {
		ref.Release()
		r.setState(Failed)
		return nil, fmt.Errorf("reference %s: %w", job.Reference, err)
	}
	ref.Median=img.Median()
	fmt.Fprintf(r.C.Log, "%d: Reference %s has %d candidates, %d measured, median %.6g\n",
		img.ID, job.Reference, len(ref.Candidates), len(ref.Fluxes), ref.Median)
	return ref, nil
}

// Calibrates one target against the reference, subtracts the scaled reference in place and writes the output.
// Never panics, failures are reported in the result.
func (r *Runner) ProcessTarget(ctx context.Context, ref *Reference, job Job, namer *subtract.FileNamer, path string, id int) (res TargetResult) {
	res=TargetResult{Path:path, ID:id}
	defer func() {
		if p:=recover(); p!=nil {
			res.Status, res.Err=TargetFailed, fmt.Errorf("%s: panic: %v", path, p)
		}
		if res.Err!=nil {
			fmt.Fprintf(r.C.Log, "%d: %s: %v\n", id, res.Status, res.Err)
		}
	}()

	if ctx.Err()!=nil {
		res.Status, res.Err=Skipped, fmt.Errorf("%s: %w", path, ops.ErrCancelled)
		return res
	}
	if sameFile(path, ref.Path) {
		res.Status, res.Err=Skipped, fmt.Errorf("%s: is the reference", path)
		return res
	}

	img, err:=r.Loader.Load(path, id)
	if err!=nil {
		res.Status, res.Err=TargetFailed, fmt.Errorf("%s: %w", path, err)
		return res
	}
	defer r.Loader.Release(img)
	if !img.IsMono() || !img.SameDimensions(ref.Image) {
		res.Status, res.Err=Skipped, fmt.Errorf("%s: dimensions %s do not match reference %s", path, img.DimensionsToString(), ref.Image.DimensionsToString())
		return res
	}

	cal, err:=calib.Match(ctx, r.C, r.Fitter, img, ref.Candidates, ref.Fluxes)
	if err!=nil {
		res.Status, res.Err=TargetFailed, fmt.Errorf("%s: %w", path, err)
		return res
	}
	res.Ratio, res.PairsUsed, res.Warnings=cal.Ratio, cal.PairsUsed, cal.Warnings
	for _,w:=range cal.Warnings {
		fmt.Fprintf(r.C.Log, "%d: Warning: %s\n", id, w)
	}

	fits.SubtractScaled(img, img, ref.Image, ref.Median, cal.Ratio)
	img.Header.History=append(img.Header.History, fmt.Sprintf("continuum subtracted with %s, ratio %.6g", filepath.Base(ref.Path), cal.Ratio))
	subtract.PropagateAstrometry(img, img, ref.Image)

	out:=namer.Reserve(subtract.OutputPath(path, job.OutputDir, job.Postfix, job.Extension))
	if err:=r.Saver.Save(img, out); err!=nil {
		res.Status, res.Err=TargetFailed, fmt.Errorf("%s: %w", path, err)
		return res
	}
	res.Output, res.Status=out, Succeeded
	fmt.Fprintf(r.C.Log, "%d: Ratio %.6g from %d pairs, wrote %s\n", id, cal.Ratio, cal.PairsUsed, out)
	return res
}

// Runs the whole batch. The summary is complete even if the batch fails, and the reference is released exactly once
func (r *Runner) Run(ctx context.Context, job Job) (sum Summary, err error) {
	start:=time.Now()
	sum.RunID=uuid.NewString()
	r.record(func(h Recorder) error { return h.StartRun(sum.RunID, "batch", job.Reference, len(job.Targets)) })
	defer func() {
		sum.State=r.State()
		fmt.Fprintf(r.C.Log, "%s in %v\n", sum.String(), time.Since(start))
		r.record(func(h Recorder) error { return h.FinishRun(sum.RunID, sum.State.String(), sum.Succeeded, sum.Skipped, sum.Failed) })
	}()

	ref, err:=r.Prepare(ctx, job)
	if err!=nil { return sum, err }
	defer func() {
		r.setState(Cleanup)
		ref.Release()
		if err==nil { r.setState(Done) } else { r.setState(Failed) }
	}()

	r.setState(ProcessTarget)
	namer:=subtract.NewFileNamer(job.Overwrite)
	workers:=r.C.Workers(r.Config.Workers, int64(ref.Image.Pixels)*4, 3)
	fmt.Fprintf(r.C.Log, "Processing %d targets with %d workers\n", len(job.Targets), workers)

	results:=make([]TargetResult, len(job.Targets))
	started:=make([]bool, len(job.Targets))
	ops.ForEach(ctx, len(job.Targets), workers, func(i int) error {
		started[i]=true
		results[i]=r.ProcessTarget(ctx, ref, job, namer, job.Targets[i], i+1)
		r.recordTarget(sum.RunID, results[i])
		return results[i].Err
	})
	for i:=range results {
		if !started[i] {
			results[i]=TargetResult{Path:job.Targets[i], ID:i+1, Status:Skipped, Err:fmt.Errorf("%s: %w", job.Targets[i], ops.ErrCancelled)}
			r.recordTarget(sum.RunID, results[i])
		}
		sum.add(results[i])
	}
	return sum, nil
}

func (r *Runner) record(f func(h Recorder) error) {
	if r.History==nil { return }
	if err:=f(r.History); err!=nil {
		fmt.Fprintf(r.C.Log, "Warning: recording history: %v\n", err)
	}
}

func (r *Runner) recordTarget(runID string, t TargetResult) {
	r.record(func(h Recorder) error { return h.RecordTarget(runID, t.Record()) })
}

// True if both paths name the same file
func sameFile(a, b string) bool {
	if a==b { return true }
	sa, errA:=os.Stat(a)
	sb, errB:=os.Stat(b)
	if errA==nil && errB==nil { return os.SameFile(sa, sb) }
	absA, errA:=filepath.Abs(a)
	absB, errB:=filepath.Abs(b)
	return errA==nil && errB==nil && absA==absB
}

// A reference which could not be loaded. Fatal to the batch
type ReferenceLoadError struct {
	Path string
	Err  error
}

func (e *ReferenceLoadError) Error() string {
	return fmt.Sprintf("loading reference %s: %v", e.Path, e.Err)
}

func (e *ReferenceLoadError) Unwrap() error { return e.Err }

// Collects files matching the given glob patterns, skipping directories and duplicates
func ExpandPatterns(patterns []string) ([]string, error) {
	seen:=map[string]bool{}
	res:=[]string{}
	for _,pattern:=range patterns {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, err }
		if len(matches)==0 && !strings.ContainsAny(pattern, "*?[") {
			matches=[]string{pattern}
		}
		for _,m:=range matches {
			if seen[m] { continue }
			if fi, err:=os.Stat(m); err==nil && fi.IsDir() { continue }
			seen[m]=true
			res=append(res, m)
		}
	}
	if len(res)==0 {
		return nil, errors.New(fmt.Sprintf("no files to load from pattern %v", patterns))
	}
	return res, nil
}
