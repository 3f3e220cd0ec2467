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
	"errors"
	"fmt"
	"time"

	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/ops"
	"github.com/nightphotons/contsub/internal/photometry"
	"github.com/nightphotons/contsub/internal/plot"
	"github.com/nightphotons/contsub/internal/session"
	"github.com/nightphotons/contsub/internal/star"
	"github.com/nightphotons/contsub/internal/starless"
	"github.com/nightphotons/contsub/internal/subtract"
)

// Finds stars on an image, brightest first
type Detector interface {
	Detect(ctx context.Context, img *fits.Image, progress star.ProgressFunc) ([]star.Detection, error)
}

// Measures star fluxes at candidate positions. May omit candidates it cannot fit
type Fitter interface {
	Fit(ctx context.Context, img *fits.Image, cands []star.Candidate) ([]star.Measurement, error)
}

// Computes a subtraction request into an image
type Evaluator interface {
	Evaluate(req subtract.Request) (*fits.Image, error)
}

// An input image which is missing or violates a constraint
type ValidationError struct {
	Image      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Image, e.Constraint)
}

// Outcome of a pipeline run
type Result struct {
	Calibration photometry.CalibrationResult
	Outputs     []string    // Session ids of the generated images
	Plot        string      // Path of the flux plot, if any
	Warnings    []string
}

// Calibrates a narrowband image against a broadband image of the same session and subtracts the continuum
type Pipeline struct {
	C         *ops.Context
	Session   *session.Session
	Detector  Detector
	Fitter    Fitter
	Evaluator Evaluator
	Remover   starless.Remover   // Generates missing starless images, nil if none
	Plotter   plot.Plotter       // nil disables plotting
}

// Creates a pipeline with the built-in collaborators selected by the configuration
func NewPipeline(c *ops.Context, sess *session.Session, cfg config.Config) *Pipeline {
	p:=&Pipeline{
		C:         c,
		Session:   sess,
		Detector:  star.NewDetector(),
		Fitter:    NewFitter(cfg),
		Evaluator: &subtract.PixelMath{Images:sess, Log:c.Log},
	}
	if cfg.StarlessEnabled && cfg.StarRemovalMethod!=starless.None {
		r, err:=starless.New(cfg.StarRemovalMethod, starless.Options{Command:cfg.StarRemovalCommand, Timeout:cfg.StarRemovalTimeout, Log:c.Log})
		if err!=nil {
			fmt.Fprintf(c.Log, "Warning: %s star removal not available: %v\n", cfg.StarRemovalMethod, err)
		} else {
			p.Remover=r
		}
	}
	if cfg.GeneratePlot {
		p.Plotter=plot.NewAuto(cfg.PlotDirectory, c.Log)
	}
	return p
}

// The flux fitter selected by the configuration
func NewFitter(cfg config.Config) Fitter {
	if cfg.Fitter==config.FitterGaussian {
		return star.NewGaussianFitter()
	}
	return star.NewApertureFitter()
}

// Runs one calibration and subtraction. Generated starless images are temporary and removed from the session on return
func (p *Pipeline) Run(ctx context.Context, cfg config.Config) (res Result, err error) {
	start:=time.Now()
	nb, bb, err:=p.validatePair(cfg.NarrowbandStarID, cfg.BroadbandStarID, "")
	if err!=nil { return Result{}, err }

	var starlessPair *subtract.Pair
	if cfg.StarlessEnabled {
		var generated []string
		starlessPair, generated, res.Warnings=p.prepareStarless(ctx, cfg, nb, bb)
		defer func() {
			for _,id:=range generated {
				fmt.Fprintf(p.C.Log, "Cleaning up %s\n", id)
				p.Session.Remove(id)
			}
		}()
	}

	cal, err:=Calibrate(ctx, p.C, p.Detector, p.Fitter, bb, nb, cfg)
	if err!=nil { return Result{}, err }
	res.Calibration=cal
	res.Warnings=append(res.Warnings, cal.Warnings...)
	fmt.Fprintf(p.C.Log, "Flux ratio %s/%s is %.6g from %d star pairs\n", cfg.BroadbandStarID, cfg.NarrowbandStarID, cal.Ratio, cal.PairsUsed)

	reqs, err:=subtract.Plan(cal.Ratio, subtract.Pair{Narrowband:cfg.NarrowbandStarID, Broadband:cfg.BroadbandStarID}, starlessPair, p.Session)
	if err!=nil { return Result{}, err }
	added:=[]string{}
	defer func() {
		if err==nil { return }
		for _,id:=range added { p.Session.Remove(id) }
	}()
	for i,req:=range reqs {
		out, err:=p.Evaluator.Evaluate(req)
		if err==nil && !req.InPlace() {
			if err=p.Session.Add(req.OutputID, out); err==nil { added=append(added, req.OutputID) }
		}
		if err!=nil && i>0 {
			// the star output stands on its own
			res.Warnings=append(res.Warnings, fmt.Sprintf("skipping starless output %s: %v", req.OutputID, err))
			continue
		}
		if err!=nil {
			return Result{}, fmt.Errorf("evaluating %s: %w", req.Expression(), err)
		}
		if src:=subtract.PropagateAstrometry(out, nb, bb); src!="" {
			fmt.Fprintf(p.C.Log, "%d: Copied astrometric solution from %s\n", out.ID, src)
		}
		res.Outputs=append(res.Outputs, req.OutputID)
	}

	if p.Plotter!=nil {
		path, err:=p.Plotter.Plot(ctx, cal)
		if err!=nil {
			res.Warnings=append(res.Warnings, fmt.Sprintf("plot failed: %v", err))
		} else {
			res.Plot=path
			fmt.Fprintf(p.C.Log, "Flux plot written to %s\n", path)
		}
	}

	for _,w:=range res.Warnings {
		fmt.Fprintf(p.C.Log, "Warning: %s\n", w)
	}
	fmt.Fprintf(p.C.Log, "Created %v in %v\n", res.Outputs, time.Since(start))
	return res, nil
}

// Looks up a narrowband and broadband image, and checks they are single channel of equal size
func (p *Pipeline) validatePair(nbID, bbID, kind string) (nb, bb *fits.Image, err error) {
	nb, err=p.lookup(nbID, "narrowband "+kind+"image")
	if err!=nil { return nil, nil, err }
	bb, err=p.lookup(bbID, "broadband "+kind+"image")
	if err!=nil { return nil, nil, err }
	if !nb.SameDimensions(bb) {
		return nil, nil, &ValidationError{Image:nbID, Constraint:fmt.Sprintf("dimensions %s differ from %s %s", nb.DimensionsToString(), bbID, bb.DimensionsToString())}
	}
	return nb, bb, nil
}

func (p *Pipeline) lookup(id, role string) (*fits.Image, error) {
	if id=="" {
		return nil, &ValidationError{Image:role, Constraint:"must be selected"}
	}
	img, ok:=p.Session.Get(id)
	if !ok {
		return nil, &ValidationError{Image:id, Constraint:"no such "+role}
	}
	if !img.IsMono() {
		return nil, &ValidationError{Image:id, Constraint:fmt.Sprintf("%s must have a single channel, got %s", role, img.DimensionsToString())}
	}
	return img, nil
}

// Resolves the starless pair, generating missing images with the remover. Returns nil if starless output is disabled
// by a failure, along with the ids of generated images to clean up and any warnings.
func (p *Pipeline) prepareStarless(ctx context.Context, cfg config.Config, nb, bb *fits.Image) (pair *subtract.Pair, generated []string, warnings []string) {
	ids:=[2]string{cfg.NarrowbandStarlessID, cfg.BroadbandStarlessID}
	sources:=[2]*fits.Image{nb, bb}
	starIDs:=[2]string{cfg.NarrowbandStarID, cfg.BroadbandStarID}
	for i:=range ids {
		if ids[i]!="" && p.Session.Has(ids[i]) { continue }
		if p.Remover==nil {
			return nil, generated, append(warnings, fmt.Sprintf("no starless image for %s and star removal disabled, skipping starless output", starIDs[i]))
		}
		id:=subtract.UniqueName(p.Session, starIDs[i]+"_starless")
		clone:=sources[i].Clone()
		clone.ID=0
		if err:=p.Session.Add(id, clone); err!=nil {
			return nil, generated, append(warnings, err.Error())
		}
		generated=append(generated, id)
		fmt.Fprintf(p.C.Log, "%d: Generating starless image %s from %s\n", clone.ID, id, starIDs[i])
		if err:=p.Remover.Remove(ctx, clone); err!=nil {
			return nil, generated, append(warnings, fmt.Sprintf("star removal failed for %s, skipping starless output: %v", starIDs[i], err))
		}
		ids[i]=id
	}
	if _,_,err:=p.validatePair(ids[0], ids[1], "starless "); err!=nil {
		return nil, generated, append(warnings, fmt.Sprintf("skipping starless output: %v", err))
	}
	if nbSL,_:=p.Session.Get(ids[0]); !nbSL.SameDimensions(nb) {
		return nil, generated, append(warnings, fmt.Sprintf("skipping starless output: %s differs in size from %s", ids[0], cfg.NarrowbandStarID))
	}
	return &subtract.Pair{Narrowband:ids[0], Broadband:ids[1]}, generated, warnings
}

// Computes the flux ratio broadband/narrowband: detects stars on the broadband image, selects candidates,
// fits both images at the same positions and takes the median ratio over matched stars.
func Calibrate(ctx context.Context, c *ops.Context, det Detector, fitter Fitter, broadband, narrowband *fits.Image, cfg config.Config) (photometry.CalibrationResult, error) {
	cands, err:=SelectStars(ctx, c, det, broadband, cfg)
	if err!=nil { return photometry.CalibrationResult{}, err }
	fluxesA, err:=fitter.Fit(ctx, broadband, cands)
	if err!=nil { return photometry.CalibrationResult{}, fmt.Errorf("%d: fitting stars: %w", broadband.ID, err) }
	return Match(ctx, c, fitter, narrowband, cands, fluxesA)
}

// Detects and selects photometry candidates on the image. Zero candidates is ErrNoStars
func SelectStars(ctx context.Context, c *ops.Context, det Detector, img *fits.Image, cfg config.Config) ([]star.Candidate, error) {
	lastPercent:=-1
	progress:=func(done, total int) error {
		if total>0 {
			if pct:=done*100/total; pct/10!=lastPercent/10 {
				fmt.Fprintf(c.Log, "%d: Detecting stars %d%%\n", img.ID, pct)
				lastPercent=pct
			}
		}
		return ctx.Err()
	}
	dets, err:=det.Detect(ctx, img, progress)
	if err!=nil {
		if errors.Is(err, star.ErrCancelled) || ctx.Err()!=nil { return nil, ops.ErrCancelled }
		return nil, fmt.Errorf("%d: detecting stars: %w", img.ID, err)
	}
	cands:=star.Select(dets, cfg.MaximumStars, cfg.MaximumPeak, cfg.ApertureRadius)
	fmt.Fprintf(c.Log, "%d: Detected %d stars, selected %d below peak %g\n", img.ID, len(dets), len(cands), cfg.MaximumPeak)
	if len(cands)==0 {
		return nil, fmt.Errorf("%d: %w", img.ID, star.ErrNoStars)
	}
	return cands, nil
}

// Fits the image at the candidate positions and estimates the ratio against the given reference fluxes
func Match(ctx context.Context, c *ops.Context, fitter Fitter, img *fits.Image, cands []star.Candidate, refFluxes []star.Measurement) (photometry.CalibrationResult, error) {
	fluxes, err:=fitter.Fit(ctx, img, cands)
	if err!=nil {
		if ctx.Err()!=nil { return photometry.CalibrationResult{}, ops.ErrCancelled }
		return photometry.CalibrationResult{}, fmt.Errorf("%d: fitting stars: %w", img.ID, err)
	}
	pairs:=photometry.Correlate(refFluxes, fluxes, len(cands))
	res, err:=photometry.Estimate(pairs)
	if err!=nil { return res, fmt.Errorf("%d: %w", img.ID, err) }
	return res, nil
}
