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


package photometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/nightphotons/contsub/internal/star"
	"github.com/nightphotons/contsub/internal/stats"
)

var ErrNoValidPairs = errors.New("no valid star pairs")

// Below this many pairs the ratio is reported with a warning
const MinConfidentPairs = 50

// Fluxes of one star on both images. Nil means the star was not measured on that side
type FluxPair struct {
	Index int
	FluxA *float64
	FluxB *float64
}

// A pair is usable when both fluxes are present, finite and non-zero
func (p FluxPair) Usable() bool {
	return usable(p.FluxA) && usable(p.FluxB)
}

func usable(f *float64) bool {
	return f!=nil && *f!=0 && !math.IsNaN(*f) && !math.IsInf(*f, 0)
}

// Ratio of the pair, only meaningful if Usable()
func (p FluxPair) Ratio() float64 {
	return *p.FluxA / *p.FluxB
}

// Outcome of a calibration. Treat as read-only once returned
type CalibrationResult struct {
	Ratio     float64
	PairsUsed int
	Warnings  []string
	FluxesA   []float64   // Usable fluxes in pair order, for plotting
	FluxesB   []float64
}

// Joins measurements of two images on the candidate index. Returns starCount pairs,
// indices outside [0,starCount) are ignored, later duplicates overwrite earlier ones.
func Correlate(fluxesA, fluxesB []star.Measurement, starCount int) []FluxPair {
	if starCount<0 { starCount=0 }
	pairs:=make([]FluxPair, starCount)
	for i:=range pairs {
		pairs[i].Index=i
	}
	for _,m:=range fluxesA {
		if m.Index<0 || m.Index>=starCount { continue }
		f:=m.Flux
		pairs[m.Index].FluxA=&f
	}
	for _,m:=range fluxesB {
		if m.Index<0 || m.Index>=starCount { continue }
		f:=m.Flux
		pairs[m.Index].FluxB=&f
	}
	return pairs
}

// Estimates the flux ratio A/B as the median over all usable pairs, one sample per pair
func Estimate(pairs []FluxPair) (CalibrationResult, error) {
	ratios:=make([]float64, 0, len(pairs))
	res:=CalibrationResult{}
	for _,p:=range pairs {
		if !p.Usable() { continue }
		ratios=append(ratios, p.Ratio())
		res.FluxesA=append(res.FluxesA, *p.FluxA)
		res.FluxesB=append(res.FluxesB, *p.FluxB)
	}
	if len(ratios)==0 {
		return CalibrationResult{}, ErrNoValidPairs
	}
	ratio, err:=stats.Median(ratios)
	if err!=nil { return CalibrationResult{}, err }
	res.Ratio=ratio
	res.PairsUsed=len(ratios)
	if res.PairsUsed<MinConfidentPairs {
		res.Warnings=append(res.Warnings, LowConfidenceWarning(res.PairsUsed))
	}
	return res, nil
}

func LowConfidenceWarning(pairs int) string {
	return fmt.Sprintf("only %d valid star pairs detected, results may be inaccurate", pairs)
}

// Ratios of all usable pairs, in pair order
func (r CalibrationResult) Ratios() []float64 {
	res:=make([]float64, len(r.FluxesA))
	for i:=range r.FluxesA {
		res[i]=r.FluxesA[i]/r.FluxesB[i]
	}
	return res
}

func (r CalibrationResult) String() string {
	return fmt.Sprintf("ratio %.6g from %d pairs", r.Ratio, r.PairsUsed)
}
