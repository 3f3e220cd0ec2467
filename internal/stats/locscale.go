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


package stats

import (
	"math"

	"github.com/valyala/fastrand"
	"github.com/nightphotons/contsub/internal/qsort"
)

// Scale factor making the MAD a consistent estimator of the standard deviation for normal data
const madToSigma = 1.4826

// Estimates background location and scale from a random sample of at most maxSamples pixels,
// using the median and the normalized median absolute deviation. NaNs are skipped.
func SampledLocationScale(data []float32, maxSamples int) (location, scale float32) {
	samples:=gatherSamples(data, maxSamples)
	if len(samples)==0 { return 0, 0 }

	location=qsort.QSelectMedianFloat32(samples)
	for i,v:=range samples {
		d:=v-location
		if d<0 { d=-d }
		samples[i]=d
	}
	scale=madToSigma*qsort.QSelectMedianFloat32(samples)
	return location, scale
}

// Takes all non-NaN values if data is small enough, else a random sample
func gatherSamples(data []float32, maxSamples int) []float32 {
	if len(data)<=maxSamples {
		samples:=make([]float32, 0, len(data))
		for _,v:=range data {
			if !math.IsNaN(float64(v)) { samples=append(samples, v) }
		}
		return samples
	}
	rng:=fastrand.RNG{}
	samples:=make([]float32, 0, maxSamples)
	for i:=0; i<maxSamples; i++ {
		v:=data[rng.Uint32n(uint32(len(data)))]
		if !math.IsNaN(float64(v)) { samples=append(samples, v) }
	}
	return samples
}
