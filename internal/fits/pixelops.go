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

package fits

import (
	"math"
	"runtime"
	"github.com/nightphotons/contsub/internal/qsort"
)


//////////////////////////////////////////////////////////////////
// CPU-limited pixel operations. Parallelized across CPUs
//////////////////////////////////////////////////////////////////

// A two-operand pixel function. Writes dst from a and b, which have equal length. For parallelization across CPUs.
type PixelFunction2 func(dst, a, b []float32, params interface{})

// Apply given pixel function to matching slices of dst, a and b. Uses thread parallelism across all available CPUs.
// dst may alias a or b.
func ApplyPixelFunction2(dst, a, b []float32, pf PixelFunction2, args interface{}) {
	// split into 8*NumCPU() work packages, limit parallelism to NumCPUS()
	numBatches:=8*runtime.NumCPU()
	batchSize :=(len(dst)+numBatches-1)/(numBatches)
	if batchSize<1 { batchSize=1 }
	sem       :=make(chan bool, runtime.NumCPU())
	for lower:=0; lower<len(dst); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(dst) { upper=len(dst) }

		sem <- true
		go func(dst, a, b []float32) {
			pf(dst, a, b, args)
			<-sem
		}(dst[lower:upper], a[lower:upper], b[lower:upper])
	}

	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}

type pfSubtractScaledArgs struct {
	Offset  float32
	Scale   float32
}

// Pixel function computing dst = a - (b - offset)*scale. 4th parameter must be a pfSubtractScaledArgs
func pfSubtractScaled(dst, a, b []float32, params interface{}) {
	p:=params.(pfSubtractScaledArgs)
	for i:=range dst {
		dst[i]=a[i]-(b[i]-p.Offset)*p.Scale
	}
}

// Writes minuend - (subtrahend - offset)/ratio into dst. All three must have the same number of pixels,
// and dst may be one of the operands for in-place operation.
func SubtractScaled(dst, minuend, subtrahend *Image, offset, ratio float64) {
	ApplyPixelFunction2(dst.Data, minuend.Data, subtrahend.Data, pfSubtractScaled,
		pfSubtractScaledArgs{Offset:float32(offset), Scale:float32(1/ratio)})
	dst.Stats=nil
}

// Exact median of all non-NaN pixel values. Does not modify the image. Returns NaN for an image without valid pixels
func (f *Image) Median() float64 {
	buf:=make([]float32, 0, len(f.Data))
	for _,v:=range f.Data {
		if !math.IsNaN(float64(v)) { buf=append(buf, v) }
	}
	if len(buf)==0 { return math.NaN() }
	return float64(qsort.QSelectMedianFloat32(buf))
}
