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
	"errors"
	"fmt"
	"math"

	"github.com/nightphotons/contsub/internal/qsort"
)

var ErrEmpty = errors.New("empty sample")

// Median of a sample. Sorts a copy, leaving xs untouched.
// For even lengths, returns the mean of the two central values.
func Median(xs []float64) (float64, error) {
	n:=len(xs)
	if n==0 { return 0, ErrEmpty }
	sorted:=sortedCopy(xs)
	if n&1==1 { return sorted[n/2], nil }
	return 0.5*(sorted[n/2-1]+sorted[n/2]), nil
}

// Five-number summary of a sample
type Quartile struct {
	Min, Q1, Q2, Q3, Max float64
}

func (q Quartile) String() string {
	return fmt.Sprintf("min %.6g q1 %.6g q2 %.6g q3 %.6g max %.6g", q.Min, q.Q1, q.Q2, q.Q3, q.Max)
}

// Quartiles of a sample, at positions floor(n/4), floor(n/2) and ceil(3n/4) of the sorted values.
// For even n each quartile is the mean of the elements just below and at its position,
// for odd n the element at its position. Positions are clamped to the sample.
func Quartiles(xs []float64) (Quartile, error) {
	n:=len(xs)
	if n==0 { return Quartile{}, ErrEmpty }
	sorted:=sortedCopy(xs)

	at:=func(i int) float64 {
		if i>n-1 { i=n-1 }
		if n&1==1 { return sorted[i] }
		lo:=i-1
		if lo<0 { lo=0 }
		return 0.5*(sorted[lo]+sorted[i])
	}
	return Quartile{
		Min: sorted[0],
		Q1:  at(n/4),
		Q2:  at(n/2),
		Q3:  at((3*n+3)/4),
		Max: sorted[n-1],
	}, nil
}

func sortedCopy(xs []float64) []float64 {
	c:=make([]float64, len(xs))
	copy(c, xs)
	qsort.QSortFloat64(c)
	return c
}


// Basic statistics of a float32 sample
type Basic struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
}

func (s *Basic) String() string {
	return fmt.Sprintf("min %.4g max %.4g mean %.4g stddev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculates basic statistics, ignoring NaNs
func CalcBasicStats(data []float32) *Basic {
	min, max:=float32(math.MaxFloat32), float32(-math.MaxFloat32)
	sum, count:=float64(0), 0
	for _,v:=range data {
		if math.IsNaN(float64(v)) { continue }
		if v<min { min=v }
		if v>max { max=v }
		sum+=float64(v)
		count++
	}
	if count==0 { return &Basic{} }
	mean:=sum/float64(count)

	sumSq:=float64(0)
	for _,v:=range data {
		if math.IsNaN(float64(v)) { continue }
		d:=float64(v)-mean
		sumSq+=d*d
	}
	return &Basic{Min:min, Max:max, Mean:float32(mean), StdDev:float32(math.Sqrt(sumSq/float64(count)))}
}
