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


package star

import (
	"errors"
)

var ErrNoStars     = errors.New("no stars detected")
var ErrCancelled   = errors.New("cancelled")

// A raw star detection. Peak is the brightest pixel value of the star, normalized to [0,1] full scale
type Detection struct {
	X     float64
	Y     float64
	Peak  float64
	Mass  float64       // Summed pixel values above background within the detection radius
	HFR   float64       // Half-flux radius in pixels
}

// A star selected for photometry. Index is dense 0..N-1 in selection order,
// and is the key by which measurements of two images are matched
type Candidate struct {
	Index  int
	X      float64
	Y      float64
	Peak   float64
	Radius int          // Half-size of the photometry box in pixels
}

// Flux measured for one candidate on one image
type Measurement struct {
	Index int
	Flux  float64
}

// Progress callback for long-running detection. Returning an error aborts the operation
type ProgressFunc func(done, total int) error
