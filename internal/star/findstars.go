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
	"context"
	"fmt"
	"math"

	"github.com/valyala/fastrand"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/median"
	"github.com/nightphotons/contsub/internal/stats"
)

// Rows between progress callbacks and cancellation checks
const progressRows = 64

// Smallest plausible half-flux radius. Isolated hot pixels come out near zero
const minHFR = 0.5

// Built-in star detector. Thresholds pixels significantly above the background,
// rejects hot pixels, merges overlaps and refines positions to the center of mass.
type Detector struct {
	Sigma         float32   // Detection threshold in multiples of the background scale above the background location
	BadPixelSigma float32   // Reject candidates differing from their 3x3 median by this many standard deviations, 0=off
	InOut         float32   // Minimal ratio of brightness inside the HFR to outside
	Radius        int32     // Radius for overlap rejection, centroiding and HFR, in pixels
	Samples       int       // Number of random pixels for background estimation
}

func NewDetector() *Detector {
	return &Detector{Sigma:8, BadPixelSigma:0, InOut:1.4, Radius:8, Samples:100000}
}

// Working record of a star during detection
type blob struct {
	Index int32         // Index of the star in the data array. int32(x)+width*int32(y)
	Value float32       // Value of the star in the data array. data[index]
	X     float32       // Precise star x position via center of mass
	Y     float32       // Precise star y position via center of mass
	Mass  float32       // Star mass. Summed pixel values above location estimate, within given radius
	HFR   float32       // Half-Flux Radius of the star, in pixels
}

// Finds stars on a single channel image. Results are sorted by descending peak.
// Calls progress every few rows, and aborts with ErrCancelled if the context ends or progress returns an error.
func (d *Detector) Detect(ctx context.Context, img *fits.Image, progress ProgressFunc) ([]Detection, error) {
	if !img.IsMono() {
		return nil, fmt.Errorf("%d: star detection needs a single channel image, got %s", img.ID, img.DimensionsToString())
	}
	data, width, height:=img.Data, img.Width(), img.Height()

	location, scale:=stats.SampledLocationScale(data, d.Samples)
	if scale<=0 {
		// noiseless background, fall back to a fraction of the dynamic range
		if img.Stats==nil { img.UpdateStats() }
		scale=(img.Stats.Max-location)*1e-3
	}
	threshold:=location+scale*d.Sigma

	stars, err:=findBrightPixels(ctx, data, width, height, threshold, d.Radius, progress)
	if err!=nil { return nil, err }

	if d.BadPixelSigma>0 {
		stars=rejectBadPixels(stars, data, width, d.BadPixelSigma)
	}

	// filter out faint stars overlapped by brighter ones
	QSortBlobsDesc(stars)
	stars=filterOutOverlaps(stars, width, height, d.Radius)

	// move stars to centroid position, then filter again
	shiftToCenterOfMass(stars, data, width, location+scale*d.Sigma*0.5, d.Radius)
	QSortBlobsDesc(stars)
	stars=filterOutOverlaps(stars, width, height, d.Radius)

	// remove implausible stars based on HFR and mass
	stars=calcAndFilterHalfFluxRadius(stars, data, width, float32(d.Radius), location, d.InOut)

	if progress!=nil {
		if err:=progress(int(height), int(height)); err!=nil { return nil, ErrCancelled }
	}

	fullScale:=img.FullScale()
	res:=make([]Detection, len(stars))
	for i,s:=range stars {
		res[i]=Detection{
			X:    float64(s.X),
			Y:    float64(s.Y),
			Peak: float64(peakAround(data, width, height, s.X, s.Y)/fullScale),
			Mass: float64(s.Mass),
			HFR:  float64(s.HFR),
		}
	}
	QSortDetectionsDesc(res)
	return res, nil
}

// Find pixels above the threshold and return them as stars. Applies early overlap rejection based on radius to reduce allocations.
// Uses central pixel value as initial mass, 1 as initial HFR.
func findBrightPixels(ctx context.Context, data []float32, width, height int32, threshold float32, radius int32, progress ProgressFunc) ([]blob, error) {
	stars:=make([]blob, 0, len(data)/1000)

	for y:=int32(0); y<height; y++ {
		if y%progressRows==0 {
			if ctx.Err()!=nil { return nil, ErrCancelled }
			if progress!=nil {
				if err:=progress(int(y), int(height)); err!=nil { return nil, ErrCancelled }
			}
		}
		row:=data[y*width:(y+1)*width]
		for x,v:=range row {
			if !(v>threshold) { continue }
			is:=blob{Index:y*width+int32(x), Value:v, X:float32(x), Y:float32(y), Mass:v, HFR:1}

			// check if within radius distance of the previously detected candidate star to optimize memory usage
			if len(stars)>0 {
				oldS:=stars[len(stars)-1]
				if oldS.Y==is.Y && oldS.X>=is.X-float32(radius) {
					if oldS.Value<is.Value {
						stars[len(stars)-1]=is  // replace old candidate with brighter new one
					}
					continue
				}
			}
			stars=append(stars, is)
		}
	}
	return stars, nil
}

// Reject bad pixels which differ from the local median by more than sigma times the estimated standard deviation.
// Modifies the given stars array values, and returns shortened slice
func rejectBadPixels(stars []blob, data []float32, width int32, sigma float32) []blob {
	mask:=median.CreateMask(width, 1.5)
	buffer:=make([]float32, len(mask))

	// Estimate standard deviation of pixels from local neighborhood median based on random 1% of pixels
	numSamples:=len(data)/100
	if numSamples<100 { numSamples=len(data) }
	samples:=make([]float32, 0, numSamples)
	rng:=fastrand.RNG{}
	for i:=0; i<numSamples; i++ {
		index:=int32(rng.Uint32n(uint32(len(data))))
		m:=median.GatherAndMedian(data, index, mask, buffer)
		if diff:=data[index]-m; !math.IsNaN(float64(diff)) {
			samples=append(samples, diff)
		}
	}
	medianDiffStats:=stats.CalcBasicStats(samples)

	// Keep only candidates which are no more than sigma standard deviations away from the local median.
	// A star has a smooth profile, a hot pixel sticks out of its neighborhood
	threshold:=medianDiffStats.StdDev*sigma
	if threshold<=0 { return stars }
	remainingStars:=0
	for _,s := range(stars) {
		m:=median.GatherAndMedian(data, s.Index, mask, buffer)
		diff:=data[s.Index]-m
		if diff<threshold && -diff<threshold {
			stars[remainingStars]=s
			remainingStars++
		}
	}
	return stars[:remainingStars]
}

// A singly linked list of stars. Used for filtering out overlaps
type blobListItem struct {
	Star *blob
	Next *blobListItem
}

// Filters out overlaps from the stars, which must be sorted by descending brightness.
func filterOutOverlaps(stars []blob, width, height, radius int32) []blob {
	// To avoid quadratic search effort, we bin the stars into a 2D grid.
	// Each bin is a linked list of stars, sorted by descending value
	binSize:=int32(256)
	xBins  :=(width +binSize-1)/binSize
	yBins  :=(height+binSize-1)/binSize
	bins   :=make([]*blobListItem,int(xBins*yBins))
	items  :=make([]blobListItem,len(stars))
	radiusSquared:=radius*radius

	numRemainingStars:=0
	forAllStars:
	for _,s:=range stars {
		xCell, yCell:=int32(s.X+0.5)/binSize, int32(s.Y+0.5)/binSize
		if xCell>=xBins { xCell=xBins-1 }
		if yCell>=yBins { yCell=yBins-1 }

		// For this grid cell and all adjacent cells
		for dy:=int32(-1); dy<=1; dy++ {
			if yCell+dy<0 || yCell+dy>=yBins { continue }
			for dx:=int32(-1); dx<=1; dx++ {
				if xCell+dx<0 || xCell+dx>=xBins { continue }
				for ptr:=bins[(xCell+dx)+(yCell+dy)*xBins]; ptr!=nil; ptr=ptr.Next {
					xDist :=s.X-ptr.Star.X
					yDist :=s.Y-ptr.Star.Y
					sqDist:=int32(xDist*xDist + yDist*yDist+0.5)
					if sqDist<=radiusSquared {
						continue forAllStars  // close to a brighter star
					}
				}
			}
		}

		stars[numRemainingStars]=s
		items[numRemainingStars]=blobListItem{&(stars[numRemainingStars]),nil}
		cellIndex:=xCell+yCell*xBins
		items[numRemainingStars].Next=bins[cellIndex]
		bins[cellIndex]=&(items[numRemainingStars])
		numRemainingStars++
	}
	return stars[:numRemainingStars]
}

// Shifts each star to its floating point-valued center of mass. Modifies stars in place
func shiftToCenterOfMass(stars []blob, data []float32, width int32, threshold float32, radius int32) {
	for i,s:=range stars {
		// until the shifts are below 0.01 pixel (i.e. 0.0001 squared error), or max rounds reached
		shiftSquared:=float32(math.MaxFloat32)
		for round:=int32(0); shiftSquared>0.0001 && round<10; round++ {
			xMoment, yMoment, mass:=float32(0), float32(0), float32(0)
			for y:=-radius; y<=radius; y++ {
				for x:=-radius; x<=radius; x++ {
					index:=s.Index+y*width+x
					value:=float32(0)
					if index>=0 && int(index)<len(data) {
						value=data[index]-threshold
						if !(value>0) { value=0 }
					}
					xMoment+=float32(x)*value
					yMoment+=float32(y)*value
					mass+=value
				}
			}

			// update x and y from moments over mass
			x:=s.Index % width
			y:=s.Index / width
			if mass==0.0 { mass=1e-8 }
			deltaX:=xMoment/mass
			deltaY:=yMoment/mass
			newX:=float32(x)+deltaX
			newY:=float32(y)+deltaY

			preciseDeltaX:=newX-s.X
			preciseDeltaY:=newY-s.Y
			shiftSquared  =preciseDeltaX*preciseDeltaX + preciseDeltaY*preciseDeltaY
			index:=int32(newY+0.5)*width+int32(newX+0.5)
			value:=float32(0)
			if index>=0 && int(index)<len(data) {
				value=data[index]
			}
			s=blob{Index:index, Value:value, X:newX, Y:newY, Mass:mass}
			stars[i]=s
		}
	}
}

// Calculate the Half-Flux Radius of each star, and filters out implausible candidates
// Based on the algorithm in https://en.wikipedia.org/wiki/Half_flux_diameter
func calcAndFilterHalfFluxRadius(stars []blob, data []float32, width int32, radius, location, starInOut float32) []blob {
	numRemainingStars:=0
	rad:=int32(math.Ceil(float64(radius)))
	distSqLimit:=int32(math.Ceil(float64(radius+1e-8)*float64(radius+1e-8)))

	sumAbove:=func(s blob, r, limit int32) (moment, mass float32, pixels int32) {
		for y:=-r; y<=r; y++ {
			for x:=-r; x<=r; x++ {
				distSq:=x*x+y*y
				if distSq>limit { continue }
				index:=s.Index+y*width+x
				value:=float32(0.0)
				if index>=0 && index<int32(len(data)) {
					if v:=data[index]-location; v>0 { value=v }
				}
				moment+=float32(math.Sqrt(float64(distSq)))*value
				mass  +=value
				pixels++
			}
		}
		return moment, mass, pixels
	}

	for _,s:=range stars {
		moment, mass, pixels:=sumAbove(s, rad, distSqLimit)
		if mass==0.0 { mass=1e-8 }
		hfr:=moment/mass

		// sanity check results to avoid long lockups, and drop single hot pixels
		if hfr>radius || hfr<minHFR { continue }

		_, innerMass, innerPixels:=sumAbove(s, int32(math.Ceil(float64(hfr))), int32(math.Ceil(float64(hfr*hfr))))

		// plausibility check: is average inner brightness significantly higher than outside?
		// equivalent to innerMass/innerPixels > starInOut*outerMass/outerPixels, without the divisions
		outerMass  :=mass  -innerMass
		outerPixels:=pixels-innerPixels
		if innerMass*float32(outerPixels) <= starInOut*outerMass*float32(innerPixels) { continue }

		s.HFR=hfr
		s.Mass=mass
		stars[numRemainingStars]=s
		numRemainingStars++
	}
	return stars[:numRemainingStars]
}

// Brightest pixel within one pixel of the given position
func peakAround(data []float32, width, height int32, xf, yf float32) float32 {
	xc, yc:=int32(xf+0.5), int32(yf+0.5)
	peak:=float32(-math.MaxFloat32)
	for y:=yc-1; y<=yc+1; y++ {
		if y<0 || y>=height { continue }
		for x:=xc-1; x<=xc+1; x++ {
			if x<0 || x>=width { continue }
			if v:=data[y*width+x]; v>peak { peak=v }
		}
	}
	return peak
}
