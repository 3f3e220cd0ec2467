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
	"fmt"
	"math"
	"strings"
	"github.com/nightphotons/contsub/internal/stats"
)

// A FITS image.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int         // Sequential ID number, for log output. By convention, the batch reference is 0 and targets count upwards from 1
	FileName string      // Original file name, if any, for log output.

	Header Header        // The header with all keys, values, comments, history entries etc.
	Bitpix int32         // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32       // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32       // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32       // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32         // Number of pixels in the image. Product of Naxisn[]

	Data   []float32     // The image data

	Exposure float32     // Image exposure in seconds

	Stats  *stats.Basic  // Basic image statistics: min, max, mean
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header:  NewHeader(),
		Bscale:  1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		Header:   NewHeader(),
		Bitpix:   -32,
		Bscale:   1,
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
	}
}

// Deep copy of an image, including header and pixel data
func (f *Image) Clone() *Image {
	c:=NewImageFromNaxisn(f.Naxisn, append([]float32(nil), f.Data...))
	c.ID, c.FileName, c.Exposure = f.ID, f.FileName, f.Exposure
	c.Bitpix, c.Bzero, c.Bscale = f.Bitpix, f.Bzero, f.Bscale
	c.Header=f.Header.Clone()
	if f.Stats!=nil {
		s:=*f.Stats
		c.Stats=&s
	}
	return c
}

func (f *Image) Width() int32 {
	if len(f.Naxisn)==0 { return 0 }
	return f.Naxisn[0]
}

func (f *Image) Height() int32 {
	if len(f.Naxisn)<2 { return 1 }
	return f.Naxisn[1]
}

// Number of color channels. A trailing third axis of size 1 still counts as mono
func (f *Image) Channels() int32 {
	if len(f.Naxisn)<3 { return 1 }
	return f.Naxisn[2]
}

func (f *Image) IsMono() bool {
	return len(f.Naxisn)>=2 && f.Channels()==1
}

// True if both images have equal width, height and channel count
func (f *Image) SameDimensions(o *Image) bool {
	return f.Width()==o.Width() && f.Height()==o.Height() && f.Channels()==o.Channels()
}

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Pixel value corresponding to full saturation. Integer data saturates at 2^bitpix-1.
// Floating point data is taken as normalized to [0,1] unless its maximum says otherwise,
// in which case 16-bit ADU are assumed up to 65535.
func (f *Image) FullScale() float32 {
	if f.Bitpix>0 && f.Bitpix<=32 {
		return float32(math.Exp2(float64(f.Bitpix)))-1
	}
	if f.Stats==nil { f.UpdateStats() }
	if f.Stats.Max<=1 { return 1 }
	if f.Stats.Max<=65535 { return 65535 }
	return f.Stats.Max
}

// Recomputes the cached basic statistics from the pixel data
func (f *Image) UpdateStats() {
	f.Stats=stats.CalcBasicStats(f.Data)
}


// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float64),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
		Comments:make([]string,0),
		History: make([]string,0),
		End:     false,
	}
}

// Deep copy of the header
func (h *Header) Clone() Header {
	c:=NewHeader()
	for k,v:=range h.Bools   { c.Bools[k]=v }
	for k,v:=range h.Ints    { c.Ints[k]=v }
	for k,v:=range h.Floats  { c.Floats[k]=v }
	for k,v:=range h.Strings { c.Strings[k]=v }
	for k,v:=range h.Dates   { c.Dates[k]=v }
	c.Comments=append(c.Comments, h.Comments...)
	c.History =append(c.History,  h.History...)
	c.End, c.Length = h.End, h.Length
	return c
}

// Removes a key from all typed maps
func (h *Header) Delete(key string) {
	delete(h.Bools, key)
	delete(h.Ints, key)
	delete(h.Floats, key)
	delete(h.Strings, key)
	delete(h.Dates, key)
}

// True if the key is present in any of the typed maps
func (h *Header) Has(key string) bool {
	if _,ok:=h.Bools[key];   ok { return true }
	if _,ok:=h.Ints[key];    ok { return true }
	if _,ok:=h.Floats[key];  ok { return true }
	if _,ok:=h.Strings[key]; ok { return true }
	if _,ok:=h.Dates[key];   ok { return true }
	return false
}

const fitsBlockSize int      = 2880       // Block size of FITS header and data units
const HeaderLineSize int =   80       // Line size of a FITS header

