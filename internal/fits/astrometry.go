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
	"regexp"
)

// World coordinate system keywords making up an astrometric solution, including SIP distortion terms.
// See https://fits.gsfc.nasa.gov/fits_wcs.html
var reWCSKey=regexp.MustCompile(`^(?:` +
	`CTYPE[0-9]|CRVAL[0-9]|CRPIX[0-9]|CDELT[0-9]|CROTA[0-9]|CUNIT[0-9]|` +
	`CD[0-9]_[0-9]|PC[0-9]_[0-9]|PV[0-9]_[0-9]+|` +
	`EQUINOX|EPOCH|RADESYS|RADECSYS|LONPOLE|LATPOLE|WCSAXES|WCSNAME|` +
	`A_ORDER|B_ORDER|AP_ORDER|BP_ORDER|A_[0-9]_[0-9]|B_[0-9]_[0-9]|AP_[0-9]_[0-9]|BP_[0-9]_[0-9]|` +
	`A_DMAX|B_DMAX)$`)

// Keywords which must be present for a usable celestial solution
var requiredWCSKeys=[]string{"CTYPE1", "CTYPE2", "CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2"}

func IsWCSKey(key string) bool {
	return reWCSKey.MatchString(key)
}

// True if the image header carries an astrometric solution
func HasAstrometricSolution(f *Image) bool {
	if f==nil { return false }
	for _,k:=range requiredWCSKeys {
		if !f.Header.Has(k) { return false }
	}
	return true
}

// Replaces any astrometric solution on dst with the one from src. Returns the number of keys copied
func CopyAstrometricSolution(dst, src *Image) int {
	ClearAstrometricSolution(dst)
	n:=0
	h, s:=&dst.Header, &src.Header
	for k,v:=range s.Bools   { if IsWCSKey(k) { h.Bools[k]=v;   n++ } }
	for k,v:=range s.Ints    { if IsWCSKey(k) { h.Ints[k]=v;    n++ } }
	for k,v:=range s.Floats  { if IsWCSKey(k) { h.Floats[k]=v;  n++ } }
	for k,v:=range s.Strings { if IsWCSKey(k) { h.Strings[k]=v; n++ } }
	for k,v:=range s.Dates   { if IsWCSKey(k) { h.Dates[k]=v;   n++ } }
	return n
}

// Removes all astrometric keywords from the image header
func ClearAstrometricSolution(f *Image) {
	h:=&f.Header
	for _,m:=range []map[string]bool{keysOf(h.Bools), keysOf(h.Ints), keysOf(h.Floats), keysOf(h.Strings), keysOf(h.Dates)} {
		for k:=range m {
			if IsWCSKey(k) { h.Delete(k) }
		}
	}
}

func keysOf[V any](m map[string]V) map[string]bool {
	keys:=make(map[string]bool, len(m))
	for k:=range m { keys[k]=true }
	return keys
}
