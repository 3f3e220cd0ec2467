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


package subtract

import (
	"fmt"
	"strconv"
)

// One output image, computed as Minuend - (Subtrahend - med(Subtrahend)) / Ratio.
// An empty OutputID means the minuend is overwritten in place
type Request struct {
	Minuend    string
	Subtrahend string
	Ratio      float64
	OutputID   string
}

// Pixel math expression of the request, in the notation of common astro image processors
func (r Request) Expression() string {
	return fmt.Sprintf("%s-(%s-med(%s))/%s", r.Minuend, r.Subtrahend, r.Subtrahend, strconv.FormatFloat(r.Ratio, 'g', 10, 64))
}

func (r Request) InPlace() bool {
	return r.OutputID==""
}

// Identifiers of a narrowband (minuend) and broadband (subtrahend) image
type Pair struct {
	Narrowband string
	Broadband  string
}

func (p Pair) complete() bool {
	return p.Narrowband!="" && p.Broadband!=""
}

// Plans the subtractions for one calibration. Always one request for the star pair, and one for
// the starless pair if given and complete. Output ids are <narrowband>_sub made unique against
// the namespace and against each other.
func Plan(ratio float64, stars Pair, starless *Pair, names Namespace) ([]Request, error) {
	if !stars.complete() {
		return nil, fmt.Errorf("star pair needs both narrowband and broadband, got %q and %q", stars.Narrowband, stars.Broadband)
	}
	if ratio==0 {
		return nil, fmt.Errorf("invalid ratio %g", ratio)
	}
	planned:=&plannedNames{parent:names, taken:map[string]bool{}}
	pairs:=[]Pair{stars}
	if starless!=nil && starless.complete() {
		pairs=append(pairs, *starless)
	}
	reqs:=make([]Request, len(pairs))
	for i,p:=range pairs {
		id:=UniqueName(planned, p.Narrowband+"_sub")
		planned.taken[id]=true
		reqs[i]=Request{Minuend:p.Narrowband, Subtrahend:p.Broadband, Ratio:ratio, OutputID:id}
	}
	return reqs, nil
}

// Namespace overlay holding names planned but not yet created
type plannedNames struct {
	parent Namespace
	taken  map[string]bool
}

func (p *plannedNames) Has(name string) bool {
	return p.taken[name] || (p.parent!=nil && p.parent.Has(name))
}
