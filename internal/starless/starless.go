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


package starless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nightphotons/contsub/internal/fits"
)

var ErrUnavailable = errors.New("star removal unavailable")

// How to generate starless images which the user did not supply
type Method int

const (
	None     Method = iota   // Do not generate, starless output is skipped
	External                 // Run an external star removal tool such as StarNet++
	Builtin                  // Replace detected stars with their local background
)

var methodNames=[]string{"none", "external", "builtin"}

func (m Method) String() string {
	if m<0 || int(m)>=len(methodNames) { return "Method("+strconv.Itoa(int(m))+")" }
	return methodNames[m]
}

func (m Method) Valid() bool {
	return m>=None && m<=Builtin
}

// Parses a method from its name or number
func ParseMethod(s string) (Method, error) {
	s=strings.ToLower(strings.TrimSpace(s))
	for i,n:=range methodNames {
		if s==n || s==strconv.Itoa(i) { return Method(i), nil }
	}
	return None, fmt.Errorf("unknown star removal method %q", s)
}

// Removes stars from a single channel image in place
type Remover interface {
	Remove(ctx context.Context, img *fits.Image) error
}

// Settings for creating a remover
type Options struct {
	Command string        // External tool, with {in} and {out} placeholders for the TIFF files
	Timeout string        // Timeout for the external tool, as time.ParseDuration string. Empty is the default
	Log     io.Writer
}

// Creates the remover for the given method. Returns ErrUnavailable for None
func New(m Method, o Options) (Remover, error) {
	switch m {
	case External:
		return NewExternal(o.Command, o.Timeout, o.Log)
	case Builtin:
		return NewBuiltin(o.Log), nil
	case None:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unknown star removal method %d", m)
	}
}
