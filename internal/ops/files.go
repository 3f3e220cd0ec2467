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


package ops

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nightphotons/contsub/internal/fits"
)

// Loads images from files, logging to the context
type FileLoader struct {
	C          *Context
	Restricted bool       // Only allow relative paths within the current directory tree
}

func (l *FileLoader) Load(fileName string, id int) (*fits.Image, error) {
	if l.Restricted && !IsPathAllowed(fileName) {
		return nil, errors.New("Filename outside current directory tree, aborting")
	}
	f, err:=fits.NewImageFromFile(fileName, id, l.C.Log)
	if err!=nil { return nil, err }

	warning:=""
	if f.Stats!=nil && f.Stats.Max-f.Stats.Min<1e-8 {
		warning="; WARNING low dynamic range"
	}
	fmt.Fprintf(l.C.Log, "%d: Loaded %s image with %v from %s%s\n",
		        f.ID, f.DimensionsToString(), f.Stats, f.FileName, warning)
	return f, nil
}

// Drops the pixel data, so memory is reclaimed even if references to the image linger
func (l *FileLoader) Release(f *fits.Image) {
	if f!=nil { f.Data=nil }
}

// Saves images to files in the format given by the extension
type FileSaver struct {
	C          *Context
	Restricted bool
}

func (s *FileSaver) Save(f *fits.Image, fileName string) error {
	if s.Restricted && !IsPathAllowed(fileName) {
		return errors.New("Filename outside current directory tree, aborting")
	}
	format:=fits.FormatFromFileName(fileName)
	if format==fits.FormatUnknown {
		return fmt.Errorf("%d: Unknown suffix for file %s", f.ID, fileName)
	}
	fmt.Fprintf(s.C.Log, "%d: Writing %s pixel %v to %s\n", f.ID, f.DimensionsToString(), format, fileName)
	if err:=f.WriteFile(fileName); err!=nil {
		return fmt.Errorf("%d: Error writing to file %s: %w", f.ID, fileName, err)
	}
	return nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}
