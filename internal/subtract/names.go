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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// A set of existing names
type Namespace interface {
	Has(name string) bool
}

// Set of names backed by a map
type NameSet map[string]bool

func (s NameSet) Has(name string) bool { return s[name] }

// Returns base if it is free, otherwise base1, base2, ... whichever comes first
func UniqueName(ns Namespace, base string) string {
	if ns==nil || !ns.Has(base) { return base }
	for i:=1; ; i++ {
		name:=base+strconv.Itoa(i)
		if !ns.Has(name) { return name }
	}
}

// Hands out collision-free output file paths. Safe for concurrent use. Remembers
// all paths reserved so far, so two workers never receive the same path.
type FileNamer struct {
	Overwrite bool                      // Reuse paths of existing files. Reservations within one run stay distinct
	Exists    func(path string) bool    // Existence check, defaults to os.Stat

	mutex     sync.Mutex
	reserved  map[string]bool
}

func NewFileNamer(overwrite bool) *FileNamer {
	return &FileNamer{Overwrite:overwrite}
}

// Reserves path, or the first free of <stem>_1<ext>, <stem>_2<ext>, ...
func (n *FileNamer) Reserve(path string) string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.reserved==nil { n.reserved=map[string]bool{} }

	stem, ext:=splitExt(path)
	candidate:=path
	for i:=1; n.taken(candidate); i++ {
		candidate=stem+"_"+strconv.Itoa(i)+ext
	}
	n.reserved[candidate]=true
	return candidate
}

// True if the path was handed out by Reserve
func (n *FileNamer) Reserved(path string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.reserved[path]
}

func (n *FileNamer) taken(path string) bool {
	if n.reserved[path] { return true }
	if n.Overwrite { return false }
	if n.Exists!=nil { return n.Exists(path) }
	_, err:=os.Stat(path)
	return err==nil
}

// Splits a path into stem and extension, treating .gz/.gzip as part of a double extension
func splitExt(path string) (stem, ext string) {
	ext=filepath.Ext(path)
	lower:=strings.ToLower(ext)
	if lower==".gz" || lower==".gzip" {
		inner:=filepath.Ext(strings.TrimSuffix(path, ext))
		ext=inner+ext
	}
	return strings.TrimSuffix(path, ext), ext
}

// Output path for an input file: <dir>/<stem of input><postfix><ext>. An empty dir keeps the input's directory,
// an empty ext keeps the input's extension
func OutputPath(input, dir, postfix, ext string) string {
	stem, inExt:=splitExt(filepath.Base(input))
	if dir=="" { dir=filepath.Dir(input) }
	if ext=="" { ext=inExt }
	if ext!="" && !strings.HasPrefix(ext, ".") { ext="."+ext }
	return filepath.Join(dir, stem+postfix+ext)
}
