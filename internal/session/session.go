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


package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nightphotons/contsub/internal/fits"
)

// Named images of one working session. Safe for concurrent use
type Session struct {
	mutex  sync.Mutex
	images map[string]*fits.Image
	nextID int
}

func New() *Session {
	return &Session{images:map[string]*fits.Image{}}
}

// Has reports whether an image of that name exists. Implements subtract.Namespace
func (s *Session) Has(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok:=s.images[name]
	return ok
}

// Registers an image under the given name, which must be free
func (s *Session) Add(name string, img *fits.Image) error {
	if name=="" { return fmt.Errorf("empty image name") }
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _,ok:=s.images[name]; ok {
		return fmt.Errorf("image %s already exists", name)
	}
	if img.ID==0 {
		s.nextID++
		img.ID=s.nextID
	}
	s.images[name]=img
	return nil
}

func (s *Session) Get(name string) (*fits.Image, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	img, ok:=s.images[name]
	return img, ok
}

// Removes the image from the session and drops its pixel data
func (s *Session) Remove(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if img, ok:=s.images[name]; ok {
		img.Data=nil
		delete(s.images, name)
	}
}

// Sorted names of all images
func (s *Session) Names() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	names:=make([]string, 0, len(s.images))
	for n:=range s.images {
		names=append(names, n)
	}
	sort.Strings(names)
	return names
}
