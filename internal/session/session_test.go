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
	"testing"

	"github.com/nightphotons/contsub/internal/fits"
)

func TestSession(t *testing.T) {
	s:=New()
	img:=fits.NewImageFromNaxisn([]int32{2, 2}, nil)
	if err:=s.Add("Ha", img); err!=nil { t.Fatal(err) }
	if err:=s.Add("Ha", img); err==nil {
		t.Errorf("second Add of Ha succeeded; want error")
	}
	if err:=s.Add("", img); err==nil {
		t.Errorf("Add with empty name succeeded; want error")
	}
	if !s.Has("Ha") || s.Has("R") {
		t.Errorf("Has(Ha)=%v Has(R)=%v; want true false", s.Has("Ha"), s.Has("R"))
	}
	if img.ID==0 {
		t.Errorf("image ID not assigned")
	}
	got, ok:=s.Get("Ha")
	if !ok || got!=img {
		t.Errorf("Get(Ha) did not return the added image")
	}
	s.Add("R", fits.NewImageFromNaxisn([]int32{2, 2}, nil))
	if names:=s.Names(); len(names)!=2 || names[0]!="Ha" || names[1]!="R" {
		t.Errorf("Names() = %v; want [Ha R]", names)
	}
	s.Remove("Ha")
	if s.Has("Ha") || img.Data!=nil {
		t.Errorf("Remove(Ha) left image in session or data attached")
	}
	s.Remove("missing")
}
