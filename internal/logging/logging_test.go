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


package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestTee(t *testing.T) {
	out:=&bytes.Buffer{}
	tee:=New(out)
	tee.Printf("before %d\n", 1)
	fn:=filepath.Join(t.TempDir(), "run.log")
	if err:=tee.AlsoToFile(fn); err!=nil { t.Fatal(err) }

	var wg sync.WaitGroup
	for i:=0; i<8; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); tee.Printf("line\n") }()
	}
	wg.Wait()
	if err:=tee.Close(); err!=nil { t.Fatal(err) }

	bs, err:=os.ReadFile(fn)
	if err!=nil { t.Fatal(err) }
	if got:=string(bs); got!=string(bytes.Repeat([]byte("line\n"), 8)) {
		t.Errorf("log file %q; want 8 lines without the earlier output", got)
	}
	if got:=out.String(); got!="before 1\n"+string(bs) {
		t.Errorf("stdout %q", got)
	}
	tee.Printf("after\n")
	if bs2,_:=os.ReadFile(fn); len(bs2)!=len(bs) {
		t.Errorf("log file written after Close")
	}
}
