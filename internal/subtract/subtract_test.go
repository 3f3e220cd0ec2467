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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/session"
)

func TestUniqueName(t *testing.T) {
	tests:=[]struct{
		existing []string
		base     string
		want     string
	}{
		{[]string{"sub", "sub1", "sub2"}, "sub", "sub3"},
		{[]string{"sub", "sub1", "sub2"}, "new", "new"},
		{[]string{"sub", "sub2"}, "sub", "sub1"},
		{nil, "sub", "sub"},
	}
	for _,test:=range tests {
		ns:=NameSet{}
		for _,n:=range test.existing { ns[n]=true }
		if got:=UniqueName(ns, test.base); got!=test.want {
			t.Errorf("UniqueName(%v, %q) = %q; want %q", test.existing, test.base, got, test.want)
		}
		if again:=UniqueName(ns, test.base); again!=test.want {
			t.Errorf("UniqueName not deterministic: %q then %q", test.want, again)
		}
	}
}

func TestPlan(t *testing.T) {
	ns:=NameSet{"Ha_sub":true}
	reqs, err:=Plan(2.5, Pair{"Ha", "R"}, nil, ns)
	if err!=nil { t.Fatal(err) }
	if len(reqs)!=1 {
		t.Fatalf("Plan returned %d requests; want 1", len(reqs))
	}
	want:=Request{Minuend:"Ha", Subtrahend:"R", Ratio:2.5, OutputID:"Ha_sub1"}
	if reqs[0]!=want {
		t.Errorf("Plan = %+v; want %+v", reqs[0], want)
	}
	if e:=reqs[0].Expression(); e!="Ha-(R-med(R))/2.5" {
		t.Errorf("Expression() = %q", e)
	}

	reqs, err=Plan(2.5, Pair{"Ha", "R"}, &Pair{"Ha_starless", "R_starless"}, ns)
	if err!=nil { t.Fatal(err) }
	if len(reqs)!=2 || reqs[1].Minuend!="Ha_starless" || reqs[1].OutputID!="Ha_starless_sub" {
		t.Errorf("Plan with starless = %+v", reqs)
	}

	reqs, err=Plan(2.5, Pair{"Ha", "R"}, &Pair{"Ha_starless", ""}, ns)
	if err!=nil || len(reqs)!=1 {
		t.Errorf("Plan with incomplete starless pair = %v, %v; want one request", reqs, err)
	}
	if _,err:=Plan(2.5, Pair{"Ha", ""}, nil, ns); err==nil {
		t.Errorf("Plan with incomplete star pair succeeded; want error")
	}
}

func TestPlanDistinctOutputs(t *testing.T) {
	// both pairs share a narrowband id, so the second output must avoid the first
	reqs, err:=Plan(1, Pair{"Ha", "R"}, &Pair{"Ha", "G"}, NameSet{})
	if err!=nil { t.Fatal(err) }
	if reqs[0].OutputID!="Ha_sub" || reqs[1].OutputID!="Ha_sub1" {
		t.Errorf("output ids %q and %q; want Ha_sub and Ha_sub1", reqs[0].OutputID, reqs[1].OutputID)
	}
}

func TestFileNamer(t *testing.T) {
	dir:=t.TempDir()
	existing:=filepath.Join(dir, "x_iso.fits")
	if err:=os.WriteFile(existing, []byte{0}, 0644); err!=nil { t.Fatal(err) }

	n:=NewFileNamer(false)
	if got:=n.Reserve(existing); got!=filepath.Join(dir, "x_iso_1.fits") {
		t.Errorf("Reserve(existing) = %q; want x_iso_1.fits", got)
	}
	if got:=n.Reserve(existing); got!=filepath.Join(dir, "x_iso_2.fits") {
		t.Errorf("second Reserve(existing) = %q; want x_iso_2.fits", got)
	}
	gz:=filepath.Join(dir, "y.fits.gz")
	n.Reserve(gz)
	if got:=n.Reserve(gz); got!=filepath.Join(dir, "y_1.fits.gz") {
		t.Errorf("Reserve of gzip path = %q; want y_1.fits.gz", got)
	}

	o:=NewFileNamer(true)
	if got:=o.Reserve(existing); got!=existing {
		t.Errorf("overwriting Reserve = %q; want %q", got, existing)
	}
	if got:=o.Reserve(existing); got==existing {
		t.Errorf("overwriting Reserve handed out %q twice", got)
	}
}

func TestFileNamerConcurrent(t *testing.T) {
	n:=&FileNamer{Exists:func(string) bool { return false }}
	const workers=32
	names:=make([]string, workers)
	var wg sync.WaitGroup
	for i:=0; i<workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i]=n.Reserve("/out/comet_iso.fits")
		}(i)
	}
	wg.Wait()
	seen:=map[string]bool{}
	for _,name:=range names {
		if seen[name] { t.Errorf("name %q reserved twice", name) }
		seen[name]=true
	}
	if !seen["/out/comet_iso.fits"] || !seen[fmt.Sprintf("/out/comet_iso_%d.fits", workers-1)] {
		t.Errorf("reservations not dense: %v", names)
	}
}

func TestOutputPath(t *testing.T) {
	tests:=[]struct{ in, dir, post, ext, want string }{
		{"/a/b/c.fit", "/out", "_iso", ".fits", "/out/c_iso.fits"},
		{"/a/b/c.fit", "", "_iso", "", "/a/b/c_iso.fit"},
		{"/a/b/c.fits.gz", "/out", "", "tif", "/out/c.tif"},
	}
	for _,test:=range tests {
		if got:=OutputPath(test.in, test.dir, test.post, test.ext); got!=test.want {
			t.Errorf("OutputPath(%q,%q,%q,%q) = %q; want %q", test.in, test.dir, test.post, test.ext, got, test.want)
		}
	}
}

func TestPixelMath(t *testing.T) {
	s:=session.New()
	b:=fits.NewImageFromNaxisn([]int32{2, 2}, []float32{10, 11, 12, 13})
	a:=fits.NewImageFromNaxisn([]int32{2, 2}, []float32{1, 2, 3, 4})
	a.Header.Strings["CTYPE1"]="RA---TAN"
	a.Header.Strings["CTYPE2"]="DEC--TAN"
	for _,k:=range []string{"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2"} { a.Header.Floats[k]=1 }
	s.Add("Ha", b)
	s.Add("R", a)
	pm:=&PixelMath{Images:s}

	out, err:=pm.Evaluate(Request{Minuend:"Ha", Subtrahend:"R", Ratio:2, OutputID:"Ha_sub"})
	if err!=nil { t.Fatal(err) }
	if out==b {
		t.Fatalf("Evaluate with output id overwrote the minuend")
	}
	// med(R)=2.5
	want:=[]float32{10.75, 11.25, 11.75, 12.25}
	for i,v:=range out.Data {
		if v!=want[i] { t.Errorf("pixel %d = %g; want %g", i, v, want[i]) }
	}
	if b.Data[0]!=10 {
		t.Errorf("minuend changed to %g", b.Data[0])
	}
	if src:=PropagateAstrometry(out, b, a); src!=fmt.Sprintf("%d", a.ID) || !fits.HasAstrometricSolution(out) {
		t.Errorf("PropagateAstrometry = %q; want broadband source", src)
	}

	inPlace, err:=pm.Evaluate(Request{Minuend:"Ha", Subtrahend:"R", Ratio:2})
	if err!=nil { t.Fatal(err) }
	if inPlace!=b || b.Data[3]!=12.25 {
		t.Errorf("in place Evaluate did not overwrite the minuend")
	}

	if _,err:=pm.Evaluate(Request{Minuend:"Ha", Subtrahend:"missing", Ratio:2}); err==nil {
		t.Errorf("Evaluate with missing image succeeded; want error")
	}
	s.Add("big", fits.NewImageFromNaxisn([]int32{3, 2}, nil))
	if _,err:=pm.Evaluate(Request{Minuend:"Ha", Subtrahend:"big", Ratio:2, OutputID:"x"}); err==nil {
		t.Errorf("Evaluate with dimension mismatch succeeded; want error")
	}
}

func TestPropagateAstrometryNone(t *testing.T) {
	out:=fits.NewImageFromNaxisn([]int32{1, 1}, nil)
	if src:=PropagateAstrometry(out, fits.NewImageFromNaxisn([]int32{1, 1}, nil), nil); src!="" {
		t.Errorf("PropagateAstrometry without solutions = %q; want empty", src)
	}
}
