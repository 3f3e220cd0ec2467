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
	"math"
	"os/exec"
	"testing"

	"github.com/nightphotons/contsub/internal/fits"
)

func starField() *fits.Image {
	w, h:=64, 64
	img:=fits.NewImageFromNaxisn([]int32{int32(w), int32(h)}, nil)
	for i:=range img.Data { img.Data[i]=0.1+0.0001*float32(i%7) }
	for _,s:=range [][2]float64{{16.3, 20.6}, {44.1, 40.2}} {
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				dx, dy:=float64(x)-s[0], float64(y)-s[1]
				img.Data[y*w+x]+=float32(0.5*math.Exp(-(dx*dx+dy*dy)/(2*1.5*1.5)))
			}
		}
	}
	img.UpdateStats()
	return img
}

func TestParseMethod(t *testing.T) {
	tests:=[]struct{ in string; want Method; ok bool }{
		{"none", None, true}, {"0", None, true}, {"External", External, true},
		{"1", External, true}, {" builtin ", Builtin, true}, {"2", Builtin, true},
		{"3", None, false}, {"starnet", None, false},
	}
	for _,test:=range tests {
		got, err:=ParseMethod(test.in)
		if (err==nil)!=test.ok || got!=test.want {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v", test.in, got, err, test.want)
		}
	}
	if Method(7).Valid() || !Builtin.Valid() {
		t.Errorf("Valid() wrong")
	}
}

func TestNewNone(t *testing.T) {
	if _,err:=New(None, Options{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("New(None) error = %v; want ErrUnavailable", err)
	}
	if _,err:=New(External, Options{Command:"no-such-star-remover-binary {in} {out}"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("New(External) with missing binary error = %v; want ErrUnavailable", err)
	}
}

func TestNewSelectsRemover(t *testing.T) {
	r, err:=New(Builtin, Options{})
	if err!=nil { t.Fatal(err) }
	if _,ok:=r.(*BuiltinRemover); !ok {
		t.Errorf("New(Builtin) = %T; want *BuiltinRemover", r)
	}
	if _,err:=exec.LookPath("cp"); err!=nil { t.Skip("cp not available") }
	r, err=New(External, Options{Command:"cp {in} {out}"})
	if err!=nil { t.Fatal(err) }
	if e,ok:=r.(*ExternalRemover); !ok || len(e.Args)!=2 {
		t.Errorf("New(External) = %#v; want *ExternalRemover with two arguments", r)
	}
}

func TestBuiltin(t *testing.T) {
	img:=starField()
	if img.Stats.Max<0.5 {
		t.Fatalf("test image max %g; want stars above 0.5", img.Stats.Max)
	}
	if err:=NewBuiltin(nil).Remove(context.Background(), img); err!=nil {
		t.Fatal(err)
	}
	if img.Stats.Max>0.11 {
		t.Errorf("max after star removal %g; want at most 0.11", img.Stats.Max)
	}
}

func TestExternalCopy(t *testing.T) {
	if _,err:=exec.LookPath("cp"); err!=nil {
		t.Skip("cp not available")
	}
	img:=starField()
	orig:=img.Clone()
	r, err:=NewExternal("cp {in} {out}", "", nil)
	if err!=nil { t.Fatal(err) }
	if err:=r.Remove(context.Background(), img); err!=nil {
		t.Fatal(err)
	}
	tol:=float64(orig.Stats.Max-orig.Stats.Min)/65535
	for i:=range img.Data {
		if d:=math.Abs(float64(img.Data[i]-orig.Data[i])); d>tol {
			t.Fatalf("pixel %d changed by %g; want at most %g", i, d, tol)
		}
	}
}

func TestExternalTimeout(t *testing.T) {
	if _,err:=exec.LookPath("sleep"); err!=nil {
		t.Skip("sleep not available")
	}
	r, err:=NewExternal("sleep 5", "100ms", nil)
	if err!=nil { t.Fatal(err) }
	if err:=r.Remove(context.Background(), starField()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Remove with slow tool error = %v; want ErrUnavailable", err)
	}
}
