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


package star

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/valyala/fastrand"
	"github.com/nightphotons/contsub/internal/fits"
)

type testStar struct {
	x, y, amp float64
}

// Renders Gaussian stars of given sigma onto a background with uniform noise of given half width
func render(w, h int32, background, noise, sigma float64, stars []testStar) *fits.Image {
	img:=fits.NewImageFromNaxisn([]int32{w, h}, nil)
	rng:=fastrand.RNG{}
	for i:=range img.Data {
		n:=0.0
		if noise>0 {
			n=noise*(2*float64(rng.Uint32n(10001))/10000-1)
		}
		img.Data[i]=float32(background+n)
	}
	for _,s:=range stars {
		for y:=int(s.y)-10; y<=int(s.y)+10; y++ {
			for x:=int(s.x)-10; x<=int(s.x)+10; x++ {
				if x<0 || y<0 || x>=int(w) || y>=int(h) { continue }
				dx, dy:=float64(x)-s.x, float64(y)-s.y
				img.Data[y*int(w)+x]+=float32(s.amp*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
			}
		}
	}
	img.UpdateStats()
	return img
}

func gridStars() []testStar {
	stars:=[]testStar{}
	for j:=0; j<4; j++ {
		for i:=0; i<5; i++ {
			stars=append(stars, testStar{x:20.3+40*float64(i), y:20.6+40*float64(j), amp:0.2+0.02*float64(j*5+i)})
		}
	}
	return stars
}

func TestSelectSkipsSaturated(t *testing.T) {
	dets:=make([]Detection, 120)
	for i:=range dets {
		dets[i]=Detection{X:float64(i), Y:float64(2*i), Peak:0.5}
	}
	for _,i:=range []int{5, 6, 7} {
		dets[i].Peak=0.95
	}
	got:=Select(dets, 10, 0.9, 2)
	if len(got)!=10 {
		t.Fatalf("len(Select) = %d; want 10", len(got))
	}
	want:=[]int{0, 1, 2, 3, 4, 8, 9, 10, 11, 12}
	for i,c:=range got {
		if c.Index!=i {
			t.Errorf("candidate %d has index %d; want %d", i, c.Index, i)
		}
		if c.X!=float64(want[i]) || c.Y!=float64(2*want[i]) {
			t.Errorf("candidate %d at (%g,%g); want detection %d", i, c.X, c.Y, want[i])
		}
		if c.Radius!=2 {
			t.Errorf("candidate %d radius %d; want 2", i, c.Radius)
		}
	}
}

func TestSelectEdgeCases(t *testing.T) {
	dets:=[]Detection{{Peak:0.99}, {Peak:0.5}, {Peak:0.3}}
	if got:=Select(dets, 0, 0.8, 2); len(got)!=0 {
		t.Errorf("Select with maxCount 0 returned %d candidates; want 0", len(got))
	}
	if got:=Select(nil, 10, 0.8, 2); len(got)!=0 {
		t.Errorf("Select of no detections returned %d candidates; want 0", len(got))
	}
	if got:=Select(dets, 10, 0.8, 2); len(got)!=2 || got[0].Peak!=0.5 {
		t.Errorf("Select = %v; want the two unsaturated detections", got)
	}
	if got:=Select(dets, 10, 0, 2); len(got)!=3 {
		t.Errorf("Select without peak guard returned %d candidates; want 3", len(got))
	}
	for _,c:=range Select(dets, 10, 0.8, 2) {
		if c.Peak>0.8 { t.Errorf("selected candidate with peak %g above 0.8", c.Peak) }
	}
}

func TestDetect(t *testing.T) {
	stars:=gridStars()
	img:=render(200, 160, 0.1, 0.0005, 1.5, stars)
	// hot pixel, must not come out as a star
	img.Data[90*200+110]=0.9

	calls:=0
	dets, err:=NewDetector().Detect(context.Background(), img, func(done, total int) error {
		calls++
		if done>total { t.Errorf("progress %d of %d", done, total) }
		return nil
	})
	if err!=nil {
		t.Fatalf("Detect error %v", err)
	}
	if calls<2 {
		t.Errorf("progress called %d times; want at least 2", calls)
	}
	if len(dets)!=len(stars) {
		t.Fatalf("Detect found %d stars; want %d", len(dets), len(stars))
	}
	for i:=1; i<len(dets); i++ {
		if dets[i].Peak>dets[i-1].Peak {
			t.Errorf("detections not sorted by descending peak at %d", i)
		}
	}
	for _,s:=range stars {
		found:=false
		for _,d:=range dets {
			if math.Abs(d.X-s.x)<0.25 && math.Abs(d.Y-s.y)<0.25 { found=true }
		}
		if !found {
			t.Errorf("star at (%g,%g) not detected", s.x, s.y)
		}
	}
}

func TestDetectCancel(t *testing.T) {
	img:=render(100, 200, 0.1, 0.0005, 1.5, nil)
	stop:=errors.New("stop")
	_, err:=NewDetector().Detect(context.Background(), img, func(done, total int) error {
		if done>0 { return stop }
		return nil
	})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Detect error = %v; want ErrCancelled", err)
	}

	ctx, cancel:=context.WithCancel(context.Background())
	cancel()
	if _,err:=NewDetector().Detect(ctx, img, nil); !errors.Is(err, ErrCancelled) {
		t.Errorf("Detect with cancelled context error = %v; want ErrCancelled", err)
	}
}

func TestApertureLinear(t *testing.T) {
	stars:=gridStars()
	a:=render(200, 160, 0.05, 0, 1.5, scaled(stars, 3))
	b:=render(200, 160, 0.2, 0, 1.5, stars)
	cands:=make([]Candidate, len(stars))
	for i,s:=range stars {
		cands[i]=Candidate{Index:i, X:s.x+0.4, Y:s.y-0.4, Radius:2}
	}
	// one candidate off the image edge
	cands=append(cands, Candidate{Index:len(stars), X:0, Y:0, Radius:2})

	fitter:=NewApertureFitter()
	ma, err:=fitter.Fit(context.Background(), a, cands)
	if err!=nil { t.Fatal(err) }
	mb, err:=fitter.Fit(context.Background(), b, cands)
	if err!=nil { t.Fatal(err) }
	if len(ma)!=len(stars) || len(mb)!=len(stars) {
		t.Fatalf("got %d and %d measurements; want %d each", len(ma), len(mb), len(stars))
	}
	for i:=range ma {
		if ma[i].Index!=mb[i].Index {
			t.Fatalf("measurement %d index mismatch %d vs %d", i, ma[i].Index, mb[i].Index)
		}
		if r:=ma[i].Flux/mb[i].Flux; math.Abs(r-3)>1e-3 {
			t.Errorf("star %d flux ratio %g; want 3", ma[i].Index, r)
		}
	}
}

func TestGaussianFitter(t *testing.T) {
	img:=render(64, 64, 0.1, 0, 1.5, []testStar{{x:30.3, y:30.6, amp:0.5}})
	ms, err:=NewGaussianFitter().Fit(context.Background(), img, []Candidate{{Index:7, X:30, Y:31, Radius:3}})
	if err!=nil { t.Fatal(err) }
	if len(ms)!=1 || ms[0].Index!=7 {
		t.Fatalf("Fit = %v; want one measurement with index 7", ms)
	}
	want:=2*math.Pi*0.5*1.5*1.5
	if math.Abs(ms[0].Flux-want)/want>0.05 {
		t.Errorf("Gaussian flux %g; want %g within 5%%", ms[0].Flux, want)
	}
}

func TestGaussianFitterOmitsFlat(t *testing.T) {
	img:=render(32, 32, 0.1, 0, 1.5, nil)
	ms, err:=NewGaussianFitter().Fit(context.Background(), img, []Candidate{{Index:0, X:16, Y:16, Radius:2}})
	if err!=nil { t.Fatal(err) }
	if len(ms)!=0 {
		t.Errorf("flat image yielded %d measurements; want 0", len(ms))
	}
}

func scaled(stars []testStar, f float64) []testStar {
	res:=make([]testStar, len(stars))
	for i,s:=range stars {
		res[i]=testStar{x:s.x, y:s.y, amp:s.amp*f}
	}
	return res
}
