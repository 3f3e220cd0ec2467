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


package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/history"
	"github.com/nightphotons/contsub/internal/logging"
	"github.com/nightphotons/contsub/internal/ops"
	"github.com/nightphotons/contsub/internal/star"
)

// Serves 4x1 images from memory. The reference is 2,4,6,8, targets are half of it
type fakeLoader struct {
	mutex    sync.Mutex
	released map[int]int
	missing  map[string]bool
	sizes    map[string][]int32
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{released:map[int]int{}, missing:map[string]bool{}, sizes:map[string][]int32{}}
}

func (l *fakeLoader) Load(path string, id int) (*fits.Image, error) {
	if l.missing[path] { return nil, os.ErrNotExist }
	naxisn:=[]int32{4, 1}
	if s,ok:=l.sizes[path]; ok { naxisn=s }
	img:=fits.NewImageFromNaxisn(naxisn, nil)
	scale:=float32(1)
	if id==0 { scale=2 }
	for i:=range img.Data { img.Data[i]=scale*float32(i+1) }
	img.ID, img.FileName=id, path
	return img, nil
}

func (l *fakeLoader) Release(img *fits.Image) {
	l.mutex.Lock()
	l.released[img.ID]++
	l.mutex.Unlock()
}

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, img *fits.Image, progress star.ProgressFunc) ([]star.Detection, error) {
	return []star.Detection{{X:0, Peak:0.5}, {X:1, Peak:0.4}, {X:2, Peak:0.3}, {X:3, Peak:0.2}}, nil
}

// Reports pixel values as fluxes. Fails or panics on images loaded from the given files
type fakeFitter struct {
	failOn  string
	panicOn string
}

func (f fakeFitter) Fit(ctx context.Context, img *fits.Image, cands []star.Candidate) ([]star.Measurement, error) {
	if f.failOn!="" && img.FileName==f.failOn { return nil, errors.New("psf fit exploded") }
	if f.panicOn!="" && img.FileName==f.panicOn { panic("nil pointer in fitter") }
	res:=[]star.Measurement{}
	for _,c:=range cands {
		res=append(res, star.Measurement{Index:c.Index, Flux:float64(img.Data[int(c.X)])})
	}
	return res, nil
}

type fakeSaver struct {
	mutex sync.Mutex
	saved map[string][]float32
	fail  string
}

func (s *fakeSaver) Save(img *fits.Image, path string) error {
	if strings.Contains(path, s.fail) && s.fail!="" { return errors.New("disk full") }
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _,ok:=s.saved[path]; ok { return fmt.Errorf("%s written twice", path) }
	s.saved[path]=append([]float32(nil), img.Data...)
	return nil
}

type fakeRecorder struct {
	mutex   sync.Mutex
	targets []history.Target
	state   string
}

func (f *fakeRecorder) StartRun(id, kind, reference string, targets int) error { return nil }
func (f *fakeRecorder) RecordTarget(runID string, t history.Target) error {
	f.mutex.Lock()
	f.targets=append(f.targets, t)
	f.mutex.Unlock()
	return nil
}
func (f *fakeRecorder) FinishRun(id, state string, succeeded, skipped, failed int) error {
	f.state=state
	return nil
}

func testRunner(loader *fakeLoader, fitter fakeFitter, saver *fakeSaver) *Runner {
	p:=config.DefaultBatchParams()
	cfg, _:=config.New(p)
	return &Runner{
		C:        &ops.Context{Log:logging.New(&bytes.Buffer{}), MaxThreads:3},
		Config:   cfg,
		Detector: fakeDetector{},
		Fitter:   fitter,
		Loader:   loader,
		Saver:    saver,
	}
}

func testJob(n int) Job {
	job:=Job{Reference:"ref.fits", OutputDir:"/out", Postfix:"_iso", Extension:".fits"}
	for i:=1; i<=n; i++ {
		job.Targets=append(job.Targets, fmt.Sprintf("t%d.fits", i))
	}
	return job
}

func TestRunIsolatesFailures(t *testing.T) {
	loader:=newFakeLoader()
	saver:=&fakeSaver{saved:map[string][]float32{}}
	r:=testRunner(loader, fakeFitter{failOn:"t3.fits"}, saver)
	rec:=&fakeRecorder{}
	r.History=rec
	log:=&bytes.Buffer{}
	r.C.Log=logging.New(log)

	sum, err:=r.Run(context.Background(), testJob(5))
	if err!=nil { t.Fatal(err) }
	if !strings.Contains(log.String(), "t3.fits") || !strings.Contains(log.String(), "Done: 4 succeeded, 0 skipped, 1 failed") {
		t.Errorf("log %q; want the failed target and the summary line", log.String())
	}
	if sum.Succeeded!=4 || sum.Failed!=1 || sum.Skipped!=0 {
		t.Errorf("summary %s; want 4 succeeded, 1 failed", sum.String())
	}
	for _,res:=range sum.Results {
		if (res.Path=="t3.fits")!=(res.Status==TargetFailed) {
			t.Errorf("target %s status %v", res.Path, res.Status)
		}
		if res.Path=="t3.fits" && !strings.Contains(res.Error(), "t3.fits") {
			t.Errorf("failure %q does not name the target", res.Error())
		}
	}
	if loader.released[0]!=1 {
		t.Errorf("reference released %d times; want 1", loader.released[0])
	}
	for id:=1; id<=5; id++ {
		if loader.released[id]!=1 {
			t.Errorf("target %d released %d times; want 1", id, loader.released[id])
		}
	}
	if sum.State!=Done || r.State()!=Done {
		t.Errorf("state %v; want done", sum.State)
	}
	if len(rec.targets)!=5 || rec.state!="done" {
		t.Errorf("recorded %d targets with state %q; want 5 and done", len(rec.targets), rec.state)
	}

	// ratio ref/target is 2, so target - (ref - med(ref))/2 = med(ref)/2 = 2.5 everywhere
	out, ok:=saver.saved["/out/t1_iso.fits"]
	if !ok {
		t.Fatalf("no output for t1, saved %v", saver.saved)
	}
	for i,v:=range out {
		if v!=2.5 { t.Errorf("t1 pixel %d = %g; want 2.5", i, v) }
	}
}

func TestRunPanicAndSkips(t *testing.T) {
	loader:=newFakeLoader()
	loader.missing["t2.fits"]=true
	loader.sizes["t4.fits"]=[]int32{5, 1}
	saver:=&fakeSaver{saved:map[string][]float32{}, fail:"t5"}
	r:=testRunner(loader, fakeFitter{panicOn:"t1.fits"}, saver)
	job:=testJob(5)
	job.Targets=append(job.Targets, "ref.fits")

	sum, err:=r.Run(context.Background(), job)
	if err!=nil { t.Fatal(err) }
	// t1 panics, t2 unreadable, t5 unwritable fail. t4 size and ref itself are skipped
	if sum.Succeeded!=1 || sum.Failed!=3 || sum.Skipped!=2 {
		t.Errorf("summary %s; want 1 succeeded, 2 skipped, 3 failed", sum.String())
	}
	if loader.released[0]!=1 {
		t.Errorf("reference released %d times; want 1", loader.released[0])
	}
}

func TestRunCollisions(t *testing.T) {
	loader:=newFakeLoader()
	saver:=&fakeSaver{saved:map[string][]float32{}}
	r:=testRunner(loader, fakeFitter{}, saver)
	job:=testJob(0)
	// same base name in different directories collides in the output directory
	for i:=0; i<6; i++ {
		job.Targets=append(job.Targets, fmt.Sprintf("night%d/comet.fits", i))
	}
	sum, err:=r.Run(context.Background(), job)
	if err!=nil { t.Fatal(err) }
	if sum.Succeeded!=6 || len(saver.saved)!=6 {
		t.Errorf("summary %s with %d files; want 6 distinct outputs", sum.String(), len(saver.saved))
	}
	for _,name:=range []string{"/out/comet_iso.fits", "/out/comet_iso_5.fits"} {
		if _,ok:=saver.saved[name]; !ok { t.Errorf("missing output %s", name) }
	}
}

func TestReferenceLoadFailure(t *testing.T) {
	loader:=newFakeLoader()
	loader.missing["ref.fits"]=true
	r:=testRunner(loader, fakeFitter{}, &fakeSaver{saved:map[string][]float32{}})
	sum, err:=r.Run(context.Background(), testJob(2))
	var rle *ReferenceLoadError
	if !errors.As(err, &rle) || rle.Path!="ref.fits" {
		t.Errorf("Run error = %v; want ReferenceLoadError", err)
	}
	if sum.State!=Failed || len(sum.Results)!=0 {
		t.Errorf("summary %+v; want failed without results", sum)
	}
}

func TestReferenceCalibrationFailure(t *testing.T) {
	loader:=newFakeLoader()
	r:=testRunner(loader, fakeFitter{failOn:"ref.fits"}, &fakeSaver{saved:map[string][]float32{}})
	if _,err:=r.Run(context.Background(), testJob(2)); err==nil {
		t.Errorf("Run with failing reference fit succeeded; want error")
	}
	if loader.released[0]!=1 {
		t.Errorf("reference released %d times; want 1", loader.released[0])
	}
	if r.State()!=Failed {
		t.Errorf("state %v; want failed", r.State())
	}
}

func TestRunCancelled(t *testing.T) {
	loader:=newFakeLoader()
	r:=testRunner(loader, fakeFitter{}, &fakeSaver{saved:map[string][]float32{}})
	ref, err:=r.Prepare(context.Background(), testJob(0))
	if err!=nil { t.Fatal(err) }
	defer ref.Release()
	ctx, cancel:=context.WithCancel(context.Background())
	cancel()
	res:=r.ProcessTarget(ctx, ref, testJob(0), nil, "t1.fits", 1)
	if res.Status!=Skipped || !errors.Is(res.Err, ops.ErrCancelled) {
		t.Errorf("ProcessTarget after cancel = %v, %v; want skipped", res.Status, res.Err)
	}
}

func TestExpandPatterns(t *testing.T) {
	dir:=t.TempDir()
	for _,n:=range []string{"a.fits", "b.fits", "c.txt"} {
		os.WriteFile(filepath.Join(dir, n), []byte{0}, 0644)
	}
	os.Mkdir(filepath.Join(dir, "d.fits"), 0755)
	got, err:=ExpandPatterns([]string{filepath.Join(dir, "*.fits"), filepath.Join(dir, "a.fits")})
	if err!=nil { t.Fatal(err) }
	if len(got)!=2 {
		t.Errorf("ExpandPatterns = %v; want a.fits and b.fits", got)
	}
	if _,err:=ExpandPatterns([]string{filepath.Join(dir, "*.xisf")}); err==nil {
		t.Errorf("ExpandPatterns without matches succeeded; want error")
	}
}

func TestWatch(t *testing.T) {
	dir:=t.TempDir()
	loader:=&ops.FileLoader{C:&ops.Context{Log:logging.New(&bytes.Buffer{})}}
	ref:=fits.NewImageFromNaxisn([]int32{4, 1}, []float32{2, 4, 6, 8})
	refPath:=filepath.Join(dir, "ref.fits")
	if err:=ref.WriteFile(refPath); err!=nil { t.Fatal(err) }

	cfg, _:=config.New(config.DefaultBatchParams())
	c:=&ops.Context{Log:logging.New(&bytes.Buffer{}), MaxThreads:1}
	r:=&Runner{C:c, Config:cfg, Detector:fakeDetector{}, Fitter:fakeFitter{},
		Loader:loader, Saver:&ops.FileSaver{C:c}}
	job:=Job{Reference:refPath, Postfix:"_iso", Extension:".fits"}

	ctx, cancel:=context.WithCancel(context.Background())
	done:=make(chan Summary)
	go func() {
		sum, _:=r.Watch(ctx, dir, job, 200*time.Millisecond)
		done <- sum
	}()
	for r.State()!=ProcessTarget { time.Sleep(10*time.Millisecond) }

	target:=fits.NewImageFromNaxisn([]int32{4, 1}, []float32{1, 2, 3, 4})
	if err:=target.WriteFile(filepath.Join(dir, "t1.fits")); err!=nil { t.Fatal(err) }
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	out:=filepath.Join(dir, "t1_iso.fits")
	deadline:=time.Now().Add(5*time.Second)
	for time.Now().Before(deadline) {
		if _,err:=os.Stat(out); err==nil { break }
		time.Sleep(50*time.Millisecond)
	}
	time.Sleep(500*time.Millisecond)  // outputs must not be processed again
	cancel()
	sum:=<-done
	if sum.Succeeded!=1 || sum.Failed!=0 || sum.Skipped!=0 {
		t.Errorf("watch summary %s; want exactly one success", sum.String())
	}
	if _,err:=os.Stat(filepath.Join(dir, "t1_iso_iso.fits")); err==nil {
		t.Errorf("output was processed as a new target")
	}
}
