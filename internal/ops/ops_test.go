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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/nightphotons/contsub/internal/fits"
)

func TestForEach(t *testing.T) {
	var running, peak, count int32
	err:=ForEach(context.Background(), 50, 4, func(i int) error {
		r:=atomic.AddInt32(&running, 1)
		for {
			p:=atomic.LoadInt32(&peak)
			if r<=p || atomic.CompareAndSwapInt32(&peak, p, r) { break }
		}
		atomic.AddInt32(&count, 1)
		atomic.AddInt32(&running, -1)
		if i==7 || i==9 { return errors.New("boom") }
		return nil
	})
	if err==nil {
		t.Errorf("ForEach error nil; want joined errors")
	}
	if count!=50 {
		t.Errorf("ran %d calls; want 50", count)
	}
	if peak>4 {
		t.Errorf("peak concurrency %d; want at most 4", peak)
	}
}

func TestForEachCancelled(t *testing.T) {
	ctx, cancel:=context.WithCancel(context.Background())
	cancel()
	calls:=int32(0)
	err:=ForEach(ctx, 10, 2, func(i int) error { atomic.AddInt32(&calls, 1); return nil })
	if !errors.Is(err, ErrCancelled) || calls!=0 {
		t.Errorf("ForEach on cancelled context = %v after %d calls; want ErrCancelled and none", err, calls)
	}
}

func TestWorkers(t *testing.T) {
	c:=&Context{MaxThreads:8, BudgetMB:100}
	tests:=[]struct{
		limit     int
		imgBytes  int64
		want      int
	}{
		{0, 0, 8},
		{3, 0, 3},
		{0, 10*1024*1024, 3},     // 100MB / (3*10MB)
		{0, 200*1024*1024, 1},    // never below one
	}
	for _,test:=range tests {
		if got:=c.Workers(test.limit, test.imgBytes, 3); got!=test.want {
			t.Errorf("Workers(%d, %d, 3) = %d; want %d", test.limit, test.imgBytes, got, test.want)
		}
	}
}

func TestIsPathAllowed(t *testing.T) {
	tests:=map[string]bool{"a.fits":true, "dir/a.fits":true, "/etc/passwd":false, "../a.fits":false, "a/../../b":false}
	for p,want:=range tests {
		if got:=IsPathAllowed(p); got!=want {
			t.Errorf("IsPathAllowed(%q) = %v; want %v", p, got, want)
		}
	}
}

func TestFileLoaderSaver(t *testing.T) {
	log:=&bytes.Buffer{}
	c:=&Context{Log:log, MaxThreads:1}
	dir:=t.TempDir()
	fn:=filepath.Join(dir, "x.fits")
	img:=fits.NewImageFromNaxisn([]int32{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	if err:=(&FileSaver{C:c}).Save(img, fn); err!=nil { t.Fatal(err) }
	if err:=(&FileSaver{C:c}).Save(img, filepath.Join(dir, "x.png")); err==nil {
		t.Errorf("Save with unknown suffix succeeded; want error")
	}
	if err:=(&FileSaver{C:c, Restricted:true}).Save(img, fn); err==nil {
		t.Errorf("restricted Save of absolute path succeeded; want error")
	}

	l:=&FileLoader{C:c}
	got, err:=l.Load(fn, 4)
	if err!=nil { t.Fatal(err) }
	if got.ID!=4 || got.Width()!=3 || got.Data[5]!=6 {
		t.Errorf("Load = id %d width %d; want id 4 width 3", got.ID, got.Width())
	}
	l.Release(got)
	if got.Data!=nil {
		t.Errorf("Release kept pixel data")
	}
	if _,err:=l.Load(filepath.Join(dir, "missing.fits"), 1); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load of missing file error = %v; want not exist", err)
	}
	if log.Len()==0 {
		t.Errorf("nothing logged")
	}
}
