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
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/nightphotons/contsub/internal/fits"
	"github.com/nightphotons/contsub/internal/subtract"
)

// Time without further writes after which a new file is considered complete
const DefaultSettle = 2*time.Second

// Prepares the reference once, then processes every image file created in dir until ctx ends.
// Outputs written by the runner itself are ignored. Returns the summary of all processed files.
func (r *Runner) Watch(ctx context.Context, dir string, job Job, settle time.Duration) (sum Summary, err error) {
	if settle<=0 { settle=DefaultSettle }
	watcher, err:=fsnotify.NewWatcher()
	if err!=nil { return sum, err }
	defer watcher.Close()
	if err:=watcher.Add(dir); err!=nil { return sum, fmt.Errorf("watching %s: %w", dir, err) }

	sum.RunID=uuid.NewString()
	r.record(func(h Recorder) error { return h.StartRun(sum.RunID, "watch", job.Reference, 0) })
	defer func() {
		sum.State=r.State()
		fmt.Fprintln(r.C.Log, sum.String())
		r.record(func(h Recorder) error { return h.FinishRun(sum.RunID, sum.State.String(), sum.Succeeded, sum.Skipped, sum.Failed) })
	}()

	ref, err:=r.Prepare(ctx, job)
	if err!=nil { return sum, err }
	defer func() {
		r.setState(Cleanup)
		ref.Release()
		r.setState(Done)
	}()
	r.setState(ProcessTarget)
	fmt.Fprintf(r.C.Log, "Watching %s for new images\n", dir)

	namer:=subtract.NewFileNamer(job.Overwrite)
	pending:=map[string]time.Time{}
	ticker:=time.NewTicker(settle/4)
	defer ticker.Stop()
	nextID:=1

	for {
		select {
		case <-ctx.Done():
			return sum, nil

		case event, ok:=<-watcher.Events:
			if !ok { return sum, nil }
			if event.Op&(fsnotify.Create|fsnotify.Write)==0 { continue }
			if namer.Reserved(event.Name) || sameFile(event.Name, ref.Path) { continue }
			if fits.FormatFromFileName(event.Name)==fits.FormatUnknown { continue }
			pending[event.Name]=time.Now()

		case err, ok:=<-watcher.Errors:
			if !ok { return sum, nil }
			fmt.Fprintf(r.C.Log, "Warning: watching %s: %v\n", dir, err)

		case now:=<-ticker.C:
			for path,last:=range pending {
				if now.Sub(last)<settle { continue }
				delete(pending, path)
				res:=r.ProcessTarget(ctx, ref, job, namer, filepath.Clean(path), nextID)
				nextID++
				r.recordTarget(sum.RunID, res)
				sum.add(res)
			}
		}
	}
}
