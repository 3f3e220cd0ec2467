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


package history

import (
	"path/filepath"
	"testing"
)

func TestStore(t *testing.T) {
	s, err:=New(filepath.Join(t.TempDir(), "history.db"))
	if err!=nil { t.Fatal(err) }
	defer s.Close()

	if err:=s.StartRun("run-1", "batch", "ref.fits", 2); err!=nil { t.Fatal(err) }
	if err:=s.RecordTarget("run-1", Target{Path:"a.fits", Output:"a_iso.fits", Status:"succeeded", Ratio:2.5, PairsUsed:120}); err!=nil { t.Fatal(err) }
	if err:=s.RecordTarget("run-1", Target{Path:"b.fits", Status:"failed", Error:"no valid star pairs"}); err!=nil { t.Fatal(err) }
	if err:=s.FinishRun("run-1", "done", 1, 0, 1); err!=nil { t.Fatal(err) }
	if err:=s.FinishRun("missing", "done", 0, 0, 0); err==nil {
		t.Errorf("FinishRun of unknown run succeeded; want error")
	}
	if err:=s.StartRun("run-2", "subtract", "", 1); err!=nil { t.Fatal(err) }

	runs, err:=s.ListRuns(10)
	if err!=nil { t.Fatal(err) }
	if len(runs)!=2 || runs[0].ID!="run-2" {
		t.Fatalf("ListRuns = %+v; want run-2 first", runs)
	}
	r:=runs[1]
	if r.State!="done" || r.Succeeded!=1 || r.Failed!=1 || r.FinishedAt==nil || r.Reference!="ref.fits" {
		t.Errorf("run-1 = %+v", r)
	}
	if runs[0].FinishedAt!=nil {
		t.Errorf("unfinished run has finish time")
	}

	ts, err:=s.Targets("run-1")
	if err!=nil { t.Fatal(err) }
	if len(ts)!=2 || ts[0].Ratio!=2.5 || ts[0].PairsUsed!=120 || ts[1].Error!="no valid star pairs" {
		t.Errorf("Targets = %+v", ts)
	}
}
