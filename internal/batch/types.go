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
	"fmt"
	"strings"

	"github.com/nightphotons/contsub/internal/history"
)

// Stage of a batch run
type State int

const (
	Idle State = iota
	LoadReference
	ComputeReferenceCalibration
	ProcessTarget
	Cleanup
	Done
	Failed
)

var stateNames=[]string{"idle", "loadReference", "computeReferenceCalibration", "processTarget", "cleanup", "done", "failed"}

func (s State) String() string {
	if s<0 || int(s)>=len(stateNames) { return fmt.Sprintf("State(%d)", int(s)) }
	return stateNames[s]
}

// Outcome of one target
type Status int

const (
	Succeeded Status = iota
	Skipped
	TargetFailed
)

var statusNames=[]string{"succeeded", "skipped", "failed"}

func (s Status) String() string {
	if s<0 || int(s)>=len(statusNames) { return fmt.Sprintf("Status(%d)", int(s)) }
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s State)  MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type TargetResult struct {
	Path      string   `json:"path"`
	ID        int      `json:"id"`
	Output    string   `json:"output,omitempty"`
	Status    Status   `json:"status"`
	Ratio     float64  `json:"ratio,omitempty"`
	PairsUsed int      `json:"pairsUsed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Err       error    `json:"-"`
}

// Error message, or "" on success
func (t TargetResult) Error() string {
	if t.Err==nil { return "" }
	return t.Err.Error()
}

// History record of the outcome
func (t TargetResult) Record() history.Target {
	return history.Target{
		Path:      t.Path,
		Output:    t.Output,
		Status:    t.Status.String(),
		Ratio:     t.Ratio,
		PairsUsed: t.PairsUsed,
		Warnings:  strings.Join(t.Warnings, "; "),
		Error:     t.Error(),
	}
}

// Aggregate outcome of a batch
type Summary struct {
	RunID     string         `json:"runId"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Results   []TargetResult `json:"results"`
	State     State          `json:"state"`
}

func (s *Summary) add(t TargetResult) {
	switch t.Status {
	case Succeeded:    s.Succeeded++
	case Skipped:      s.Skipped++
	case TargetFailed: s.Failed++
	}
	s.Results=append(s.Results, t)
}

func (s Summary) String() string {
	return fmt.Sprintf("Done: %d succeeded, %d skipped, %d failed", s.Succeeded, s.Skipped, s.Failed)
}
