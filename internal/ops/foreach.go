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
	"context"
	"errors"
	"fmt"
)

// Calls f for indices 0..n-1 with given concurrency limit. Errors of all calls are joined into one.
// Indices not yet started when ctx ends are not run, and contribute ErrCancelled.
func ForEach(ctx context.Context, n, maxThreads int, f func(i int) error) (err error) {
	if n==0 { return nil }
	if maxThreads<1 { maxThreads=1 }
	limiter:=make(chan bool, maxThreads)
	errs   :=make(chan error, n)
	for i:=0; i<n; i++ {
		limiter <- true
		if ctx.Err()!=nil {
			<-limiter
			errs <- ErrCancelled
			continue
		}
		go func(i int) {
			defer func() { <-limiter }()
			errs <- f(i)
		}(i)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for i:=0; i<n; i++ {  // collect errors
		if e:=<-errs; e!=nil {
			if err==nil {
				err=e
			} else if !errors.Is(err, e) {
				err=fmt.Errorf("%w; %w", err, e)
			}
		}
	}
	return err
}
