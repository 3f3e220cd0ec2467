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
	"errors"
	"fmt"
	"io"
	"runtime"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

var ErrCancelled = errors.New("cancelled")

// An execution context for operations
type Context struct {
	Log              io.Writer
	MemoryMB         int          // memory.TotalMemory()/1024/1024
	BudgetMB         int          // MemoryMB*7/10, available for image buffers
	MaxThreads       int          `json:"maxThreads"`
}

func NewContext(log io.Writer) *Context {
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	return &Context{
		Log        : log,
		MemoryMB   : memoryMB,
		BudgetMB   : memoryMB*7/10,
		MaxThreads : runtime.GOMAXPROCS(0),
	}
}

// Number of workers which fit into the memory budget when each holds copiesPerWorker images of given size,
// capped at limit and MaxThreads and at least 1. A limit<=0 means no limit beyond MaxThreads
func (c *Context) Workers(limit int, imageBytes int64, copiesPerWorker int) int {
	n:=c.MaxThreads
	if limit>0 && limit<n { n=limit }
	if imageBytes>0 && copiesPerWorker>0 && c.BudgetMB>0 {
		fit:=int(int64(c.BudgetMB)*1024*1024/(imageBytes*int64(copiesPerWorker)))
		if fit<n { n=fit }
	}
	if n<1 { n=1 }
	return n
}

func (c *Context) String() string {
	return fmt.Sprintf("%d threads, %d MB memory, %d MB budget", c.MaxThreads, c.MemoryMB, c.BudgetMB)
}

// Processor brand, core counts and vector extensions, for version and startup output
func CPUInfo() string {
	avx2:=""
	if cpuid.CPU.AVX2() { avx2=", AVX2" }
	return fmt.Sprintf("%s, %d physical / %d logical cores%s", cpuid.CPU.BrandName,
		cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, avx2)
}
