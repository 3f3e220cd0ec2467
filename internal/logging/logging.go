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


package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Log writer which writes to an output, usually stdout, and optionally also to a file.
// Does not add prefixes, or force newlines. Safe for concurrent use.
type Tee struct {
	mutex     sync.Mutex
	out       io.Writer
	logFile   *bufio.Writer
	logFileOS *os.File
}

func New(out io.Writer) *Tee {
	return &Tee{out:out}
}

// Enables logging to file, closing any previous log file
func (t *Tee) AlsoToFile(fileName string) (err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err=t.closeFile(); err!=nil { return err }
	f, err:=os.OpenFile(fileName, os.O_CREATE | os.O_TRUNC | os.O_WRONLY, 0666)
	if err!=nil { return err }
	t.logFileOS, t.logFile=f, bufio.NewWriter(f)
	return nil
}

func (t *Tee) Write(p []byte) (n int, err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	n, err=t.out.Write(p)
	if err!=nil || t.logFile==nil { return n, err }
	return t.logFile.Write(p)
}

func (t *Tee) Printf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(t, format, args...)
}

// Flushes the log file to disk
func (t *Tee) Sync() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.logFile==nil { return nil }
	if err:=t.logFile.Flush(); err!=nil { return err }
	return t.logFileOS.Sync()
}

func (t *Tee) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.closeFile()
}

func (t *Tee) closeFile() error {
	if t.logFile==nil { return nil }
	err:=t.logFile.Flush()
	if cerr:=t.logFileOS.Close(); err==nil { err=cerr }
	t.logFile, t.logFileOS=nil, nil
	return err
}

// Logs the message, closes the log file and exits with status 1
func (t *Tee) Fatalf(format string, args ...interface{}) {
	t.Printf(format, args...)
	t.Close()
	os.Exit(1)
}
