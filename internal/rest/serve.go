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


package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nightphotons/contsub/internal/batch"
	"github.com/nightphotons/contsub/internal/calib"
	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/history"
	"github.com/nightphotons/contsub/internal/logging"
	"github.com/nightphotons/contsub/internal/ops"
	"github.com/nightphotons/contsub/internal/session"
	"github.com/nightphotons/contsub/internal/starless"
)

// REST API server. File arguments are restricted to the current directory tree
type Server struct {
	Store      *history.Store    // nil disables the run history endpoints
	MaxThreads int
}

// Creates the router with all API routes
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",     getPing)
			v1.GET ("/params",   getParams)
			v1.POST("/subtract", s.postSubtract)
			v1.POST("/batch",    s.postBatch)
			v1.GET ("/runs",     s.getRuns)
			v1.GET ("/runs/:id", s.getRun)
		}
	}
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func (s *Server) Serve(addr string) error {
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func getParams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"subtract": config.DefaultParams(),
		"batch":    config.DefaultBatchParams(),
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Writes through to the response and flushes after every write, so clients see progress
type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err:=f.w.Write(p)
	f.w.Flush()
	return n, err
}

// Binds the arguments, starts a streamed plain text response and echoes the arguments into it.
// The returned writer is safe for concurrent use by batch workers
func startLog(c *gin.Context, args interface{}) (io.Writer, bool) {
	if err:=c.ShouldBindJSON(args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return nil, false
	}

	logWriter := c.Writer
	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return nil, false
	}
	return logging.New(flushWriter{logWriter}), true
}

func (s *Server) context(log io.Writer) *ops.Context {
	oc:=ops.NewContext(log)
	if s.MaxThreads>0 { oc.MaxThreads=s.MaxThreads }
	return oc
}

// Merges request parameters over the defaults. Remote clients may not run external commands
func params(defaults config.Params, raw map[string]interface{}) (config.Config, error) {
	if raw!=nil {
		if err:=defaults.Set(raw); err!=nil { return config.Config{}, err }
	}
	cfg, err:=config.New(defaults)
	if err!=nil { return cfg, err }
	if cfg.StarlessEnabled && cfg.StarRemovalMethod==starless.External {
		return config.Config{}, errors.New("external star removal is not available via the API")
	}
	return cfg, nil
}

type postSubtractArgs struct {
	Files   calib.Files              `json:"files"`
	Params  map[string]interface{}   `json:"params"`
}

func (s *Server) postSubtract(c *gin.Context) {
	var args postSubtractArgs
	logWriter, ok:=startLog(c, &args)
	if !ok { return }

	cfg, err:=params(config.DefaultParams(), args.Params)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error in parameters: %s\n", err.Error())
		return
	}
	oc:=s.context(logWriter)
	p:=calib.NewPipeline(oc, session.New(), cfg)
	res, written, err:=p.RunFiles(c.Request.Context(),
		&ops.FileLoader{C:oc, Restricted:true}, &ops.FileSaver{C:oc, Restricted:true}, cfg, args.Files)
	id:=p.Record(s.recorder(), args.Files, res, written, err)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Run %s: ratio %.6g from %d pairs, wrote %v\n", id, res.Calibration.Ratio, res.Calibration.PairsUsed, written)
}

type postBatchArgs struct {
	Reference    string                  `json:"reference"`
	FilePatterns []string                `json:"filePatterns"`
	Params       map[string]interface{}  `json:"params"`
}

func (s *Server) postBatch(c *gin.Context) {
	var args postBatchArgs
	logWriter, ok:=startLog(c, &args)
	if !ok { return }

	cfg, err:=params(config.DefaultBatchParams(), args.Params)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error in parameters: %s\n", err.Error())
		return
	}
	for _,p:=range args.FilePatterns {
		if !ops.IsPathAllowed(p) {
			fmt.Fprintf(logWriter, "error: pattern %s outside current directory tree\n", p)
			return
		}
	}
	targets, err:=batch.ExpandPatterns(args.FilePatterns)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
		return
	}
	if args.Reference!="" { cfg.ReferencePath=args.Reference }

	oc:=s.context(logWriter)
	r:=batch.NewRunner(oc, cfg)
	r.Loader=&ops.FileLoader{C:oc, Restricted:true}
	r.Saver =&ops.FileSaver {C:oc, Restricted:true}
	r.History=s.recorder()
	sum, err:=r.Run(c.Request.Context(), batch.NewJob(cfg, targets))
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	printArgs(logWriter, "Summary:\n", "\n", sum)
}

// Avoids a typed nil in the interface
func (s *Server) recorder() calib.Recorder {
	if s.Store==nil { return nil }
	return s.Store
}

func (s *Server) getRuns(c *gin.Context) {
	if s.Store==nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history disabled"})
		return
	}
	limit:=20
	if l:=c.Query("limit"); l!="" {
		n, err:=strconv.Atoi(l)
		if err!=nil || n<=0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit "+l})
			return
		}
		limit=n
	}
	runs, err:=s.Store.ListRuns(limit)
	if err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	if s.Store==nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history disabled"})
		return
	}
	targets, err:=s.Store.Targets(c.Param("id"))
	if err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(targets)==0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such run"})
		return
	}
	c.JSON(http.StatusOK, targets)
}

