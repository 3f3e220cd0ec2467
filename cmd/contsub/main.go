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


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/nightphotons/contsub/internal/batch"
	"github.com/nightphotons/contsub/internal/calib"
	"github.com/nightphotons/contsub/internal/config"
	"github.com/nightphotons/contsub/internal/history"
	"github.com/nightphotons/contsub/internal/logging"
	"github.com/nightphotons/contsub/internal/ops"
	"github.com/nightphotons/contsub/internal/rest"
	"github.com/nightphotons/contsub/internal/session"
)

const version = "0.3.0"

const banner=`Contsub Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
`

// Flags and resources shared by all commands
type root struct {
	log        *logging.Tee
	logFile    string
	paramsFile string
	sets       []string
	dbFile     string
	threads    int
	store      *history.Store
}

func main() {
	r:=&root{log:logging.New(os.Stdout)}
	defer r.log.Close()
	if err:=r.command().Execute(); err!=nil {
		r.log.Fatalf("Error: %s\n", err.Error())
	}
}

func (r *root) command() *cobra.Command {
	cmd:=&cobra.Command{
		Use:   "contsub",
		Short: "Photometric continuum subtraction for narrowband astro images",
		Long:  banner+`
Contsub estimates the flux ratio between a broadband and a narrowband image from
the stars they have in common, and subtracts the scaled continuum from the
narrowband image.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf:=cmd.PersistentFlags()
	pf.StringVar(&r.logFile, "log", "", "also save log output to `file`. %auto replaces the suffix of the output file with .log")
	pf.StringVar(&r.paramsFile, "params", "", "load parameters from JSON or YAML `file`")
	pf.StringArrayVar(&r.sets, "set", nil, "override a parameter, as `key=value`. May be repeated")
	pf.StringVar(&r.dbFile, "db", "", "record runs in the SQLite database `file`")
	pf.IntVar(&r.threads, "threads", 0, "maximum number of threads, 0=all CPUs")

	cmd.AddCommand(r.subtractCmd(), r.batchCmd(), r.watchCmd(), r.serveCmd(),
		r.runsCmd(), r.paramsCmd(), legalCmd(), r.versionCmd())
	return cmd
}

// Enables the log file. %auto derives the name from the given output file
func (r *root) openLog(out string) error {
	name:=r.logFile
	if name=="%auto" {
		if out=="" { return nil }
		name=strings.TrimSuffix(out, filepath.Ext(out))+".log"
	}
	if name=="" { return nil }
	if err:=r.log.AlsoToFile(name); err!=nil {
		return fmt.Errorf("unable to open logfile '%s': %w", name, err)
	}
	return nil
}

// Loads parameters over the defaults, then applies --set overrides
func (r *root) params(defaults config.Params) (config.Params, error) {
	p:=defaults
	if r.paramsFile!="" {
		var err error
		if p, err=config.LoadParams(r.paramsFile, defaults); err!=nil { return p, err }
	}
	for _,s:=range r.sets {
		kv:=strings.SplitN(s, "=", 2)
		if len(kv)!=2 { return p, fmt.Errorf("invalid --set %q, want key=value", s) }
		if err:=p.SetString(kv[0], kv[1]); err!=nil { return p, err }
	}
	return p, nil
}

func (r *root) config(defaults config.Params) (config.Config, error) {
	p, err:=r.params(defaults)
	if err!=nil { return config.Config{}, err }
	return config.New(p)
}

func (r *root) context() *ops.Context {
	c:=ops.NewContext(r.log)
	if r.threads>0 { c.MaxThreads=r.threads }
	fmt.Fprintf(r.log, "Using %s on %s\n", c, ops.CPUInfo())
	return c
}

// Opens the history store if --db is given. Nil otherwise
func (r *root) recorder() (calib.Recorder, error) {
	if r.dbFile=="" { return nil, nil }
	if r.store==nil {
		s, err:=history.New(r.dbFile)
		if err!=nil { return nil, fmt.Errorf("opening history %s: %w", r.dbFile, err) }
		r.store=s
	}
	return r.store, nil
}

func (r *root) close() {
	if r.store!=nil { r.store.Close() }
}

// Context cancelled on SIGINT or SIGTERM
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (r *root) subtractCmd() *cobra.Command {
	var files calib.Files
	cmd:=&cobra.Command{
		Use:   "subtract",
		Short: "Calibrate one narrowband/broadband pair and subtract the continuum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err:=r.openLog(files.Output); err!=nil { return err }
			defer r.close()
			start:=time.Now()
			cfg, err:=r.config(config.DefaultParams())
			if err!=nil { return err }
			h, err:=r.recorder()
			if err!=nil { return err }

			c:=r.context()
			ctx, cancel:=interruptible()
			defer cancel()
			p:=calib.NewPipeline(c, session.New(), cfg)
			res, written, err:=p.RunFiles(ctx, &ops.FileLoader{C:c}, &ops.FileSaver{C:c}, cfg, files)
			p.Record(h, files, res, written, err)
			if err!=nil { return err }
			fmt.Fprintf(r.log, "Ratio %.6g from %d pairs, wrote %s\n", res.Calibration.Ratio, res.Calibration.PairsUsed, strings.Join(written, ", "))
			fmt.Fprintf(r.log, "\nDone after %v\n", time.Since(start))
			return nil
		},
	}
	f:=cmd.Flags()
	f.StringVar(&files.Narrowband, "nb", "", "narrowband star `file`, the minuend")
	f.StringVar(&files.Broadband, "bb", "", "broadband star `file`, the subtrahend")
	f.StringVar(&files.NarrowbandStarless, "nb-starless", "", "narrowband starless `file`")
	f.StringVar(&files.BroadbandStarless, "bb-starless", "", "broadband starless `file`")
	f.StringVarP(&files.Output, "out", "o", "", "save the star output to `file`, default <nb>_sub in the output directory")
	cmd.MarkFlagRequired("nb")
	cmd.MarkFlagRequired("bb")
	return cmd
}

// Runner for the reference and targets, with history recording if enabled
func (r *root) runner(reference string) (*batch.Runner, batch.Job, error) {
	cfg, err:=r.config(config.DefaultBatchParams())
	if err!=nil { return nil, batch.Job{}, err }
	if reference!="" { cfg.ReferencePath=reference }
	if cfg.ReferencePath=="" { return nil, batch.Job{}, errors.New("no reference image given") }
	h, err:=r.recorder()
	if err!=nil { return nil, batch.Job{}, err }
	br:=batch.NewRunner(r.context(), cfg)
	br.History=h
	return br, batch.NewJob(cfg, nil), nil
}

func (r *root) batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <reference> <target patterns...>",
		Short: "Apply the calibration of a broadband reference to many narrowband targets, in place",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err:=r.openLog(args[0]); err!=nil { return err }
			defer r.close()
			br, job, err:=r.runner(args[0])
			if err!=nil { return err }
			if job.Targets, err=batch.ExpandPatterns(args[1:]); err!=nil { return err }
			ctx, cancel:=interruptible()
			defer cancel()
			sum, err:=br.Run(ctx, job)
			if err!=nil { return err }
			for _,t:=range sum.Results {
				if t.Err!=nil { fmt.Fprintf(r.log, "%d: %s %s: %v\n", t.ID, t.Status, t.Path, t.Err) }
			}
			if sum.Failed>0 { return fmt.Errorf("%d targets failed", sum.Failed) }
			return nil
		},
	}
}

func (r *root) watchCmd() *cobra.Command {
	var settle time.Duration
	cmd:=&cobra.Command{
		Use:   "watch <reference> <directory>",
		Short: "Process narrowband targets as they appear in a directory, until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err:=r.openLog(args[0]); err!=nil { return err }
			defer r.close()
			br, job, err:=r.runner(args[0])
			if err!=nil { return err }
			ctx, cancel:=interruptible()
			defer cancel()
			sum, err:=br.Watch(ctx, args[1], job, settle)
			if errors.Is(err, context.Canceled) { err=nil }
			if err==nil && sum.Failed>0 { err=fmt.Errorf("%d targets failed", sum.Failed) }
			return err
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", batch.DefaultSettle, "wait until a new file has not changed for this long")
	return cmd
}

func (r *root) serveCmd() *cobra.Command {
	var addr, chroot string
	var setuid int
	cmd:=&cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err:=r.openLog(""); err!=nil { return err }
			defer r.close()
			if _,err:=r.recorder(); err!=nil { return err }
			// database and log are open before the sandbox closes the file system
			if chroot!="" || setuid>=0 {
				if err:=rest.MakeSandbox(r.log, chroot, setuid); err!=nil { return err }
			}
			fmt.Fprintf(r.log, "Serving REST API on %s using %s\n", addr, ops.CPUInfo())
			s:=&rest.Server{Store:r.store, MaxThreads:r.threads}
			return s.Serve(addr)
		},
	}
	f:=cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen on `address`")
	f.StringVar(&chroot, "chroot", "", "change root to `dir` before serving")
	f.IntVar(&setuid, "setuid", -1, "change to user `id` before serving, -1=keep")
	return cmd
}

func (r *root) runsCmd() *cobra.Command {
	var limit int
	cmd:=&cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the targets of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.dbFile=="" { return errors.New("no history database, use --db") }
			defer r.close()
			if _,err:=r.recorder(); err!=nil { return err }
			if len(args)==1 {
				targets, err:=r.store.Targets(args[0])
				if err!=nil { return err }
				if len(targets)==0 { return fmt.Errorf("run %s not found", args[0]) }
				for _,t:=range targets {
					fmt.Fprintf(r.log, "%-9s %-40s ratio %8.4f pairs %4d %s%s\n", t.Status, t.Path, t.Ratio, t.PairsUsed, t.Output, t.Error)
				}
				return nil
			}
			runs, err:=r.store.ListRuns(limit)
			if err!=nil { return err }
			for _,run:=range runs {
				fmt.Fprintf(r.log, "%s %s %-8s %-8s %3d ok %3d skipped %3d failed  %s\n", run.ID,
					run.StartedAt.Local().Format(time.DateTime), run.Kind, run.State, run.Succeeded, run.Skipped, run.Failed, run.Reference)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most `n` runs")
	return cmd
}

func (r *root) paramsCmd() *cobra.Command {
	var forBatch bool
	var save string
	cmd:=&cobra.Command{
		Use:   "params",
		Short: "Show the effective parameters, or save them to a JSON or YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults:=config.DefaultParams()
			if forBatch { defaults=config.DefaultBatchParams() }
			p, err:=r.params(defaults)
			if err!=nil { return err }
			if _,err:=config.New(p); err!=nil { return err }
			if save!="" { return p.Save(save) }
			m, err:=json.MarshalIndent(p, "", "  ")
			if err!=nil { return err }
			fmt.Fprintf(r.log, "%s\n", string(m))
			return nil
		},
	}
	cmd.Flags().BoolVar(&forBatch, "batch", false, "start from the batch defaults")
	cmd.Flags().StringVar(&save, "save", "", "save to `file`, YAML if the suffix is .yaml or .yml")
	return cmd
}

func (r *root) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(r.log, "Version %s, %s %s/%s\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(r.log, "CPU %s\n", ops.CPUInfo())
			fmt.Fprintf(r.log, "%s\n", ops.NewContext(r.log))
		},
	}
}
