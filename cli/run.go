// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ttbt-io/sceneverify/browser"
	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/monitor"
	"github.com/ttbt-io/sceneverify/render"
	"github.com/ttbt-io/sceneverify/reportstore"
	"github.com/ttbt-io/sceneverify/scenario"
	"github.com/ttbt-io/sceneverify/telemetry"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	BaseURL     string
	Viewport    string
	ChromeURL   string
	ExecPath    string
	Headful     bool
	OutputDir   string
	Files       []string
	Timeout     time.Duration
	Parallel    int
	NoStore     bool
	MonitorAddr string
	JWKSFile    string
	JWKSURL     string
	TraceFile   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios against the application",
		Long: `Run builtin scenarios by name and scenarios loaded with --file.

With no names, every scenario loaded with --file runs, or every builtin
scenario when no file is given. The exit status is 0 when all runs passed,
1 when any failed and 2 when any was aborted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "base-url", harness.DefaultBaseURL, "base URL of the application")
	f.StringVar(&opts.Viewport, "viewport", fmt.Sprintf("%dx%d", browser.DefaultWidth, browser.DefaultHeight), "browser viewport, WIDTHxHEIGHT")
	f.StringVar(&opts.ChromeURL, "chrome-url", "", "DevTools URL of a running browser; a local headless Chrome is started when empty")
	f.StringVar(&opts.ExecPath, "chrome-path", "", "path of the Chrome binary")
	f.BoolVar(&opts.Headful, "headful", false, "show the browser window")
	f.StringVar(&opts.OutputDir, "output-dir", harness.DefaultOutputDir, "parent directory of the artifact directories")
	f.StringArrayVarP(&opts.Files, "file", "f", nil, "YAML scenario file (repeatable)")
	f.DurationVar(&opts.Timeout, "timeout", 0, "deadline of each scenario run, 0 for none")
	f.IntVarP(&opts.Parallel, "parallel", "p", 1, "number of scenarios to run at once")
	f.BoolVar(&opts.NoStore, "no-store", false, "do not save reports in the report store")
	f.StringVar(&opts.MonitorAddr, "monitor-addr", "", "serve the live monitor on this address, e.g. localhost:8090")
	f.StringVar(&opts.JWKSFile, "jwks-file", "", "JWKS file used to verify monitor tokens")
	f.StringVar(&opts.JWKSURL, "jwks-url", "", "JWKS URL used to verify monitor tokens")
	f.StringVar(&opts.TraceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	return cmd
}

// selectScenarios resolves names against the loaded files first, then the
// builtin scenarios.
func selectScenarios(names, files []string) ([]harness.Scenario, error) {
	var loaded []harness.Scenario
	for _, f := range files {
		sc, err := scenario.Load(f)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, sc)
	}
	var out []harness.Scenario
	switch {
	case len(names) > 0:
	next:
		for _, name := range names {
			for _, sc := range loaded {
				if sc.Name == name {
					out = append(out, sc)
					continue next
				}
			}
			sc, ok := scenario.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown scenario %q", name)
			}
			out = append(out, sc)
		}
	case len(loaded) > 0:
		out = loaded
	default:
		out = scenario.Builtin()
	}
	// Runs of the same scenario would share an artifact directory.
	seen := make(map[string]bool)
	for _, sc := range out {
		if seen[sc.Slug()] {
			return nil, fmt.Errorf("scenario %q selected twice", sc.Name)
		}
		seen[sc.Slug()] = true
	}
	return out, nil
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, args []string) error {
	scenarios, err := selectScenarios(args, opts.Files)
	if err != nil {
		return err
	}
	width, height, err := browser.ParseViewport(opts.Viewport)
	if err != nil {
		return err
	}
	if opts.Parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(opts.TraceFile, rootOpts.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Printf("Failed to flush traces: %v", err)
		}
	}()

	var store *reportstore.Store
	if !opts.NoStore {
		if store, err = rootOpts.openStore(); err != nil {
			return err
		}
	}

	var observers harness.Observers
	if opts.MonitorAddr != "" {
		mon, err := monitor.New(monitor.Options{
			Addr:     opts.MonitorAddr,
			JWKSFile: opts.JWKSFile,
			JWKSURL:  opts.JWKSURL,
			Debug:    rootOpts.Debug,
		})
		if err != nil {
			return err
		}
		defer mon.Close()
		monCtx, cancel := context.WithCancel(context.Background())
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := mon.ListenAndServe(monCtx); err != nil {
				log.Printf("Monitor stopped: %v", err)
			}
		}()
		defer func() {
			cancel()
			<-served
		}()
		observers = append(observers, mon)
	}

	opener := rootOpts.opener
	if opener == nil {
		opener = browser.NewLauncher(browser.Options{
			ChromeURL: opts.ChromeURL,
			ExecPath:  opts.ExecPath,
			Width:     width,
			Height:    height,
			Headful:   opts.Headful,
			Debug:     rootOpts.Debug,
		})
	}
	runner := &harness.Runner{
		Opener:          opener,
		BaseURL:         opts.BaseURL,
		OutputDir:       opts.OutputDir,
		ScenarioTimeout: opts.Timeout,
		Observer:        observers,
		Logf:            log.Printf,
		Debug:           rootOpts.Debug,
	}

	reports := make([]*harness.Report, len(scenarios))
	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, sc := range scenarios {
		g.Go(func() error {
			reports[i] = runner.Run(ctx, sc)
			return nil
		})
	}
	g.Wait()

	r := render.New(cmd.OutOrStdout())
	for _, rep := range reports {
		fmt.Fprintln(cmd.OutOrStdout(), r.Report(rep))
		if store == nil {
			continue
		}
		if _, err := store.Save(rep); err != nil {
			log.Printf("Failed to save report %s: %v", rep.ID(), err)
		} else if rootOpts.Debug {
			log.Printf("Saved report %s", rep.ID())
		}
	}
	if code := outcomeCode(reports); code != ExitPassed {
		return &ExitError{Code: code}
	}
	return nil
}

// outcomeCode is the exit code for a set of runs: aborted outranks failed.
func outcomeCode(reports []*harness.Report) int {
	code := ExitPassed
	for _, rep := range reports {
		switch rep.Outcome() {
		case harness.Aborted:
			return ExitAborted
		case harness.Failed:
			code = ExitFailed
		}
	}
	return code
}
