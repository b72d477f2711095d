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

// Package cli implements the sceneverify command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/reportstore"
)

// Exit codes.
const (
	ExitPassed  = 0
	ExitFailed  = 1
	ExitAborted = 2
)

// MasterKeyEnv holds the passphrase of the report store master key.
const MasterKeyEnv = "SV_MASTER_KEY"

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir string
	Debug   bool
	Version string

	// opener replaces the browser launcher in tests.
	opener harness.Opener
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "sceneverify",
		Short:         "Verify the UI states of a web scene in a headless browser",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "data", "directory of the report store")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReportsCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stderr io.Writer) int {
	cmd := NewRootCommand(version)
	cmd.SetArgs(args)
	return exitCode(cmd.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitPassed
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitAborted
}

func (o *RootOptions) openStore() (*reportstore.Store, error) {
	mk, err := reportstore.OpenMasterKey(o.DataDir, os.Getenv(MasterKeyEnv))
	if err != nil {
		return nil, err
	}
	s, err := reportstore.New(o.DataDir, mk)
	if err != nil {
		return nil, err
	}
	s.Debug = o.Debug
	return s, nil
}
