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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/render"
	"github.com/ttbt-io/sceneverify/reportstore"
)

// NewReportsCommand creates the reports command.
func NewReportsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reports [QUERY]",
		Short: "List stored reports, newest first",
		Long: `List stored reports matching a search query, newest first.

Keys: id, scenario, outcome, is (an outcome or "forced"), step (a failing
step), started (RFC 3339) and elapsed (a duration). Values take the
operators >, <, >= and <=, or a range a..b. Other words match the scenario,
the abort reason or the failing steps.

  sceneverify reports scenario:zones is:failed started:>=2026-10-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			metas, err := store.Find(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Reports(metas))
			return nil
		},
	}
}

// resolve loads a report by id or unique id prefix.
func resolve(store *reportstore.Store, id string) (*harness.Report, error) {
	rep, err := store.Load(id)
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	metas, err := store.Find("id:" + id)
	if err != nil {
		return nil, err
	}
	switch len(metas) {
	case 0:
		return nil, fmt.Errorf("no report %q", id)
	case 1:
		return store.Load(metas[0].ID)
	}
	return nil, fmt.Errorf("report id %q is ambiguous (%d matches)", id, len(metas))
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			rep, err := resolve(store, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Report(rep))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff ID [ID]",
		Short: "Compare two runs",
		Long: `Print a unified diff of how two runs behaved. Timings are ignored.

With one ID, the run is compared with the previous run of the same scenario.
The exit status is 1 when the runs differ.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			b, err := resolve(store, args[len(args)-1])
			if err != nil {
				return err
			}
			var a *harness.Report
			if len(args) == 2 {
				if a, err = resolve(store, args[0]); err != nil {
					return err
				}
			} else {
				prev, ok, err := store.Previous(b.Scenario(), b.StartedAt())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no run of %q before %s", b.Scenario(), b.ID())
				}
				if a, err = store.Load(prev.ID); err != nil {
					return err
				}
			}
			diff := harness.Diff(a, b)
			if diff == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s and %s behaved the same\n", a.ID(), b.ID())
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), diff)
			return &ExitError{Code: ExitFailed}
		},
	}
}
