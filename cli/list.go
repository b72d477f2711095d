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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/scenario"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builtin scenarios and those in --file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := scenario.Builtin()
			source := make([]string, len(scenarios))
			for i := range source {
				source[i] = "builtin"
			}
			for _, f := range files {
				sc, err := scenario.Load(f)
				if err != nil {
					return err
				}
				scenarios = append(scenarios, sc)
				source = append(source, f)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTEPS\tCRITICAL\tSOURCE\tDESCRIPTION")
			for i, sc := range scenarios {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", sc.Name, len(sc.Steps), critical(sc), source[i], sc.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "YAML scenario file (repeatable)")
	return cmd
}

func critical(sc harness.Scenario) int {
	n := 0
	for _, s := range sc.Normalized().Steps {
		if s.IsCritical() {
			n++
		}
	}
	return n
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check YAML scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bad := 0
			for _, f := range args {
				sc, err := scenario.Load(f)
				if err != nil {
					bad++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %v\n", err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %s (%d steps)\n", f, sc.Name, len(sc.Steps))
			}
			if bad > 0 {
				return &ExitError{Code: ExitFailed}
			}
			return nil
		},
	}
}
