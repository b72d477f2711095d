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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/harness/fakesession"
	"github.com/ttbt-io/sceneverify/scenario"
)

const page = `<html><body>
<button id="start-btn">Start</button>
<div id="ui">HUD</div>
</body></html>`

func testOptions(t *testing.T, working bool) *RootOptions {
	t.Helper()
	t.Setenv(MasterKeyEnv, "")
	return &RootOptions{
		DataDir: t.TempDir(),
		Version: "test",
		opener: fakesession.Opener(func() *fakesession.Session {
			s := fakesession.New(page)
			if working {
				s.OnClick("#start-btn", 0, fakesession.AddClass("#ui", "visible"))
			}
			return s
		}),
	}
}

func execute(t *testing.T, opts *RootOptions, build func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := build(opts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func runLaunch(t *testing.T, opts *RootOptions, extra ...string) (string, error) {
	t.Helper()
	args := append([]string{"--file", filepath.Join("testdata", "launch.yaml"), "--output-dir", t.TempDir()}, extra...)
	return execute(t, opts, NewRunCommand, args...)
}

func TestSelectScenarios(t *testing.T) {
	file := filepath.Join("testdata", "launch.yaml")

	all, err := selectScenarios(nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	got, err := selectScenarios([]string{"zones", "ui"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zones", got[0].Name)
	assert.Equal(t, "ui", got[1].Name)

	got, err = selectScenarios(nil, []string{file})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "launch", got[0].Name)

	got, err = selectScenarios([]string{"launch", "zones"}, []string{file})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = selectScenarios([]string{"nope"}, nil)
	assert.ErrorContains(t, err, `unknown scenario "nope"`)

	_, err = selectScenarios([]string{"zones", "zones"}, nil)
	assert.ErrorContains(t, err, "selected twice")

	_, err = selectScenarios(nil, []string{"testdata/missing.yaml"})
	assert.Error(t, err)
}

func TestRunStoresReports(t *testing.T) {
	opts := testOptions(t, true)
	out, err := runLaunch(t, opts, "--monitor-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "2/2 steps passed")

	out, err = execute(t, opts, NewReportsCommand)
	require.NoError(t, err)
	assert.Contains(t, out, "launch")
	assert.Contains(t, out, "PASSED")

	out, err = execute(t, opts, NewReportsCommand, "is:failed")
	require.NoError(t, err)
	assert.Equal(t, "no reports\n", out)
}

func TestRunExitCodes(t *testing.T) {
	opts := testOptions(t, false)
	out, err := runLaunch(t, opts, "--no-store")
	var ee *ExitError
	require.True(t, errors.As(err, &ee), "err = %v", err)
	assert.Equal(t, ExitFailed, ee.Code)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "has .visible=false")
	assert.NoDirExists(t, filepath.Join(opts.DataDir, "reports"))

	_, err = runLaunch(t, opts, "--viewport", "big")
	assert.ErrorContains(t, err, "invalid viewport")

	_, err = runLaunch(t, opts, "--parallel", "0")
	assert.ErrorContains(t, err, "--parallel")
}

func TestShowAndDiff(t *testing.T) {
	opts := testOptions(t, true)
	_, err := runLaunch(t, opts)
	require.NoError(t, err)

	store, err := opts.openStore()
	require.NoError(t, err)
	metas, err := store.Find("")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	first := metas[0].ID

	out, err := execute(t, opts, NewShowCommand, first[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "launch")

	out, err = execute(t, opts, NewShowCommand, "--json", first)
	require.NoError(t, err)
	assert.Contains(t, out, `"scenario": "launch"`)

	_, err = execute(t, opts, NewShowCommand, "ffffffff")
	assert.ErrorContains(t, err, "no report")

	_, err = execute(t, opts, NewDiffCommand, first)
	assert.ErrorContains(t, err, "no run of")

	// Same behaviour on a second run.
	_, err = runLaunch(t, opts)
	require.NoError(t, err)
	metas, err = store.Find("")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	second := metas[0].ID

	out, err = execute(t, opts, NewDiffCommand, second)
	require.NoError(t, err)
	assert.Contains(t, out, "behaved the same")

	// A failing third run differs from the second.
	broken := testOptions(t, false)
	broken.DataDir = opts.DataDir
	_, err = runLaunch(t, broken)
	require.Error(t, err)
	metas, err = store.Find("is:failed")
	require.NoError(t, err)
	require.Len(t, metas, 1)

	out, err = execute(t, opts, NewDiffCommand, second, metas[0].ID)
	var ee *ExitError
	require.True(t, errors.As(err, &ee), "err = %v", err)
	assert.Equal(t, ExitFailed, ee.Code)
	assert.Contains(t, out, "-outcome passed")
	assert.Contains(t, out, "+outcome failed")
}

func TestListAndValidate(t *testing.T) {
	opts := testOptions(t, true)
	out, err := execute(t, opts, NewListCommand, "--file", filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)
	for _, want := range []string{"NAME", "zones", "builtin", "launch", "testdata"} {
		assert.Contains(t, out, want)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\nsteps: []\n"), 0644))

	out, err = execute(t, opts, NewValidateCommand, filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok   testdata/launch.yaml: launch (2 steps)")

	out, err = execute(t, opts, NewValidateCommand, filepath.Join("testdata", "launch.yaml"), bad)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitFailed, ee.Code)
	assert.Equal(t, 1, strings.Count(out, "FAIL"))
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, ExitPassed, exitCode(nil, &stderr))
	assert.Equal(t, ExitAborted, exitCode(&ExitError{Code: ExitAborted}, &stderr))
	assert.Empty(t, stderr.String())
	assert.Equal(t, ExitAborted, exitCode(errors.New("boom"), &stderr))
	assert.Equal(t, "Error: boom\n", stderr.String())
}

func TestOutcomeCode(t *testing.T) {
	sc, err := scenario.Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)
	run := func(s *fakesession.Session) *harness.Report {
		r := &harness.Runner{
			Opener:    fakesession.Opener(func() *fakesession.Session { return s }),
			OutputDir: t.TempDir(),
			Logf:      t.Logf,
		}
		return r.Run(context.Background(), sc)
	}
	passed := run(fakesession.New(page).OnClick("#start-btn", 0, fakesession.AddClass("#ui", "visible")))
	failed := run(fakesession.New(page))
	aborted := run(fakesession.New(page).Unreachable(errors.New("connection refused")))
	require.Equal(t, harness.Aborted, aborted.Outcome())

	assert.Equal(t, ExitPassed, outcomeCode(nil))
	assert.Equal(t, ExitPassed, outcomeCode([]*harness.Report{passed}))
	assert.Equal(t, ExitFailed, outcomeCode([]*harness.Report{passed, failed}))
	assert.Equal(t, ExitAborted, outcomeCode([]*harness.Report{aborted, failed}))
	assert.Equal(t, ExitAborted, outcomeCode([]*harness.Report{failed, aborted, passed}))
}
