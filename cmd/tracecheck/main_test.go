package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trace.report/internal/api"
	"github.com/banshee-data/trace.report/internal/config"
	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/monitoring"
	"github.com/banshee-data/trace.report/internal/testutil"
)

func writeRecording(t *testing.T, dir, name string, f testutil.RecordingFixture) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, f.JSON(), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	prev := monitoring.SetLogger(nil)
	defer monitoring.SetLogger(prev)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_MixedVerdicts(t *testing.T) {
	dir := t.TempDir()
	healthy := writeRecording(t, dir, "healthy.json", testutil.HealthyRecording(130))
	broken := writeRecording(t, dir, "broken.json", testutil.HealthyRecording(130).Without("gx"))

	code, out, _ := runCLI(t, healthy, broken)
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, out, "== "+healthy+" ==")
	assert.Contains(t, out, "0 error(s), 0 warning(s): accepted")
	assert.Contains(t, out, "ERROR   required data trace gx missing")
	assert.Contains(t, out, "rejected due to the errors above")
	assert.Less(t, strings.Index(out, healthy), strings.Index(out, broken), "results keep argument order")
}

func TestRun_AllAcceptedQuiet(t *testing.T) {
	dir := t.TempDir()
	a := writeRecording(t, dir, "a.json", testutil.HealthyRecording(130))
	b := writeRecording(t, dir, "b.json", testutil.HealthyRecording(200))

	code, out, _ := runCLI(t, "-quiet", a, b)
	assert.Equal(t, exitOK, code)
	assert.Equal(t,
		a+": accept (0 errors, 0 warnings)\n"+b+": accept (0 errors, 0 warnings)\n",
		out)
}

func TestRun_JSONKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "check.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"max_duration_s": 140}`), 0o644))

	var paths []string
	for i, d := range []float64{130, 60, 135, 150} {
		name := "rec_" + strings.Repeat("x", i+1) + ".json"
		paths = append(paths, writeRecording(t, dir, name, testutil.HealthyRecording(d)))
	}

	code, out, _ := runCLI(t, append([]string{"-json", "-workers", "3", "-config", cfgPath}, paths...)...)
	assert.Equal(t, exitRejected, code)

	var results []result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
	}
	assert.Equal(t, integrity.Accept, results[0].Report.Verdict.Overall)
	assert.Equal(t, integrity.ReasonTooShort, results[1].Report.Verdict.Findings[0].Reason)
	assert.Equal(t, integrity.Accept, results[2].Report.Verdict.Overall)
	assert.Equal(t, integrity.ReasonTooLong, results[3].Report.Verdict.Findings[0].Reason)
}

func TestRun_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.json")
	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{"labels": {}, "data": [{"ax": 1}]}`), 0o644))

	code, out, _ := runCLI(t, "-quiet", missing, garbage)
	assert.Equal(t, exitRejected, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], missing+": error:")
	assert.Contains(t, lines[1], "no numeric timestamp")
}

func TestRun_StoresReports(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "reports.db")
	a := writeRecording(t, dir, "a.json", testutil.HealthyRecording(130))
	b := writeRecording(t, dir, "b.json", testutil.HealthyRecording(130).Without("ax"))

	code, out, _ := runCLI(t, "-db", dbPath, a, b)
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, out, "report ")

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	reports, err := db.NewReportStore(database).List(0)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	sources := []string{reports[0].Source, reports[1].Source}
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, sources)
}

func TestRun_PlotsAndWindows(t *testing.T) {
	dir := t.TempDir()
	plotDir := filepath.Join(dir, "plots")
	rec := writeRecording(t, dir, "walk 01.json", testutil.HealthyRecording(130))

	code, out, _ := runCLI(t, "-json", "-windows", "-plots", plotDir, rec)
	assert.Equal(t, exitOK, code)

	var results []result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Windows)
	assert.Empty(t, results[0].Warnings)

	// ax, gx, mx and phone_ax groups plus GPS, then the HTML chart.
	require.Len(t, results[0].Plots, 6)
	for _, p := range results[0].Plots {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size())
		assert.Equal(t, plotDir, filepath.Dir(p))
	}
	assert.Equal(t, ".html", filepath.Ext(results[0].Plots[5]))
}

func TestRun_RemoteServer(t *testing.T) {
	v, err := config.EmptyCheckConfig().NewValidator()
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(v, nil, nil).ServeMux())
	defer ts.Close()

	dir := t.TempDir()
	rec := writeRecording(t, dir, "remote.json", testutil.HealthyRecording(130))

	code, out, _ := runCLI(t, "-quiet", "-server", ts.URL, rec)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, rec+": accept (0 errors, 0 warnings)\n", out)

	code, out, _ = runCLI(t, "-quiet", "-server", ts.URL, filepath.Join(dir, "absent.json"))
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, out, "error:")
}

func TestRun_Migrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reports.db")

	code, out, _ := runCLI(t, "-db", dbPath, "migrate", "up")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "All migrations applied")

	code, out, _ = runCLI(t, "-db", dbPath, "migrate", "status")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Current version: 2")

	code, _, errOut := runCLI(t, "-db", dbPath, "migrate", "sideways")
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, errOut, "unknown migrate action")

	code, _, errOut = runCLI(t, "migrate", "up")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "migrate needs -db")
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no recordings", nil, exitUsage, "no recordings given"},
		{"unknown flag", []string{"-frobnicate"}, exitUsage, "flag provided but not defined"},
		{"server with db", []string{"-server", "http://x", "-db", "r.db", "a.json"}, exitUsage, "cannot be combined"},
		{"bad config", []string{"-config", "missing.json", "a.json"}, exitUsage, "missing.json"},
		{"help", []string{"-h"}, exitOK, "Usage: tracecheck"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	assert.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(out, "tracecheck dev ("))
}

func TestCheckAll_Cancelled(t *testing.T) {
	c, err := newChecker(Config{Workers: 1})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CheckAll(ctx, []string{"a.json", "b.json"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags([]string{"a.json"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Workers)
	assert.False(t, cfg.JSON)
	assert.Equal(t, []string{"a.json"}, cfg.Args)
}
