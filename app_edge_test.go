package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/config"
	"github.com/chazu/cagebake/pkg/kernel/manifold"
	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/meshio"
	"github.com/chazu/cagebake/pkg/plan"
	"github.com/chazu/cagebake/pkg/runner"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// crossedMesh is two triangles passing through each other.
func crossedMesh() *mesh.Mesh {
	return &mesh.Mesh{
		Vertices: []v3.Vec{
			{X: -1, Y: -1, Z: 0}, {X: 1, Y: -1, Z: 0}, {X: 0, Y: 1, Z: 0},
			{X: 0, Y: -0.5, Z: -1}, {X: 0, Y: -0.5, Z: 1}, {X: 0, Y: 0.5, Z: 0.2},
		},
		Faces: []mesh.Face{{0, 1, 2}, {3, 4, 5}},
	}
}

func writeOBJ(t *testing.T, dir, name string, m *mesh.Mesh) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := meshio.SaveOBJ(path, m, strings.TrimSuffix(name, ".obj")); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Script errors
// ---------------------------------------------------------------------------

func TestE2ESyntaxErrorWithLineInfo(t *testing.T) {
	app, _ := testApp(t)

	// Put valid code on line 1, broken code on line 2 so line info is meaningful.
	ev := app.Evaluate("(+ 1 2)\n(defcage \"test\"")
	if len(ev.Errors) == 0 {
		t.Fatal("expected at least one eval error for unmatched parens")
	}
	e := ev.Errors[0]
	if e.Message == "" {
		t.Error("syntax error should have a non-empty message")
	}
	t.Logf("syntax error: line=%d, col=%d, message=%q", e.Line, e.Col, e.Message)
}

func TestE2EValidationBlocksRun(t *testing.T) {
	app, dir := testApp(t)

	// Both jobs write the same file.
	source := `
(defcage "a" :reference "r.obj" :base (icosphere :radius 1) :out "same.obj")
(defcage "b" :reference "r.obj" :base (icosphere :radius 1) :out "same.obj")
`
	ev, results := app.Run(context.Background(), source)
	if ev.Plan != nil {
		t.Error("expected no plan for an invalid script")
	}
	if results != nil {
		t.Errorf("expected no jobs to run, got %d results", len(results))
	}
	if len(ev.Errors) != 1 || !strings.Contains(ev.Errors[0].Message, "more than one job") {
		t.Errorf("errors = %v", ev.Errors)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("invalid plan wrote %d files", len(entries))
	}
}

func TestE2ECommentsOnly(t *testing.T) {
	app, _ := testApp(t)
	ev := app.Evaluate(";; a comment\n; another one\n\n")
	if len(ev.Errors) != 0 {
		t.Errorf("expected 0 errors for comment-only source, got %v", ev.Errors)
	}
	if ev.Plan == nil || ev.Plan.Len() != 0 {
		t.Errorf("expected an empty plan, got %v", ev.Plan)
	}
}

func TestE2ERapidEvaluationAlternating(t *testing.T) {
	// Alternates between valid and invalid sources.
	// Ensures the engine recovers cleanly between error and success states.
	app, _ := testApp(t)

	sources := []struct {
		src  string
		jobs int
		ok   bool
	}{
		{`(defcage "ok" :reference "a.obj" :base "b.obj")`, 1, true},
		{`(defcage "broken"`, 0, false},
		{``, 0, true},
		{`(defcage "x" :reference "a.obj")`, 0, false},
		{`(defcage "p" :reference (sphere :radius 1) :base (icosphere :radius 2))`, 1, true},
		{`;; just a comment`, 0, true},
		{`(undefined-func 1 2 3)`, 0, false},
		{`(defcage "m" :reference "a.obj" :base "b.obj" :padding -1)`, 0, false},
	}

	for i, tt := range sources {
		ev := app.Evaluate(tt.src)
		if ok := len(ev.Errors) == 0; ok != tt.ok {
			t.Errorf("source %d %q: errors = %v, want ok=%v", i, tt.src, ev.Errors, tt.ok)
			continue
		}
		if tt.ok && ev.Plan.Len() != tt.jobs {
			t.Errorf("source %d: %d jobs, want %d", i, ev.Plan.Len(), tt.jobs)
		}
	}
}

// ---------------------------------------------------------------------------
// Exit codes and reporting
// ---------------------------------------------------------------------------

func TestE2ESelfIntersectingBase(t *testing.T) {
	app, dir := testApp(t)
	ref := writeOBJ(t, dir, "ref.obj", mesh.Icosphere(0.5, 1))
	base := writeOBJ(t, dir, "crossed.obj", crossedMesh())

	p, err := SingleJob(ref, base, "")
	if err != nil {
		t.Fatal(err)
	}
	results := app.RunPlan(context.Background(), p)
	if !errors.Is(results[0].Err, cage.ErrPreconditionSelfIntersecting) {
		t.Fatalf("err = %v, want precondition failure", results[0].Err)
	}
	if got := exitCode(results); got != exitSelfIntersection {
		t.Errorf("exitCode() = %d, want %d", got, exitSelfIntersection)
	}
	if line := summaryLine(results[0]); !strings.Contains(line, "failed@precondition-check") {
		t.Errorf("summary = %q", line)
	}
	if _, err := os.Stat(filepath.Join(dir, "crossed_cage.obj")); !os.IsNotExist(err) {
		t.Errorf("a failed job wrote its cage: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	job := &plan.Job{Name: "j"}
	tests := []struct {
		name string
		errs []error
		want int
	}{
		{"all ok", []error{nil, nil}, 0},
		{"load failure", []error{nil, os.ErrNotExist}, exitFailure},
		{"timeout", []error{runner.ErrTimeout}, exitFailure},
		{"inflation", []error{os.ErrNotExist, &cage.Error{State: cage.StatePostInflationCheck, Err: cage.ErrInflationSelfIntersecting}}, exitSelfIntersection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []runner.JobResult
			for _, err := range tt.errs {
				results = append(results, runner.JobResult{Job: job, Err: err})
			}
			if got := exitCode(results); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	ok := runner.JobResult{
		Job:     &plan.Job{Name: "rock"},
		Result:  &cage.Result{Report: cage.Report{Resolution: cage.ResolveReport{Iterations: 3, Residual: 0}}},
		Out:     "rock_cage.obj",
		Elapsed: 1500 * time.Millisecond,
	}
	slow := runner.JobResult{Job: &plan.Job{Name: "cliff"}, Err: runner.ErrTimeout}
	skipped := runner.JobResult{Job: &plan.Job{Name: "crate"}, Skipped: true, Out: "crate_cage.obj"}
	results := []runner.JobResult{ok, slow, skipped}

	var plain bytes.Buffer
	printSummary(&plain, results, false)
	lines := strings.Split(strings.TrimSpace(plain.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("plain summary has %d lines, want 3:\n%s", len(lines), plain.String())
	}
	if lines[2] != "crate\tskipped\t-\t-\t0s\tcrate_cage.obj" {
		t.Errorf("line 2 = %q", lines[2])
	}
	if lines[0] != "rock\tok\t3\t0\t1.5s\trock_cage.obj" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "cliff\ttimeout\t") {
		t.Errorf("line 1 = %q", lines[1])
	}

	var table bytes.Buffer
	printSummary(&table, results, true)
	if !strings.HasPrefix(table.String(), "JOB") || strings.Contains(table.String(), "\t") {
		t.Errorf("table summary:\n%s", table.String())
	}
}

// ---------------------------------------------------------------------------
// Self-intersection check
// ---------------------------------------------------------------------------

func TestCheckMeshes(t *testing.T) {
	app, dir := testApp(t)
	good := writeOBJ(t, dir, "good.obj", mesh.Icosphere(1, 2))
	bad := writeOBJ(t, dir, "bad.obj", crossedMesh())

	if hit, err := app.Check(good); err != nil || hit {
		t.Errorf("Check(good) = %v, %v", hit, err)
	}
	if hit, err := app.Check(bad); err != nil || !hit {
		t.Errorf("Check(bad) = %v, %v", hit, err)
	}

	tests := []struct {
		name  string
		paths []string
		want  int
	}{
		{"none", nil, exitFailure},
		{"good", []string{good}, 0},
		{"bad wins over missing", []string{filepath.Join(dir, "missing.obj"), bad, good}, exitSelfIntersection},
		{"missing", []string{filepath.Join(dir, "missing.obj")}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkMeshes(app, tt.paths); got != tt.want {
				t.Errorf("checkMeshes() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Flags and configuration
// ---------------------------------------------------------------------------

func parseFlags(t *testing.T, args ...string) *cliFlags {
	t.Helper()
	fs := flag.NewFlagSet("cagebake", flag.ContinueOnError)
	c := newFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSettingsDefaults(t *testing.T) {
	f, err := parseFlags(t).settings()
	if err != nil {
		t.Fatal(err)
	}
	if f.Cage.Padding != cage.DefaultPadding || f.Cage.Stall != cage.StallOnCount || f.Cage.Index != cage.IndexBVH {
		t.Errorf("cage = %+v, want defaults", f.Cage)
	}
}

func TestSettingsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cagebake.yaml")
	yaml := "cage:\n  padding: 0.01\n  stall: pairs\n  max_iterations: 7\nrunner:\n  concurrency: 2\n  timeout: 1m\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := parseFlags(t, "-config", path, "-padding", "0.5", "-index", "rtree", "-timeout", "3s").settings()
	if err != nil {
		t.Fatal(err)
	}
	if f.Cage.Padding != 0.5 {
		t.Errorf("padding = %g, want the flag value 0.5", f.Cage.Padding)
	}
	if f.Cage.Stall != cage.StallOnPairs || f.Cage.MaxIterations != 7 {
		t.Errorf("stall = %s, max iterations = %d, want the file values", f.Cage.Stall, f.Cage.MaxIterations)
	}
	if f.Cage.Index != cage.IndexRTree {
		t.Errorf("index = %s, want rtree", f.Cage.Index)
	}
	if f.Runner.Concurrency != 2 || f.Runner.Timeout != 3*time.Second {
		t.Errorf("runner = %+v", f.Runner)
	}
}

func TestSettingsZeroPaddingMeansDefault(t *testing.T) {
	c := parseFlags(t, "-padding", "0")
	f, err := c.settings()
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Cage.WithDefaults().Padding; got != cage.DefaultPadding {
		t.Errorf("padding 0 builds with %g, want %g", got, cage.DefaultPadding)
	}
	if usage := c.fs.Lookup("padding").Usage; !strings.Contains(usage, "0 means the default") {
		t.Errorf("padding usage = %q, want it to say 0 means the default", usage)
	}
}

func TestSettingsSkipExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cagebake.yaml")
	if err := os.WriteFile(path, []byte("runner:\n  skip_existing: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := parseFlags(t, "-config", path).settings()
	if err != nil {
		t.Fatal(err)
	}
	if !f.Runner.SkipExisting {
		t.Error("skip_existing from the file was not applied")
	}
	if f, err = parseFlags(t, "-config", path, "-skip-existing=false").settings(); err != nil {
		t.Fatal(err)
	}
	if f.Runner.SkipExisting {
		t.Error("-skip-existing=false did not override the file")
	}

	app, err := NewApp(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if app.runner.SkipExisting {
		t.Error("NewApp did not carry skip_existing to the runner")
	}
}

func TestNewAppKernel(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel = config.KernelManifold
	if _, err := NewApp(cfg, nil); err != nil && !errors.Is(err, manifold.ErrUnavailable) {
		t.Errorf("NewApp(manifold) error = %v", err)
	}

	cfg.Kernel = "cgal"
	if _, err := NewApp(cfg, nil); err == nil {
		t.Error("NewApp(cgal) succeeded")
	}
}

func TestSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad stall", []string{"-stall", "never"}},
		{"bad index", []string{"-index", "kd"}},
		{"bad kernel", []string{"-kernel", "cgal"}},
		{"negative padding", []string{"-padding", "-1"}},
		{"zero workers", []string{"-conc", "0"}},
		{"missing config", []string{"-config", "/nonexistent/cagebake.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(t, tt.args...).settings(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
