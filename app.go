package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/config"
	"github.com/chazu/cagebake/pkg/engine"
	"github.com/chazu/cagebake/pkg/kernel"
	"github.com/chazu/cagebake/pkg/kernel/manifold"
	"github.com/chazu/cagebake/pkg/kernel/sdfx"
	"github.com/chazu/cagebake/pkg/meshio"
	"github.com/chazu/cagebake/pkg/plan"
	"github.com/chazu/cagebake/pkg/runner"
)

// App ties the script engine to the job runner.
type App struct {
	engine *engine.Engine
	runner *runner.Runner
}

// Diagnostic is a script or plan error with its source position, if known.
type Diagnostic struct {
	Line    int
	Col     int
	Message string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Message)
	}
	return d.Message
}

// EvalResult is the plan produced by a script, or the reasons there is none.
type EvalResult struct {
	Plan   *plan.Plan
	Errors []Diagnostic
}

// NewApp creates an App using the kernel named by cfg. A nil cfg uses
// config.Default; a nil logger discards progress lines.
func NewApp(cfg *config.File, logger *log.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	k, err := newKernel(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	return &App{
		engine: engine.NewEngine(k),
		runner: &runner.Runner{
			Kernel:       k,
			Config:       cfg.Cage,
			Concurrency:  cfg.Runner.Concurrency,
			Timeout:      cfg.Runner.Timeout,
			Dir:          cfg.Runner.Dir,
			SkipExisting: cfg.Runner.SkipExisting,
			Logger:       logger,
		},
	}, nil
}

func newKernel(name string) (kernel.Kernel, error) {
	switch name {
	case config.KernelSdfx, "":
		return sdfx.New(), nil
	case config.KernelManifold:
		return manifold.New()
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

// Evaluate turns script source into a validated plan.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{Errors: []Diagnostic{}}

	// Step 1: Evaluate the Lisp source into a plan.
	p, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		log.Printf("Evaluate fatal error: %v", err)
		result.Errors = append(result.Errors, Diagnostic{Message: err.Error()})
		return result
	}

	// Step 2: Convert eval errors to diagnostics.
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, Diagnostic{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}

	// Step 3: Check the jobs against the run configuration.
	if verrs := plan.Validate(p, a.runner.Config); len(verrs) > 0 {
		for _, e := range verrs {
			result.Errors = append(result.Errors, Diagnostic{Message: e.Error()})
		}
		return result
	}

	result.Plan = p
	return result
}

// Run evaluates source and runs the resulting plan. Jobs are not run when
// the script has errors.
func (a *App) Run(ctx context.Context, source string) (EvalResult, []runner.JobResult) {
	ev := a.Evaluate(source)
	if ev.Plan == nil {
		return ev, nil
	}
	return ev, a.RunPlan(ctx, ev.Plan)
}

// RunPlan runs an already built plan.
func (a *App) RunPlan(ctx context.Context, p *plan.Plan) []runner.JobResult {
	return a.runner.Run(ctx, p)
}

// SingleJob builds a one-job plan from mesh paths. An empty out writes
// next to base as "<base>_cage.obj".
func SingleJob(reference, base, out string) (*plan.Plan, error) {
	if reference == "" || base == "" {
		return nil, fmt.Errorf("both a reference and a base mesh are required")
	}
	name := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if out == "" {
		out = filepath.Join(filepath.Dir(base), name+"_cage.obj")
	}
	p := plan.New()
	err := p.AddJob(&plan.Job{
		Name:      name,
		Reference: plan.FileSource(reference),
		Base:      plan.FileSource(base),
		Out:       out,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Check reports whether the OBJ mesh at path intersects itself.
func (a *App) Check(path string) (bool, error) {
	m, err := meshio.LoadOBJ(path)
	if err != nil {
		return false, err
	}
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return cage.SelfIntersects(m), nil
}
