// Package runner executes a plan: it resolves each job's reference and
// base meshes, builds the cage and writes it out. Jobs run concurrently
// and independently; a failing or timed-out job does not stop the others.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/kernel"
	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/meshio"
	"github.com/chazu/cagebake/pkg/plan"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ErrTimeout is reported for a job that exceeded Runner.Timeout.
var ErrTimeout = errors.New("job timed out")

// Runner runs cage jobs.
type Runner struct {
	// Kernel tessellates procedural sources. It may be nil when a plan only
	// names files and icospheres.
	Kernel kernel.Kernel

	// Config is the construction configuration job overrides apply to.
	Config cage.Config

	// Concurrency is the number of jobs run at once. Zero means one per CPU.
	Concurrency int

	// Timeout bounds each job. Zero means no limit.
	Timeout time.Duration

	// Dir resolves relative input and output paths.
	Dir string

	// DryRun builds cages without writing them.
	DryRun bool

	// SkipExisting leaves a job alone when its output file already exists.
	SkipExisting bool

	// Logger receives per-job progress lines; nil discards them.
	Logger *log.Logger
}

// JobResult is the outcome of one job.
type JobResult struct {
	Job     *plan.Job
	RunID   uuid.UUID
	Result  *cage.Result // nil when Err is set or the job was skipped
	Out     string       // written or existing path, empty on failure or dry run
	Skipped bool         // Out already existed and SkipExisting was set
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the job produced no cage.
func (r JobResult) Failed() bool {
	return r.Err != nil
}

// Run executes every job in p and returns one result per job, in plan
// order. Jobs not yet started when ctx is cancelled fail with ctx's error.
//
// A job that times out, or is still running when ctx is cancelled, fails
// with ErrTimeout or ctx's error and its cage is never written. It keeps
// its concurrency slot until its build notices the cancellation.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) []JobResult {
	results := make([]JobResult, len(p.Jobs))

	limit := r.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range p.Jobs {
		results[i] = JobResult{Job: job, RunID: uuid.New()}
		g.Go(func() error {
			res := &results[i]
			if err := ctx.Err(); err != nil {
				res.Err = err
				return nil
			}

			out := r.path(job.OutPath())
			if r.SkipExisting && exists(out) {
				res.Skipped, res.Out = true, out
				r.logf("%s: skipped, %s already exists", tag(job, res.RunID), out)
				return nil
			}

			start := time.Now()
			result, done, err := r.runWithTimeout(ctx, job, res.RunID)
			if err == nil && !r.DryRun {
				if err = meshio.SaveOBJ(out, result.Cage, job.Name+"_cage"); err != nil {
					err = fmt.Errorf("writing cage: %w", err)
				} else {
					res.Out = out
				}
			}
			if err == nil {
				res.Result = result
			}
			res.Err = err
			res.Elapsed = time.Since(start)

			if res.Err != nil {
				r.logf("%s: failed after %s: %v", tag(job, res.RunID), res.Elapsed.Round(time.Millisecond), res.Err)
			} else {
				r.logf("%s: done in %s", tag(job, res.RunID), res.Elapsed.Round(time.Millisecond))
			}
			<-done
			return nil
		})
	}
	g.Wait()
	return results
}

type jobOutcome struct {
	result *cage.Result
	err    error
}

// runWithTimeout builds the job on its own goroutine and stops waiting when
// the timeout fires or ctx is done. The build is then cancelled; done is
// closed once its goroutine has returned.
func (r *Runner) runWithTimeout(ctx context.Context, job *plan.Job, id uuid.UUID) (*cage.Result, <-chan struct{}, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	ch := make(chan jobOutcome, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				ch <- jobOutcome{err: fmt.Errorf("panic during job: %v", rec)}
			}
		}()
		res, err := r.runJob(jobCtx, job, id)
		ch <- jobOutcome{result: res, err: err}
	}()

	var expired <-chan time.Time
	if r.Timeout > 0 {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-ch:
		return o.result, done, o.err
	case <-expired:
		cancel()
		return nil, done, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	case <-ctx.Done():
		cancel()
		return nil, done, ctx.Err()
	}
}

func (r *Runner) runJob(ctx context.Context, job *plan.Job, id uuid.UUID) (*cage.Result, error) {
	for _, in := range []struct {
		role string
		src  plan.Source
	}{{"reference", job.Reference}, {"base", job.Base}} {
		if in.src.Kind != plan.SourceFile {
			continue
		}
		if _, err := os.Stat(r.path(in.src.Path)); err != nil {
			return nil, fmt.Errorf("%s: %w", in.role, err)
		}
	}

	reference, err := r.Load(job.Reference)
	if err != nil {
		return nil, fmt.Errorf("loading reference: %w", err)
	}
	base, err := r.Load(job.Base)
	if err != nil {
		return nil, fmt.Errorf("loading base: %w", err)
	}

	cfg := job.Overrides.Apply(r.Config)
	if r.Logger != nil {
		cfg.Logger = log.New(r.Logger.Writer(), r.Logger.Prefix()+tag(job, id)+": ", r.Logger.Flags())
	}
	r.logf("%s: reference %d tris, base %d tris", tag(job, id), reference.TriangleCount(), base.TriangleCount())

	res, err := cage.BuildContext(ctx, reference, base, cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Report.Warnings {
		r.logf("%s: warning: %s", tag(job, id), w)
	}
	return res, nil
}

// Load resolves a job source into a mesh.
func (r *Runner) Load(src plan.Source) (*mesh.Mesh, error) {
	switch src.Kind {
	case plan.SourceFile:
		return meshio.LoadOBJ(r.path(src.Path))
	case plan.SourceSolid:
		if r.Kernel == nil {
			return nil, fmt.Errorf("%s: no geometry kernel configured", src)
		}
		m, err := r.Kernel.ToMesh(src.Solid, src.Cells)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		return m, nil
	case plan.SourceIcosphere:
		if src.Radius <= 0 || src.Subdivisions < 0 {
			return nil, fmt.Errorf("%s: invalid icosphere", src)
		}
		return mesh.Icosphere(src.Radius, src.Subdivisions), nil
	}
	return nil, fmt.Errorf("unsupported source %s", src.Kind)
}

func (r *Runner) path(p string) string {
	if r.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.Dir, p)
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func tag(job *plan.Job, id uuid.UUID) string {
	return fmt.Sprintf("%s[%s]", job.Name, id.String()[:8])
}

// Failed returns the results of jobs that produced no cage.
func Failed(results []JobResult) []JobResult {
	return lo.Filter(results, func(r JobResult, _ int) bool { return r.Failed() })
}

// Stalled returns the results whose resolver stopped with overlaps left.
func Stalled(results []JobResult) []JobResult {
	return lo.Filter(results, func(r JobResult, _ int) bool {
		return r.Result != nil && r.Result.Report.Stalled()
	})
}

// Err joins the errors of every failed job, each prefixed with its job
// name. It returns nil when all jobs succeeded.
func Err(results []JobResult) error {
	errs := lo.Map(Failed(results), func(r JobResult, _ int) error {
		return fmt.Errorf("job %q: %w", r.Job.Name, r.Err)
	})
	return errors.Join(errs...)
}
