// Package cage builds a bake cage: a copy of a low-poly base mesh pushed
// outward until it fully encloses a high-poly reference mesh, with the
// same vertex count and face connectivity as the base.
//
// Construction runs as a fixed sequence of steps:
//
//	init -> precondition check -> inflated -> post-inflation check
//	     -> projected -> resolved -> done
//
// Either self-intersection check can abort the sequence with an *Error.
// A resolver stall is reported as a warning on an otherwise successful
// Result.
package cage

import (
	"context"
	"fmt"
	"time"

	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/spatial"
)

// State is a construction step.
type State int

const (
	StateInit State = iota
	StatePreconditionCheck
	StateInflated
	StatePostInflationCheck
	StateProjected
	StateResolved
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePreconditionCheck:
		return "precondition-check"
	case StateInflated:
		return "inflated"
	case StatePostInflationCheck:
		return "post-inflation-check"
	case StateProjected:
		return "projected"
	case StateResolved:
		return "resolved"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WarningKind classifies a Warning.
type WarningKind int

const (
	// WarningStalled means the resolver stopped with overlaps remaining.
	WarningStalled WarningKind = iota
	// WarningVerticesInside means some cage vertices lie inside the
	// reference. Only reported when Config.Verify is set.
	WarningVerticesInside
	// WarningSelfIntersecting means the finished cage overlaps itself.
	// Only reported when Config.Verify is set.
	WarningSelfIntersecting
)

func (k WarningKind) String() string {
	switch k {
	case WarningStalled:
		return "stalled"
	case WarningVerticesInside:
		return "vertices-inside"
	case WarningSelfIntersecting:
		return "self-intersecting"
	}
	return fmt.Sprintf("WarningKind(%d)", int(k))
}

// Warning is a non-fatal problem with the finished cage.
type Warning struct {
	Kind    WarningKind
	Message string
}

func (w Warning) String() string {
	return w.Kind.String() + ": " + w.Message
}

// Report describes a construction run.
type Report struct {
	Projection ProjectStats
	Resolution ResolveReport
	Warnings   []Warning

	// VerticesInside is the number of cage vertices found inside the
	// reference. Only computed when Config.Verify is set.
	VerticesInside int

	Elapsed time.Duration
}

// Stalled reports whether the resolver stopped with overlaps remaining.
func (r Report) Stalled() bool {
	return r.Resolution.Stalled
}

// Result is a finished cage.
type Result struct {
	Cage   *mesh.Mesh
	Report Report
	State  State
}

// Build constructs a cage around reference, starting from a copy of base.
// Neither input is modified. The returned cage has the same vertex count
// and faces as base.
func Build(reference, base *mesh.Mesh, cfg Config) (*Result, error) {
	return BuildContext(context.Background(), reference, base, cfg)
}

// BuildContext is Build with cancellation. ctx is checked between steps
// and between resolver iterations; a cancelled build returns an *Error
// wrapping ctx.Err() at the step it had reached.
func BuildContext(ctx context.Context, reference, base *mesh.Mesh, cfg Config) (*Result, error) {
	start := time.Now()
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &Error{State: StateInit, Err: err}
	}
	if err := checkMesh("base", base); err != nil {
		return nil, &Error{State: StateInit, Err: err}
	}
	if err := checkMesh("reference", reference); err != nil {
		return nil, &Error{State: StateInit, Err: err}
	}
	build := cfg.builder()

	cfg.logf("cage: %s: base %d verts %d faces, reference %d faces",
		StatePreconditionCheck, base.VertexCount(), base.TriangleCount(), reference.TriangleCount())
	if !cfg.SkipPrecondition && spatial.SelfIntersects(base, build) {
		return nil, &Error{State: StatePreconditionCheck, Err: ErrPreconditionSelfIntersecting}
	}

	if err := ctx.Err(); err != nil {
		return nil, &Error{State: StatePreconditionCheck, Err: err}
	}

	c := base.Clone()
	Inflate(c, cfg.Padding)
	cfg.logf("cage: %s by %g", StateInflated, cfg.Padding)

	if spatial.SelfIntersects(c, build) {
		return nil, &Error{State: StatePostInflationCheck, Err: ErrInflationSelfIntersecting}
	}

	if err := ctx.Err(); err != nil {
		return nil, &Error{State: StatePostInflationCheck, Err: err}
	}

	var report Report
	report.Projection = Project(c, base, reference, cfg)
	cfg.logf("cage: %s: %d rays, %d recast, %d hits, %d vertex moves", StateProjected,
		report.Projection.Cast, report.Projection.Recast, report.Projection.Hits, report.Projection.Moved)

	var err error
	if report.Resolution, err = resolve(ctx, c, reference, cfg); err != nil {
		return nil, &Error{State: StateProjected, Err: err}
	}
	cfg.logf("cage: %s: %s after %d iterations, %d of %d overlaps remain", StateResolved,
		report.Resolution.Reason, report.Resolution.Iterations, report.Resolution.Residual, report.Resolution.Initial)

	if report.Resolution.Stalled {
		report.Warnings = append(report.Warnings, Warning{
			Kind: WarningStalled,
			Message: fmt.Sprintf("%s after %d iterations with %d overlapping pairs",
				report.Resolution.Reason, report.Resolution.Iterations, report.Resolution.Residual),
		})
	}

	if cfg.Verify {
		verify(c, reference, build, &report)
	}

	report.Elapsed = time.Since(start)
	for _, w := range report.Warnings {
		cfg.logf("cage: warning: %s", w)
	}
	return &Result{Cage: c, Report: report, State: StateDone}, nil
}

// SelfIntersects reports whether any two faces of m that do not share a
// vertex intersect. Faces meeting at a single vertex are never tested
// against each other, even when they cross.
func SelfIntersects(m *mesh.Mesh) bool {
	return spatial.SelfIntersects(m, spatial.BuildBVH)
}

func checkMesh(role string, m *mesh.Mesh) error {
	if m == nil {
		return fmt.Errorf("%s mesh is nil: %w", role, ErrInvalidMesh)
	}
	if m.IsEmpty() {
		return fmt.Errorf("%s mesh has no faces: %w", role, ErrInvalidMesh)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%s mesh: %v: %w", role, err, ErrInvalidMesh)
	}
	return nil
}

func verify(c, reference *mesh.Mesh, build spatial.Builder, report *Report) {
	ref := build(reference)
	for _, v := range c.Vertices {
		if spatial.Contains(ref, v) {
			report.VerticesInside++
		}
	}
	if report.VerticesInside > 0 {
		report.Warnings = append(report.Warnings, Warning{
			Kind:    WarningVerticesInside,
			Message: fmt.Sprintf("%d of %d cage vertices inside the reference", report.VerticesInside, len(c.Vertices)),
		})
	}
	if spatial.SelfIntersects(c, build) {
		report.Warnings = append(report.Warnings, Warning{
			Kind:    WarningSelfIntersecting,
			Message: "finished cage overlaps itself",
		})
	}
}
