package cage

import (
	"context"

	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/spatial"
)

// StopReason says why the resolver returned.
type StopReason int

const (
	// StopNoOverlap means the cage did not overlap the reference at all.
	StopNoOverlap StopReason = iota
	// StopConverged means an iteration removed the last overlap.
	StopConverged
	// StopStalled means the stall policy saw no progress.
	StopStalled
	// StopMaxIterations means the iteration cap was reached.
	StopMaxIterations
)

func (r StopReason) String() string {
	switch r {
	case StopNoOverlap:
		return "no-overlap"
	case StopConverged:
		return "converged"
	case StopStalled:
		return "stalled"
	case StopMaxIterations:
		return "max-iterations"
	}
	return "unknown"
}

// ResolveReport summarises a resolver run.
type ResolveReport struct {
	Iterations    int
	Initial       int // overlapping pairs before the first iteration
	Residual      int // overlapping pairs left when the resolver stopped
	Displacements int
	Stalled       bool
	Reason        StopReason
}

// Resolve pushes cage faces outward until they no longer overlap the
// reference. Each iteration looks at every overlapping (cage face,
// reference face) pair and moves each cage vertex of the pair to padding
// beyond every reference vertex of the pair lying in front of it, along the
// cage face normal. Normals are sampled at the start of each iteration.
//
// The loop ends when no overlap remains, when the stall policy reports no
// progress, or when MaxIterations is reached. Stalling is not an error: the
// cage is returned with Stalled set and Residual overlaps.
func Resolve(cage, reference *mesh.Mesh, cfg Config) ResolveReport {
	report, _ := resolve(context.Background(), cage, reference, cfg)
	return report
}

// resolve runs the resolver loop, checking ctx before every iteration.
func resolve(ctx context.Context, cage, reference *mesh.Mesh, cfg Config) (ResolveReport, error) {
	cfg = cfg.WithDefaults()
	build := cfg.builder()
	ref := build(reference)

	overlaps := build(cage).Overlap(ref)
	report := ResolveReport{Initial: overlaps.Len(), Residual: overlaps.Len()}
	if overlaps.Len() == 0 {
		report.Reason = StopNoOverlap
		return report, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if report.Iterations >= cfg.MaxIterations {
			report.Stalled = true
			report.Reason = StopMaxIterations
			return report, nil
		}
		report.Iterations++
		report.Displacements += displace(cage, reference, overlaps, cfg.Padding)

		next := build(cage).Overlap(ref)
		report.Residual = next.Len()
		cfg.logf("resolve: iteration %d, %d overlapping pairs", report.Iterations, next.Len())
		if next.Len() == 0 {
			report.Reason = StopConverged
			return report, nil
		}
		if stalled(cfg.Stall, overlaps, next) {
			report.Stalled = true
			report.Reason = StopStalled
			return report, nil
		}
		overlaps = next
	}
}

func displace(cage, reference *mesh.Mesh, overlaps spatial.OverlapSet, padding float64) int {
	normals := cage.FaceNormals()
	moved := 0
	for _, p := range overlaps {
		n := normals[p.A]
		for _, ci := range cage.Faces[p.A] {
			for _, ri := range reference.Faces[p.B] {
				d := reference.Vertices[ri].Sub(cage.Vertices[ci]).Dot(n)
				if d > 0 {
					cage.Vertices[ci] = cage.Vertices[ci].Add(n.MulScalar(d + padding))
					moved++
				}
			}
		}
	}
	return moved
}

func stalled(policy StallPolicy, prev, next spatial.OverlapSet) bool {
	if policy == StallOnPairs {
		return prev.Equal(next)
	}
	return prev.Len() == next.Len()
}
