package cage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/spatial"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

func vec(x, y, z float64) v3.Vec {
	return v3.Vec{X: x, Y: y, Z: z}
}

// triangles builds a mesh with three fresh vertices per triangle.
func triangles(tris ...[3]v3.Vec) *mesh.Mesh {
	m := &mesh.Mesh{}
	for _, t := range tris {
		n := len(m.Vertices)
		m.Vertices = append(m.Vertices, t[0], t[1], t[2])
		m.Faces = append(m.Faces, mesh.Face{n, n + 1, n + 2})
	}
	return m
}

// unitTriangle lies in z=0 with a +Z normal.
func unitTriangle() *mesh.Mesh {
	return triangles([3]v3.Vec{vec(0, 0, 0), vec(1, 0, 0), vec(0, 1, 0)})
}

// ceiling is a large triangle at height z wound with a -Z normal.
func ceiling(z float64) [3]v3.Vec {
	return [3]v3.Vec{vec(-2, -2, z), vec(-2, 6, z), vec(6, -2, z)}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuildRejectsSelfIntersectingBase(t *testing.T) {
	tri := [3]v3.Vec{vec(0, 0, 0), vec(1, 0, 0), vec(0, 1, 0)}
	base := triangles(tri, tri)
	reference := mesh.Icosphere(0.1, 0)

	res, err := Build(reference, base, Config{})
	if res != nil {
		t.Fatalf("Build() returned a result for a self-intersecting base")
	}
	if !errors.Is(err, ErrPreconditionSelfIntersecting) {
		t.Fatalf("Build() error = %v, want ErrPreconditionSelfIntersecting", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.State != StatePreconditionCheck {
		t.Fatalf("Build() error = %#v, want *Error at %s", err, StatePreconditionCheck)
	}
	if !IsSelfIntersection(err) {
		t.Error("IsSelfIntersection() = false")
	}
}

func TestBuildRejectsSelfIntersectingInflation(t *testing.T) {
	tri := [3]v3.Vec{vec(0, 0, 0), vec(1, 0, 0), vec(0, 1, 0)}
	base := triangles(tri, tri)

	_, err := Build(mesh.Icosphere(0.1, 0), base, Config{SkipPrecondition: true})
	if !errors.Is(err, ErrInflationSelfIntersecting) {
		t.Fatalf("Build() error = %v, want ErrInflationSelfIntersecting", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.State != StatePostInflationCheck {
		t.Fatalf("Build() error = %#v, want *Error at %s", err, StatePostInflationCheck)
	}
}

// foldingSheets are two facing triangles with no shared vertices. The
// lower one faces +Z at z=0. The upper one faces -Z and tilts from 5e-5
// above it up to 8e-4, so the gap starts below twice the default padding.
func foldingSheets() *mesh.Mesh {
	z := func(x float64) float64 { return 5e-5 + 3e-4*(x+0.5) }
	return triangles(
		[3]v3.Vec{vec(-1, -1, 0), vec(2, -1, 0), vec(-1, 2, 0)},
		[3]v3.Vec{vec(-0.5, -0.5, z(-0.5)), vec(-0.5, 2, z(-0.5)), vec(2, -0.5, z(2))},
	)
}

func TestBuildRejectsFoldUnderInflation(t *testing.T) {
	base := foldingSheets()
	if SelfIntersects(base) {
		t.Fatal("base self-intersects before inflation")
	}

	_, err := Build(mesh.Icosphere(0.1, 0), base, Config{})
	if !errors.Is(err, ErrInflationSelfIntersecting) {
		t.Fatalf("Build() error = %v, want ErrInflationSelfIntersecting", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.State != StatePostInflationCheck {
		t.Fatalf("Build() error = %#v, want *Error at %s", err, StatePostInflationCheck)
	}

	// A padding well below half the gap leaves the sheets apart.
	if _, err := Build(mesh.Icosphere(0.1, 0), base, Config{Padding: 1e-6}); IsSelfIntersection(err) {
		t.Errorf("Build() with padding 1e-6 error = %v", err)
	}
}

func TestBuildContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := BuildContext(ctx, mesh.Icosphere(0.95, 2), mesh.Icosphere(1, 1), Config{})
	if res != nil {
		t.Fatal("BuildContext() returned a result after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("BuildContext() error = %v, want context.Canceled", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.State != StatePreconditionCheck {
		t.Errorf("BuildContext() error = %#v, want *Error at %s", err, StatePreconditionCheck)
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	bad := unitTriangle()
	bad.Faces[0][2] = 7
	nan := unitTriangle()
	nan.Vertices[0].X = math.NaN()

	tests := []struct {
		name      string
		reference *mesh.Mesh
		base      *mesh.Mesh
		cfg       Config
		want      error
	}{
		{"nil base", unitTriangle(), nil, Config{}, ErrInvalidMesh},
		{"empty reference", &mesh.Mesh{}, unitTriangle(), Config{}, ErrInvalidMesh},
		{"bad index", unitTriangle(), bad, Config{}, ErrInvalidMesh},
		{"non-finite reference", nan, unitTriangle(), Config{}, ErrInvalidMesh},
		{"negative padding", unitTriangle(), unitTriangle(), Config{Padding: -1}, ErrInvalidConfig},
		{"negative iterations", unitTriangle(), unitTriangle(), Config{MaxIterations: -1}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.reference, tt.base, tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Build() error = %v, want %v", err, tt.want)
			}
			var cerr *Error
			if !errors.As(err, &cerr) || cerr.State != StateInit {
				t.Fatalf("Build() error = %#v, want *Error at %s", err, StateInit)
			}
		})
	}
}

func TestBuildSphere(t *testing.T) {
	for _, kind := range []IndexKind{IndexBVH, IndexRTree} {
		t.Run(kind.String(), func(t *testing.T) {
			base := mesh.Icosphere(1, 1)
			reference := mesh.Icosphere(0.95, 3)
			original := base.Clone()

			res, err := Build(reference, base, Config{Padding: 1e-4, Index: kind, Verify: true})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if res.State != StateDone {
				t.Errorf("State = %s, want %s", res.State, StateDone)
			}
			if !mesh.SameTopology(res.Cage, base) {
				t.Fatal("cage topology differs from the base")
			}
			for i := range base.Vertices {
				if base.Vertices[i] != original.Vertices[i] {
					t.Fatal("Build() modified the base mesh")
				}
			}

			refIdx := kind.Builder()(reference)
			for i, v := range res.Cage.Vertices {
				if spatial.Contains(refIdx, v) {
					t.Errorf("cage vertex %d at %v lies inside the reference", i, v)
				}
			}
			if res.Report.VerticesInside != 0 {
				t.Errorf("Report.VerticesInside = %d, want 0", res.Report.VerticesInside)
			}
			if SelfIntersects(res.Cage) {
				t.Error("finished cage self-intersects")
			}
			if !res.Report.Stalled() && res.Report.Resolution.Residual != 0 {
				t.Errorf("resolver stopped with %d overlaps without stalling", res.Report.Resolution.Residual)
			}
			t.Logf("projection %+v resolution %+v warnings %v",
				res.Report.Projection, res.Report.Resolution, res.Report.Warnings)
		})
	}
}

func TestStateString(t *testing.T) {
	if got := StatePostInflationCheck.String(); got != "post-inflation-check" {
		t.Errorf("String() = %q", got)
	}
	if got := State(99).String(); got != "State(99)" {
		t.Errorf("String() = %q", got)
	}
}
