package cage

import (
	"testing"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

func TestInflateSingleTriangle(t *testing.T) {
	m := unitTriangle()
	Inflate(m, 0.1)
	want := []v3.Vec{vec(0, 0, 0.1), vec(1, 0, 0.1), vec(0, 1, 0.1)}
	for i, v := range m.Vertices {
		if !near(v.X, want[i].X) || !near(v.Y, want[i].Y) || !near(v.Z, want[i].Z) {
			t.Errorf("vertex %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestInflateTwiceEqualsDoublePadding(t *testing.T) {
	once := unitTriangle()
	Inflate(once, 0.2)

	twice := unitTriangle()
	Inflate(twice, 0.1)
	Inflate(twice, 0.1)

	for i := range once.Vertices {
		if once.Vertices[i].Sub(twice.Vertices[i]).Length() > 1e-12 {
			t.Errorf("vertex %d: once %v, twice %v", i, once.Vertices[i], twice.Vertices[i])
		}
	}
}

func TestInflateMovesOncePerFace(t *testing.T) {
	// Unit quad split along the 0-2 diagonal; both halves face +Z.
	m := &mesh.Mesh{
		Vertices: []v3.Vec{vec(0, 0, 0), vec(1, 0, 0), vec(1, 1, 0), vec(0, 1, 0)},
		Faces:    []mesh.Face{{0, 1, 2}, {0, 2, 3}},
	}
	Inflate(m, 0.01)

	want := []float64{0.02, 0.01, 0.02, 0.01}
	for i, v := range m.Vertices {
		if !near(v.Z, want[i]) {
			t.Errorf("vertex %d z = %g, want %g", i, v.Z, want[i])
		}
	}
}

func TestInflateSkipsDegenerateFaces(t *testing.T) {
	m := &mesh.Mesh{
		Vertices: []v3.Vec{vec(0, 0, 0), vec(1, 0, 0), vec(2, 0, 0)},
		Faces:    []mesh.Face{{0, 1, 2}},
	}
	Inflate(m, 1)
	for i, v := range m.Vertices {
		if v.Y != 0 || v.Z != 0 {
			t.Errorf("vertex %d moved to %v", i, v)
		}
	}
}
