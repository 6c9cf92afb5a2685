// Package mesh defines the indexed triangle mesh shared by the spatial
// index, the cage builder and the I/O layer.
package mesh

import (
	"errors"
	"fmt"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// ErrInvalidIndex is returned by Validate when a face references a vertex
// that does not exist.
var ErrInvalidIndex = errors.New("face references a vertex out of range")

// ErrNonFinite is returned by Validate when a vertex coordinate is NaN or
// infinite.
var ErrNonFinite = errors.New("vertex coordinate is not finite")

// degenerateArea2 is the squared cross-product length below which a face is
// treated as having no area (and therefore no normal).
const degenerateArea2 = 1e-30

// Face is a triangle given as three indices into Mesh.Vertices.
type Face [3]int

// Mesh is an indexed triangle mesh. Faces wind counter-clockwise when seen
// from the side their normal points to.
type Mesh struct {
	Vertices []v3.Vec
	Faces    []Face
}

// New returns a mesh over the given vertices and faces. The slices are used
// as-is, not copied.
func New(vertices []v3.Vec, faces []Face) *Mesh {
	return &Mesh{Vertices: vertices, Faces: faces}
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Faces)
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Faces) == 0
}

// Validate checks that every vertex is finite and every face index refers
// to an existing vertex.
func (m *Mesh) Validate() error {
	for i, v := range m.Vertices {
		if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
			return fmt.Errorf("vertex %d: %v: %w", i, v, ErrNonFinite)
		}
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("face %d: index %d with %d vertices: %w", i, idx, n, ErrInvalidIndex)
			}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: make([]v3.Vec, len(m.Vertices)),
		Faces:    make([]Face, len(m.Faces)),
	}
	copy(c.Vertices, m.Vertices)
	copy(c.Faces, m.Faces)
	return c
}

// Triangle returns the corner positions of face i.
func (m *Mesh) Triangle(i int) [3]v3.Vec {
	f := m.Faces[i]
	return [3]v3.Vec{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
}

// FaceNormal returns the unit normal of face i, or the zero vector when the
// face is degenerate.
func (m *Mesh) FaceNormal(i int) v3.Vec {
	return TriangleNormal(m.Triangle(i))
}

// FaceNormals returns the normals of every face at the current positions.
func (m *Mesh) FaceNormals() []v3.Vec {
	normals := make([]v3.Vec, len(m.Faces))
	for i := range m.Faces {
		normals[i] = m.FaceNormal(i)
	}
	return normals
}

// FaceCentroid returns the area-weighted centre of face i. A triangle is a
// single area element, so this is the mean of its corners.
func (m *Mesh) FaceCentroid(i int) v3.Vec {
	t := m.Triangle(i)
	return t[0].Add(t[1]).Add(t[2]).MulScalar(1.0 / 3.0)
}

// FaceArea returns the area of face i.
func (m *Mesh) FaceArea(i int) float64 {
	t := m.Triangle(i)
	return t[1].Sub(t[0]).Cross(t[2].Sub(t[0])).Length() / 2
}

// Bounds returns the axis-aligned bounding box of all vertices. An empty
// mesh returns a zero box.
func (m *Mesh) Bounds() (min, max v3.Vec) {
	if len(m.Vertices) == 0 {
		return v3.Vec{}, v3.Vec{}
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		min = min.Min(v)
		max = max.Max(v)
	}
	return min, max
}

// Translate moves every vertex by d in place.
func (m *Mesh) Translate(d v3.Vec) {
	for i := range m.Vertices {
		m.Vertices[i] = m.Vertices[i].Add(d)
	}
}

// SignedVolume returns the volume enclosed by a closed mesh. It is
// positive when faces wind outward and negative when they wind inward.
func (m *Mesh) SignedVolume() float64 {
	var v float64
	for i := range m.Faces {
		t := m.Triangle(i)
		v += t[0].Dot(t[1].Cross(t[2]))
	}
	return v / 6
}

// Flip reverses the winding of every face in place.
func (m *Mesh) Flip() {
	for i, f := range m.Faces {
		m.Faces[i] = Face{f[0], f[2], f[1]}
	}
}

// TriangleNormal returns the unit normal of t using its winding, or the zero
// vector when t is degenerate.
func TriangleNormal(t [3]v3.Vec) v3.Vec {
	n := t[1].Sub(t[0]).Cross(t[2].Sub(t[0]))
	l2 := n.Dot(n)
	if l2 < degenerateArea2 {
		return v3.Vec{}
	}
	return n.MulScalar(1 / math.Sqrt(l2))
}

// SameTopology reports whether a and b have the same vertex count and the
// same face index lists.
func SameTopology(a, b *Mesh) bool {
	if len(a.Vertices) != len(b.Vertices) || len(a.Faces) != len(b.Faces) {
		return false
	}
	for i := range a.Faces {
		if a.Faces[i] != b.Faces[i] {
			return false
		}
	}
	return true
}

// SharesVertex reports whether two faces of the same mesh have a vertex
// index in common.
func SharesVertex(f, g Face) bool {
	for _, a := range f {
		for _, b := range g {
			if a == b {
				return true
			}
		}
	}
	return false
}
