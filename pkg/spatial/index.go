// Package spatial provides bounding-volume indices over triangle meshes.
// An Index answers two questions: where does a ray first strike the mesh,
// and which faces of one mesh touch which faces of another (or of itself).
//
// Two implementations satisfy Index: BuildBVH, a median-split AABB tree,
// and BuildRTree, backed by github.com/dhconnelly/rtreego. Both return the
// same answers for the same input; they differ only in build and query
// cost. Indices are snapshots: moving a vertex of the indexed mesh
// invalidates the index, and callers rebuild after each mutation pass.
package spatial

import (
	"sort"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// OverlapEpsilon is the slack, in mesh units, under which two triangles
// count as touching.
const OverlapEpsilon = 1e-5

// rayTMin discards hits at the ray origin so a ray cast from a surface does
// not strike that surface again.
const rayTMin = 1e-9

// Hit describes where a ray struck a mesh.
type Hit struct {
	Point    v3.Vec  // hit position
	Normal   v3.Vec  // geometric normal of the struck face (winding, not ray facing)
	Distance float64 // distance from the ray origin, in units of the direction length
	Face     int     // index of the struck face
	Mesh     int     // tag of the struck mesh; set by Scene, zero from a bare Index
}

// Pair is one overlapping face pair. A indexes the receiver of Overlap and
// B the argument.
type Pair struct {
	A, B int
}

// OverlapSet is a sorted list of unique face pairs.
type OverlapSet []Pair

// Len returns the number of pairs.
func (s OverlapSet) Len() int { return len(s) }

// Contains reports whether p is a member of the set.
func (s OverlapSet) Contains(p Pair) bool {
	i := sort.Search(len(s), func(i int) bool { return !pairLess(s[i], p) })
	return i < len(s) && s[i] == p
}

// Equal reports whether both sets hold exactly the same pairs.
func (s OverlapSet) Equal(other OverlapSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// CageFaces returns the distinct A indices in ascending order.
func (s OverlapSet) CageFaces() []int {
	var out []int
	for i, p := range s {
		if i == 0 || p.A != s[i-1].A {
			out = append(out, p.A)
		}
	}
	return out
}

func pairLess(a, b Pair) bool {
	if a.A != b.A {
		return a.A < b.A
	}
	return a.B < b.B
}

// newOverlapSet sorts and deduplicates pairs.
func newOverlapSet(pairs []Pair) OverlapSet {
	sort.Slice(pairs, func(i, j int) bool { return pairLess(pairs[i], pairs[j]) })
	out := pairs[:0]
	for i, p := range pairs {
		if i > 0 && p == pairs[i-1] {
			continue
		}
		out = append(out, p)
	}
	return OverlapSet(out)
}

// Index is a read-only spatial index over one mesh.
type Index interface {
	// Mesh returns the indexed mesh. Callers must not modify it while the
	// index is in use.
	Mesh() *mesh.Mesh

	// Raycast returns the nearest face struck by the half-line
	// origin + t*dir, t > 0. Both face sides count.
	Raycast(origin, dir v3.Vec) (Hit, bool)

	// Search calls fn for every face whose bounds intersect the box
	// [min, max]. Returning false from fn stops the search.
	Search(min, max v3.Vec, fn func(face int) bool)

	// Overlap returns the face pairs whose triangles intersect within
	// OverlapEpsilon. Passing the receiver itself tests for
	// self-overlap: pairs are unordered (A < B) and pairs sharing a vertex
	// are excluded.
	Overlap(other Index) OverlapSet
}

// Builder constructs an Index over a mesh.
type Builder func(m *mesh.Mesh) Index

// overlapBySearch is the generic pair search used when the two indices
// have no specialised traversal: every face of b is looked up in a by its
// padded bounds and confirmed with the triangle test.
func overlapBySearch(a, b Index) OverlapSet {
	am, bm := a.Mesh(), b.Mesh()
	self := a == b
	var pairs []Pair
	for j := range bm.Faces {
		tb := bm.Triangle(j)
		box := triangleBox(tb).expand(OverlapEpsilon)
		a.Search(box.min, box.max, func(i int) bool {
			if self && (i >= j || mesh.SharesVertex(am.Faces[i], bm.Faces[j])) {
				return true
			}
			if trianglesOverlap(am.Triangle(i), tb, OverlapEpsilon) {
				pairs = append(pairs, Pair{A: i, B: j})
			}
			return true
		})
	}
	return newOverlapSet(pairs)
}
