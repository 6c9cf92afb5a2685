package spatial

import (
	"math"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/dhconnelly/rtreego"
)

// R-tree branching factors.
const (
	rtreeMinChildren = 4
	rtreeMaxChildren = 16
)

// rtreeMarchSteps bounds how many boxes a raycast is split into.
const rtreeMarchSteps = 64

// Compile-time interface check.
var _ Index = (*RTree)(nil)

// faceEntry adapts a mesh face to rtreego.Spatial.
type faceEntry struct {
	face int
	rect rtreego.Rect
}

func (e *faceEntry) Bounds() rtreego.Rect {
	return e.rect
}

// RTree indexes the faces of one mesh in an rtreego R-tree. The tree only
// answers box queries, so raycasts march along the ray in box-sized steps.
type RTree struct {
	m    *mesh.Mesh
	tree *rtreego.Rtree
	box  aabb
	step float64
}

// BuildRTree constructs an R-tree index over m. It satisfies Builder.
func BuildRTree(m *mesh.Mesh) Index {
	return NewRTree(m)
}

// NewRTree constructs an R-tree index over m.
func NewRTree(m *mesh.Mesh) *RTree {
	r := &RTree{m: m, box: emptyBox()}
	entries := make([]rtreego.Spatial, 0, len(m.Faces))
	var diag float64
	for i := range m.Faces {
		fb := triangleBox(m.Triangle(i))
		r.box = r.box.union(fb)
		diag += fb.extent().Length()
		// Pad so flat faces still have positive extent on every axis.
		entries = append(entries, &faceEntry{face: i, rect: toRect(fb.expand(OverlapEpsilon))})
	}
	r.tree = rtreego.NewTree(3, rtreeMinChildren, rtreeMaxChildren, entries...)
	if len(m.Faces) > 0 {
		r.step = 2 * diag / float64(len(m.Faces))
	}
	return r
}

func toRect(b aabb) rtreego.Rect {
	// NewRectFromPoints only fails on dimension mismatch, which cannot
	// happen with two 3-points.
	rect, _ := rtreego.NewRectFromPoints(
		rtreego.Point{b.min.X, b.min.Y, b.min.Z},
		rtreego.Point{b.max.X, b.max.Y, b.max.Z},
	)
	return rect
}

// Mesh returns the indexed mesh.
func (r *RTree) Mesh() *mesh.Mesh {
	return r.m
}

// Search calls fn for every face whose padded bounds intersect [min, max].
func (r *RTree) Search(min, max v3.Vec, fn func(face int) bool) {
	if r.tree.Size() == 0 {
		return
	}
	query := toRect(aabb{min: min, max: max}.expand(OverlapEpsilon))
	for _, s := range r.tree.SearchIntersect(query) {
		if !fn(s.(*faceEntry).face) {
			return
		}
	}
}

// Raycast returns the nearest hit along origin + t*dir. The part of the ray
// inside the mesh bounds is cut into consecutive segments; the candidates in
// each segment's box are tested, and the search stops at the first segment
// whose end lies beyond the best hit found so far.
func (r *RTree) Raycast(origin, dir v3.Vec) (Hit, bool) {
	if r.tree.Size() == 0 {
		return Hit{}, false
	}
	t0, t1, ok := r.box.expand(OverlapEpsilon).rayInterval(origin, dir, math.Inf(1))
	if !ok {
		return Hit{}, false
	}

	span := (t1 - t0) * dir.Length()
	steps := 1
	if r.step > 0 && span > r.step {
		steps = int(math.Ceil(span / r.step))
		if steps > rtreeMarchSteps {
			steps = rtreeMarchSteps
		}
	}
	dt := (t1 - t0) / float64(steps)

	best := math.Inf(1)
	bestFace := -1
	tested := make(map[int]bool)
	for s := 0; s < steps; s++ {
		a := t0 + dt*float64(s)
		b := a + dt
		pa := origin.Add(dir.MulScalar(a))
		pb := origin.Add(dir.MulScalar(b))
		r.Search(pa.Min(pb), pa.Max(pb), func(f int) bool {
			if tested[f] {
				return true
			}
			tested[f] = true
			if t, ok := rayTriangle(origin, dir, r.m.Triangle(f)); ok && t < best {
				best = t
				bestFace = f
			}
			return true
		})
		if bestFace >= 0 && best <= b {
			break
		}
	}
	if bestFace < 0 {
		return Hit{}, false
	}
	return Hit{
		Point:    origin.Add(dir.MulScalar(best)),
		Normal:   r.m.FaceNormal(bestFace),
		Distance: best,
		Face:     bestFace,
	}, true
}

// Overlap returns intersecting face pairs between r and other.
func (r *RTree) Overlap(other Index) OverlapSet {
	return overlapBySearch(r, other)
}
