package spatial

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// axisEpsilon2 is the squared length below which a separating-axis
// candidate is considered degenerate and skipped.
const axisEpsilon2 = 1e-24

// aabb is an axis-aligned bounding box.
type aabb struct {
	min, max v3.Vec
}

func emptyBox() aabb {
	inf := math.Inf(1)
	return aabb{
		min: v3.Vec{X: inf, Y: inf, Z: inf},
		max: v3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func triangleBox(t [3]v3.Vec) aabb {
	return aabb{
		min: t[0].Min(t[1]).Min(t[2]),
		max: t[0].Max(t[1]).Max(t[2]),
	}
}

func (b aabb) union(o aabb) aabb {
	return aabb{min: b.min.Min(o.min), max: b.max.Max(o.max)}
}

func (b aabb) expand(d float64) aabb {
	e := v3.Vec{X: d, Y: d, Z: d}
	return aabb{min: b.min.Sub(e), max: b.max.Add(e)}
}

func (b aabb) overlaps(o aabb) bool {
	return b.min.X <= o.max.X && b.max.X >= o.min.X &&
		b.min.Y <= o.max.Y && b.max.Y >= o.min.Y &&
		b.min.Z <= o.max.Z && b.max.Z >= o.min.Z
}

func (b aabb) extent() v3.Vec {
	return b.max.Sub(b.min)
}

// rayInterval clips the ray origin + t*dir against the box using the slab
// method and returns the parametric entry and exit. ok is false when the ray
// misses the box or the box lies entirely behind the origin.
func (b aabb) rayInterval(origin, dir v3.Vec, tMax float64) (t0, t1 float64, ok bool) {
	t0, t1 = 0, tMax
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.min.X, b.min.Y, b.min.Z}
	hi := [3]float64{b.max.X, b.max.Y, b.max.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / d[i]
		near := (lo[i] - o[i]) * inv
		far := (hi[i] - o[i]) * inv
		if near > far {
			near, far = far, near
		}
		if near > t0 {
			t0 = near
		}
		if far < t1 {
			t1 = far
		}
		if t0 > t1 {
			return 0, 0, false
		}
	}
	return t0, t1, true
}

// rayTriangle intersects the ray with a triangle (Möller–Trumbore, both
// sides) and returns the ray parameter of the hit.
func rayTriangle(origin, dir v3.Vec, t [3]v3.Vec) (float64, bool) {
	e1 := t[1].Sub(t[0])
	e2 := t[2].Sub(t[0])
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < 1e-14 {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(t[0])
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	dist := e2.Dot(q) * inv
	if dist <= rayTMin {
		return 0, false
	}
	return dist, true
}

// projectTriangle returns the interval covered by t along axis.
func projectTriangle(t [3]v3.Vec, axis v3.Vec) (lo, hi float64) {
	lo = t[0].Dot(axis)
	hi = lo
	for _, p := range t[1:] {
		d := p.Dot(axis)
		if d < lo {
			lo = d
		} else if d > hi {
			hi = d
		}
	}
	return lo, hi
}

// trianglesOverlap runs a separating-axis test between two triangles. The
// candidate axes are both face normals, the nine edge-edge cross products
// and the six in-plane edge normals, which also covers the coplanar case.
// The triangles overlap unless some axis separates them by more than eps.
func trianglesOverlap(a, b [3]v3.Vec, eps float64) bool {
	ea := [3]v3.Vec{a[1].Sub(a[0]), a[2].Sub(a[1]), a[0].Sub(a[2])}
	eb := [3]v3.Vec{b[1].Sub(b[0]), b[2].Sub(b[1]), b[0].Sub(b[2])}
	na := ea[0].Cross(ea[1])
	nb := eb[0].Cross(eb[1])

	separated := func(axis v3.Vec) bool {
		l2 := axis.Dot(axis)
		if l2 < axisEpsilon2 {
			return false
		}
		axis = axis.MulScalar(1 / math.Sqrt(l2))
		aLo, aHi := projectTriangle(a, axis)
		bLo, bHi := projectTriangle(b, axis)
		return aHi+eps < bLo || bHi+eps < aLo
	}

	if separated(na) || separated(nb) {
		return false
	}
	for _, x := range ea {
		for _, y := range eb {
			if separated(x.Cross(y)) {
				return false
			}
		}
	}
	for _, e := range ea {
		if separated(na.Cross(e)) {
			return false
		}
	}
	for _, e := range eb {
		if separated(nb.Cross(e)) {
			return false
		}
	}
	return true
}
