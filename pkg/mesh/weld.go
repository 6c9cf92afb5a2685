package mesh

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// DefaultWeldTolerance is the distance below which two soup vertices are
// merged by Weld.
const DefaultWeldTolerance = 1e-7

// Weld builds an indexed mesh from a triangle soup, merging vertices that
// fall into the same cell of a grid with the given spacing. Triangles that
// collapse to fewer than three distinct vertices are dropped.
func Weld(tris [][3]v3.Vec, tolerance float64) *Mesh {
	if tolerance <= 0 {
		tolerance = DefaultWeldTolerance
	}
	inv := 1 / tolerance
	key := func(v v3.Vec) [3]int64 {
		return [3]int64{
			int64(math.Round(v.X * inv)),
			int64(math.Round(v.Y * inv)),
			int64(math.Round(v.Z * inv)),
		}
	}

	m := &Mesh{}
	lookup := make(map[[3]int64]int, len(tris)*3/2)
	for _, t := range tris {
		var f Face
		for j, v := range t {
			k := key(v)
			idx, ok := lookup[k]
			if !ok {
				idx = len(m.Vertices)
				m.Vertices = append(m.Vertices, v)
				lookup[k] = idx
			}
			f[j] = idx
		}
		if f[0] == f[1] || f[1] == f[2] || f[2] == f[0] {
			continue
		}
		m.Faces = append(m.Faces, f)
	}
	return m
}
