package mesh

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Icosphere returns a sphere of the given radius centred at the origin,
// built by subdividing an icosahedron. Each subdivision splits every face
// into four and projects the new vertices onto the sphere. Faces wind
// outward.
func Icosphere(radius float64, subdivisions int) *Mesh {
	t := (1 + math.Sqrt(5)) / 2
	verts := []v3.Vec{
		{X: -1, Y: t, Z: 0}, {X: 1, Y: t, Z: 0}, {X: -1, Y: -t, Z: 0}, {X: 1, Y: -t, Z: 0},
		{X: 0, Y: -1, Z: t}, {X: 0, Y: 1, Z: t}, {X: 0, Y: -1, Z: -t}, {X: 0, Y: 1, Z: -t},
		{X: t, Y: 0, Z: -1}, {X: t, Y: 0, Z: 1}, {X: -t, Y: 0, Z: -1}, {X: -t, Y: 0, Z: 1},
	}
	for i := range verts {
		verts[i] = verts[i].Normalize()
	}
	faces := []Face{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}

	for s := 0; s < subdivisions; s++ {
		midpoints := make(map[[2]int]int)
		midpoint := func(a, b int) int {
			key := [2]int{a, b}
			if a > b {
				key = [2]int{b, a}
			}
			if idx, ok := midpoints[key]; ok {
				return idx
			}
			verts = append(verts, verts[a].Add(verts[b]).MulScalar(0.5).Normalize())
			idx := len(verts) - 1
			midpoints[key] = idx
			return idx
		}

		next := make([]Face, 0, len(faces)*4)
		for _, f := range faces {
			ab := midpoint(f[0], f[1])
			bc := midpoint(f[1], f[2])
			ca := midpoint(f[2], f[0])
			next = append(next,
				Face{f[0], ab, ca},
				Face{f[1], bc, ab},
				Face{f[2], ca, bc},
				Face{ab, bc, ca},
			)
		}
		faces = next
	}

	for i := range verts {
		verts[i] = verts[i].MulScalar(radius)
	}
	return &Mesh{Vertices: verts, Faces: faces}
}
