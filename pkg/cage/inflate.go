package cage

import "github.com/chazu/cagebake/pkg/mesh"

// Inflate pushes every vertex of the cage outward by padding along the
// normal of each face it belongs to. A vertex shared by k faces is moved k
// times, once per face. Normals are taken from the positions at the start
// of the pass.
func Inflate(cage *mesh.Mesh, padding float64) {
	normals := cage.FaceNormals()
	for i, f := range cage.Faces {
		step := normals[i].MulScalar(padding)
		for _, vi := range f {
			cage.Vertices[vi] = cage.Vertices[vi].Add(step)
		}
	}
}
