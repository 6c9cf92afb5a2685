package cage

import (
	"github.com/chazu/cagebake/pkg/mesh"
	"github.com/chazu/cagebake/pkg/spatial"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Scene tags for the meshes the projector raycasts against.
const (
	meshBase = iota + 1
	meshReference
)

// ProjectStats counts what the surface projector did.
type ProjectStats struct {
	Cast   int // faces that cast a ray
	Recast int // rays re-cast past the base surface
	Hits   int // faces that met the reference head-on
	Moved  int // vertex displacements applied
}

// Project pulls each cage face outward onto the reference mesh. A ray is
// cast from the face centroid along its normal into a scene holding the
// base and the reference. A hit on the base whose normal does not face the
// ray is passed through with a second ray from the hit point. A hit on the
// reference whose normal faces the ray moves every face vertex lying behind
// the hit point to padding beyond it, along the face normal.
//
// Face normals are sampled once at the start of the pass; centroids are
// taken from the positions at the time the face is visited.
func Project(cage, base, reference *mesh.Mesh, cfg Config) ProjectStats {
	cfg = cfg.WithDefaults()
	build := cfg.builder()

	var scene spatial.Scene
	scene.Add(meshBase, build(base))
	scene.Add(meshReference, build(reference))

	var stats ProjectStats
	normals := cage.FaceNormals()
	for i, f := range cage.Faces {
		n := normals[i]
		if n == (v3.Vec{}) {
			continue
		}
		stats.Cast++

		hit, ok := scene.Raycast(cage.FaceCentroid(i), n)
		if ok && hit.Mesh == meshBase && hit.Normal.Dot(n) >= 0 {
			stats.Recast++
			hit, ok = scene.Raycast(hit.Point, n)
		}
		if !ok || hit.Mesh != meshReference || hit.Normal.Dot(n) >= 0 {
			continue
		}
		stats.Hits++

		for _, vi := range f {
			d := hit.Point.Sub(cage.Vertices[vi]).Dot(n)
			if d > 0 {
				cage.Vertices[vi] = cage.Vertices[vi].Add(n.MulScalar(d + cfg.Padding))
				stats.Moved++
			}
		}
	}
	return stats
}
