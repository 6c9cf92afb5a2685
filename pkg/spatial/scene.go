package spatial

import (
	"math"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Scene raycasts several indexed meshes at once and reports which one was
// struck first.
type Scene struct {
	entries []sceneEntry
}

type sceneEntry struct {
	tag   int
	index Index
}

// Add registers an index under a caller-chosen tag.
func (s *Scene) Add(tag int, idx Index) {
	s.entries = append(s.entries, sceneEntry{tag: tag, index: idx})
}

// Raycast returns the nearest hit across all registered meshes, with
// Hit.Mesh set to the tag of the struck mesh.
func (s *Scene) Raycast(origin, dir v3.Vec) (Hit, bool) {
	var best Hit
	found := false
	for _, e := range s.entries {
		h, ok := e.index.Raycast(origin, dir)
		if !ok {
			continue
		}
		if !found || h.Distance < best.Distance {
			h.Mesh = e.tag
			best = h
			found = true
		}
	}
	return best, found
}

// SelfIntersects reports whether any two faces of m that do not share a
// vertex intersect each other. Every pair sharing a vertex is skipped, not
// only pairs sharing an edge, so two faces that meet at a single vertex and
// cross each other there are not reported.
func SelfIntersects(m *mesh.Mesh, build Builder) bool {
	idx := build(m)
	return idx.Overlap(idx).Len() > 0
}

// containsDirections are skewed so a parity ray is unlikely to run exactly
// along an edge or through a vertex of an axis-aligned mesh.
var containsDirections = []v3.Vec{
	{X: 0.5773, Y: 0.5779, Z: 0.5768},
	{X: -0.6212, Y: 0.4433, Z: 0.6461},
	{X: 0.2011, Y: -0.7507, Z: 0.6292},
}

// Contains reports whether p lies inside the closed surface indexed by idx.
// Each of three skewed rays counts its surface crossings; the point is
// inside when a majority of the counts are odd.
func Contains(idx Index, p v3.Vec) bool {
	odd := 0
	for _, dir := range containsDirections {
		if crossings(idx, p, dir)%2 == 1 {
			odd++
		}
	}
	return odd*2 > len(containsDirections)
}

func crossings(idx Index, p, dir v3.Vec) int {
	n := 0
	origin := p
	limit := 4*len(idx.Mesh().Faces) + 1
	for n < limit {
		h, ok := idx.Raycast(origin, dir)
		if !ok || math.IsInf(h.Distance, 0) {
			break
		}
		n++
		origin = h.Point
	}
	return n
}
