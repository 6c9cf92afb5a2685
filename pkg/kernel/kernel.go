// Package kernel defines the abstract solid modeling interface used to
// generate procedural reference and base meshes. Implementations (sdfx)
// build solids and tessellate them into indexed triangle meshes.
package kernel

import "github.com/chazu/cagebake/pkg/mesh"

// DefaultCells is the marching cubes resolution used when ToMesh is given
// a non-positive cell count.
const DefaultCells = 64

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the abstract geometry kernel interface.
// All primitives are centred on the origin.
type Kernel interface {
	// Primitives
	Sphere(radius float64) Solid
	Box(x, y, z float64) Solid
	Cylinder(height, radius float64) Solid

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// ToMesh tessellates s on a grid of cells along its longest side and
	// welds the result into an indexed mesh with outward winding.
	ToMesh(s Solid, cells int) (*mesh.Mesh, error)
}
