package spatial

import (
	"math"
	"sort"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// maxFacesPerLeaf is the threshold for splitting BVH nodes.
const maxFacesPerLeaf = 4

// Compile-time interface check.
var _ Index = (*BVH)(nil)

// bvhNode is either an internal node with two children or a leaf holding
// face indices.
type bvhNode struct {
	box         aabb
	left, right *bvhNode
	faces       []int
}

func (n *bvhNode) leaf() bool {
	return n.left == nil
}

// BVH is a bounding volume hierarchy over the faces of one mesh.
type BVH struct {
	m     *mesh.Mesh
	root  *bvhNode
	boxes []aabb // per-face bounds, indexed by face
}

// BuildBVH constructs a BVH over m. It satisfies Builder.
func BuildBVH(m *mesh.Mesh) Index {
	return NewBVH(m)
}

// NewBVH constructs a BVH over m.
func NewBVH(m *mesh.Mesh) *BVH {
	b := &BVH{m: m, boxes: make([]aabb, len(m.Faces))}
	if len(m.Faces) == 0 {
		return b
	}
	faces := make([]int, len(m.Faces))
	centroids := make([]v3.Vec, len(m.Faces))
	for i := range m.Faces {
		faces[i] = i
		b.boxes[i] = triangleBox(m.Triangle(i))
		centroids[i] = m.FaceCentroid(i)
	}
	b.root = b.build(faces, centroids)
	return b
}

func (b *BVH) build(faces []int, centroids []v3.Vec) *bvhNode {
	node := &bvhNode{box: emptyBox()}
	for _, f := range faces {
		node.box = node.box.union(b.boxes[f])
	}

	if len(faces) <= maxFacesPerLeaf {
		node.faces = faces
		return node
	}

	// Split along the longest axis at the centroid median.
	ext := node.box.extent()
	key := func(f int) float64 { return centroids[f].X }
	if ext.Y > ext.X && ext.Y >= ext.Z {
		key = func(f int) float64 { return centroids[f].Y }
	} else if ext.Z > ext.X && ext.Z > ext.Y {
		key = func(f int) float64 { return centroids[f].Z }
	}
	sort.SliceStable(faces, func(i, j int) bool { return key(faces[i]) < key(faces[j]) })

	mid := len(faces) / 2
	node.left = b.build(faces[:mid], centroids)
	node.right = b.build(faces[mid:], centroids)
	return node
}

// Mesh returns the indexed mesh.
func (b *BVH) Mesh() *mesh.Mesh {
	return b.m
}

// Raycast returns the nearest hit along origin + t*dir.
func (b *BVH) Raycast(origin, dir v3.Vec) (Hit, bool) {
	if b.root == nil {
		return Hit{}, false
	}
	best := math.Inf(1)
	bestFace := -1
	b.raycastNode(b.root, origin, dir, &best, &bestFace)
	if bestFace < 0 {
		return Hit{}, false
	}
	return Hit{
		Point:    origin.Add(dir.MulScalar(best)),
		Normal:   b.m.FaceNormal(bestFace),
		Distance: best,
		Face:     bestFace,
	}, true
}

func (b *BVH) raycastNode(n *bvhNode, origin, dir v3.Vec, best *float64, bestFace *int) {
	if _, _, ok := n.box.expand(OverlapEpsilon).rayInterval(origin, dir, *best); !ok {
		return
	}
	if n.leaf() {
		for _, f := range n.faces {
			if t, ok := rayTriangle(origin, dir, b.m.Triangle(f)); ok && t < *best {
				*best = t
				*bestFace = f
			}
		}
		return
	}

	// Visit the nearer child first so the far one is pruned more often.
	first, second := n.left, n.right
	t0l, _, okl := first.box.rayInterval(origin, dir, *best)
	t0r, _, okr := second.box.rayInterval(origin, dir, *best)
	if okl && okr && t0r < t0l {
		first, second = second, first
	}
	b.raycastNode(first, origin, dir, best, bestFace)
	b.raycastNode(second, origin, dir, best, bestFace)
}

// Search calls fn for every face whose bounds intersect [min, max].
func (b *BVH) Search(min, max v3.Vec, fn func(face int) bool) {
	if b.root == nil {
		return
	}
	query := aabb{min: min, max: max}
	stack := []*bvhNode{b.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !n.box.overlaps(query) {
			continue
		}
		if n.leaf() {
			for _, f := range n.faces {
				if b.boxes[f].overlaps(query) && !fn(f) {
					return
				}
			}
			continue
		}
		stack = append(stack, n.right, n.left)
	}
}

// Overlap returns intersecting face pairs between b and other. Two BVHs are
// walked together; any other Index falls back to a per-face search.
func (b *BVH) Overlap(other Index) OverlapSet {
	o, ok := other.(*BVH)
	if !ok {
		return overlapBySearch(b, other)
	}
	if b.root == nil || o.root == nil {
		return nil
	}
	self := b == o
	var pairs []Pair
	b.overlapNodes(b.root, o, o.root, self, &pairs)
	return newOverlapSet(pairs)
}

func (b *BVH) overlapNodes(n1 *bvhNode, o *BVH, n2 *bvhNode, self bool, pairs *[]Pair) {
	if !n1.box.expand(OverlapEpsilon).overlaps(n2.box) {
		return
	}

	if n1.leaf() && n2.leaf() {
		for _, i := range n1.faces {
			bi := b.boxes[i].expand(OverlapEpsilon)
			for _, j := range n2.faces {
				if self && (i >= j || mesh.SharesVertex(b.m.Faces[i], o.m.Faces[j])) {
					continue
				}
				if !bi.overlaps(o.boxes[j]) {
					continue
				}
				if trianglesOverlap(b.m.Triangle(i), o.m.Triangle(j), OverlapEpsilon) {
					*pairs = append(*pairs, Pair{A: i, B: j})
				}
			}
		}
		return
	}

	// Descend into the internal node with the larger box first.
	if n2.leaf() || (!n1.leaf() && boxSize(n1.box) >= boxSize(n2.box)) {
		b.overlapNodes(n1.left, o, n2, self, pairs)
		b.overlapNodes(n1.right, o, n2, self, pairs)
		return
	}
	b.overlapNodes(n1, o, n2.left, self, pairs)
	b.overlapNodes(n1, o, n2.right, self, pairs)
}

func boxSize(b aabb) float64 {
	e := b.extent()
	return e.X + e.Y + e.Z
}
