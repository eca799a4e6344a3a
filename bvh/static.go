package bvh

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax3d/parallax/logging"
	"github.com/parallax3d/parallax/spatialmath"
	"github.com/parallax3d/parallax/utils"
)

const (
	// nodes holding this many triangles or fewer become leaves
	triLimit = 4

	// number of SAH bins evaluated per axis
	binCount = 8
)

type staticNode struct {
	box spatialmath.AABB

	// A leaf when triCount > 0, with first indexing its triangle range in
	// the triIdx permutation. Internal when triCount == 0, with first
	// indexing the left child; the right child is always at first+1.
	first    int
	triCount int
}

func (n *staticNode) isLeaf() bool {
	return n.triCount > 0
}

// StaticTree is a bounding-volume hierarchy over a triangle mesh, built once
// with parallel SAH binned splits and immutable afterwards. Queries are
// lock-free and single-threaded.
type StaticTree struct {
	nodes     []staticNode
	nodesUsed int
	tris      []spatialmath.Triangle
	centroids []r3.Vector

	// triIdx is the permutation the build partitions; the triangle array
	// itself keeps source order for callers.
	triIdx []int

	// guards nodesUsed during build; children of a split are allocated in
	// one critical section so sibling indices stay consecutive
	mu   sync.Mutex
	pool *utils.WorkerPool
}

// MeshData is a vertex/index buffer pair describing one triangle mesh.
type MeshData struct {
	Vertices []r3.Vector
	Indices  []uint32
}

// BuildStaticTree builds a tree over the given vertex and index buffers. The
// index buffer holds three indices per triangle. A nil pool builds with a
// private worker pool that is stopped before returning; an injected pool is
// started if needed and left running for its owner. A nil logger falls back
// to the global one.
//
// Degenerate inputs are non-fatal: an empty mesh yields an empty tree whose
// queries return nothing, and meshes whose centroids all coincide yield a
// single leaf.
func BuildStaticTree(vertices []r3.Vector, indices []uint32, pool *utils.WorkerPool, logger logging.Logger) (*StaticTree, error) {
	if logger == nil {
		logger = logging.Global()
	}
	if len(indices)%3 != 0 {
		return nil, errors.Errorf("static tree: index buffer length %d is not a multiple of 3", len(indices))
	}
	for _, index := range indices {
		if int(index) >= len(vertices) {
			return nil, errors.Errorf("static tree: index %d out of range for %d vertices", index, len(vertices))
		}
	}

	triCount := len(indices) / 3
	logger.Infof("building static tree over %d triangles", triCount)

	tree := &StaticTree{}
	if triCount == 0 {
		return tree, nil
	}

	tree.tris = make([]spatialmath.Triangle, triCount)
	tree.centroids = make([]r3.Vector, triCount)
	tree.triIdx = make([]int, triCount)
	for i := 0; i < triCount; i++ {
		tri := spatialmath.NewTriangle(
			vertices[indices[i*3]],
			vertices[indices[i*3+1]],
			vertices[indices[i*3+2]],
		)
		tree.tris[i] = tri
		tree.centroids[i] = tri.Centroid()
		tree.triIdx[i] = i
	}

	// upper bound for a binary tree over triCount leaves
	tree.nodes = make([]staticNode, 2*triCount+1)
	tree.nodes[0] = staticNode{first: 0, triCount: triCount}
	tree.nodesUsed = 1

	ownPool := pool == nil
	if ownPool {
		pool = utils.NewWorkerPool(0)
	}
	tree.pool = pool

	pool.Start()
	pool.Queue(func() { tree.subdivide(0) })
	pool.Wait()
	if ownPool {
		if err := pool.Stop(); err != nil {
			return nil, errors.Wrap(err, "static tree: stopping build pool")
		}
	}
	tree.pool = nil

	logger.Infof("static tree built with %d nodes", tree.nodesUsed)
	return tree, nil
}

// BuildAll builds one tree per mesh of a model concurrently, sharing the
// given pool across the builds.
func BuildAll(ctx context.Context, meshes []MeshData, pool *utils.WorkerPool, logger logging.Logger) ([]*StaticTree, error) {
	trees := make([]*StaticTree, len(meshes))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, mesh := range meshes {
		i, mesh := i, mesh
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			tree, err := BuildStaticTree(mesh.Vertices, mesh.Indices, pool, logger)
			if err != nil {
				return errors.Wrapf(err, "mesh %d", i)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}

// TriangleCount returns the number of triangles indexed by the tree.
func (t *StaticTree) TriangleCount() int {
	return len(t.tris)
}

// NodeCount returns the number of nodes the build used.
func (t *StaticTree) NodeCount() int {
	return t.nodesUsed
}

// Query returns the boxes of every leaf node overlapping the given box.
func (t *StaticTree) Query(box spatialmath.AABB) []spatialmath.AABB {
	var output []spatialmath.AABB
	if t.nodesUsed == 0 {
		return output
	}
	stack := []int{0}
	for len(stack) > 0 {
		index := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &t.nodes[index]
		if !box.Overlaps(node.box) {
			continue
		}
		if node.isLeaf() {
			output = append(output, node.box)
		} else {
			stack = append(stack, node.first, node.first+1)
		}
	}
	return output
}

// QueryTree descends both trees in lockstep and returns the leaf boxes of
// every overlapping leaf pair, the caller's first. Narrow-phase testing of
// the triangles under those leaves is up to the caller.
func (t *StaticTree) QueryTree(other *StaticTree) []spatialmath.AABB {
	var output []spatialmath.AABB
	if t.nodesUsed == 0 || other.nodesUsed == 0 {
		return output
	}

	type indexPair struct {
		mine   int
		theirs int
	}
	stack := []indexPair{{0, 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		mine := &t.nodes[top.mine]
		theirs := &other.nodes[top.theirs]
		if !mine.box.Overlaps(theirs.box) {
			continue
		}

		switch {
		case !mine.isLeaf() && !theirs.isLeaf():
			stack = append(stack,
				indexPair{mine.first, theirs.first},
				indexPair{mine.first + 1, theirs.first},
				indexPair{mine.first, theirs.first + 1},
				indexPair{mine.first + 1, theirs.first + 1})
		case mine.isLeaf() && !theirs.isLeaf():
			stack = append(stack,
				indexPair{top.mine, theirs.first},
				indexPair{top.mine, theirs.first + 1})
		case !mine.isLeaf():
			stack = append(stack,
				indexPair{mine.first, top.theirs},
				indexPair{mine.first + 1, top.theirs})
		default:
			output = append(output, mine.box, theirs.box)
		}
	}
	return output
}

// Boxes enumerates the boxes of every used node, or only the leaves. A
// debug aid for visualizing the tree.
func (t *StaticTree) Boxes(leafOnly bool) []spatialmath.AABB {
	var output []spatialmath.AABB
	for i := 0; i < t.nodesUsed; i++ {
		if !leafOnly || t.nodes[i].isLeaf() {
			output = append(output, t.nodes[i].box)
		}
	}
	return output
}

// TransformedBoxes is Boxes with each node's corners transformed by the
// given 4x4 model matrix before emission.
func (t *StaticTree) TransformedBoxes(model mat.Matrix, leafOnly bool) []spatialmath.AABB {
	var output []spatialmath.AABB
	for i := 0; i < t.nodesUsed; i++ {
		if !leafOnly || t.nodes[i].isLeaf() {
			output = append(output, spatialmath.NewAABB(
				transformPoint(model, t.nodes[i].box.Min),
				transformPoint(model, t.nodes[i].box.Max),
			))
		}
	}
	return output
}

func transformPoint(m mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// subdivide refits the node's box over its triangle range and, when the SAH
// says splitting pays, partitions the range and hands both children back to
// the pool.
func (t *StaticTree) subdivide(index int) {
	t.refitNode(index)

	node := &t.nodes[index]
	if node.triCount <= triLimit {
		return
	}

	axis, splitPos, splitCost := t.findBestSplit(index)
	if splitCost >= node.box.SurfaceArea()*float64(node.triCount) {
		return
	}

	// two-pointer partition of the node's triIdx range around splitPos
	begin := node.first
	end := node.first + node.triCount - 1
	for begin <= end {
		if spatialmath.Component(t.centroids[t.triIdx[begin]], axis) <= splitPos {
			begin++
		} else {
			t.triIdx[begin], t.triIdx[end] = t.triIdx[end], t.triIdx[begin]
			end--
		}
	}

	leftCount := begin - node.first
	if leftCount == 0 || leftCount == node.triCount {
		return
	}

	// one critical section for both children keeps sibling indices
	// consecutive; nodesUsed is the only counter shared across workers
	t.mu.Lock()
	left := t.nodesUsed
	right := t.nodesUsed + 1
	t.nodesUsed += 2
	t.mu.Unlock()

	t.nodes[left] = staticNode{first: node.first, triCount: leftCount}
	t.nodes[right] = staticNode{first: begin, triCount: node.triCount - leftCount}

	node.first = left
	node.triCount = 0

	t.pool.Queue(func() { t.subdivide(left) })
	t.pool.Queue(func() { t.subdivide(right) })
}

type splitBin struct {
	triCount int
	bounds   spatialmath.AABB
}

// findBestSplit evaluates binCount bins along each axis of the node's
// centroid bounds and returns the cheapest split plane. Axes with zero
// centroid extent are skipped; when every axis is degenerate the returned
// cost is +Inf, which the caller's early-out turns into a leaf.
func (t *StaticTree) findBestSplit(index int) (axis int, splitPos, cost float64) {
	node := &t.nodes[index]

	centroidBox := spatialmath.NewEmptyAABB()
	for i := node.first; i < node.first+node.triCount; i++ {
		centroidBox.IncludePoint(t.centroids[t.triIdx[i]])
	}

	bestCost := math.Inf(1)
	bestAxis, bestPos := -1, 0.0
	for currentAxis := 0; currentAxis < 3; currentAxis++ {
		lo := spatialmath.Component(centroidBox.Min, currentAxis)
		hi := spatialmath.Component(centroidBox.Max, currentAxis)
		extent := hi - lo
		if extent <= 0 {
			continue
		}

		var bins [binCount]splitBin
		for i := range bins {
			bins[i].bounds = spatialmath.NewEmptyAABB()
		}

		scale := float64(binCount) / extent
		for i := node.first; i < node.first+node.triCount; i++ {
			triIndex := t.triIdx[i]
			binIndex := int((spatialmath.Component(t.centroids[triIndex], currentAxis) - lo) * scale)
			if binIndex > binCount-1 {
				binIndex = binCount - 1
			}
			bins[binIndex].triCount++
			for _, p := range t.tris[triIndex].Points() {
				bins[binIndex].bounds.IncludePoint(p)
			}
		}

		// sweep both directions accumulating the box area and triangle
		// count on each side of every candidate plane
		var leftArea, rightArea [binCount - 1]float64
		var leftCount, rightCount [binCount - 1]int
		leftSum, rightSum := 0, 0
		leftBox, rightBox := spatialmath.NewEmptyAABB(), spatialmath.NewEmptyAABB()
		for i := 0; i < binCount-1; i++ {
			leftSum += bins[i].triCount
			leftCount[i] = leftSum
			if bins[i].triCount > 0 {
				leftBox.Include(bins[i].bounds)
			}
			leftBox.UpdateSurfaceArea()
			leftArea[i] = leftBox.SurfaceArea()

			rightSum += bins[binCount-1-i].triCount
			rightCount[binCount-2-i] = rightSum
			if bins[binCount-1-i].triCount > 0 {
				rightBox.Include(bins[binCount-1-i].bounds)
			}
			rightBox.UpdateSurfaceArea()
			rightArea[binCount-2-i] = rightBox.SurfaceArea()
		}

		step := extent / binCount
		for i := 0; i < binCount-1; i++ {
			if leftCount[i] == 0 || rightCount[i] == 0 {
				continue
			}
			planeCost := float64(leftCount[i])*leftArea[i] + float64(rightCount[i])*rightArea[i]
			if planeCost < bestCost {
				bestCost = planeCost
				bestAxis = currentAxis
				bestPos = lo + step*float64(i+1)
			}
		}
	}
	return bestAxis, bestPos, bestCost
}

// refitNode recomputes the node's box from the triangles in its range.
func (t *StaticTree) refitNode(index int) {
	node := &t.nodes[index]
	box := spatialmath.NewEmptyAABB()
	for i := node.first; i < node.first+node.triCount; i++ {
		for _, p := range t.tris[t.triIdx[i]].Points() {
			box.IncludePoint(p)
		}
	}
	box.UpdateSurfaceArea()
	node.box = box
}

// Validate walks the built tree checking its structural invariants: sibling
// indices are consecutive, internal boxes cover the merge of their children,
// leaf ranges tile triIdx, and triIdx is a permutation of the triangles.
// Intended for tests and debug builds.
func (t *StaticTree) Validate() error {
	if t.nodesUsed == 0 {
		return nil
	}

	seen := make([]bool, len(t.triIdx))
	stack := []int{0}
	for len(stack) > 0 {
		index := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &t.nodes[index]

		if node.isLeaf() {
			for i := node.first; i < node.first+node.triCount; i++ {
				triIndex := t.triIdx[i]
				if triIndex < 0 || triIndex >= len(t.tris) {
					return errors.Errorf("static tree: leaf %d references triangle %d out of range", index, triIndex)
				}
				if seen[triIndex] {
					return errors.Errorf("static tree: triangle %d appears twice in triIdx", triIndex)
				}
				seen[triIndex] = true
			}
			continue
		}

		left, right := node.first, node.first+1
		if right >= t.nodesUsed {
			return errors.Errorf("static tree: node %d child %d beyond used nodes", index, right)
		}
		merged := spatialmath.Merge(t.nodes[left].box, t.nodes[right].box)
		if !almostEqualVec(node.box.Min, merged.Min) || !almostEqualVec(node.box.Max, merged.Max) {
			return errors.Errorf("static tree: node %d box does not equal the merge of its children", index)
		}
		stack = append(stack, left, right)
	}

	for i, ok := range seen {
		if !ok {
			return errors.Errorf("static tree: triangle %d missing from triIdx", i)
		}
	}
	return nil
}
