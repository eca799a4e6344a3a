package bvh

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/parallax3d/parallax/spatialmath"
)

func cubeAt(center r3.Vector, half float64) spatialmath.AABB {
	offset := r3.Vector{X: half, Y: half, Z: half}
	return spatialmath.NewAABB(center.Sub(offset), center.Add(offset))
}

// pairSet normalizes unordered pairs for set comparison.
func pairSet(pairs []Pair[uint32]) map[Pair[uint32]]bool {
	set := make(map[Pair[uint32]]bool, len(pairs))
	for _, p := range pairs {
		a, b := p.A, p.B
		if a > b {
			a, b = b, a
		}
		set[Pair[uint32]{a, b}] = true
	}
	return set
}

func bruteForcePairs(boxes map[uint32]spatialmath.AABB) map[Pair[uint32]]bool {
	set := make(map[Pair[uint32]]bool)
	for h1, b1 := range boxes {
		for h2, b2 := range boxes {
			if h1 >= h2 {
				continue
			}
			if b1.Overlaps(b2) {
				set[Pair[uint32]{h1, h2}] = true
			}
		}
	}
	return set
}

func TestDynamicTreeEmpty(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	test.That(t, tree.Len(), test.ShouldEqual, 0)
	test.That(t, tree.ComputeCollisionPairs(), test.ShouldBeEmpty)
	test.That(t, tree.AllBoxes(true), test.ShouldBeEmpty)
	test.That(t, tree.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeSingleLeaf(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	tree.Insert(7, cubeAt(r3.Vector{}, 1))
	test.That(t, tree.Len(), test.ShouldEqual, 1)
	test.That(t, tree.ComputeCollisionPairs(), test.ShouldBeEmpty)
	test.That(t, len(tree.AllBoxes(true)), test.ShouldEqual, 1)
	test.That(t, tree.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeTwoOverlappingCubes(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	tree.Insert(1, spatialmath.NewAABB(r3.Vector{}, r3.Vector{X: 2, Y: 2, Z: 2}))
	tree.Insert(2, spatialmath.NewAABB(r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{X: 3, Y: 3, Z: 3}))

	pairs := tree.ComputeCollisionPairs()
	test.That(t, len(pairs), test.ShouldEqual, 1)
	test.That(t, pairSet(pairs), test.ShouldResemble, map[Pair[uint32]]bool{{1, 2}: true})
	test.That(t, tree.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeThreeBodyLine(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	tree.Insert(1, cubeAt(r3.Vector{X: 0}, 1))
	tree.Insert(2, cubeAt(r3.Vector{X: 10}, 1))
	tree.Insert(3, cubeAt(r3.Vector{X: 20}, 1))
	test.That(t, tree.ComputeCollisionPairs(), test.ShouldBeEmpty)

	// moved, but still overlapping neither neighbor
	tree.Update(2, cubeAt(r3.Vector{X: 10.5}, 1))
	test.That(t, tree.ComputeCollisionPairs(), test.ShouldBeEmpty)
	test.That(t, tree.Validate(), test.ShouldBeNil)

	tree.Update(1, cubeAt(r3.Vector{X: 9.2}, 1))
	pairs := tree.ComputeCollisionPairs()
	test.That(t, pairSet(pairs), test.ShouldResemble, map[Pair[uint32]]bool{{1, 2}: true})
	test.That(t, tree.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeRotationTrigger(t *testing.T) {
	// a degenerate skyscraper of leaves would be a linked list without
	// rotations; the balance invariant must hold after every insert
	tree := NewDynamicTree[uint32](1)
	for i := 0; i < 8; i++ {
		tree.Insert(uint32(i), cubeAt(r3.Vector{Y: float64(i)}, 0.4))
		test.That(t, tree.Validate(), test.ShouldBeNil)
	}
	test.That(t, tree.Len(), test.ShouldEqual, 8)
}

func TestDynamicTreeInsertRemoveRestoresHandles(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	tree.Insert(1, cubeAt(r3.Vector{X: 0}, 1))
	tree.Insert(2, cubeAt(r3.Vector{X: 5}, 1))
	before := pairSet(tree.ComputeCollisionPairs())

	tree.Insert(3, cubeAt(r3.Vector{X: 2.5}, 1))
	tree.Remove(3)

	test.That(t, tree.Len(), test.ShouldEqual, 2)
	test.That(t, pairSet(tree.ComputeCollisionPairs()), test.ShouldResemble, before)
	test.That(t, tree.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeUpdateEquivalence(t *testing.T) {
	seed := rand.New(rand.NewSource(7))
	boxes := make(map[uint32]spatialmath.AABB)

	updated := NewDynamicTree[uint32](1)
	reinserted := NewDynamicTree[uint32](1)
	for i := uint32(0); i < 30; i++ {
		box := cubeAt(r3.Vector{
			X: seed.Float64() * 20,
			Y: seed.Float64() * 20,
			Z: seed.Float64() * 20,
		}, 1)
		boxes[i] = box
		updated.Insert(i, box)
		reinserted.Insert(i, box)
	}
	for i := uint32(0); i < 30; i += 3 {
		box := cubeAt(r3.Vector{
			X: seed.Float64() * 20,
			Y: seed.Float64() * 20,
			Z: seed.Float64() * 20,
		}, 1)
		boxes[i] = box
		updated.Update(i, box)
		reinserted.Remove(i)
		reinserted.Insert(i, box)
	}

	want := bruteForcePairs(boxes)
	test.That(t, pairSet(updated.ComputeCollisionPairs()), test.ShouldResemble, want)
	test.That(t, pairSet(reinserted.ComputeCollisionPairs()), test.ShouldResemble, want)
	test.That(t, updated.Validate(), test.ShouldBeNil)
	test.That(t, reinserted.Validate(), test.ShouldBeNil)
}

func TestDynamicTreeMatchesBruteForce(t *testing.T) {
	seed := rand.New(rand.NewSource(42))
	tree := NewDynamicTree[uint32](4)
	boxes := make(map[uint32]spatialmath.AABB)

	for i := uint32(0); i < 120; i++ {
		box := cubeAt(r3.Vector{
			X: seed.Float64() * 25,
			Y: seed.Float64() * 25,
			Z: seed.Float64() * 25,
		}, 0.5+seed.Float64())
		boxes[i] = box
		tree.Insert(i, box)
	}
	test.That(t, tree.Validate(), test.ShouldBeNil)

	got := pairSet(tree.ComputeCollisionPairs())
	test.That(t, got, test.ShouldResemble, bruteForcePairs(boxes))

	// churn some leaves out and back in
	for i := uint32(0); i < 120; i += 4 {
		tree.Remove(i)
		delete(boxes, i)
	}
	test.That(t, tree.Validate(), test.ShouldBeNil)
	test.That(t, pairSet(tree.ComputeCollisionPairs()), test.ShouldResemble, bruteForcePairs(boxes))
}

func TestDynamicTreePairsAreDeterministic(t *testing.T) {
	build := func() []Pair[uint32] {
		tree := NewDynamicTree[uint32](2)
		for i := uint32(0); i < 20; i++ {
			tree.Insert(i, cubeAt(r3.Vector{X: float64(i) * 0.75}, 1))
		}
		return tree.ComputeCollisionPairs()
	}
	test.That(t, build(), test.ShouldResemble, build())
}

func TestDynamicTreeBoundingBox(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	box := cubeAt(r3.Vector{X: 3}, 1)
	tree.Insert(9, box)
	got := tree.BoundingBox(9)
	test.That(t, got.Min, test.ShouldResemble, box.Min)
	test.That(t, got.Max, test.ShouldResemble, box.Max)
}

func TestDynamicTreeAllBoxes(t *testing.T) {
	tree := NewDynamicTree[uint32](1)
	for i := uint32(0); i < 5; i++ {
		tree.Insert(i, cubeAt(r3.Vector{X: float64(i) * 3}, 1))
	}
	// 5 leaves and 4 internal nodes
	test.That(t, len(tree.AllBoxes(true)), test.ShouldEqual, 5)
	test.That(t, len(tree.AllBoxes(false)), test.ShouldEqual, 9)
}

func TestDynamicTreeArenaGrowth(t *testing.T) {
	// capacity 1 forces repeated doubling; indices must stay stable
	tree := NewDynamicTree[uint32](1)
	boxes := make(map[uint32]spatialmath.AABB)
	for i := uint32(0); i < 64; i++ {
		box := cubeAt(r3.Vector{X: float64(i % 8), Y: float64(i / 8)}, 0.3)
		boxes[i] = box
		tree.Insert(i, box)
	}
	test.That(t, tree.Validate(), test.ShouldBeNil)
	test.That(t, pairSet(tree.ComputeCollisionPairs()), test.ShouldResemble, bruteForcePairs(boxes))
}

func TestDynamicTreeContractViolations(t *testing.T) {
	t.Run("double insert", func(t *testing.T) {
		tree := NewDynamicTree[uint32](1)
		tree.Insert(1, cubeAt(r3.Vector{}, 1))
		test.That(t, func() { tree.Insert(1, cubeAt(r3.Vector{}, 1)) }, test.ShouldPanic)
	})
	t.Run("remove absent", func(t *testing.T) {
		tree := NewDynamicTree[uint32](1)
		test.That(t, func() { tree.Remove(1) }, test.ShouldPanic)
	})
	t.Run("update absent", func(t *testing.T) {
		tree := NewDynamicTree[uint32](1)
		test.That(t, func() { tree.Update(1, cubeAt(r3.Vector{}, 1)) }, test.ShouldPanic)
	})
	t.Run("bounding box of absent", func(t *testing.T) {
		tree := NewDynamicTree[uint32](1)
		test.That(t, func() { tree.BoundingBox(1) }, test.ShouldPanic)
	})
}
