// Package physics drives the engine's broad-phase collision detection: it
// integrates rigid bodies, keeps their leaves in the dynamic tree current,
// and surfaces the overlapping pairs each tick. Narrow-phase contact
// generation is left to the host.
package physics

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/parallax3d/parallax/bvh"
	"github.com/parallax3d/parallax/logging"
	"github.com/parallax3d/parallax/spatialmath"
	"github.com/parallax3d/parallax/utils"
)

// Entity identifies an object registered with the system, typically an ECS
// entity id.
type Entity = uint32

const (
	gravity = -9.81

	// velocity retained per second of simulation
	damping = 0.9
)

// Rigidbody is the dynamic state of one simulated body. Forces accumulate
// between steps and are cleared after integration.
type Rigidbody struct {
	Position       r3.Vector
	LinearVelocity r3.Vector
	Force          r3.Vector
	InverseMass    float64
}

// System owns the dynamic tree and the rigid bodies registered with it. All
// methods must be called from a single goroutine; the tree itself is
// single-threaded.
type System struct {
	tree   *bvh.DynamicTree[Entity]
	bodies map[Entity]*Rigidbody
	boxes  map[Entity]spatialmath.AABB
	order  []Entity
	pairs  []bvh.Pair[Entity]

	pool   *utils.WorkerPool
	clock  clock.Clock
	logger logging.Logger
}

// NewSystem returns a system stepping on the wall clock.
func NewSystem(logger logging.Logger) *System {
	return NewSystemWithClock(logger, clock.New())
}

// NewSystemWithClock returns a system stepping on the given clock, which
// tests substitute with a mock.
func NewSystemWithClock(logger logging.Logger, clk clock.Clock) *System {
	if logger == nil {
		logger = logging.Global()
	}
	return &System{
		tree:   bvh.NewDynamicTree[Entity](1),
		bodies: make(map[Entity]*Rigidbody),
		boxes:  make(map[Entity]spatialmath.AABB),
		pool:   utils.NewWorkerPool(0),
		clock:  clk,
		logger: logger,
	}
}

// AddRigidbody registers a body with its world-space box and inserts its
// leaf into the tree. The entity must not already be registered.
func (s *System) AddRigidbody(entity Entity, body Rigidbody, box spatialmath.AABB) {
	if _, ok := s.bodies[entity]; ok {
		panic(errors.Errorf("physics: AddRigidbody: entity %d already registered", entity))
	}
	bodyCopy := body
	s.bodies[entity] = &bodyCopy
	s.boxes[entity] = box
	s.order = append(s.order, entity)
	s.tree.Insert(entity, box)
	s.logger.Debugf("rigidbody added for entity %d", entity)
}

// RemoveRigidbody removes the body and its leaf. The entity must be
// registered.
func (s *System) RemoveRigidbody(entity Entity) {
	if _, ok := s.bodies[entity]; !ok {
		panic(errors.Errorf("physics: RemoveRigidbody: entity %d not registered", entity))
	}
	delete(s.bodies, entity)
	delete(s.boxes, entity)
	for i, e := range s.order {
		if e == entity {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.tree.Remove(entity)
}

// Rigidbody returns the current state of the entity's body. The entity must
// be registered.
func (s *System) Rigidbody(entity Entity) Rigidbody {
	body, ok := s.bodies[entity]
	if !ok {
		panic(errors.Errorf("physics: Rigidbody: entity %d not registered", entity))
	}
	return *body
}

// BoundingBox returns the entity's current world-space box.
func (s *System) BoundingBox(entity Entity) spatialmath.AABB {
	return s.tree.BoundingBox(entity)
}

// Pairs returns the overlapping pairs found by the most recent Step.
func (s *System) Pairs() []bvh.Pair[Entity] {
	return s.pairs
}

// Tree exposes the dynamic tree for debug visualization.
func (s *System) Tree() *bvh.DynamicTree[Entity] {
	return s.tree
}

// Step advances the simulation by dt seconds: integrates each body under
// gravity and its accumulated force, damps velocity, moves its leaf, then
// recomputes the broad-phase pair set. Bodies integrate in registration
// order so a given input sequence is deterministic.
func (s *System) Step(dt float64) {
	for _, entity := range s.order {
		body := s.bodies[entity]

		oldPosition := body.Position
		body.Position = body.Position.Add(body.LinearVelocity.Mul(dt))

		acceleration := body.Force.Mul(body.InverseMass)
		acceleration.Y += gravity

		body.LinearVelocity = body.LinearVelocity.Add(acceleration.Mul(dt))
		body.LinearVelocity = body.LinearVelocity.Mul(math.Pow(damping, dt))
		body.Force = r3.Vector{}

		delta := body.Position.Sub(oldPosition)
		box := s.boxes[entity]
		box.Min = box.Min.Add(delta)
		box.Max = box.Max.Add(delta)
		box.UpdateSurfaceArea()
		s.boxes[entity] = box

		s.tree.Update(entity, box)
	}

	s.pairs = s.tree.ComputeCollisionPairs()
}

// Run steps the simulation at the given frequency until the context is
// canceled.
func (s *System) Run(ctx context.Context, hz float64) error {
	if hz <= 0 {
		return errors.Errorf("physics: Run: invalid frequency %v", hz)
	}
	dt := 1 / hz
	ticker := s.clock.Ticker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step(dt)
		}
	}
}

// BuildStaticScene builds one static tree per mesh of the level geometry,
// sharing the system's worker pool across the builds.
func (s *System) BuildStaticScene(ctx context.Context, meshes []bvh.MeshData) ([]*bvh.StaticTree, error) {
	return bvh.BuildAll(ctx, meshes, s.pool, s.logger)
}

// Close stops the system's worker pool. Any in-flight build must have
// finished first.
func (s *System) Close() error {
	var err error
	if s.pool.Busy() {
		err = multierr.Append(err, errors.New("physics: Close: worker pool still busy"))
	}
	err = multierr.Append(err, s.pool.Stop())
	return err
}
