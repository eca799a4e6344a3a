// Package bvh implements the engine's bounding-volume-hierarchy spatial
// indexes: a dynamic AABB tree over moving objects driving broad-phase
// collision detection, and a static SAH-built tree over triangle meshes
// serving region and tree-vs-tree queries.
package bvh
