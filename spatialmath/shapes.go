package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Ordered list of unit cube corners.
var cubeVertices = [8]r3.Vector{
	{X: 1, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: -1},
	{X: 1, Y: -1, Z: 1},
	{X: 1, Y: -1, Z: -1},
	{X: -1, Y: 1, Z: 1},
	{X: -1, Y: 1, Z: -1},
	{X: -1, Y: -1, Z: 1},
	{X: -1, Y: -1, Z: -1},
}

// The sets of indices of the cube corners that tile the cube exterior.
var cubeTriangles = [12][3]uint32{
	{0, 1, 3},
	{0, 2, 3},
	{0, 1, 5},
	{0, 4, 5},
	{0, 2, 6},
	{0, 4, 6},
	{7, 1, 3},
	{7, 2, 3},
	{7, 1, 5},
	{7, 4, 5},
	{7, 2, 6},
	{7, 4, 6},
}

// CubeMesh returns the vertex and index buffers of a unit cube centered at
// the origin, 12 triangles over 8 vertices.
func CubeMesh() ([]r3.Vector, []uint32) {
	vertices := make([]r3.Vector, len(cubeVertices))
	for i, v := range cubeVertices {
		vertices[i] = v.Mul(0.5)
	}
	indices := make([]uint32, 0, len(cubeTriangles)*3)
	for _, tri := range cubeTriangles {
		indices = append(indices, tri[0], tri[1], tri[2])
	}
	return vertices, indices
}

// PlaneMesh returns the vertex and index buffers of a unit square in the XZ
// plane centered at the origin, two triangles over 4 vertices.
func PlaneMesh() ([]r3.Vector, []uint32) {
	vertices := []r3.Vector{
		{X: -0.5, Y: 0, Z: -0.5},
		{X: 0.5, Y: 0, Z: -0.5},
		{X: 0.5, Y: 0, Z: 0.5},
		{X: -0.5, Y: 0, Z: 0.5},
	}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	return vertices, indices
}
