package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Triangle is a triangle in 3D space with a cached centroid. Triangles are
// immutable once constructed and cheap to copy.
type Triangle struct {
	p0 r3.Vector
	p1 r3.Vector
	p2 r3.Vector

	centroid r3.Vector
}

// NewTriangle creates a Triangle from its three vertices, caching the
// centroid (the arithmetic mean of the vertices).
func NewTriangle(p0, p1, p2 r3.Vector) Triangle {
	return Triangle{
		p0:       p0,
		p1:       p1,
		p2:       p2,
		centroid: p0.Add(p1).Add(p2).Mul(1.0 / 3.0),
	}
}

// Points returns the three vertices of the triangle.
func (t Triangle) Points() [3]r3.Vector {
	return [3]r3.Vector{t.p0, t.p1, t.p2}
}

// Centroid returns the cached centroid of the triangle.
func (t Triangle) Centroid() r3.Vector {
	return t.centroid
}

// Bounds returns the axis-aligned bounding box of the triangle with a valid
// surface area.
func (t Triangle) Bounds() AABB {
	box := NewEmptyAABB()
	box.IncludePoint(t.p0)
	box.IncludePoint(t.p1)
	box.IncludePoint(t.p2)
	box.UpdateSurfaceArea()
	return box
}
