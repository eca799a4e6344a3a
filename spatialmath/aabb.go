// Package spatialmath defines the 3D math primitives shared by the engine's
// spatial indexes: axis-aligned bounding boxes, triangles, and simple shape
// generators.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// AABB is an axis-aligned bounding box defined by its min and max corners.
// The surface area of the box is cached; mutating operations that batch
// several IncludePoint calls must call UpdateSurfaceArea once at the end
// before the area is read.
type AABB struct {
	Min r3.Vector
	Max r3.Vector

	surfaceArea float64
}

// NewAABB returns a box spanning the given corners with its surface area
// cache refreshed.
func NewAABB(min, max r3.Vector) AABB {
	box := AABB{Min: min, Max: max}
	box.UpdateSurfaceArea()
	return box
}

// NewEmptyAABB returns the empty sentinel box, Min at +Inf and Max at -Inf,
// so that the first IncludePoint initializes both corners. Its surface area
// is not valid until at least one point has been included and the cache
// refreshed.
func NewEmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

// Merge returns the componentwise union of a and b with its surface area
// refreshed.
func Merge(a, b AABB) AABB {
	box := AABB{
		Min: r3.Vector{
			X: math.Min(a.Min.X, b.Min.X),
			Y: math.Min(a.Min.Y, b.Min.Y),
			Z: math.Min(a.Min.Z, b.Min.Z),
		},
		Max: r3.Vector{
			X: math.Max(a.Max.X, b.Max.X),
			Y: math.Max(a.Max.Y, b.Max.Y),
			Z: math.Max(a.Max.Z, b.Max.Z),
		},
	}
	box.UpdateSurfaceArea()
	return box
}

// IncludePoint expands the box to cover p. The surface area cache is left
// stale; callers refresh it with UpdateSurfaceArea after the last include.
func (a *AABB) IncludePoint(p r3.Vector) {
	a.Min.X = math.Min(a.Min.X, p.X)
	a.Min.Y = math.Min(a.Min.Y, p.Y)
	a.Min.Z = math.Min(a.Min.Z, p.Z)
	a.Max.X = math.Max(a.Max.X, p.X)
	a.Max.Y = math.Max(a.Max.Y, p.Y)
	a.Max.Z = math.Max(a.Max.Z, p.Z)
}

// Include expands the box to cover b. Like IncludePoint it does not refresh
// the surface area cache.
func (a *AABB) Include(b AABB) {
	a.IncludePoint(b.Min)
	a.IncludePoint(b.Max)
}

// Overlaps reports whether the two boxes overlap on all three axes. The
// comparison is inclusive, so boxes that merely touch collide.
func (a AABB) Overlaps(b AABB) bool {
	return a.Min.X <= b.Max.X && a.Max.X >= b.Min.X &&
		a.Min.Y <= b.Max.Y && a.Max.Y >= b.Min.Y &&
		a.Min.Z <= b.Max.Z && a.Max.Z >= b.Min.Z
}

// ContainsPoint reports whether p lies within the box, boundary included.
func (a AABB) ContainsPoint(p r3.Vector) bool {
	return p.X >= a.Min.X && p.X <= a.Max.X &&
		p.Y >= a.Min.Y && p.Y <= a.Max.Y &&
		p.Z >= a.Min.Z && p.Z <= a.Max.Z
}

// UpdateSurfaceArea recomputes the cached surface area from the current
// corners.
func (a *AABB) UpdateSurfaceArea() {
	d := a.Max.Sub(a.Min)
	a.surfaceArea = 2 * (d.X*d.Y + d.Y*d.Z + d.Z*d.X)
}

// SurfaceArea returns the cached surface area. The value may be zero or
// negative for a box still in its empty sentinel state.
func (a AABB) SurfaceArea() float64 {
	return a.surfaceArea
}

// Center returns the midpoint of the box.
func (a AABB) Center() r3.Vector {
	return a.Min.Add(a.Max).Mul(0.5)
}

// Component returns the given axis (0, 1, or 2) of v.
func Component(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
