// Package depths implements the resolve-depth vector: the four-component
// traversal budget that makes this engine's breadth-first expansion a
// multi-dimensional decrement rather than a single scalar countdown
// (spec §4.1 "Rationale").
package depths

import "github.com/vertexgraph/graphd/internal/vertex"

// Vector holds one saturating-at-zero counter per target vertex kind. The
// zero value is the all-zero vector used by the "zero-depth identity"
// property (spec §8 property 6): a query with all depths zero returns
// exactly the roots and no edges.
type Vector struct {
	DataTypeDepth     uint
	PropertyTypeDepth uint
	EntityTypeDepth   uint
	EntityDepth       uint
}

// Decrement returns a copy of v with the counter consumed by kind reduced by
// one, or (zero value, false) if that counter is already zero. No other
// component changes. Decrement never mutates v.
func (v Vector) Decrement(kind vertex.EdgeKind) (Vector, bool) {
	if v.IsZeroFor(kind) {
		return Vector{}, false
	}

	next := v

	switch kind.TargetKind() {
	case vertex.KindDataType:
		next.DataTypeDepth--
	case vertex.KindPropertyType:
		next.PropertyTypeDepth--
	case vertex.KindEntityType:
		next.EntityTypeDepth--
	case vertex.KindEntity:
		next.EntityDepth--
	}

	return next, true
}

// IsZeroFor reports whether the counter consumed by kind is zero, i.e.
// traversal along that edge kind is exhausted for this vector.
func (v Vector) IsZeroFor(kind vertex.EdgeKind) bool {
	switch kind.TargetKind() {
	case vertex.KindDataType:
		return v.DataTypeDepth == 0
	case vertex.KindPropertyType:
		return v.PropertyTypeDepth == 0
	case vertex.KindEntityType:
		return v.EntityTypeDepth == 0
	case vertex.KindEntity:
		return v.EntityDepth == 0
	default:
		return true
	}
}

// CounterFor returns the counter value consumed by kind, for logging and
// tests.
func (v Vector) CounterFor(kind vertex.EdgeKind) uint {
	switch kind.TargetKind() {
	case vertex.KindDataType:
		return v.DataTypeDepth
	case vertex.KindPropertyType:
		return v.PropertyTypeDepth
	case vertex.KindEntityType:
		return v.EntityTypeDepth
	case vertex.KindEntity:
		return v.EntityDepth
	default:
		return 0
	}
}

// IsZero reports whether every counter is zero.
func (v Vector) IsZero() bool {
	return v.DataTypeDepth == 0 && v.PropertyTypeDepth == 0 &&
		v.EntityTypeDepth == 0 && v.EntityDepth == 0
}

// Dominates reports whether v is componentwise greater-than-or-equal-to
// other. Used by the traversal context to enforce spec invariant 1 ("no
// depth regression"): a vertex is re-scheduled only if the new vector is NOT
// dominated by a prior scheduling.
func (v Vector) Dominates(other Vector) bool {
	return v.DataTypeDepth >= other.DataTypeDepth &&
		v.PropertyTypeDepth >= other.PropertyTypeDepth &&
		v.EntityTypeDepth >= other.EntityTypeDepth &&
		v.EntityDepth >= other.EntityDepth
}
