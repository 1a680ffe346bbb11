// Package temporal provides the bitemporal axis and interval algebra used to
// project a single consistent snapshot of the knowledge graph and to
// propagate validity windows while traversing it.
//
// Every entity vertex and every entity-to-entity edge carries two time axes:
// decision time and transaction time. A query pins one axis to a single
// timestamp (the snapshot) and leaves the other as a right-bounded interval
// that narrows as traversal crosses edges.
package temporal

import (
	"errors"
	"time"
)

// Axis names one of the two temporal dimensions tracked per entity/edge.
type Axis int

const (
	// DecisionTime is the axis recording when a fact was decided to be true.
	DecisionTime Axis = iota
	// TransactionTime is the axis recording when a fact was recorded in the store.
	TransactionTime
)

// String renders the axis the way it appears in column names and logs.
func (a Axis) String() string {
	switch a {
	case DecisionTime:
		return "decision_time"
	case TransactionTime:
		return "transaction_time"
	default:
		return "unknown_axis"
	}
}

// Other returns the axis not named by a. A query pins one axis and carries
// the other as the variable interval.
func (a Axis) Other() Axis {
	if a == DecisionTime {
		return TransactionTime
	}

	return DecisionTime
}

// Static errors for interval construction.
var (
	// ErrEndBeforeStart is returned when a bounded interval's end precedes its start.
	ErrEndBeforeStart = errors.New("temporal: interval end precedes start")
)

// Interval is a right-bounded range on a single time axis. A nil End means
// unbounded ("still open"). Bounds may be inclusive or exclusive
// independently, matching the half-open ranges used by the backing store's
// tstzrange columns (typically `[start, end)`).
type Interval struct {
	Start          time.Time
	End            *time.Time
	StartInclusive bool
	EndInclusive   bool
}

// NewInterval builds a right-bounded interval, defaulting to the common
// `[start, end)` shape used throughout the store's temporal metadata tables.
func NewInterval(start time.Time, end *time.Time) (Interval, error) {
	if end != nil && end.Before(start) {
		return Interval{}, ErrEndBeforeStart
	}

	return Interval{
		Start:          start,
		End:            end,
		StartInclusive: true,
		EndInclusive:   false,
	}, nil
}

// Unbounded builds an interval starting at start with no upper bound.
func Unbounded(start time.Time) Interval {
	return Interval{Start: start, StartInclusive: true, EndInclusive: false}
}

// Contains reports whether t falls within the interval.
func (i Interval) Contains(t time.Time) bool {
	switch {
	case t.Before(i.Start):
		return false
	case t.Equal(i.Start):
		if !i.StartInclusive {
			return false
		}
	}

	if i.End == nil {
		return true
	}

	switch {
	case t.After(*i.End):
		return false
	case t.Equal(*i.End):
		return i.EndInclusive
	default:
		return true
	}
}

// Overlaps reports whether the two intervals share at least one instant.
func (i Interval) Overlaps(other Interval) bool {
	_, ok := i.Intersect(other)

	return ok
}

// Intersect returns the interval common to both i and other, or false if
// they share no instant. An empty intersection is the signal the layered
// traversal driver uses to drop a successor path (spec invariant 2).
func (i Interval) Intersect(other Interval) (Interval, bool) {
	start := i.Start
	startInclusive := i.StartInclusive

	switch {
	case other.Start.After(start):
		start = other.Start
		startInclusive = other.StartInclusive
	case other.Start.Equal(start):
		startInclusive = startInclusive && other.StartInclusive
	}

	end, endInclusive := i.End, i.EndInclusive

	switch {
	case other.End == nil:
		// keep i's end
	case end == nil:
		end, endInclusive = other.End, other.EndInclusive
	case other.End.Before(*end):
		end, endInclusive = other.End, other.EndInclusive
	case other.End.Equal(*end):
		endInclusive = endInclusive && other.EndInclusive
	}

	if end != nil {
		if end.Before(start) {
			return Interval{}, false
		}

		if end.Equal(start) && !(startInclusive && endInclusive) {
			return Interval{}, false
		}
	}

	return Interval{
		Start:          start,
		End:            end,
		StartInclusive: startInclusive,
		EndInclusive:   endInclusive,
	}, true
}

// LowerBound returns the interval's start instant. The layered traversal
// driver installs this value as an entity vertex's revision id: an entity is
// identified, within a subgraph, by the lower bound of the variable interval
// under which it was reached (spec §4.2).
func (i Interval) LowerBound() time.Time {
	return i.Start
}

// QueryTemporalAxes is the resolved temporal projection for a single query:
// a pinned snapshot instant plus the interval carried along the other axis.
type QueryTemporalAxes struct {
	Pinned       time.Time
	Variable     Interval
	VariableAxis Axis
}

// PinnedAxis returns the axis held fixed at Pinned for this query.
func (a QueryTemporalAxes) PinnedAxis() Axis {
	return a.VariableAxis.Other()
}

// UnresolvedQueryTemporalAxes is the public request shape before the pinned
// timestamp defaults (e.g. "now") have been applied.
type UnresolvedQueryTemporalAxes struct {
	VariableAxis Axis
	Pinned       *time.Time
	VariableEnd  *time.Time
}

// Resolve fixes defaults: a nil Pinned resolves to now, a nil VariableEnd
// leaves the variable interval open-ended starting at the pinned instant.
func (u UnresolvedQueryTemporalAxes) Resolve(now time.Time) QueryTemporalAxes {
	pinned := now
	if u.Pinned != nil {
		pinned = *u.Pinned
	}

	variable := Unbounded(pinned)
	if u.VariableEnd != nil {
		variable.End = u.VariableEnd
	}

	return QueryTemporalAxes{
		Pinned:       pinned,
		Variable:     variable,
		VariableAxis: u.VariableAxis,
	}
}
