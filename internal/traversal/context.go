package traversal

import "github.com/vertexgraph/graphd/internal/vertex"

// Context is the traversal-wide dedup set: it tracks which vertex ids have
// already been scheduled for expansion, keyed by kind so ontology and
// entity ids (which render to disjoint string spaces) never collide.
//
// Dedup happens at enqueue time, not expand time (spec §4.4 step 3, and
// spec §9's explicit instruction to keep this semantics verbatim): once a
// vertex id is marked scheduled, later discoveries of the same id are
// dropped before they ever reach a frontier, even if they carry a
// differently-shaped depth vector or interval.
type Context struct {
	scheduled map[vertex.Kind]map[string]vertex.ID
}

// NewContext returns an empty traversal context.
func NewContext() *Context {
	return &Context{scheduled: make(map[vertex.Kind]map[string]vertex.ID)}
}

// MarkScheduled records id as scheduled for kind and reports whether this
// call is the first time id has been seen for that kind. Callers enqueue a
// vertex into a next-layer frontier only when MarkScheduled returns true.
func (c *Context) MarkScheduled(kind vertex.Kind, id vertex.ID) bool {
	set, ok := c.scheduled[kind]
	if !ok {
		set = make(map[string]vertex.ID)
		c.scheduled[kind] = set
	}

	key := id.String()
	if _, seen := set[key]; seen {
		return false
	}

	set[key] = id

	return true
}

// IsScheduled reports whether id has already been marked scheduled for
// kind, without mutating the context.
func (c *Context) IsScheduled(kind vertex.Kind, id vertex.ID) bool {
	set, ok := c.scheduled[kind]
	if !ok {
		return false
	}

	_, seen := set[id.String()]

	return seen
}

// ScheduledCount returns the number of distinct vertex ids marked scheduled
// for kind, for tests and diagnostics.
func (c *Context) ScheduledCount(kind vertex.Kind) int {
	return len(c.scheduled[kind])
}

// ScheduledIDs returns every vertex id marked scheduled for kind, in no
// particular order. query.Service uses this after a traversal run settles
// to know exactly which payloads the Vertex Loader still needs to fetch.
func (c *Context) ScheduledIDs(kind vertex.Kind) []vertex.ID {
	set := c.scheduled[kind]
	ids := make([]vertex.ID, 0, len(set))

	for _, id := range set {
		ids = append(ids, id)
	}

	return ids
}
