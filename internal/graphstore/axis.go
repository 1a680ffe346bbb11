package graphstore

import "github.com/vertexgraph/graphd/internal/temporal"

// axisColumns returns the start/end column name pair backing axis in every
// *_temporal_metadata table. Both tables carry the same decision_time_*/
// transaction_time_* column names, so one mapping serves ontology and
// entity reads alike.
func axisColumns(axis temporal.Axis) (start, end string) {
	if axis == temporal.TransactionTime {
		return "transaction_time_start", "transaction_time_end"
	}

	return "decision_time_start", "decision_time_end"
}
