package graphstore

import "errors"

// ErrQueryError is returned when the backing store fails transport-level or
// a returned identifier fails to parse (spec §4.5 "Fails with").
var ErrQueryError = errors.New("graphstore: query error")
