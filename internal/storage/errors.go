package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrMainLineRunMissing is returned when an evaluation patch targets a main
// line run whose summary row does not exist. Evaluations are only created
// against an already-summarized main run, so this signals out-of-order or
// lost writes rather than a transient race.
type ErrMainLineRunMissing struct {
	LineRunID string
	Evaluator string
}

func (e *ErrMainLineRunMissing) Error() string {
	return fmt.Sprintf("storage: main line run %s not found while attaching evaluation %q", e.LineRunID, e.Evaluator)
}
