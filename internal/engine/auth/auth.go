// Package auth holds the typed authorization errors the engine raises when
// an actor acts outside their role on a contract.
package auth

import "fmt"

// ForbiddenError marks an operation the acting identity may not perform.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}
