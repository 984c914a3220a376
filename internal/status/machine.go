// Package status holds the lead handling workflow: which status changes an
// operator may request.
package status

import (
	"fmt"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/models"
)

var ErrIllegalTransition = apperrors.ErrIllegalTransition

// transitions lists every legal operator-initiated move. cancelled is a valid
// stored value but nothing here produces it, and nothing leaves it.
var transitions = map[models.Status]models.Status{
	models.StatusPending:   models.StatusContacted,
	models.StatusContacted: models.StatusCompleted,
}

func CanTransition(from, to models.Status) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// Check returns nil for a legal transition and a wrapped ErrIllegalTransition otherwise.
func Check(from, to models.Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrIllegalTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// NextAction is the single status an operator can move s to, if any.
func NextAction(s models.Status) (models.Status, bool) {
	next, ok := transitions[s]
	return next, ok
}

func IsTerminal(s models.Status) bool {
	_, ok := transitions[s]
	return !ok
}
