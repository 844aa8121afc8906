package reconciler

import (
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"
)

// Operation names an action on a reconciliation for state gating
type Operation string

const (
	OpStart         Operation = "start"
	OpSync          Operation = "sync"
	OpAutoMatch     Operation = "auto-match"
	OpManualMatch   Operation = "manual-match"
	OpUnmatch       Operation = "unmatch"
	OpAddAdjustment Operation = "add an adjustment to"
	OpComplete      Operation = "complete"
	OpApprove       Operation = "approve"
)

// transitions maps each status to the only status it may advance to
var transitions = map[models.Status]models.Status{
	models.StatusDraft:      models.StatusInProgress,
	models.StatusInProgress: models.StatusCompleted,
	models.StatusCompleted:  models.StatusApproved,
}

// transitionOps names the operation that performs each transition
var transitionOps = map[Operation]models.Status{
	OpStart:    models.StatusInProgress,
	OpComplete: models.StatusCompleted,
	OpApprove:  models.StatusApproved,
}

// NextStatus returns the status that follows s, if any
func NextStatus(s models.Status) (models.Status, bool) {
	next, ok := transitions[s]
	return next, ok
}

// CheckOperation reports whether op is legal in status
func CheckOperation(status models.Status, op Operation) error {
	if status.IsTerminal() {
		return errors.InvalidStateError(errors.CodeImmutable, string(op), string(status))
	}

	if target, ok := transitionOps[op]; ok {
		if next, _ := NextStatus(status); next != target {
			return errors.InvalidStateError(errors.CodeIllegalTransition, string(op), string(status))
		}
		return nil
	}

	if op == OpAutoMatch && status != models.StatusDraft && status != models.StatusInProgress {
		return errors.InvalidStateError(errors.CodeOperationNotAllowed, string(op), string(status))
	}

	return nil
}

// Advance moves rec one step forward to the given status and stamps the
// matching timestamp. Skipping a status or moving backwards is refused.
func Advance(rec *models.Reconciliation, to models.Status, at time.Time) error {
	next, ok := NextStatus(rec.Status)
	if !ok || next != to {
		return errors.InvalidStateError(errors.CodeIllegalTransition, "move to "+string(to), string(rec.Status)).
			WithContext("target_status", string(to))
	}

	rec.Status = to
	switch to {
	case models.StatusCompleted:
		rec.CompletedAt = &at
	case models.StatusApproved:
		rec.ApprovedAt = &at
	}
	return nil
}

// advancesDraft reports whether a successful op moves a draft to in_progress
func advancesDraft(op Operation) bool {
	switch op {
	case OpAutoMatch, OpManualMatch, OpUnmatch, OpAddAdjustment:
		return true
	default:
		return false
	}
}
