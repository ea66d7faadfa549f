// Package lifecycle holds the authoritative transfer-request state machine:
// which status transitions are legal, who may apply them, and the set-once
// timestamp discipline each transition carries.
package lifecycle

import (
	"time"

	"transferdesk/internal/models"
	"transferdesk/internal/validation"
)

// Transition names a legal state-machine edge.
type Transition string

const (
	// TransitionStartReview moves Pending -> Under Review.
	TransitionStartReview Transition = "start_review"
	// TransitionApprove moves Under Review -> Approved. Through the token
	// path it also covers Pending -> Approved, since the emailed link is the
	// review.
	TransitionApprove Transition = "approve"
	// TransitionReject moves Pending or Under Review -> Rejected.
	TransitionReject Transition = "reject"
	// TransitionComplete moves Approved -> Completed; driven by the
	// downstream transaction-processing flow.
	TransitionComplete Transition = "complete"
)

// targets maps each transition to the status it lands in.
var targets = map[Transition]models.RequestStatus{
	TransitionStartReview: models.RequestStatusUnderReview,
	TransitionApprove:     models.RequestStatusApproved,
	TransitionReject:      models.RequestStatusRejected,
	TransitionComplete:    models.RequestStatusCompleted,
}

// sources maps each transition to the statuses it may leave from.
var sources = map[Transition][]models.RequestStatus{
	TransitionStartReview: {models.RequestStatusPending},
	TransitionApprove:     {models.RequestStatusPending, models.RequestStatusUnderReview},
	TransitionReject:      {models.RequestStatusPending, models.RequestStatusUnderReview},
	TransitionComplete:    {models.RequestStatusApproved},
}

// ParseTransition maps a wire action string to a transition.
func ParseTransition(action string) (Transition, *models.AppError) {
	switch action {
	case string(TransitionStartReview):
		return TransitionStartReview, nil
	case string(TransitionApprove):
		return TransitionApprove, nil
	case string(TransitionReject):
		return TransitionReject, nil
	case string(TransitionComplete):
		return TransitionComplete, nil
	}
	return "", models.NewValidationError("unknown action: " + action)
}

// Target returns the status the transition lands in.
func Target(t Transition) models.RequestStatus {
	return targets[t]
}

// SourceStatuses returns the statuses the transition may leave from. The
// slice doubles as the conditional-update predicate at the storage layer.
func SourceStatuses(t Transition) []models.RequestStatus {
	return sources[t]
}

// CanApply reports whether the transition is legal from the given status.
func CanApply(status models.RequestStatus, t Transition) bool {
	for _, from := range sources[t] {
		if from == status {
			return true
		}
	}
	return false
}

// CheckActor enforces role gating for a transition. Brokers never transition
// requests; reviewers transition any request. The broker-edit rule (own
// request, Pending only) is enforced by the store's update path, not here.
func CheckActor(actor models.Actor, t Transition) *models.AppError {
	if !actor.IsReviewer() {
		return models.NewAccessDeniedError("reviewer role required to act on transfer requests")
	}
	return nil
}

// CheckReason validates the rejection reason for reject transitions; other
// transitions carry no reason.
func CheckReason(t Transition, reason string) *models.AppError {
	if t != TransitionReject {
		return nil
	}
	if err := validation.ValidateRejectionReason(reason); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

// Stamp records first entry into a status: the matching timestamp is set iff
// not already set, so replaying a transition into a status the request
// already holds is a no-op rather than an overwrite. Reports whether the
// timestamp was written.
func Stamp(req *models.TransferRequest, status models.RequestStatus, now time.Time) bool {
	field := req.StatusTimestamp(status)
	if field == nil || *field != nil {
		return false
	}
	ts := now
	*field = &ts
	return true
}

// Check verifies a transition end to end: actor role, source status, and
// reason. It does not mutate the request.
func Check(req *models.TransferRequest, actor models.Actor, t Transition, reason string) *models.AppError {
	if appErr := CheckActor(actor, t); appErr != nil {
		return appErr
	}
	if appErr := CheckReason(t, reason); appErr != nil {
		return appErr
	}
	if !CanApply(req.Status, t) {
		return models.NewValidationError(
			"transfer request cannot move from " + string(req.Status) + " via " + string(t))
	}
	return nil
}
