package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transferdesk/internal/lifecycle"
	"transferdesk/internal/models"
	"transferdesk/internal/notifications"
	"transferdesk/internal/observability"
	"transferdesk/internal/token"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Transition applies a lifecycle transition through the authenticated path.
// Re-applying a transition into a status the request already holds is a
// no-op, not an error, so duplicate submissions (double clicks, retries)
// cannot corrupt timestamps.
func (s *RequestService) Transition(ctx context.Context, actor models.Actor, id uint, t lifecycle.Transition, reason string) (*models.TransferRequest, error) {
	var result models.TransferRequest

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.TransferRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Transfer request", id)
			}
			return err
		}

		// Issuer gate takes precedence over every other check. A rejection
		// creates no downstream transaction, so a pending issuer does not
		// block it.
		var issuer models.Issuer
		if err := tx.First(&issuer, req.IssuerID).Error; err != nil {
			return err
		}
		if appErr := issuer.AllowsWrite(t != lifecycle.TransitionReject); appErr != nil {
			return appErr
		}

		if appErr := lifecycle.CheckActor(actor, t); appErr != nil {
			return appErr
		}

		// Replay of an already-applied transition: leave the row untouched.
		if req.Status == lifecycle.Target(t) {
			result = req
			return nil
		}

		if appErr := lifecycle.Check(&req, actor, t, reason); appErr != nil {
			return appErr
		}

		actorID := actor.ID
		now := s.now()
		patch := transitionPatch(&req, t, &actorID, reason, now)

		res := tx.Model(&models.TransferRequest{}).
			Where("id = ? AND status IN ?", req.ID, lifecycle.SourceStatuses(t)).
			Updates(patch)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent caller won the conditional update.
			return models.NewValidationError("transfer request was modified concurrently; reload and retry")
		}

		if err := tx.Create(&models.Communication{
			RequestID:  req.ID,
			UserID:     &actorID,
			Message:    transitionMessage(&req, t, reason),
			IsInternal: t == lifecycle.TransitionReject,
		}).Error; err != nil {
			return err
		}

		return tx.First(&result, req.ID).Error
	})
	if txErr != nil {
		var appErr *models.AppError
		if errors.As(txErr, &appErr) {
			observability.RequestTransitions.WithLabelValues(string(t), "rejected").Inc()
			return nil, appErr
		}
		return nil, models.NewInternalError(txErr)
	}

	observability.RequestTransitions.WithLabelValues(string(t), "applied").Inc()
	s.afterTransition(ctx, &result, t, &actor.ID, reason)
	return &result, nil
}

// ResolveAction is the read half of the two-phase token protocol: it
// validates the token so the confirmation page knows what to render, but
// never consumes it. Idle preview clicks (mail client prefetch) therefore do
// not burn the one-time token.
func (s *RequestService) ResolveAction(ctx context.Context, requestPublicID, tokenValue, action string) (*models.TransferRequest, error) {
	if _, appErr := brokerActionTransition(action); appErr != nil {
		return nil, appErr
	}

	req, err := s.requests.GetByPublicID(ctx, requestPublicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Transfer request", requestPublicID)
		}
		return nil, models.NewInternalError(err)
	}

	if appErr := token.Verify(req, tokenValue, s.now()); appErr != nil {
		observability.TokenVerifications.WithLabelValues(appErr.Code).Inc()
		return nil, appErr
	}
	observability.TokenVerifications.WithLabelValues("valid").Inc()
	return req, nil
}

// ApplyAction is the write half: it verifies and consumes the token and
// applies the transition as one atomic unit. The conditional update is keyed
// on (id, token value, unused), so of two concurrent callers exactly one
// wins; the loser observes TokenAlreadyUsed. actorID is nil when the caller
// has no session; the token itself is the capability.
func (s *RequestService) ApplyAction(ctx context.Context, requestPublicID, tokenValue, action, reason string, actorID *uint) (*models.TransferRequest, error) {
	t, appErr := brokerActionTransition(action)
	if appErr != nil {
		return nil, appErr
	}

	var result models.TransferRequest

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.TransferRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("public_id = ?", requestPublicID).
			First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Transfer request", requestPublicID)
			}
			return err
		}

		// Issuer gate takes precedence even over a valid token. Rejecting
		// via the link is allowed while the issuer is still pending.
		var issuer models.Issuer
		if err := tx.First(&issuer, req.IssuerID).Error; err != nil {
			return err
		}
		if appErr := issuer.AllowsWrite(t != lifecycle.TransitionReject); appErr != nil {
			return appErr
		}

		now := s.now()
		if appErr := token.Verify(&req, tokenValue, now); appErr != nil {
			observability.TokenVerifications.WithLabelValues(appErr.Code).Inc()
			return appErr
		}

		if appErr := lifecycle.CheckReason(t, reason); appErr != nil {
			return appErr
		}
		if !lifecycle.CanApply(req.Status, t) {
			return models.NewValidationError(
				"transfer request cannot move from " + string(req.Status) + " via " + string(t))
		}

		patch := transitionPatch(&req, t, actorID, reason, now)
		patch["action_token_used_at"] = now

		// Token consumption and status change are one atomic conditional
		// write: a losing concurrent caller affects zero rows.
		res := tx.Model(&models.TransferRequest{}).
			Where("id = ? AND action_token = ? AND action_token_used_at IS NULL AND status IN ?",
				req.ID, tokenValue, lifecycle.SourceStatuses(t)).
			Updates(patch)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			observability.TokenVerifications.WithLabelValues("TOKEN_ALREADY_USED").Inc()
			return models.NewTokenAlreadyUsedError()
		}
		observability.TokenVerifications.WithLabelValues("consumed").Inc()

		auditAction := models.BrokerActionApprove
		if t == lifecycle.TransitionReject {
			auditAction = models.BrokerActionReject
		}
		if err := tx.Model(&models.BrokerRequestAction{}).
			Where("request_id = ? AND action = ?", req.ID, models.BrokerActionPending).
			Updates(map[string]interface{}{
				"action":          auditAction,
				"used_by_user_id": actorID,
				"used_at":         now,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.Communication{
			RequestID:  req.ID,
			UserID:     actorID,
			Message:    transitionMessage(&req, t, reason),
			IsInternal: t == lifecycle.TransitionReject,
		}).Error; err != nil {
			return err
		}

		return tx.First(&result, req.ID).Error
	})
	if txErr != nil {
		var appErr *models.AppError
		if errors.As(txErr, &appErr) {
			return nil, appErr
		}
		return nil, models.NewInternalError(txErr)
	}

	observability.RequestTransitions.WithLabelValues(string(t), "applied").Inc()
	s.afterTransition(ctx, &result, t, actorID, reason)
	return &result, nil
}

// SplitTransactionPayload is what the downstream transaction-processing flow
// receives when an approved broker-split request is executed: the originating
// request plus the compound split legs (debit units, credit class A shares,
// credit warrants or rights).
func SplitTransactionPayload(req *models.TransferRequest) map[string]interface{} {
	return map[string]interface{}{
		"request_id": req.PublicID,
		"legs": []map[string]interface{}{
			{"side": "debit", "cusip": req.UnitCusip, "quantity": req.UnitQuantity},
			{"side": "credit", "cusip": req.ClassACusip, "quantity": req.ClassAQuantity},
			{"side": "credit", "cusip": req.WarrantCusip, "quantity": req.WarrantQuantity},
		},
	}
}

// brokerActionTransition maps the email-link wire action to a transition.
// Action links only ever approve or reject.
func brokerActionTransition(action string) (lifecycle.Transition, *models.AppError) {
	switch action {
	case "approve":
		return lifecycle.TransitionApprove, nil
	case "reject":
		return lifecycle.TransitionReject, nil
	}
	return "", models.NewValidationError("action must be approve or reject")
}

// transitionPatch builds the column patch for a transition: the new status,
// the set-once timestamp (only when first entering the status), and the
// actor attribution columns.
func transitionPatch(req *models.TransferRequest, t lifecycle.Transition, actorID *uint, reason string, now time.Time) map[string]interface{} {
	target := lifecycle.Target(t)
	patch := map[string]interface{}{
		"status":     target,
		"updated_at": now,
	}

	if field := req.StatusTimestamp(target); field != nil && *field == nil {
		switch target {
		case models.RequestStatusUnderReview:
			patch["review_started_at"] = now
		case models.RequestStatusApproved:
			patch["approved_at"] = now
		case models.RequestStatusRejected:
			patch["rejected_at"] = now
		case models.RequestStatusCompleted:
			patch["completed_at"] = now
		}
	}

	switch t {
	case lifecycle.TransitionApprove:
		if actorID != nil {
			patch["approved_by_user_id"] = *actorID
		}
	case lifecycle.TransitionReject:
		if actorID != nil {
			patch["rejected_by_user_id"] = *actorID
		}
		patch["rejection_reason"] = reason
	}

	return patch
}

func transitionMessage(req *models.TransferRequest, t lifecycle.Transition, reason string) string {
	switch t {
	case lifecycle.TransitionStartReview:
		return fmt.Sprintf("Request %s moved to review.", req.RequestNumber)
	case lifecycle.TransitionApprove:
		return fmt.Sprintf("Request %s approved.", req.RequestNumber)
	case lifecycle.TransitionReject:
		return fmt.Sprintf("Request %s rejected: %s", req.RequestNumber, reason)
	case lifecycle.TransitionComplete:
		return fmt.Sprintf("Request %s completed by transaction processing.", req.RequestNumber)
	}
	return fmt.Sprintf("Request %s updated.", req.RequestNumber)
}

// afterTransition fires the best-effort side effects once the transition has
// committed. Rejection notifies the broker immediately; approval stays quiet
// until completion, when the downstream transaction has actually processed.
func (s *RequestService) afterTransition(ctx context.Context, req *models.TransferRequest, t lifecycle.Transition, actorID *uint, reason string) {
	switch t {
	case lifecycle.TransitionReject:
		s.notify(req, notifications.KindRejected, actorID, map[string]interface{}{
			"rejection_reason": reason,
		})
	case lifecycle.TransitionComplete:
		s.notify(req, notifications.KindCompleted, actorID, nil)
	case lifecycle.TransitionStartReview:
		s.notify(req, notifications.KindStartReview, actorID, nil)
	}
	s.publishAdmin(ctx, notifications.EventRequestReviewed, req)
}
