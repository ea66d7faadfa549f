package lifecycle

import (
	"testing"
	"time"

	"transferdesk/internal/models"
)

func TestCanApply(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from models.RequestStatus
		t    Transition
		ok   bool
	}{
		{models.RequestStatusPending, TransitionStartReview, true},
		{models.RequestStatusPending, TransitionApprove, true},
		{models.RequestStatusPending, TransitionReject, true},
		{models.RequestStatusPending, TransitionComplete, false},
		{models.RequestStatusUnderReview, TransitionStartReview, false},
		{models.RequestStatusUnderReview, TransitionApprove, true},
		{models.RequestStatusUnderReview, TransitionReject, true},
		{models.RequestStatusApproved, TransitionComplete, true},
		{models.RequestStatusApproved, TransitionReject, false},
		{models.RequestStatusRejected, TransitionApprove, false},
		{models.RequestStatusRejected, TransitionComplete, false},
		{models.RequestStatusCompleted, TransitionReject, false},
		{models.RequestStatusCompleted, TransitionStartReview, false},
	}

	for _, tc := range cases {
		if got := CanApply(tc.from, tc.t); got != tc.ok {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tc.from, tc.t, got, tc.ok)
		}
	}
}

func TestTargets(t *testing.T) {
	t.Parallel()

	if Target(TransitionStartReview) != models.RequestStatusUnderReview {
		t.Error("start_review should land in Under Review")
	}
	if Target(TransitionApprove) != models.RequestStatusApproved {
		t.Error("approve should land in Approved")
	}
	if Target(TransitionReject) != models.RequestStatusRejected {
		t.Error("reject should land in Rejected")
	}
	if Target(TransitionComplete) != models.RequestStatusCompleted {
		t.Error("complete should land in Completed")
	}
}

func TestParseTransition(t *testing.T) {
	t.Parallel()

	for _, action := range []string{"start_review", "approve", "reject", "complete"} {
		tr, appErr := ParseTransition(action)
		if appErr != nil {
			t.Fatalf("parse %q: %v", action, appErr)
		}
		if string(tr) != action {
			t.Fatalf("parse %q returned %q", action, tr)
		}
	}

	if _, appErr := ParseTransition("escalate"); appErr == nil || appErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for unknown action, got %v", appErr)
	}
}

func TestCheckActor(t *testing.T) {
	t.Parallel()

	broker := models.Actor{ID: 1, Role: models.RoleBroker}
	if appErr := CheckActor(broker, TransitionApprove); appErr == nil || appErr.Code != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED for broker, got %v", appErr)
	}

	for _, role := range []models.Role{models.RoleAdmin, models.RoleSuperadmin, models.RoleTransferTeam} {
		if appErr := CheckActor(models.Actor{ID: 2, Role: role}, TransitionReject); appErr != nil {
			t.Fatalf("expected %s to pass, got %v", role, appErr)
		}
	}
}

func TestCheckReason(t *testing.T) {
	t.Parallel()

	if appErr := CheckReason(TransitionReject, ""); appErr == nil {
		t.Fatal("expected error for empty rejection reason")
	}
	if appErr := CheckReason(TransitionReject, "  ab  "); appErr == nil {
		t.Fatal("expected error for near-empty rejection reason")
	}
	if appErr := CheckReason(TransitionReject, "missing medallion"); appErr != nil {
		t.Fatalf("expected valid reason to pass, got %v", appErr)
	}
	// Other transitions carry no reason.
	if appErr := CheckReason(TransitionApprove, ""); appErr != nil {
		t.Fatalf("approve should not require a reason, got %v", appErr)
	}
}

func TestStamp_SetOnce(t *testing.T) {
	t.Parallel()

	req := &models.TransferRequest{}
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	if !Stamp(req, models.RequestStatusApproved, first) {
		t.Fatal("expected first stamp to write")
	}
	if req.ApprovedAt == nil || !req.ApprovedAt.Equal(first) {
		t.Fatalf("expected approved_at %v, got %v", first, req.ApprovedAt)
	}

	if Stamp(req, models.RequestStatusApproved, later) {
		t.Fatal("expected replayed stamp to be a no-op")
	}
	if !req.ApprovedAt.Equal(first) {
		t.Fatalf("approved_at overwritten: %v", req.ApprovedAt)
	}

	// Pending has no timestamp field.
	if Stamp(req, models.RequestStatusPending, later) {
		t.Fatal("expected no stamp for Pending")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	reviewer := models.Actor{ID: 2, Role: models.RoleAdmin}
	req := &models.TransferRequest{Status: models.RequestStatusApproved}

	if appErr := Check(req, reviewer, TransitionComplete, ""); appErr != nil {
		t.Fatalf("expected complete from Approved to pass, got %v", appErr)
	}
	if appErr := Check(req, reviewer, TransitionReject, "good reason here"); appErr == nil {
		t.Fatal("expected reject from Approved to fail")
	}
}
