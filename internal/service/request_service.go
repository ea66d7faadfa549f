// Package service contains the business logic for the transfer request
// lifecycle: creation, role-scoped reads, field patches, and the state
// machine and token workflow that mutate request status.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transferdesk/internal/models"
	"transferdesk/internal/notifications"
	"transferdesk/internal/repository"
	"transferdesk/internal/token"
	"transferdesk/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestService owns every mutation of transfer requests. Handlers never
// touch request rows directly.
type RequestService struct {
	db         *gorm.DB
	requests   repository.RequestRepository
	comms      repository.CommunicationRepository
	users      repository.UserRepository
	issuers    repository.IssuerRepository
	dispatcher *notifications.Dispatcher
	events     *notifications.Events
	actionBase string

	// now is swappable for tests.
	now func() time.Time
}

// NewRequestService creates a RequestService with all dependencies. The
// dispatcher and events publisher may be nil; side effects are then skipped.
func NewRequestService(
	db *gorm.DB,
	requests repository.RequestRepository,
	comms repository.CommunicationRepository,
	users repository.UserRepository,
	issuers repository.IssuerRepository,
	dispatcher *notifications.Dispatcher,
	events *notifications.Events,
	actionBase string,
) *RequestService {
	return &RequestService{
		db:         db,
		requests:   requests,
		comms:      comms,
		users:      users,
		issuers:    issuers,
		dispatcher: dispatcher,
		events:     events,
		actionBase: actionBase,
		now:        time.Now,
	}
}

// CreateRequestInput carries the fields for a standard (deposit/withdrawal)
// request. BrokerID is honored only for reviewer-submitted requests; broker
// submissions always own their request.
type CreateRequestInput struct {
	IssuerID        uint
	BrokerID        uint
	RequestType     models.RequestType
	RequestPurpose  string
	ShareholderName string
	AccountNumber   string
	Cusip           string
	Quantity        decimal.Decimal
}

// BrokerSplitInput carries the broker-split specialization fields: broker DTC
// metadata plus three parallel CUSIP/quantity pairs.
type BrokerSplitInput struct {
	IssuerID             uint
	RequestPurpose       string
	DTCParticipantNumber string
	DWACSubmitted        bool
	UnitCusip            string
	UnitQuantity         decimal.Decimal
	ClassACusip          string
	ClassAQuantity       decimal.Decimal
	WarrantCusip         string
	WarrantQuantity      decimal.Decimal
}

// UpdateRequestInput is a partial field patch. Status is deliberately absent:
// status moves only through transitions.
type UpdateRequestInput struct {
	AssignedToUserID *uint
	RequestPurpose   *string
	ShareholderName  *string
	AccountNumber    *string
	Cusip            *string
	Quantity         *decimal.Decimal
}

// issuerGate fetches the issuer and applies the write gate. transactional
// marks writes that alter financial state; pending issuers allow only
// non-transactional (data setup) writes.
func (s *RequestService) issuerGate(ctx context.Context, issuerID uint, transactional bool) *models.AppError {
	issuer, err := s.issuers.GetByID(ctx, issuerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Issuer", issuerID)
		}
		return models.NewInternalError(err)
	}
	return issuer.AllowsWrite(transactional)
}

// Create validates and persists a standard transfer request, journals the
// submission, and notifies reviewers.
func (s *RequestService) Create(ctx context.Context, actor models.Actor, in CreateRequestInput) (*models.TransferRequest, error) {
	if in.IssuerID == 0 {
		return nil, models.NewValidationError("issuer_id is required")
	}
	switch in.RequestType {
	case models.RequestTypeDeposit, models.RequestTypeWithdrawal:
	case models.RequestTypeBrokerSplit:
		return nil, models.NewValidationError("broker-split requests use the broker-split endpoint")
	default:
		return nil, models.NewValidationError("request_type must be deposit or withdrawal")
	}
	if strings.TrimSpace(in.ShareholderName) == "" {
		return nil, models.NewValidationError("shareholder_name is required")
	}
	if strings.TrimSpace(in.AccountNumber) == "" {
		return nil, models.NewValidationError("account_number is required")
	}
	if err := validation.ValidateCusip("security", in.Cusip); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateQuantity("security", in.Quantity); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	brokerID := actor.ID
	if actor.IsReviewer() && in.BrokerID != 0 {
		brokerID = in.BrokerID
	}

	if appErr := s.issuerGate(ctx, in.IssuerID, true); appErr != nil {
		return nil, appErr
	}

	req := &models.TransferRequest{
		PublicID:        uuid.NewString(),
		RequestType:     in.RequestType,
		RequestPurpose:  strings.TrimSpace(in.RequestPurpose),
		BrokerID:        brokerID,
		IssuerID:        in.IssuerID,
		ShareholderName: strings.TrimSpace(in.ShareholderName),
		AccountNumber:   strings.TrimSpace(in.AccountNumber),
		Cusip:           strings.ToUpper(strings.TrimSpace(in.Cusip)),
		Quantity:        in.Quantity,
		Status:          models.RequestStatusPending,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, models.NewInternalError(err)
	}

	actorID := actor.ID
	if err := s.appendComm(ctx, req.ID, &actorID, fmt.Sprintf(
		"Request %s submitted: %s of %s %s for %s (account %s).",
		req.RequestNumber, req.RequestType, req.Quantity.String(), req.Cusip,
		req.ShareholderName, req.AccountNumber,
	), false); err != nil {
		return nil, err
	}

	s.notify(req, notifications.KindSubmitted, &actorID, nil)
	s.publishAdmin(ctx, notifications.EventRequestCreated, req)

	return req, nil
}

// CreateBrokerSplit validates and persists a broker-split request, mints the
// single-use action token, journals the submission with the three quantities,
// and notifies reviewers with the action links.
func (s *RequestService) CreateBrokerSplit(ctx context.Context, actor models.Actor, in BrokerSplitInput) (*models.TransferRequest, string, error) {
	if in.IssuerID == 0 {
		return nil, "", models.NewValidationError("issuer_id is required")
	}
	if err := validation.ValidateDTCParticipantNumber(in.DTCParticipantNumber); err != nil {
		return nil, "", models.NewValidationError(err.Error())
	}
	pairs := []struct {
		label string
		cusip string
		qty   decimal.Decimal
	}{
		{"unit", in.UnitCusip, in.UnitQuantity},
		{"class A", in.ClassACusip, in.ClassAQuantity},
		{"warrant", in.WarrantCusip, in.WarrantQuantity},
	}
	for _, p := range pairs {
		if err := validation.ValidateCusip(p.label, p.cusip); err != nil {
			return nil, "", models.NewValidationError(err.Error())
		}
		if err := validation.ValidateQuantity(p.label, p.qty); err != nil {
			return nil, "", models.NewValidationError(err.Error())
		}
	}

	if appErr := s.issuerGate(ctx, in.IssuerID, true); appErr != nil {
		return nil, "", appErr
	}

	now := s.now()
	req := &models.TransferRequest{
		PublicID:             uuid.NewString(),
		RequestType:          models.RequestTypeBrokerSplit,
		RequestPurpose:       strings.TrimSpace(in.RequestPurpose),
		BrokerID:             actor.ID,
		IssuerID:             in.IssuerID,
		DTCParticipantNumber: in.DTCParticipantNumber,
		DWACSubmitted:        in.DWACSubmitted,
		UnitCusip:            strings.ToUpper(strings.TrimSpace(in.UnitCusip)),
		UnitQuantity:         in.UnitQuantity,
		ClassACusip:          strings.ToUpper(strings.TrimSpace(in.ClassACusip)),
		ClassAQuantity:       in.ClassAQuantity,
		WarrantCusip:         strings.ToUpper(strings.TrimSpace(in.WarrantCusip)),
		WarrantQuantity:      in.WarrantQuantity,
		Status:               models.RequestStatusPending,
	}

	tokenValue, err := token.Issue(req, now)
	if err != nil {
		return nil, "", models.NewInternalError(err)
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, "", models.NewInternalError(err)
	}
	audit := models.NewBrokerRequestAction(req.ID)
	if err := s.requests.CreateAction(ctx, &audit); err != nil {
		return nil, "", models.NewInternalError(err)
	}

	actorID := actor.ID
	if err := s.appendComm(ctx, req.ID, &actorID, fmt.Sprintf(
		"Broker-split request %s submitted via DTC participant %s: debit %s units of %s, credit %s class A shares of %s, credit %s warrants of %s.",
		req.RequestNumber, req.DTCParticipantNumber,
		req.UnitQuantity.String(), req.UnitCusip,
		req.ClassAQuantity.String(), req.ClassACusip,
		req.WarrantQuantity.String(), req.WarrantCusip,
	), false); err != nil {
		return nil, "", err
	}

	s.notify(req, notifications.KindSubmitted, &actorID, map[string]interface{}{
		"approve_url": token.ActionURL(s.actionBase, "approve", req.PublicID, tokenValue),
		"reject_url":  token.ActionURL(s.actionBase, "reject", req.PublicID, tokenValue),
		"unit":        fmt.Sprintf("%s %s", req.UnitQuantity.String(), req.UnitCusip),
		"class_a":     fmt.Sprintf("%s %s", req.ClassAQuantity.String(), req.ClassACusip),
		"warrant":     fmt.Sprintf("%s %s", req.WarrantQuantity.String(), req.WarrantCusip),
	})
	s.publishAdmin(ctx, notifications.EventRequestCreated, req)

	return req, tokenValue, nil
}

// Get returns one request; brokers may read only their own.
func (s *RequestService) Get(ctx context.Context, actor models.Actor, id uint) (*models.TransferRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Transfer request", id)
		}
		return nil, models.NewInternalError(err)
	}
	if !actor.IsReviewer() && req.BrokerID != actor.ID {
		return nil, models.NewAccessDeniedError("you may only view your own transfer requests")
	}
	return req, nil
}

// List returns requests visible to the actor. Brokers are scoped to their own
// submissions; reviewers may filter by issuer and status.
func (s *RequestService) List(ctx context.Context, actor models.Actor, filter repository.RequestFilter) ([]*models.TransferRequest, error) {
	if !actor.IsReviewer() {
		filter.BrokerID = actor.ID
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return requests, nil
}

// Update applies a field patch. Brokers may touch only their own request and
// only while it is Pending; reviewers may patch any request independent of
// status. Status is not patchable here.
func (s *RequestService) Update(ctx context.Context, actor models.Actor, id uint, in UpdateRequestInput) (*models.TransferRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Transfer request", id)
		}
		return nil, models.NewInternalError(err)
	}

	if !actor.IsReviewer() {
		if req.BrokerID != actor.ID {
			return nil, models.NewAccessDeniedError("you may only modify your own transfer requests")
		}
		if req.Status != models.RequestStatusPending {
			return nil, models.NewAccessDeniedError("request is already in review and can no longer be modified by the broker")
		}
		if in.AssignedToUserID != nil {
			return nil, models.NewAccessDeniedError("only reviewers may assign requests")
		}
	}

	patch := map[string]interface{}{}
	financial := false

	if in.RequestPurpose != nil {
		patch["request_purpose"] = strings.TrimSpace(*in.RequestPurpose)
	}
	if in.ShareholderName != nil {
		if strings.TrimSpace(*in.ShareholderName) == "" {
			return nil, models.NewValidationError("shareholder_name cannot be empty")
		}
		patch["shareholder_name"] = strings.TrimSpace(*in.ShareholderName)
	}
	if in.AccountNumber != nil {
		patch["account_number"] = strings.TrimSpace(*in.AccountNumber)
	}
	if in.Cusip != nil {
		if err := validation.ValidateCusip("security", *in.Cusip); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		patch["cusip"] = strings.ToUpper(strings.TrimSpace(*in.Cusip))
		financial = true
	}
	if in.Quantity != nil {
		if err := validation.ValidateQuantity("security", *in.Quantity); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		patch["quantity"] = *in.Quantity
		financial = true
	}

	var assignedComm string
	if in.AssignedToUserID != nil {
		assignee, err := s.users.GetByID(ctx, *in.AssignedToUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, models.NewNotFoundError("User", *in.AssignedToUserID)
			}
			return nil, models.NewInternalError(err)
		}
		if !assignee.Role.IsReviewer() {
			return nil, models.NewValidationError("requests can only be assigned to reviewers")
		}
		patch["assigned_to_user_id"] = *in.AssignedToUserID
		if req.AssignedAt == nil {
			patch["assigned_at"] = s.now()
		}
		assignedComm = fmt.Sprintf("Request %s assigned to %s.", req.RequestNumber, assignee.Username)
	}

	if len(patch) == 0 {
		return req, nil
	}

	if appErr := s.issuerGate(ctx, req.IssuerID, financial); appErr != nil {
		return nil, appErr
	}

	if err := s.requests.Updates(ctx, req.ID, patch); err != nil {
		return nil, models.NewInternalError(err)
	}

	if assignedComm != "" {
		actorID := actor.ID
		if err := s.appendComm(ctx, req.ID, &actorID, assignedComm, true); err != nil {
			return nil, err
		}
	}

	updated, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	s.publishAdmin(ctx, notifications.EventRequestUpdated, updated)
	return updated, nil
}

// AppendCommunication adds a manual note. Brokers may only write on their own
// requests and never internal notes.
func (s *RequestService) AppendCommunication(ctx context.Context, actor models.Actor, requestID uint, message string, isInternal bool) (*models.Communication, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, models.NewValidationError("message is required")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Transfer request", requestID)
		}
		return nil, models.NewInternalError(err)
	}
	if !actor.IsReviewer() {
		if req.BrokerID != actor.ID {
			return nil, models.NewAccessDeniedError("you may only comment on your own transfer requests")
		}
		isInternal = false
	}

	actorID := actor.ID
	comm := &models.Communication{
		RequestID:  req.ID,
		UserID:     &actorID,
		Message:    message,
		IsInternal: isInternal,
	}
	if err := s.comms.Append(ctx, comm); err != nil {
		return nil, models.NewInternalError(err)
	}
	return comm, nil
}

// ListCommunications returns the journal for a request. Internal entries are
// hidden from brokers.
func (s *RequestService) ListCommunications(ctx context.Context, actor models.Actor, requestID uint) ([]*models.Communication, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Transfer request", requestID)
		}
		return nil, models.NewInternalError(err)
	}
	includeInternal := actor.IsReviewer()
	if !includeInternal && req.BrokerID != actor.ID {
		return nil, models.NewAccessDeniedError("you may only view your own transfer requests")
	}
	comms, err := s.comms.ListForRequest(ctx, req.ID, includeInternal)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comms, nil
}

// ListActions returns the token-action audit trail; reviewers only.
func (s *RequestService) ListActions(ctx context.Context, actor models.Actor, requestID uint) ([]*models.BrokerRequestAction, error) {
	if !actor.IsReviewer() {
		return nil, models.NewAccessDeniedError("reviewer role required")
	}
	actions, err := s.requests.ListActions(ctx, requestID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return actions, nil
}

// appendComm writes a journal entry. The journal is part of the mutation's
// contract: a failed write surfaces to the caller, who must resubmit.
func (s *RequestService) appendComm(ctx context.Context, requestID uint, userID *uint, message string, isInternal bool) error {
	err := s.comms.Append(ctx, &models.Communication{
		RequestID:  requestID,
		UserID:     userID,
		Message:    message,
		IsInternal: isInternal,
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (s *RequestService) notify(req *models.TransferRequest, kind string, actorID *uint, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Enqueue(notifications.Event{
		RequestID:     req.ID,
		RequestNumber: req.RequestNumber,
		RequestType:   req.RequestType,
		Kind:          kind,
		ActorID:       actorID,
		BrokerID:      req.BrokerID,
		Payload:       payload,
	})
}

func (s *RequestService) publishAdmin(ctx context.Context, eventType string, req *models.TransferRequest) {
	if s.events == nil {
		return
	}
	s.events.PublishAdmin(ctx, eventType, map[string]interface{}{
		"id":             req.ID,
		"public_id":      req.PublicID,
		"request_number": req.RequestNumber,
		"request_type":   req.RequestType,
		"status":         req.Status,
		"broker_id":      req.BrokerID,
		"issuer_id":      req.IssuerID,
	})
}
