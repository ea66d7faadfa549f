package server

import (
	"transferdesk/internal/lifecycle"
	"transferdesk/internal/models"
	"transferdesk/internal/repository"
	"transferdesk/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// GetTransferRequests handles GET /api/transfer-requests.
// @Summary List or get transfer requests
// @Description List requests visible to the caller, or fetch one by requestId. Brokers see only their own requests; reviewers may filter by issuer and status.
// @Tags transfer-requests
// @Produce json
// @Param requestId query int false "Single request ID"
// @Param issuerId query int false "Filter by issuer"
// @Param status query string false "Filter by status"
// @Success 200 {array} models.TransferRequest
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests [get]
func (s *Server) GetTransferRequests(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)

	if requestID := c.QueryInt("requestId", 0); requestID > 0 {
		req, err := s.requestService.Get(ctx, actor, uint(requestID))
		if err != nil {
			return respondServiceError(c, err)
		}
		return c.JSON(req)
	}

	filter := repository.RequestFilter{
		IssuerID: uint(c.QueryInt("issuerId", 0)),
		Status:   models.RequestStatus(c.Query("status")),
		Limit:    c.QueryInt("limit", 50),
		Offset:   c.QueryInt("offset", 0),
	}
	requests, err := s.requestService.List(ctx, actor, filter)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(requests)
}

// CreateTransferRequest handles POST /api/transfer-requests.
// @Summary Create transfer request
// @Description Submit a standard deposit or withdrawal request.
// @Tags transfer-requests
// @Accept json
// @Produce json
// @Success 201 {object} models.TransferRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests [post]
func (s *Server) CreateTransferRequest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)

	var body struct {
		IssuerID        uint            `json:"issuer_id"`
		BrokerID        uint            `json:"broker_id"`
		RequestType     string          `json:"request_type"`
		RequestPurpose  string          `json:"request_purpose"`
		ShareholderName string          `json:"shareholder_name"`
		AccountNumber   string          `json:"account_number"`
		Cusip           string          `json:"cusip"`
		Quantity        decimal.Decimal `json:"quantity"`
	}
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.requestService.Create(ctx, actor, service.CreateRequestInput{
		IssuerID:        body.IssuerID,
		BrokerID:        body.BrokerID,
		RequestType:     models.RequestType(body.RequestType),
		RequestPurpose:  body.RequestPurpose,
		ShareholderName: body.ShareholderName,
		AccountNumber:   body.AccountNumber,
		Cusip:           body.Cusip,
		Quantity:        body.Quantity,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// CreateBrokerSplitRequest handles POST /api/transfer-requests/broker-split.
// @Summary Create broker-split request
// @Description Submit a broker-split request with three CUSIP/quantity pairs. Mints the single-use action token and emails action links to reviewers.
// @Tags transfer-requests
// @Accept json
// @Produce json
// @Success 201 {object} object{request=models.TransferRequest,action_token=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests/broker-split [post]
func (s *Server) CreateBrokerSplitRequest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)

	var body struct {
		IssuerID             uint            `json:"issuer_id"`
		RequestPurpose       string          `json:"request_purpose"`
		DTCParticipantNumber string          `json:"dtc_participant_number"`
		DWACSubmitted        bool            `json:"dwac_submitted"`
		UnitCusip            string          `json:"unit_cusip"`
		UnitQuantity         decimal.Decimal `json:"unit_quantity"`
		ClassACusip          string          `json:"class_a_cusip"`
		ClassAQuantity       decimal.Decimal `json:"class_a_quantity"`
		WarrantCusip         string          `json:"warrant_cusip"`
		WarrantQuantity      decimal.Decimal `json:"warrant_quantity"`
	}
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, tokenValue, err := s.requestService.CreateBrokerSplit(ctx, actor, service.BrokerSplitInput{
		IssuerID:             body.IssuerID,
		RequestPurpose:       body.RequestPurpose,
		DTCParticipantNumber: body.DTCParticipantNumber,
		DWACSubmitted:        body.DWACSubmitted,
		UnitCusip:            body.UnitCusip,
		UnitQuantity:         body.UnitQuantity,
		ClassACusip:          body.ClassACusip,
		ClassAQuantity:       body.ClassAQuantity,
		WarrantCusip:         body.WarrantCusip,
		WarrantQuantity:      body.WarrantQuantity,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"request":      req,
		"action_token": tokenValue,
	})
}

// UpdateTransferRequest handles PATCH /api/transfer-requests.
// @Summary Update or transition a transfer request
// @Description Apply a field patch (assignment, subject fields) or, when updates.status is present, a lifecycle transition.
// @Tags transfer-requests
// @Accept json
// @Produce json
// @Success 200 {object} models.TransferRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests [patch]
func (s *Server) UpdateTransferRequest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)

	var body struct {
		RequestID uint `json:"request_id"`
		Updates   struct {
			Status           *string          `json:"status"`
			RejectionReason  string           `json:"rejection_reason"`
			AssignedToUserID *uint            `json:"assigned_to_user_id"`
			RequestPurpose   *string          `json:"request_purpose"`
			ShareholderName  *string          `json:"shareholder_name"`
			AccountNumber    *string          `json:"account_number"`
			Cusip            *string          `json:"cusip"`
			Quantity         *decimal.Decimal `json:"quantity"`
		} `json:"updates"`
	}
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.RequestID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("request_id is required"))
	}

	// A status change never patches the column directly: it is mapped onto a
	// lifecycle transition so every rule and side effect applies.
	if body.Updates.Status != nil {
		t, appErr := transitionForStatus(models.RequestStatus(*body.Updates.Status))
		if appErr != nil {
			return respondServiceError(c, appErr)
		}
		req, err := s.requestService.Transition(ctx, actor, body.RequestID, t, body.Updates.RejectionReason)
		if err != nil {
			return respondServiceError(c, err)
		}
		return c.JSON(req)
	}

	req, err := s.requestService.Update(ctx, actor, body.RequestID, service.UpdateRequestInput{
		AssignedToUserID: body.Updates.AssignedToUserID,
		RequestPurpose:   body.Updates.RequestPurpose,
		ShareholderName:  body.Updates.ShareholderName,
		AccountNumber:    body.Updates.AccountNumber,
		Cusip:            body.Updates.Cusip,
		Quantity:         body.Updates.Quantity,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(req)
}

// transitionForStatus maps a requested target status onto its transition.
func transitionForStatus(status models.RequestStatus) (lifecycle.Transition, *models.AppError) {
	switch status {
	case models.RequestStatusUnderReview:
		return lifecycle.TransitionStartReview, nil
	case models.RequestStatusApproved:
		return lifecycle.TransitionApprove, nil
	case models.RequestStatusRejected:
		return lifecycle.TransitionReject, nil
	case models.RequestStatusCompleted:
		return lifecycle.TransitionComplete, nil
	}
	return "", models.NewValidationError("invalid target status: " + string(status))
}

// CompleteTransferRequest handles POST /api/transfer-requests/:id/complete.
// @Summary Complete an approved request
// @Description Called by the downstream transaction-processing flow once the split or transfer executed. Triggers the deferred broker notification.
// @Tags transfer-requests
// @Produce json
// @Success 200 {object} models.TransferRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests/{id}/complete [post]
func (s *Server) CompleteTransferRequest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)
	requestID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	req, serviceErr := s.requestService.Transition(ctx, actor, requestID, lifecycle.TransitionComplete, "")
	if serviceErr != nil {
		return respondServiceError(c, serviceErr)
	}
	return c.JSON(req)
}

// GetRequestCommunications handles GET /api/transfer-requests/:id/communications.
// @Summary List request communications
// @Tags transfer-requests
// @Produce json
// @Success 200 {array} models.Communication
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests/{id}/communications [get]
func (s *Server) GetRequestCommunications(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)
	requestID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comms, serviceErr := s.requestService.ListCommunications(ctx, actor, requestID)
	if serviceErr != nil {
		return respondServiceError(c, serviceErr)
	}
	return c.JSON(comms)
}

// CreateRequestCommunication handles POST /api/transfer-requests/:id/communications.
// @Summary Append a manual note
// @Tags transfer-requests
// @Accept json
// @Produce json
// @Success 201 {object} models.Communication
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests/{id}/communications [post]
func (s *Server) CreateRequestCommunication(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)
	requestID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var body struct {
		Message    string `json:"message"`
		IsInternal bool   `json:"is_internal"`
	}
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	comm, serviceErr := s.requestService.AppendCommunication(ctx, actor, requestID, body.Message, body.IsInternal)
	if serviceErr != nil {
		return respondServiceError(c, serviceErr)
	}
	return c.Status(fiber.StatusCreated).JSON(comm)
}

// GetRequestActions handles GET /api/transfer-requests/:id/actions.
// @Summary List token-action audit trail
// @Tags transfer-requests
// @Produce json
// @Success 200 {array} models.BrokerRequestAction
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /transfer-requests/{id}/actions [get]
func (s *Server) GetRequestActions(c *fiber.Ctx) error {
	ctx := c.UserContext()
	actor := actorFromLocals(c)
	requestID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	actions, serviceErr := s.requestService.ListActions(ctx, actor, requestID)
	if serviceErr != nil {
		return respondServiceError(c, serviceErr)
	}
	return c.JSON(actions)
}
