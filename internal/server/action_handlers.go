package server

import (
	"errors"
	"fmt"
	"net/url"

	"transferdesk/internal/lifecycle"
	"transferdesk/internal/models"
	"transferdesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// confirmRedirect builds the confirmation-page URL the action-link read path
// redirects to. On verification failure the error code travels instead of
// the token, so the page can explain why the link no longer works.
func (s *Server) confirmRedirect(requestPublicID, action, tokenValue, errCode string) string {
	q := url.Values{}
	q.Set("requestId", requestPublicID)
	q.Set("action", action)
	if errCode != "" {
		q.Set("error", errCode)
	} else {
		q.Set("token", tokenValue)
	}
	return fmt.Sprintf("%s/broker-action/confirm?%s", s.config.ConfirmBaseURL, q.Encode())
}

// ResolveBrokerAction handles GET /api/transfer-requests/action.
// @Summary Resolve an email action link
// @Description Validates the token without consuming it and redirects to the confirmation page. Preview clicks never burn the token.
// @Tags broker-actions
// @Param requestId query string true "Request public ID"
// @Param token query string true "Action token"
// @Param action query string true "approve or reject"
// @Success 302
// @Failure 400 {object} models.ErrorResponse
// @Router /transfer-requests/action [get]
func (s *Server) ResolveBrokerAction(c *fiber.Ctx) error {
	ctx := c.UserContext()
	requestPublicID := c.Query("requestId")
	tokenValue := c.Query("token")
	action := c.Query("action")

	if requestPublicID == "" || tokenValue == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("requestId and token are required"))
	}

	_, err := s.requestService.ResolveAction(ctx, requestPublicID, tokenValue, action)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			switch appErr.Code {
			case "INVALID_TOKEN", "TOKEN_EXPIRED", "TOKEN_ALREADY_USED", "NOT_FOUND":
				return c.Redirect(s.confirmRedirect(requestPublicID, action, "", appErr.Code), fiber.StatusFound)
			}
		}
		return respondServiceError(c, err)
	}

	return c.Redirect(s.confirmRedirect(requestPublicID, action, tokenValue, ""), fiber.StatusFound)
}

// ApplyBrokerAction handles POST /api/transfer-requests/action.
// @Summary Apply an action through the token
// @Description Consumes the single-use token and applies the approve/reject transition as one atomic unit.
// @Tags broker-actions
// @Accept json
// @Produce json
// @Success 200 {object} models.TransferRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 410 {object} models.ErrorResponse
// @Router /transfer-requests/action [post]
func (s *Server) ApplyBrokerAction(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var body struct {
		RequestID       string `json:"requestId"`
		Token           string `json:"token"`
		Action          string `json:"action"`
		RejectionReason string `json:"rejectionReason"`
	}
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.RequestID == "" || body.Token == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("requestId and token are required"))
	}

	// The route is public: the token is the capability. A session, when
	// present, only enriches the audit trail.
	var actorID *uint
	if uid, ok := c.Locals("userID").(uint); ok {
		actorID = &uid
	}

	req, err := s.requestService.ApplyAction(ctx, body.RequestID, body.Token, body.Action, body.RejectionReason, actorID)
	if err != nil {
		return respondServiceError(c, err)
	}

	// Approved broker-split requests hand the downstream transaction flow
	// the three legs pre-populated as one compound split transaction.
	if body.Action == string(lifecycle.TransitionApprove) && req.RequestType == models.RequestTypeBrokerSplit {
		return c.JSON(fiber.Map{
			"request":           req,
			"split_transaction": service.SplitTransactionPayload(req),
		})
	}
	return c.JSON(req)
}
