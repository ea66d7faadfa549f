// Package server contains HTTP handlers for the application's API endpoints.
package server

import (
	"errors"
	"strings"
	"unicode"

	"transferdesk/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "requestId" -> "request ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		base := param[:len(param)-2]
		var out []rune
		for i, r := range base {
			if unicode.IsUpper(r) && i > 0 {
				out = append(out, ' ')
			}
			out = append(out, unicode.ToLower(r))
		}
		return string(out) + " ID"
	}
	return param
}

// actorFromLocals returns the Actor resolved by LoadActor.
func actorFromLocals(c *fiber.Ctx) models.Actor {
	if actor, ok := c.Locals("actor").(models.Actor); ok {
		return actor
	}
	return models.Actor{}
}

// statusForCode maps application error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "VALIDATION_ERROR":
		return fiber.StatusBadRequest
	case "UNAUTHORIZED":
		return fiber.StatusUnauthorized
	case "ACCESS_DENIED", "ISSUER_ACCESS_BLOCKED", "INVALID_TOKEN":
		return fiber.StatusForbidden
	case "NOT_FOUND":
		return fiber.StatusNotFound
	case "TOKEN_ALREADY_USED":
		return fiber.StatusConflict
	case "TOKEN_EXPIRED":
		return fiber.StatusGone
	}
	return fiber.StatusInternalServerError
}

// respondServiceError writes the standardized error response for a service
// layer error.
func respondServiceError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return models.RespondWithError(c, statusForCode(appErr.Code), appErr)
	}
	return models.RespondWithError(c, fiber.StatusInternalServerError, err)
}
