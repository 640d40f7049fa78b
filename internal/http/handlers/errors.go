// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings carried in the `code` field
// of every error envelope. Clients branch on them; the message is for people.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_transition",
//	  "message": "action not allowed on current screen"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/intake"
	"github.com/tbourn/ip-intake-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"

	// Domain-specific:
	ErrCodeValidation         = "validation_failed"
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeBusy               = "busy"
	ErrCodeNotPassed          = "not_passed"
	ErrCodeNotAnswered        = "not_answered"
	ErrCodeRegistrationFailed = "registration_failed"
)

// MsgRegistrationFailed is shown when a mailing-list signup cannot be stored.
const MsgRegistrationFailed = "Registration failed. Please try again or contact support."

// failFor maps a domain error to its status and code. Unknown errors are
// internal and logged by fail.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, intake.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, intake.ErrAuditNotFound),
		errors.Is(err, catalog.ErrTemplateNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, intake.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, intake.ErrBusy),
		errors.Is(err, services.ErrChatBusy):
		fail(c, http.StatusConflict, ErrCodeBusy, err.Error())
	case errors.Is(err, intake.ErrNotPassed):
		fail(c, http.StatusConflict, ErrCodeNotPassed, err.Error())
	case errors.Is(err, intake.ErrNotAnswered):
		fail(c, http.StatusConflict, ErrCodeNotAnswered, err.Error())
	case errors.Is(err, intake.ErrIncompleteIdentity),
		errors.Is(err, intake.ErrNoFile),
		errors.Is(err, intake.ErrNameRequired),
		errors.Is(err, intake.ErrUnknownCategory),
		errors.Is(err, intake.ErrEmptyComplaints),
		errors.Is(err, intake.ErrInvalidOption),
		errors.Is(err, intake.ErrLookupFields),
		errors.Is(err, services.ErrEmptyPrompt),
		errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		_ = c.Error(err)
	}
}
