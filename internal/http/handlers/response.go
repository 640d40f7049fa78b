// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail with an ErrorResponse and a stable code.
// Session actions answer with the session snapshot, so a client renders the
// screen it gets back without reconstructing state.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "busy",
//	  "message": "another action is in progress"
//	}
//
// Example success response:
//
//	HTTP/1.1 200 OK
//	{ "session_id": "abc123", "screen": "landing", "busy": false, ... }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ip-intake-backend/internal/http/middleware"
	"github.com/tbourn/ip-intake-backend/internal/intake"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"invalid_transition"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"action not allowed on current screen"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// snapshot writes the current state of m.
func snapshot(c *gin.Context, status int, m *intake.Machine) {
	ok(c, status, m.Snapshot())
}
