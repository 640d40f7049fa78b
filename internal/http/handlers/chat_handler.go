// Chat HTTP handlers.
//
//   - GET  /sessions/{id}/chat   (greeting and remembered turns)
//   - POST /sessions/{id}/chat   (send a message, reply streamed as SSE)
//
// The stream carries one SSE event per relay event, named after its kind
// (delta, action, status, error), and ends with a "done" event. Validation
// failures detected before the first event are ordinary JSON errors.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ip-intake-backend/internal/http/middleware"
	"github.com/tbourn/ip-intake-backend/internal/llm"
	"github.com/tbourn/ip-intake-backend/internal/services"
)

// ChatRequest is one visitor utterance.
type ChatRequest struct {
	Message string `json:"message" binding:"required" example:"Can my producer claim my beat?"`
}

// ChatHistoryResponse is the transcript shown when the chat opens.
type ChatHistoryResponse struct {
	Greeting string     `json:"greeting"`
	Turns    []llm.Turn `json:"turns"`
}

// ChatHistory godoc
// @ID          chatHistory
// @Summary     Chat transcript
// @Tags        Chat
// @Produce     json
// @Param       id   path      string  true  "Session ID"  format(uuid)
// @Success     200  {object}  handlers.ChatHistoryResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Chat not configured"
// @Router      /sessions/{id}/chat [get]
func (h *Handlers) ChatHistory(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	if h.chat == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "chat unavailable")
		return
	}
	ok(c, http.StatusOK, ChatHistoryResponse{
		Greeting: services.Greeting,
		Turns:    h.chat.History(m.ID()),
	})
}

// PostChat godoc
// @ID          postChat
// @Summary     Talk to the intake assistant
// @Description Streams the reply as Server-Sent Events. An "action" event with action=offerContractUpload asks the client to offer the audit upload.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
// @Param       id    path  string                true  "Session ID"  format(uuid)
// @Param       body  body  handlers.ChatRequest  true  "Utterance"
// @Success     200  {string}  string  "event stream"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "A reply is still streaming"
// @Failure     422  {object}  handlers.ErrorResponse  "Empty or too long"
// @Router      /sessions/{id}/chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	if h.chat == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "chat unavailable")
		return
	}
	var req ChatRequest
	if !bind(c, &req) {
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		hd := c.Writer.Header()
		hd.Set("Content-Type", "text/event-stream")
		hd.Set("Cache-Control", "no-cache")
		hd.Set("Connection", "keep-alive")
		hd.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	emit := func(ev services.Event) {
		start()
		c.SSEvent(string(ev.Kind), ev)
		c.Writer.Flush()
	}

	err := h.chat.Send(c.Request.Context(), m.ID(), req.Message, emit)
	if err != nil && !started {
		failFor(c, err)
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("chat stream ended with error")
	}
	start()
	c.SSEvent("done", gin.H{})
	c.Writer.Flush()
}
