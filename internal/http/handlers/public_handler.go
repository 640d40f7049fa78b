// Public HTTP handlers that need no session:
//   - POST /mailing-list   (newsletter signup, remote store only)
//   - GET  /templates      (legal template catalog, optional ?q= search)
//   - GET  /news           (industry headlines)
//   - GET  /storage/mode   (which backend is taking writes)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/news"
	"github.com/tbourn/ip-intake-backend/internal/storage"
)

// MailingListRequest is a newsletter signup.
type MailingListRequest struct {
	FullName string `json:"full_name" binding:"required" example:"Jane Wanjiru"`
	Email    string `json:"email" binding:"required,email" example:"jane@example.co.ke"`
	Niche    string `json:"niche" example:"Music"`
}

// MailingListResponse acknowledges a stored signup.
type MailingListResponse struct {
	Registered bool `json:"registered" example:"true"`
}

// TemplatesResponse lists the catalog.
type TemplatesResponse struct {
	Templates []catalog.Template `json:"templates"`
}

// NewsResponse carries the current headlines. UpdatedAt is zero until the
// first successful refresh.
type NewsResponse struct {
	Items     []news.Item `json:"items"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StorageModeResponse reports the persistence mode.
type StorageModeResponse struct {
	Mode storage.Mode `json:"mode" example:"remote"`
}

// JoinMailingList godoc
// @ID          joinMailingList
// @Summary     Join the newsletter
// @Tags        Public
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.MailingListRequest  true  "Signup"
// @Success     201  {object}  handlers.MailingListResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "Registration failed"
// @Router      /mailing-list [post]
func (h *Handlers) JoinMailingList(c *gin.Context) {
	var req MailingListRequest
	if !bind(c, &req) {
		return
	}
	s := storage.Signup{
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
		Niche:    strings.TrimSpace(req.Niche),
	}
	if !h.storage.PersistMailingList(c.Request.Context(), s) {
		fail(c, http.StatusBadGateway, ErrCodeRegistrationFailed, MsgRegistrationFailed)
		return
	}
	ok(c, http.StatusCreated, MailingListResponse{Registered: true})
}

// ListTemplates godoc
// @ID          listTemplates
// @Summary     Legal template catalog
// @Tags        Public
// @Description Without q the whole catalog in store order; with q the matching templates, best first.
// @Produce     json
// @Param       q    query     string  false  "Free-text search"  example(royalty split)
// @Success     200  {object}  handlers.TemplatesResponse
// @Router      /templates [get]
func (h *Handlers) ListTemplates(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		ok(c, http.StatusOK, TemplatesResponse{Templates: h.templates.List()})
		return
	}
	ok(c, http.StatusOK, TemplatesResponse{Templates: h.templates.Search(q)})
}

// ListNews godoc
// @ID          listNews
// @Summary     Industry headlines
// @Description Serves the cached headlines; the built-in list when no feed is reachable.
// @Tags        Public
// @Produce     json
// @Success     200  {object}  handlers.NewsResponse
// @Router      /news [get]
func (h *Handlers) ListNews(c *gin.Context) {
	if h.news == nil {
		ok(c, http.StatusOK, NewsResponse{Items: append([]news.Item(nil), news.Fallback...)})
		return
	}
	items, updated := h.news.Items()
	ok(c, http.StatusOK, NewsResponse{Items: items, UpdatedAt: updated})
}

// StorageMode godoc
// @ID          storageMode
// @Summary     Persistence mode
// @Description remote while the hosted database takes writes, local after a fallback, error when both failed last.
// @Tags        Public
// @Produce     json
// @Success     200  {object}  handlers.StorageModeResponse
// @Router      /storage/mode [get]
func (h *Handlers) StorageMode(c *gin.Context) {
	ok(c, http.StatusOK, StorageModeResponse{Mode: h.storage.Mode()})
}
