package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/intake"
	"github.com/tbourn/ip-intake-backend/internal/llm"
	"github.com/tbourn/ip-intake-backend/internal/news"
	"github.com/tbourn/ip-intake-backend/internal/services"
	"github.com/tbourn/ip-intake-backend/internal/storage"
)

//
// Service contracts
//

// SessionStore creates and resolves intake sessions.
type SessionStore interface {
	Create() *intake.Machine
	// Get returns intake.ErrSessionNotFound for unknown or expired IDs.
	Get(id string) (*intake.Machine, error)
}

// ChatRelay streams assistant replies for a session.
type ChatRelay interface {
	Send(ctx context.Context, sessionID, utterance string, emit func(services.Event)) error
	History(sessionID string) []llm.Turn
}

// Persistence is the part of the storage gateway the HTTP layer calls
// directly; everything else goes through the session machine.
type Persistence interface {
	PersistMailingList(ctx context.Context, s storage.Signup) bool
	Mode() storage.Mode
}

// Templates is the read-only legal template catalog.
type Templates interface {
	List() []catalog.Template
	Lookup(id string) (catalog.Template, error)
	// Search ranks templates against a free-text query.
	Search(query string) []catalog.Template
}

// Headlines serves the cached industry news.
type Headlines interface {
	Items() ([]news.Item, time.Time)
}

// IdempotencyRecorder remembers that a session completed an action under
// an Idempotency-Key.
type IdempotencyRecorder interface {
	Record(ctx context.Context, sessionID, key, action string, status int) error
}

//
// Handler wiring
//

// Options carries the dependencies of Handlers. Chat, News and Idempotency
// may be nil; their endpoints then degrade as documented on each handler.
type Options struct {
	Sessions    SessionStore
	Chat        ChatRelay
	Storage     Persistence
	Templates   Templates
	News        Headlines
	Idempotency IdempotencyRecorder

	// MaxUploadBytes caps contract uploads. Zero means 20 MiB.
	MaxUploadBytes int64
}

// Handlers groups the HTTP endpoints of the intake API.
type Handlers struct {
	sessions  SessionStore
	chat      ChatRelay
	storage   Persistence
	templates Templates
	news      Headlines
	idem      IdempotencyRecorder
	maxUpload int64
}

// New constructs Handlers bound to the given services.
func New(o Options) *Handlers {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 20 << 20
	}
	return &Handlers{
		sessions:  o.Sessions,
		chat:      o.Chat,
		storage:   o.Storage,
		templates: o.Templates,
		news:      o.News,
		idem:      o.Idempotency,
		maxUpload: o.MaxUploadBytes,
	}
}

// session resolves the :id parameter or writes the error response.
func (h *Handlers) session(c *gin.Context) (*intake.Machine, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return nil, false
	}
	m, err := h.sessions.Get(id)
	if err != nil {
		failFor(c, err)
		return nil, false
	}
	return m, true
}

// bind decodes a JSON body or writes a 400.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}
