// Session HTTP handlers.
//
// Each intake session is one navigation state machine. The endpoints here
// map one-to-one onto its operations and all answer with the resulting
// snapshot:
//   - POST /sessions                         (create, starts on landing)
//   - GET  /sessions/{id}                    (snapshot)
//   - POST /sessions/{id}/navigate           (direct navigation)
//   - POST /sessions/{id}/details            (identity form)
//   - POST /sessions/{id}/file               (contract upload, multipart)
//   - POST /sessions/{id}/analysis           (run the audit)
//   - POST /sessions/{id}/consultation       (request paid consultation)
//   - POST /sessions/{id}/payment            (M-Pesa, Idempotency-Key aware)
//   - POST /sessions/{id}/consult            (concerns form, writes the brief)
//   - POST /sessions/{id}/quiz/category      (select quiz category)
//   - POST /sessions/{id}/quiz               (start quiz)
//   - POST /sessions/{id}/quiz/answer        (answer current question)
//   - POST /sessions/{id}/quiz/next          (advance)
//   - POST /sessions/{id}/purchase           (buy template, Idempotency-Key aware)
//   - POST /sessions/{id}/archive/lookup     (two-factor archive search)
//   - POST /sessions/{id}/archive/select     (open an archived audit)
//
// Collaborator failures are not HTTP errors: they land the session on the
// error screen and the handler still answers 200 with that snapshot.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ip-intake-backend/internal/http/middleware"
	"github.com/tbourn/ip-intake-backend/internal/intake"
)

//
// DTOs
//

// NavigateRequest names the target screen.
type NavigateRequest struct {
	Screen string `json:"screen" binding:"required" example:"quiz-intro"`
}

// DetailsRequest is the identity form.
type DetailsRequest struct {
	Name     string `json:"name" example:"Jane Wanjiru"`
	Email    string `json:"email" example:"jane@example.co.ke"`
	Whatsapp string `json:"whatsapp" example:"+254712345678"`
}

// ConsultRequest carries the client's concerns for the attorney brief.
type ConsultRequest struct {
	Complaints string `json:"complaints" example:"The label keeps my masters for life."`
}

// QuizCategoryRequest selects a quiz category.
type QuizCategoryRequest struct {
	Category string `json:"category" example:"Music Business"`
}

// StartQuizRequest starts a quiz. Name defaults to the identity on file and
// Category to the selected one.
type StartQuizRequest struct {
	Name     string `json:"name" example:"Jane Wanjiru"`
	Category string `json:"category" example:"Music Business"`
}

// AnswerRequest answers the current question by option index.
type AnswerRequest struct {
	Option *int `json:"option" binding:"required" example:"2"`
}

// PurchaseRequest names a catalog template.
type PurchaseRequest struct {
	TemplateID string `json:"template_id" binding:"required" example:"split-sheet"`
}

// ArchiveLookupRequest is the two-factor archive search.
type ArchiveLookupRequest struct {
	Email    string `json:"email" example:"jane@example.co.ke"`
	Whatsapp string `json:"whatsapp" example:"+254712345678"`
}

// ArchiveSelectRequest opens one archived audit from the last lookup.
type ArchiveSelectRequest struct {
	AuditID string `json:"audit_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Start an intake session
// @Description Creates a session on the landing screen. The returned session_id is the only credential of the session.
// @Tags        Sessions
// @Produce     json
// @Success     201  {object}  intake.Snapshot
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	m := h.sessions.Create()
	middleware.LoggerFrom(c).Debug().Msg("session created")
	snapshot(c, http.StatusCreated, m)
}

// GetSession godoc
// @ID          getSession
// @Summary     Session snapshot
// @Tags        Sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"  format(uuid)
// @Success     200  {object}  intake.Snapshot
// @Failure     400  {object}  handlers.ErrorResponse  "Bad session id"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown or expired session"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	snapshot(c, http.StatusOK, m)
}

// Navigate godoc
// @ID          navigate
// @Summary     Navigate to a screen
// @Description Upload redirects to the details form while the identity is incomplete; the certificate needs a passed quiz.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       id    path  string                    true  "Session ID"  format(uuid)
// @Param       body  body  handlers.NavigateRequest  true  "Target screen"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse  "Not reachable from the current screen"
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown screen"
// @Router      /sessions/{id}/navigate [post]
func (h *Handlers) Navigate(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req NavigateRequest
	if !bind(c, &req) {
		return
	}
	target := intake.Screen(req.Screen)
	if !target.Valid() {
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, "unknown screen")
		return
	}
	h.run(c, m, func(ctx context.Context) error { return m.Navigate(ctx, target) })
}

// SubmitDetails godoc
// @ID          submitDetails
// @Summary     Submit the identity form
// @Description Resumes a stashed template purchase, starts the quiz from the quiz intro, or moves on to upload.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       id    path  string                   true  "Session ID"  format(uuid)
// @Param       body  body  handlers.DetailsRequest  true  "Identity"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "A field is empty"
// @Router      /sessions/{id}/details [post]
func (h *Handlers) SubmitDetails(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req DetailsRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(ctx context.Context) error {
		return m.SubmitDetails(ctx, intake.UserInfo{Name: req.Name, Email: req.Email, Whatsapp: req.Whatsapp})
	})
}

// UploadFile godoc
// @ID          uploadFile
// @Summary     Select the contract to audit
// @Tags        Sessions
// @Accept      multipart/form-data
// @Produce     json
// @Param       id    path      string  true  "Session ID"  format(uuid)
// @Param       file  formData  file    true  "Contract (PDF, image or text)"
// @Success     200  {object}  intake.Snapshot
// @Failure     400  {object}  handlers.ErrorResponse  "Missing file part"
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Router      /sessions/{id}/file [post]
func (h *Handlers) UploadFile(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	if fh.Size > h.maxUpload {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	if int64(len(data)) > h.maxUpload {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "file too large")
		return
	}

	if err := m.SelectFile(fh.Filename, fh.Header.Get("Content-Type"), data); err != nil {
		failFor(c, err)
		return
	}
	snapshot(c, http.StatusOK, m)
}

// BeginAnalysis godoc
// @ID          beginAnalysis
// @Summary     Audit the selected contract
// @Description Blocks until the audit finishes and the result is stored. A failed audit answers 200 on the error screen.
// @Tags        Sessions
// @Produce     json
// @Param       id   path  string  true  "Session ID"  format(uuid)
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse  "Busy or wrong screen"
// @Failure     422  {object}  handlers.ErrorResponse  "No file selected"
// @Router      /sessions/{id}/analysis [post]
func (h *Handlers) BeginAnalysis(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	h.run(c, m, m.BeginAnalysis)
}

// RequestConsultation godoc
// @ID          requestConsultation
// @Summary     Request a paid consultation
// @Tags        Sessions
// @Produce     json
// @Param       id   path  string  true  "Session ID"  format(uuid)
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "Identity incomplete"
// @Router      /sessions/{id}/consultation [post]
func (h *Handlers) RequestConsultation(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	h.run(c, m, m.RequestConsultation)
}

// SubmitPayment godoc
// @ID          submitPayment
// @Summary     Pay the consultation fee via M-Pesa
// @Description A repeated Idempotency-Key answers with the current snapshot and Idempotency-Replayed: true instead of charging again.
// @Tags        Sessions
// @Produce     json
// @Param       id               path    string  true   "Session ID"  format(uuid)
// @Param       Idempotency-Key  header  string  false  "Retry key"   example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Success     200  {object}  intake.Snapshot
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /sessions/{id}/payment [post]
func (h *Handlers) SubmitPayment(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	h.idempotent(c, m, "payment", m.SubmitPayment)
}

// SubmitConsult godoc
// @ID          submitConsult
// @Summary     Submit consultation concerns
// @Description Opens the case file, writes the attorney brief and emails it.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       id    path  string                   true  "Session ID"  format(uuid)
// @Param       body  body  handlers.ConsultRequest  true  "Concerns"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "Concerns empty"
// @Router      /sessions/{id}/consult [post]
func (h *Handlers) SubmitConsult(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req ConsultRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(ctx context.Context) error { return m.SubmitConsultDetails(ctx, req.Complaints) })
}

// SelectQuizCategory godoc
// @ID          selectQuizCategory
// @Summary     Select the quiz category
// @Tags        Quiz
// @Accept      json
// @Produce     json
// @Param       id    path  string                        true  "Session ID"  format(uuid)
// @Param       body  body  handlers.QuizCategoryRequest  true  "Category"
// @Success     200  {object}  intake.Snapshot
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown category"
// @Router      /sessions/{id}/quiz/category [post]
func (h *Handlers) SelectQuizCategory(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req QuizCategoryRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(context.Context) error { return m.SelectQuizCategory(req.Category) })
}

// StartQuiz godoc
// @ID          startQuiz
// @Summary     Generate a quiz batch
// @Tags        Quiz
// @Accept      json
// @Produce     json
// @Param       id    path  string                     true  "Session ID"  format(uuid)
// @Param       body  body  handlers.StartQuizRequest  true  "Player and category"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse
// @Router      /sessions/{id}/quiz [post]
func (h *Handlers) StartQuiz(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req StartQuizRequest
	if !bind(c, &req) {
		return
	}
	if req.Name == "" {
		req.Name = m.Snapshot().User.Name
	}
	h.run(c, m, func(ctx context.Context) error { return m.StartQuiz(ctx, req.Name, req.Category) })
}

// AnswerQuestion godoc
// @ID          answerQuestion
// @Summary     Answer the current question
// @Description Answering twice keeps the first answer.
// @Tags        Quiz
// @Accept      json
// @Produce     json
// @Param       id    path  string                  true  "Session ID"  format(uuid)
// @Param       body  body  handlers.AnswerRequest  true  "Option index"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "Option out of range"
// @Router      /sessions/{id}/quiz/answer [post]
func (h *Handlers) AnswerQuestion(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req AnswerRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(context.Context) error { return m.AnswerQuestion(*req.Option) })
}

// NextQuestion godoc
// @ID          nextQuestion
// @Summary     Advance to the next question or the results
// @Tags        Quiz
// @Produce     json
// @Param       id   path  string  true  "Session ID"  format(uuid)
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse  "Not answered yet"
// @Router      /sessions/{id}/quiz/next [post]
func (h *Handlers) NextQuestion(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	h.run(c, m, m.NextQuestion)
}

// PurchaseTemplate godoc
// @ID          purchaseTemplate
// @Summary     Buy a legal template via M-Pesa
// @Description Without a complete identity the template is held and the details form opens. A repeated Idempotency-Key is not charged again.
// @Tags        Store
// @Accept      json
// @Produce     json
// @Param       id               path    string                    true   "Session ID"  format(uuid)
// @Param       Idempotency-Key  header  string                    false  "Retry key"
// @Param       body             body    handlers.PurchaseRequest  true   "Template"
// @Success     200  {object}  intake.Snapshot
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown template"
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /sessions/{id}/purchase [post]
func (h *Handlers) PurchaseTemplate(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req PurchaseRequest
	if !bind(c, &req) {
		return
	}
	t, err := h.templates.Lookup(req.TemplateID)
	if err != nil {
		failFor(c, err)
		return
	}
	h.idempotent(c, m, "purchase:"+t.ID, func(ctx context.Context) error { return m.PurchaseTemplate(ctx, t) })
}

// LookupArchive godoc
// @ID          lookupArchive
// @Summary     Find past audits by email and WhatsApp number
// @Tags        Archive
// @Accept      json
// @Produce     json
// @Param       id    path  string                         true  "Session ID"  format(uuid)
// @Param       body  body  handlers.ArchiveLookupRequest  true  "Both factors"
// @Success     200  {object}  intake.Snapshot
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "A factor is missing"
// @Router      /sessions/{id}/archive/lookup [post]
func (h *Handlers) LookupArchive(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req ArchiveLookupRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(ctx context.Context) error { return m.LookupArchive(ctx, req.Email, req.Whatsapp) })
}

// SelectArchivedAudit godoc
// @ID          selectArchivedAudit
// @Summary     Open an archived audit
// @Tags        Archive
// @Accept      json
// @Produce     json
// @Param       id    path  string                         true  "Session ID"  format(uuid)
// @Param       body  body  handlers.ArchiveSelectRequest  true  "Audit"
// @Success     200  {object}  intake.Snapshot
// @Failure     404  {object}  handlers.ErrorResponse  "Not among the lookup results"
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /sessions/{id}/archive/select [post]
func (h *Handlers) SelectArchivedAudit(c *gin.Context) {
	m, found := h.session(c)
	if !found {
		return
	}
	var req ArchiveSelectRequest
	if !bind(c, &req) {
		return
	}
	h.run(c, m, func(ctx context.Context) error { return m.SelectArchivedAudit(ctx, req.AuditID) })
}

//
// Helpers
//

// run executes a machine operation and answers with the snapshot.
func (h *Handlers) run(c *gin.Context, m *intake.Machine, op func(context.Context) error) {
	if err := op(c.Request.Context()); err != nil {
		failFor(c, err)
		return
	}
	snapshot(c, http.StatusOK, m)
}

// idempotent is run for actions that charge the visitor. A replayed key
// answers with the snapshot untouched; a completed action is recorded under
// its key even when the request context is already gone.
func (h *Handlers) idempotent(c *gin.Context, m *intake.Machine, action string, op func(context.Context) error) {
	if middleware.IsReplay(c) {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		snapshot(c, http.StatusOK, m)
		return
	}
	if err := op(c.Request.Context()); err != nil {
		failFor(c, err)
		return
	}
	if key, ok := middleware.GetIdempotencyKey(c); ok && h.idem != nil {
		ctx := context.WithoutCancel(c.Request.Context())
		if err := h.idem.Record(ctx, m.ID(), key, action, http.StatusOK); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("action", action).Msg("idempotency key not recorded")
		}
	}
	snapshot(c, http.StatusOK, m)
}
