package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/domain"
	"github.com/tbourn/ip-intake-backend/internal/http/middleware"
	"github.com/tbourn/ip-intake-backend/internal/intake"
	"github.com/tbourn/ip-intake-backend/internal/llm"
	"github.com/tbourn/ip-intake-backend/internal/news"
	"github.com/tbourn/ip-intake-backend/internal/payments"
	"github.com/tbourn/ip-intake-backend/internal/services"
	"github.com/tbourn/ip-intake-backend/internal/storage"
)

//
// Collaborator fakes
//

type fakeAnalyzer struct {
	result string
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context, []byte, string, string) (string, error) {
	return f.result, f.err
}

type fakeBriefs struct{}

func (fakeBriefs) WriteBrief(context.Context, string, string, string) (string, error) {
	return "brief", nil
}

type fakeQuiz struct{ questions []domain.QuizQuestion }

func (f *fakeQuiz) GenerateQuiz(context.Context, string) ([]domain.QuizQuestion, error) {
	return f.questions, nil
}

type fakePayments struct {
	mu      sync.Mutex
	charges int
}

func (f *fakePayments) Initiate(context.Context, payments.Payer, int) (payments.Response, error) {
	f.mu.Lock()
	f.charges++
	f.mu.Unlock()
	return payments.Response{Success: true, Message: "sent", CheckoutRequestID: "KCA-1"}, nil
}

func (f *fakePayments) Verify(context.Context, string) (bool, error) { return true, nil }

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charges
}

type fakeStore struct{ audits []domain.ContractAudit }

func (f *fakeStore) PersistClient(context.Context, storage.Identity) (string, storage.Mode) {
	return "client-1", storage.ModeLocal
}

func (f *fakeStore) PersistAudit(context.Context, string, string, string) storage.Mode {
	return storage.ModeLocal
}

func (f *fakeStore) FetchAuditsBySecurityPair(context.Context, string, string) []domain.ContractAudit {
	return f.audits
}

type fakePersistence struct {
	ok      bool
	signups []storage.Signup
}

func (f *fakePersistence) PersistMailingList(_ context.Context, s storage.Signup) bool {
	f.signups = append(f.signups, s)
	return f.ok
}

func (f *fakePersistence) Mode() storage.Mode { return storage.ModeRemote }

// fakeIdem records keys and serves them back to the validator.
type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeIdem) Record(_ context.Context, sessionID, key, action string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	f.keys[sessionID+"|"+key] = action
	return nil
}

func (f *fakeIdem) lookup(_ context.Context, sessionID, key string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hit := f.keys[sessionID+"|"+key]
	return hit, nil
}

type fakeChat struct {
	events []services.Event
	err    error
	turns  []llm.Turn
}

func (f *fakeChat) Send(_ context.Context, _, _ string, emit func(services.Event)) error {
	for _, ev := range f.events {
		emit(ev)
	}
	return f.err
}

func (f *fakeChat) History(string) []llm.Turn { return f.turns }

type fakeBoard struct{ items []news.Item }

func (f fakeBoard) Items() ([]news.Item, time.Time) {
	return f.items, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

//
// Harness
//

type testEnv struct {
	r        *gin.Engine
	registry *intake.Registry
	analyzer *fakeAnalyzer
	pay      *fakePayments
	store    *fakeStore
	persist  *fakePersistence
	idem     *fakeIdem
	chat     *fakeChat
}

type envOption func(*Options)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &testEnv{
		analyzer: &fakeAnalyzer{result: "## Verdict\nFair."},
		pay:      &fakePayments{},
		store:    &fakeStore{},
		persist:  &fakePersistence{ok: true},
		idem:     &fakeIdem{},
		chat:     &fakeChat{},
	}
	e.registry = intake.NewRegistry(intake.Deps{
		Analyzer: e.analyzer,
		Briefs:   fakeBriefs{},
		Quiz:     &fakeQuiz{questions: quizBatch()},
		Payments: e.pay,
		Store:    e.store,
		Logger:   zerolog.Nop(),
	}, time.Hour)

	o := Options{
		Sessions:    e.registry,
		Chat:        e.chat,
		Storage:     e.persist,
		Templates:   catalog.Default(),
		Idempotency: e.idem,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h := New(o)

	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, e.idem.lookup))
	r.POST("/sessions", h.CreateSession)
	s := r.Group("/sessions/:id")
	s.GET("", h.GetSession)
	s.POST("/navigate", h.Navigate)
	s.POST("/details", h.SubmitDetails)
	s.POST("/file", h.UploadFile)
	s.POST("/analysis", h.BeginAnalysis)
	s.POST("/consultation", h.RequestConsultation)
	s.POST("/payment", h.SubmitPayment)
	s.POST("/consult", h.SubmitConsult)
	s.POST("/quiz/category", h.SelectQuizCategory)
	s.POST("/quiz", h.StartQuiz)
	s.POST("/quiz/answer", h.AnswerQuestion)
	s.POST("/quiz/next", h.NextQuestion)
	s.POST("/purchase", h.PurchaseTemplate)
	s.POST("/archive/lookup", h.LookupArchive)
	s.POST("/archive/select", h.SelectArchivedAudit)
	s.GET("/chat", h.ChatHistory)
	s.POST("/chat", h.PostChat)
	r.POST("/mailing-list", h.JoinMailingList)
	r.GET("/templates", h.ListTemplates)
	r.GET("/news", h.ListNews)
	r.GET("/storage/mode", h.StorageMode)
	e.r = r
	return e
}

func quizBatch() []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, domain.QuizBatchSize)
	for i := range out {
		out[i] = domain.QuizQuestion{
			Question:           "Who owns the master?",
			Options:            []string{"a", "b", "c", "d"},
			CorrectAnswerIndex: 1,
			Explanation:        "contract",
		}
	}
	return out
}

// snap is the decoded snapshot envelope; the payload stays raw.
type snap struct {
	SessionID string          `json:"session_id"`
	Screen    string          `json:"screen"`
	Busy      bool            `json:"busy"`
	User      intake.UserInfo `json:"user"`
	Notice    string          `json:"notice"`
	Payload   json.RawMessage `json:"payload"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, id, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeSnap(t *testing.T, w *httptest.ResponseRecorder) snap {
	t.Helper()
	var s snap
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode snapshot: %v body=%s", err, w.Body.String())
	}
	return s
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error: %v body=%s", err, w.Body.String())
	}
	return er
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	return decodeSnap(t, w).SessionID
}

var jane = DetailsRequest{Name: "Jane Wanjiru", Email: "jane@example.co.ke", Whatsapp: "+254712345678"}

// toResults drives a fresh session to the results screen.
func (e *testEnv) toResults(t *testing.T) string {
	t.Helper()
	id := e.create(t)
	steps := []struct {
		path string
		body any
		want string
	}{
		{"/navigate", NavigateRequest{Screen: "upload"}, "details-form"},
		{"/details", jane, "upload"},
	}
	for _, s := range steps {
		w := e.do(t, http.MethodPost, "/sessions/"+id+s.path, s.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", s.path, w.Code, w.Body.String())
		}
		if got := decodeSnap(t, w).Screen; got != s.want {
			t.Fatalf("%s screen=%q want %q", s.path, got, s.want)
		}
	}
	if w := e.upload(t, id, "deal.txt", []byte("The producer owns all masters.")); w.Code != http.StatusOK {
		t.Fatalf("upload status=%d body=%s", w.Code, w.Body.String())
	}
	w := e.do(t, http.MethodPost, "/sessions/"+id+"/analysis", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("analysis status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decodeSnap(t, w).Screen; got != "results" {
		t.Fatalf("analysis screen=%q", got)
	}
	return id
}

//
// failFor
//

func Test_failFor_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		ec   string
	}{
		{intake.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{intake.ErrAuditNotFound, http.StatusNotFound, ErrCodeNotFound},
		{catalog.ErrTemplateNotFound, http.StatusNotFound, ErrCodeNotFound},
		{intake.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
		{intake.ErrBusy, http.StatusConflict, ErrCodeBusy},
		{services.ErrChatBusy, http.StatusConflict, ErrCodeBusy},
		{intake.ErrNotPassed, http.StatusConflict, ErrCodeNotPassed},
		{intake.ErrNotAnswered, http.StatusConflict, ErrCodeNotAnswered},
		{intake.ErrIncompleteIdentity, http.StatusUnprocessableEntity, ErrCodeValidation},
		{intake.ErrInvalidOption, http.StatusUnprocessableEntity, ErrCodeValidation},
		{services.ErrEmptyPrompt, http.StatusUnprocessableEntity, ErrCodeValidation},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { failFor(c, tc.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if w.Code != tc.code {
				t.Fatalf("status=%d want %d", w.Code, tc.code)
			}
			if got := decodeErr(t, w).Code; got != tc.ec {
				t.Fatalf("code=%q want %q", got, tc.ec)
			}
		})
	}
}
