package intake

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/domain"
	"github.com/tbourn/ip-intake-backend/internal/mailer"
	"github.com/tbourn/ip-intake-backend/internal/payments"
	"github.com/tbourn/ip-intake-backend/internal/storage"
)

// Working-screen captions.
const (
	stepAnalysis = "Khatiebi is conducting a deep multi-jurisdictional review..."
	stepBrief    = "Khatiebi is preparing your official case brief..."
	stepDispatch = "Dispatching legal brief via Secure Edge Network..."
	stepQuiz     = "Khatiebi is preparing your IP mastery challenge..."

	statusConnecting = "Initiating Secure M-PESA Connection..."
)

// DefaultConsultationFee is the consultation price in KES.
const DefaultConsultationFee = 5000

// DefaultBookingURL is the scheduling page the booking screen embeds.
const DefaultBookingURL = "https://calendly.com/khalwaleip/30min"

// Analyzer reviews a contract document for the named requester.
type Analyzer interface {
	Analyze(ctx context.Context, doc []byte, mimeType, requester string) (string, error)
}

// BriefWriter drafts the attorney brief of a consultation.
type BriefWriter interface {
	WriteBrief(ctx context.Context, clientName, analysis, complaints string) (string, error)
}

// QuizGenerator produces one batch of quiz questions for a category.
type QuizGenerator interface {
	GenerateQuiz(ctx context.Context, category string) ([]domain.QuizQuestion, error)
}

// PaymentGateway initiates and verifies a mobile-money charge.
type PaymentGateway interface {
	Initiate(ctx context.Context, p payments.Payer, amount int) (payments.Response, error)
	Verify(ctx context.Context, checkoutRequestID string) (bool, error)
}

// Persistence is the subset of the storage gateway the machine writes to.
type Persistence interface {
	PersistClient(ctx context.Context, id storage.Identity) (string, storage.Mode)
	PersistAudit(ctx context.Context, clientID, contractName, analysis string) storage.Mode
	FetchAuditsBySecurityPair(ctx context.Context, email, whatsapp string) []domain.ContractAudit
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Analyzer Analyzer
	Briefs   BriefWriter
	Quiz     QuizGenerator
	Payments PaymentGateway
	Mailer   mailer.Mailer
	Store    Persistence
	CaseIDs  *CaseIDs

	ConsultationFee int
	BookingURL      string
	Logger          zerolog.Logger
	Now             func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.CaseIDs == nil {
		d.CaseIDs = NewCaseIDs(0)
	}
	if d.ConsultationFee <= 0 {
		d.ConsultationFee = DefaultConsultationFee
	}
	if d.BookingURL == "" {
		d.BookingURL = DefaultBookingURL
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Mailer == nil {
		d.Mailer = mailer.Noop{Logger: d.Logger}
	}
	return d
}

type quizState struct {
	category    string
	questions   []domain.QuizQuestion
	index       int
	score       int
	answered    bool
	selected    int
	missed      []domain.QuizQuestion
	completedAt time.Time
}

func (q *quizState) reset(questions []domain.QuizQuestion) {
	q.questions = questions
	q.index = 0
	q.score = 0
	q.answered = false
	q.selected = -1
	q.missed = nil
	q.completedAt = time.Time{}
}

func (q *quizState) passed() bool {
	return q.score >= domain.QuizPassMark
}

// Machine is the navigation state of one visitor session.
//
// Actions that call a collaborator release the lock for the duration of the
// call and mark the session busy; a second such action fails with ErrBusy.
// Navigation stays possible meanwhile. Every transition bumps an epoch, and
// a collaborator result whose epoch is no longer current is discarded.
//
// Collaborator calls run on a context detached from the caller's
// cancellation, so a dropped HTTP request does not abort a charge halfway.
//
// Machine is safe for concurrent use.
type Machine struct {
	id   string
	deps Deps
	log  zerolog.Logger

	mu    sync.Mutex
	fsm   *fsm.FSM
	epoch uint64
	busy  bool
	step  string

	user         UserInfo
	file         *ContractFile
	contractName string
	analysis     string
	fromArchive  bool

	caseFile  *CaseFile
	emailSent bool
	payment   PaymentView
	pending   *catalog.Template

	quiz quizState

	archive     ArchiveView
	archiveRecs []domain.ContractAudit

	errMsg string
	notice string
}

// NewMachine returns a session on the landing screen.
func NewMachine(id string, deps Deps) *Machine {
	deps = deps.withDefaults()
	return &Machine{
		id:   id,
		deps: deps,
		log:  deps.Logger.With().Str("session_id", id).Logger(),
		fsm:  newScreenFSM(ScreenLanding),
		quiz: quizState{category: domain.QuizCategories[0], selected: -1},
	}
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.id }

// Screen returns the active screen.
func (m *Machine) Screen() Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen()
}

func (m *Machine) screen() Screen { return Screen(m.fsm.Current()) }

func (m *Machine) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("intake/Machine").Start(ctx, name,
		trace.WithAttributes(
			attribute.String("session.id", m.id),
		),
	)
}

// fire runs one event of the screen graph. A self-transition is a no-op.
// Callers hold m.mu.
func (m *Machine) fire(ctx context.Context, ev string) error {
	err := m.fsm.Event(ctx, ev)
	if err == nil {
		m.epoch++
		m.notice = ""
		return nil
	}
	var (
		noop    fsm.NoTransitionError
		invalid fsm.InvalidEventError
		unknown fsm.UnknownEventError
	)
	switch {
	case errors.As(err, &noop):
		return nil
	case errors.As(err, &invalid), errors.As(err, &unknown):
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, m.screen())
	default:
		return err
	}
}

// fail moves to the error screen with msg. Callers hold m.mu.
func (m *Machine) fail(ctx context.Context, msg string) error {
	m.errMsg = msg
	return m.fire(ctx, evFail)
}

// begin fires the event that starts a collaborator call and marks the
// session busy. It returns the epoch the result must match. Callers hold m.mu.
func (m *Machine) begin(ctx context.Context, ev, step string) (uint64, error) {
	if m.busy {
		return 0, ErrBusy
	}
	if ev != "" {
		if err := m.fire(ctx, ev); err != nil {
			return 0, err
		}
	}
	m.busy = true
	m.step = step
	return m.epoch, nil
}

// finish releases the busy flag and reports whether the session is still
// where the call left it. Callers hold m.mu.
func (m *Machine) finish(epoch uint64, action string) bool {
	m.busy = false
	m.step = ""
	if m.epoch != epoch {
		staleResults.WithLabelValues(action).Inc()
		m.log.Debug().Str("action", action).Msg("discarding stale result")
		return false
	}
	return true
}

func normalizeUser(u UserInfo) UserInfo {
	return UserInfo{
		Name:     strings.TrimSpace(u.Name),
		Email:    strings.TrimSpace(u.Email),
		Whatsapp: strings.TrimSpace(u.Whatsapp),
	}
}

// Navigate performs a direct navigation control. Upload redirects to the
// details form while the identity is incomplete, and the certificate opens
// only for a passed quiz.
func (m *Machine) Navigate(ctx context.Context, target Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if target == ScreenUpload && !m.user.Complete() {
		target = ScreenDetailsForm
	}
	if target == ScreenCertificate && !m.quiz.passed() {
		return ErrNotPassed
	}
	ev, ok := navEvents[target]
	if !ok {
		return fmt.Errorf("%w: cannot navigate to %q", ErrInvalidTransition, target)
	}
	if err := m.fire(ctx, ev); err != nil {
		return err
	}
	if target != ScreenDetailsForm {
		m.pending = nil
	}
	return nil
}

// SubmitDetails validates and stores the identity form. A stashed template
// purchase resumes, the quiz starts when submitted from the quiz intro, and
// otherwise the session moves on to upload.
func (m *Machine) SubmitDetails(ctx context.Context, in UserInfo) error {
	u := normalizeUser(in)
	if !u.Complete() {
		return ErrIncompleteIdentity
	}

	m.mu.Lock()
	cur := m.screen()
	if cur != ScreenDetailsForm && cur != ScreenQuizIntro {
		m.mu.Unlock()
		return fmt.Errorf("%w: details from %s", ErrInvalidTransition, cur)
	}
	m.user = u
	pending := m.pending
	category := m.quiz.category
	switch {
	case pending != nil:
		m.mu.Unlock()
		return m.PurchaseTemplate(ctx, *pending)
	case cur == ScreenQuizIntro:
		m.mu.Unlock()
		return m.StartQuiz(ctx, u.Name, category)
	default:
		defer m.mu.Unlock()
		return m.fire(ctx, evDetailsSubmitted)
	}
}

// SelectFile stores the contract to analyze. An empty or generic declared
// type is replaced by the sniffed type, defaulting to PDF.
func (m *Machine) SelectFile(name, declaredType string, data []byte) error {
	if len(data) == 0 {
		return ErrNoFile
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "contract"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.screen(); cur != ScreenUpload {
		return fmt.Errorf("%w: file selection on %s", ErrInvalidTransition, cur)
	}
	m.file = &ContractFile{
		Name:     name,
		Type:     declaredType,
		MIMEType: resolveMIME(declaredType, data),
		Data:     data,
	}
	return nil
}

func resolveMIME(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	detected := mimetype.Detect(data).String()
	if detected == "" || strings.HasPrefix(detected, "application/octet-stream") {
		return "application/pdf"
	}
	return detected
}

// BeginAnalysis runs the contract review. On success the client and the
// audit are persisted before the results screen is entered; persistence
// problems are absorbed by the gateway.
func (m *Machine) BeginAnalysis(ctx context.Context) error {
	ctx, span := m.span(ctx, "BeginAnalysis")
	defer span.End()

	m.mu.Lock()
	if cur := m.screen(); cur != ScreenUpload {
		m.mu.Unlock()
		return fmt.Errorf("%w: analysis from %s", ErrInvalidTransition, cur)
	}
	if m.file == nil || len(m.file.Data) == 0 {
		m.mu.Unlock()
		return ErrNoFile
	}
	epoch, err := m.begin(ctx, evBeginAnalysis, stepAnalysis)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	file := *m.file
	user := m.user
	m.mu.Unlock()

	cctx := context.WithoutCancel(ctx)
	result, err := m.deps.Analyzer.Analyze(cctx, file.Data, file.MIMEType, user.Name)
	if err != nil {
		m.log.Error().Err(err).Str("file", file.Name).Msg("contract analysis failed")
	} else if m.deps.Store != nil {
		clientID, _ := m.deps.Store.PersistClient(cctx, storage.Identity{
			Name: user.Name, Email: user.Email, Whatsapp: user.Whatsapp,
		})
		m.deps.Store.PersistAudit(cctx, clientID, file.Name, result)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(epoch, "analysis") {
		return nil
	}
	if err != nil {
		return m.fail(ctx, MsgAnalysisFailed)
	}
	m.analysis = result
	m.contractName = file.Name
	m.fromArchive = false
	return m.fire(ctx, evAnalysisSucceeded)
}

// RequestConsultation moves from results to the payment screen with the
// consultation fee.
func (m *Machine) RequestConsultation(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.user.Complete() {
		return ErrIncompleteIdentity
	}
	if err := m.fire(ctx, evRequestConsult); err != nil {
		return err
	}
	m.payment = PaymentView{Amount: m.deps.ConsultationFee}
	return nil
}

// charge runs the initiate-then-verify sequence and returns the checkout
// reference when the payment settled. Called without m.mu.
func (m *Machine) charge(ctx context.Context, epoch uint64, payer payments.Payer, amount int) (string, bool) {
	resp, err := m.deps.Payments.Initiate(ctx, payer, amount)
	if err != nil {
		m.log.Warn().Err(err).Int("amount", amount).Msg("payment initiation failed")
		return "", false
	}
	if !resp.Success {
		m.log.Warn().Str("message", resp.Message).Int("amount", amount).Msg("payment initiation rejected")
		return "", false
	}

	m.mu.Lock()
	if m.epoch == epoch {
		m.payment.Status = resp.Message
	}
	m.mu.Unlock()

	ok, err := m.deps.Payments.Verify(ctx, resp.CheckoutRequestID)
	if err != nil {
		m.log.Warn().Err(err).Str("checkout_request_id", resp.CheckoutRequestID).Msg("payment verification failed")
		return "", false
	}
	if !ok {
		m.log.Warn().Str("checkout_request_id", resp.CheckoutRequestID).Msg("payment not settled")
		return "", false
	}
	return resp.CheckoutRequestID, true
}

// SubmitPayment charges the consultation fee. Processing is reset whatever
// the outcome.
func (m *Machine) SubmitPayment(ctx context.Context) error {
	ctx, span := m.span(ctx, "SubmitPayment")
	defer span.End()

	m.mu.Lock()
	if cur := m.screen(); cur != ScreenPayment {
		m.mu.Unlock()
		return fmt.Errorf("%w: payment from %s", ErrInvalidTransition, cur)
	}
	epoch, err := m.begin(ctx, "", "")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	amount := m.deps.ConsultationFee
	m.payment = PaymentView{Amount: amount, Processing: true, Status: statusConnecting}
	payer := payments.Payer{Name: m.user.Name, Phone: m.user.Whatsapp}
	m.mu.Unlock()

	_, ok := m.charge(context.WithoutCancel(ctx), epoch, payer, amount)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.payment.Processing = false
	if !m.finish(epoch, "payment") {
		return nil
	}
	if !ok {
		return m.fail(ctx, MsgPaymentFailed)
	}
	return m.fire(ctx, evPaymentVerified)
}

// SubmitConsultDetails opens a case file, drafts the attorney brief and
// emails it. A failed email is logged and the booking screen is reached
// regardless.
func (m *Machine) SubmitConsultDetails(ctx context.Context, complaints string) error {
	ctx, span := m.span(ctx, "SubmitConsultDetails")
	defer span.End()

	complaints = strings.TrimSpace(complaints)
	if complaints == "" {
		return ErrEmptyComplaints
	}

	m.mu.Lock()
	if cur := m.screen(); cur != ScreenConsultForm {
		m.mu.Unlock()
		return fmt.Errorf("%w: consultation from %s", ErrInvalidTransition, cur)
	}
	epoch, err := m.begin(ctx, evSubmitConsult, stepBrief)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	caseID := m.deps.CaseIDs.Next()
	user := m.user
	analysis := m.analysis
	m.mu.Unlock()

	span.SetAttributes(attribute.String("case.id", caseID))
	cctx := context.WithoutCancel(ctx)
	brief, err := m.deps.Briefs.WriteBrief(cctx, user.Name, analysis, complaints)
	if err != nil {
		m.log.Error().Err(err).Str("case_id", caseID).Msg("brief generation failed")
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.finish(epoch, "brief") {
			return nil
		}
		return m.fail(ctx, MsgBriefFailed)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.finish(epoch, "brief")
		m.mu.Unlock()
		return nil
	}
	m.caseFile = &CaseFile{
		ID:               caseID,
		CreatedDate:      m.deps.Now(),
		ClientComplaints: complaints,
		AttorneyBrief:    brief,
	}
	m.emailSent = false
	m.step = stepDispatch
	m.mu.Unlock()

	sent := m.deps.Mailer.SendBrief(cctx, user.Email, user.Name, caseID, brief)
	if !sent {
		m.log.Warn().Str("case_id", caseID).Msg("brief email not dispatched, proceeding to booking")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(epoch, "brief") {
		return nil
	}
	m.emailSent = sent
	return m.fire(ctx, evBriefReady)
}

// SelectQuizCategory chooses the category used when the quiz starts from the
// details form.
func (m *Machine) SelectQuizCategory(category string) error {
	if !domain.IsQuizCategory(category) {
		return ErrUnknownCategory
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.screen(); cur != ScreenQuizIntro {
		return fmt.Errorf("%w: category selection on %s", ErrInvalidTransition, cur)
	}
	m.quiz.category = category
	return nil
}

// StartQuiz generates a question batch. An empty category keeps the selected
// one. A failed or empty batch ends on the error screen.
func (m *Machine) StartQuiz(ctx context.Context, name, category string) error {
	ctx, span := m.span(ctx, "StartQuiz")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}

	m.mu.Lock()
	if category == "" {
		category = m.quiz.category
	}
	if !domain.IsQuizCategory(category) {
		m.mu.Unlock()
		return ErrUnknownCategory
	}
	if cur := m.screen(); cur != ScreenQuizIntro {
		m.mu.Unlock()
		return fmt.Errorf("%w: quiz from %s", ErrInvalidTransition, cur)
	}
	epoch, err := m.begin(ctx, evStartQuiz, stepQuiz)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.user.Name = name
	m.quiz.category = category
	m.mu.Unlock()

	span.SetAttributes(attribute.String("quiz.category", category))
	questions, err := m.deps.Quiz.GenerateQuiz(context.WithoutCancel(ctx), category)
	if err != nil {
		m.log.Error().Err(err).Str("category", category).Msg("quiz generation failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(epoch, "quiz") {
		return nil
	}
	switch {
	case err != nil:
		return m.fail(ctx, MsgQuizFailed)
	case len(questions) == 0:
		m.log.Warn().Str("category", category).Msg("quiz generation returned no questions")
		return m.fail(ctx, MsgQuizEmpty)
	}
	m.quiz.reset(questions)
	return m.fire(ctx, evQuizReady)
}

// AnswerQuestion records the answer to the current question. A question is
// scored once; later answers are ignored.
func (m *Machine) AnswerQuestion(option int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.screen(); cur != ScreenQuizGame {
		return fmt.Errorf("%w: answer on %s", ErrInvalidTransition, cur)
	}
	if m.quiz.answered {
		return nil
	}
	q := m.quiz.questions[m.quiz.index]
	if option < 0 || option >= len(q.Options) {
		return ErrInvalidOption
	}
	m.quiz.answered = true
	m.quiz.selected = option
	if option == q.CorrectAnswerIndex {
		m.quiz.score++
	} else {
		m.quiz.missed = append(m.quiz.missed, q)
	}
	return nil
}

// NextQuestion advances past an answered question, finishing the quiz after
// the last one.
func (m *Machine) NextQuestion(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.screen(); cur != ScreenQuizGame {
		return fmt.Errorf("%w: next question on %s", ErrInvalidTransition, cur)
	}
	if !m.quiz.answered {
		return ErrNotAnswered
	}
	if m.quiz.index < len(m.quiz.questions)-1 {
		m.quiz.index++
		m.quiz.answered = false
		m.quiz.selected = -1
		return nil
	}
	if err := m.fire(ctx, evQuizFinished); err != nil {
		return err
	}
	m.quiz.completedAt = m.deps.Now()
	return nil
}

// PurchaseTemplate buys a template. Without a complete identity the template
// is stashed and the details form opens; submitting it resumes the purchase.
func (m *Machine) PurchaseTemplate(ctx context.Context, t catalog.Template) error {
	ctx, span := m.span(ctx, "PurchaseTemplate")
	defer span.End()
	span.SetAttributes(attribute.String("template.id", t.ID))

	m.mu.Lock()
	if !m.user.Complete() {
		defer m.mu.Unlock()
		if err := m.fire(ctx, evToDetails); err != nil {
			return err
		}
		tc := t
		m.pending = &tc
		return nil
	}
	if cur := m.screen(); cur != ScreenStore && cur != ScreenDetailsForm {
		m.mu.Unlock()
		return fmt.Errorf("%w: purchase from %s", ErrInvalidTransition, cur)
	}
	epoch, err := m.begin(ctx, "", "")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.payment = PaymentView{
		Amount:     t.Price,
		Processing: true,
		Status:     fmt.Sprintf("Requesting KSH %d for %s...", t.Price, t.Name),
	}
	user := m.user
	m.mu.Unlock()

	cctx := context.WithoutCancel(ctx)
	ref, ok := m.charge(cctx, epoch, payments.Payer{Name: user.Name, Phone: user.Whatsapp}, t.Price)
	if ok {
		order := mailer.Order{ID: ref, Item: t.Name, Amount: t.Price}
		if !m.deps.Mailer.SendOrderConfirmation(cctx, user.Email, order) {
			m.log.Warn().Str("order_id", ref).Msg("order confirmation not dispatched")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.payment.Processing = false
	if !m.finish(epoch, "purchase") {
		return nil
	}
	if !ok {
		return m.fail(ctx, MsgPurchaseFailed)
	}
	m.pending = nil
	if err := m.fire(ctx, evPurchaseComplete); err != nil {
		return err
	}
	m.notice = fmt.Sprintf("Success! Your %s has been sent to %s. Check your inbox for the download link.", t.Name, user.Email)
	return nil
}

// LookupArchive runs the two-factor audit lookup. The records, possibly
// none, stay on the archive screen.
func (m *Machine) LookupArchive(ctx context.Context, email, whatsapp string) error {
	ctx, span := m.span(ctx, "LookupArchive")
	defer span.End()

	email, whatsapp = strings.TrimSpace(email), strings.TrimSpace(whatsapp)
	if email == "" || whatsapp == "" {
		return ErrLookupFields
	}

	m.mu.Lock()
	if cur := m.screen(); cur != ScreenArchive {
		m.mu.Unlock()
		return fmt.Errorf("%w: archive lookup on %s", ErrInvalidTransition, cur)
	}
	epoch, err := m.begin(ctx, "", "")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.archive.Fetching = true
	m.archive.Tried = true
	m.mu.Unlock()

	var recs []domain.ContractAudit
	if m.deps.Store != nil {
		recs = m.deps.Store.FetchAuditsBySecurityPair(context.WithoutCancel(ctx), email, whatsapp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archive.Fetching = false
	if !m.finish(epoch, "archive") {
		return nil
	}
	m.archiveRecs = recs
	m.archive.Records = toArchiveRecords(recs)
	return nil
}

// SelectArchivedAudit reopens a past analysis on the results screen without
// a new review.
func (m *Machine) SelectArchivedAudit(ctx context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.screen(); cur != ScreenArchive {
		return fmt.Errorf("%w: archive selection on %s", ErrInvalidTransition, cur)
	}
	var found *domain.ContractAudit
	for i := range m.archiveRecs {
		if m.archiveRecs[i].ID == auditID {
			found = &m.archiveRecs[i]
			break
		}
	}
	if found == nil {
		return ErrAuditNotFound
	}
	if err := m.fire(ctx, evOpenArchivedAudit); err != nil {
		return err
	}
	m.analysis = found.AnalysisSummary
	m.contractName = found.ContractName
	m.fromArchive = true
	return nil
}

// Passed reports whether the last quiz reached the pass mark.
func (m *Machine) Passed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quiz.passed()
}

// Snapshot returns the session state with the payload of the active screen.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	av := m.fsm.AvailableTransitions()
	sort.Strings(av)
	s := Snapshot{
		SessionID:   m.id,
		Screen:      m.screen(),
		Busy:        m.busy,
		User:        m.user,
		Notice:      m.notice,
		Transitions: av,
	}
	s.Payload = m.payload(s.Screen)
	return s
}

func (m *Machine) activePayment() *PaymentView {
	if !m.payment.Processing {
		return nil
	}
	p := m.payment
	return &p
}

// payload builds the view of screen s. Callers hold m.mu.
func (m *Machine) payload(s Screen) Payload {
	switch s {
	case ScreenAnalyzing, ScreenGeneratingBrief:
		return WorkingView{Step: m.step}
	case ScreenUpload:
		v := UploadView{}
		if m.file != nil && len(m.file.Data) > 0 {
			v.File = &FileInfo{Name: m.file.Name, MIMEType: m.file.MIMEType, Size: len(m.file.Data)}
			v.CanBegin = !m.busy
		}
		return v
	case ScreenResults:
		return ResultsView{ContractName: m.contractName, Analysis: m.analysis, FromArchive: m.fromArchive}
	case ScreenPayment:
		return m.payment
	case ScreenDetailsForm:
		v := DetailsView{Payment: m.activePayment()}
		if m.pending != nil {
			t := *m.pending
			v.PendingTemplate = &t
		}
		return v
	case ScreenStore:
		return StoreView{Payment: m.activePayment()}
	case ScreenBooking:
		v := BookingView{EmailSent: m.emailSent}
		if m.caseFile != nil {
			v.Case = *m.caseFile
		}
		v.BookingURL = bookingLink(m.deps.BookingURL, m.user, v.Case.ID)
		return v
	case ScreenQuizIntro:
		return QuizIntroView{
			Categories: append([]string(nil), domain.QuizCategories...),
			Selected:   m.quiz.category,
		}
	case ScreenQuizGame:
		return m.quizGameView()
	case ScreenQuizResults:
		return QuizResultsView{
			Category: m.quiz.category,
			Score:    m.quiz.score,
			Total:    len(m.quiz.questions),
			Passed:   m.quiz.passed(),
			Missed:   append([]domain.QuizQuestion(nil), m.quiz.missed...),
		}
	case ScreenCertificate:
		return CertificateView{
			Name:     certificateName(m.user.Name),
			Category: m.quiz.category,
			Score:    m.quiz.score,
			Total:    len(m.quiz.questions),
			IssuedAt: m.quiz.completedAt,
		}
	case ScreenArchive:
		v := m.archive
		v.Records = append([]ArchiveRecord{}, m.archive.Records...)
		return v
	case ScreenError:
		return ErrorView{Message: m.errMsg}
	}
	return nil
}

func (m *Machine) quizGameView() QuizGameView {
	v := QuizGameView{
		Category: m.quiz.category,
		Index:    m.quiz.index,
		Total:    len(m.quiz.questions),
		Score:    m.quiz.score,
	}
	if m.quiz.index >= len(m.quiz.questions) {
		return v
	}
	q := m.quiz.questions[m.quiz.index]
	cur := &QuestionView{
		Question: q.Question,
		Options:  append([]string(nil), q.Options...),
		Answered: m.quiz.answered,
	}
	if m.quiz.answered {
		sel, correct := m.quiz.selected, q.CorrectAnswerIndex
		cur.Selected = &sel
		cur.Correct = &correct
		cur.Explanation = q.Explanation
		cur.SourceURL = q.SourceURL
	}
	v.Current = cur
	return v
}

// certificateName title-cases the holder's name. Casers keep state, so one
// is built per call.
func certificateName(name string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}

func bookingLink(base string, u UserInfo, caseID string) string {
	q := url.Values{}
	q.Set("name", u.Name)
	q.Set("email", u.Email)
	q.Set("a1", caseID)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
