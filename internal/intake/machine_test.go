package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/domain"
	"github.com/tbourn/ip-intake-backend/internal/mailer"
	"github.com/tbourn/ip-intake-backend/internal/payments"
	"github.com/tbourn/ip-intake-backend/internal/storage"
)

var errBoom = errors.New("boom")

type fakeAnalyzer struct {
	result  string
	err     error
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	calls     int
	mime      string
	requester string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ []byte, mime, requester string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mime, f.requester = mime, requester
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

type fakeBriefs struct {
	brief string
	err   error
}

func (f *fakeBriefs) WriteBrief(_ context.Context, _, _, _ string) (string, error) {
	return f.brief, f.err
}

type fakeQuiz struct {
	questions []domain.QuizQuestion
	err       error
}

func (f *fakeQuiz) GenerateQuiz(_ context.Context, _ string) ([]domain.QuizQuestion, error) {
	return f.questions, f.err
}

type fakePayments struct {
	resp      payments.Response
	initErr   error
	verified  bool
	verifyErr error

	mu      sync.Mutex
	amounts []int
}

func (f *fakePayments) Initiate(_ context.Context, _ payments.Payer, amount int) (payments.Response, error) {
	f.mu.Lock()
	f.amounts = append(f.amounts, amount)
	f.mu.Unlock()
	return f.resp, f.initErr
}

func (f *fakePayments) Verify(_ context.Context, _ string) (bool, error) {
	return f.verified, f.verifyErr
}

func okPayments() *fakePayments {
	return &fakePayments{
		resp:     payments.Response{Success: true, Message: "sent", CheckoutRequestID: "KCA-STK-1"},
		verified: true,
	}
}

type fakeMailer struct {
	ok bool

	mu     sync.Mutex
	briefs []string
	orders []mailer.Order
}

func (f *fakeMailer) SendBrief(_ context.Context, _, _, caseID, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.briefs = append(f.briefs, caseID)
	return f.ok
}

func (f *fakeMailer) SendOrderConfirmation(_ context.Context, _ string, o mailer.Order) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return f.ok
}

type fakeStore struct {
	mu      sync.Mutex
	clients map[string]storage.Identity
	audits  []domain.ContractAudit
}

func newFakeStore() *fakeStore {
	return &fakeStore{clients: map[string]storage.Identity{}}
}

func (f *fakeStore) PersistClient(_ context.Context, id storage.Identity) (string, storage.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[id.Email] = id
	return "client-" + id.Email, storage.ModeLocal
}

func (f *fakeStore) PersistAudit(_ context.Context, clientID, contractName, analysis string) storage.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, domain.ContractAudit{
		ID:              fmt.Sprintf("audit-%d", len(f.audits)+1),
		ClientID:        clientID,
		ContractName:    contractName,
		AnalysisSummary: analysis,
		RiskScore:       domain.PlaceholderRiskScore,
	})
	return storage.ModeLocal
}

func (f *fakeStore) FetchAuditsBySecurityPair(_ context.Context, email, whatsapp string) []domain.ContractAudit {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[email]
	if !ok || c.Whatsapp != whatsapp {
		return []domain.ContractAudit{}
	}
	out := []domain.ContractAudit{}
	for i := len(f.audits) - 1; i >= 0; i-- {
		if f.audits[i].ClientID == "client-"+email {
			out = append(out, f.audits[i])
		}
	}
	return out
}

var jane = UserInfo{Name: "Jane", Email: "jane@x.com", Whatsapp: "+254700000000"}

func newTestDeps() Deps {
	return Deps{
		Analyzer: &fakeAnalyzer{result: "OK"},
		Briefs:   &fakeBriefs{brief: "brief"},
		Quiz:     &fakeQuiz{questions: makeQuestions(domain.QuizBatchSize)},
		Payments: okPayments(),
		Mailer:   &fakeMailer{ok: true},
		Store:    newFakeStore(),
		Logger:   zerolog.Nop(),
	}
}

func makeQuestions(n int) []domain.QuizQuestion {
	qs := make([]domain.QuizQuestion, n)
	for i := range qs {
		qs[i] = domain.QuizQuestion{
			Question:           fmt.Sprintf("Q%d", i+1),
			Options:            []string{"a", "b", "c", "d"},
			CorrectAnswerIndex: i % 4,
			Explanation:        "because",
		}
	}
	return qs
}

// at places m on screen s directly.
func at(m *Machine, s Screen) {
	m.mu.Lock()
	m.fsm.SetState(string(s))
	m.mu.Unlock()
}

func mustScreen(t *testing.T, m *Machine, want Screen) {
	t.Helper()
	if got := m.Screen(); got != want {
		t.Fatalf("screen = %s, want %s", got, want)
	}
}

func toUpload(t *testing.T, m *Machine) {
	t.Helper()
	ctx := context.Background()
	if err := m.Navigate(ctx, ScreenDetailsForm); err != nil {
		t.Fatalf("navigate details: %v", err)
	}
	if err := m.SubmitDetails(ctx, jane); err != nil {
		t.Fatalf("submit details: %v", err)
	}
	mustScreen(t, m, ScreenUpload)
}

func toResults(t *testing.T, m *Machine) {
	t.Helper()
	toUpload(t, m)
	if err := m.SelectFile("deal.pdf", "application/pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("select file: %v", err)
	}
	if err := m.BeginAnalysis(context.Background()); err != nil {
		t.Fatalf("begin analysis: %v", err)
	}
	mustScreen(t, m, ScreenResults)
}

func TestAnalysisFlow_PersistsClientAndAudit(t *testing.T) {
	deps := newTestDeps()
	store := deps.Store.(*fakeStore)
	m := NewMachine("s1", deps)

	toResults(t, m)

	snap := m.Snapshot()
	res, ok := snap.Payload.(ResultsView)
	if !ok {
		t.Fatalf("payload = %T, want ResultsView", snap.Payload)
	}
	if res.Analysis != "OK" || res.ContractName != "deal.pdf" || res.FromArchive {
		t.Fatalf("results = %+v", res)
	}
	if len(store.clients) != 1 {
		t.Fatalf("clients = %d, want 1", len(store.clients))
	}
	if len(store.audits) != 1 || store.audits[0].ContractName != "deal.pdf" || store.audits[0].AnalysisSummary != "OK" {
		t.Fatalf("audits = %+v", store.audits)
	}
	a := deps.Analyzer.(*fakeAnalyzer)
	if a.requester != "Jane" || a.mime != "application/pdf" {
		t.Fatalf("analyzer got requester=%q mime=%q", a.requester, a.mime)
	}
}

func TestAnalysisFailure_GoesToErrorWithoutPersisting(t *testing.T) {
	deps := newTestDeps()
	deps.Analyzer = &fakeAnalyzer{err: errBoom}
	store := deps.Store.(*fakeStore)
	m := NewMachine("s1", deps)
	toUpload(t, m)
	if err := m.SelectFile("deal.pdf", "", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := m.BeginAnalysis(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	mustScreen(t, m, ScreenError)
	if ev := m.Snapshot().Payload.(ErrorView); ev.Message != MsgAnalysisFailed {
		t.Fatalf("message = %q", ev.Message)
	}
	if len(store.audits) != 0 || len(store.clients) != 0 {
		t.Fatalf("nothing should be persisted on failure")
	}
}

func TestBeginAnalysis_RequiresFile(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	toUpload(t, m)
	if err := m.BeginAnalysis(context.Background()); !errors.Is(err, ErrNoFile) {
		t.Fatalf("err = %v, want ErrNoFile", err)
	}
	mustScreen(t, m, ScreenUpload)
}

func TestPayment_VerifiedReachesConsultForm(t *testing.T) {
	deps := newTestDeps()
	pay := deps.Payments.(*fakePayments)
	m := NewMachine("s1", deps)
	toResults(t, m)

	if err := m.RequestConsultation(context.Background()); err != nil {
		t.Fatalf("request consultation: %v", err)
	}
	mustScreen(t, m, ScreenPayment)
	if pv := m.Snapshot().Payload.(PaymentView); pv.Amount != DefaultConsultationFee || pv.Processing {
		t.Fatalf("payment view = %+v", pv)
	}

	if err := m.SubmitPayment(context.Background()); err != nil {
		t.Fatalf("submit payment: %v", err)
	}
	mustScreen(t, m, ScreenConsultForm)
	if len(pay.amounts) != 1 || pay.amounts[0] != DefaultConsultationFee {
		t.Fatalf("charged %v", pay.amounts)
	}
}

func TestPayment_Failures(t *testing.T) {
	cases := []struct {
		name string
		pay  *fakePayments
	}{
		{"initiate error", &fakePayments{initErr: errBoom}},
		{"initiate rejected", &fakePayments{resp: payments.Response{Success: false, Message: "no"}}},
		{"verify error", &fakePayments{resp: payments.Response{Success: true, CheckoutRequestID: "x"}, verifyErr: errBoom}},
		{"not settled", &fakePayments{resp: payments.Response{Success: true, CheckoutRequestID: "x"}, verified: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			deps.Payments = tc.pay
			m := NewMachine("s1", deps)
			m.user = jane
			at(m, ScreenPayment)

			if err := m.SubmitPayment(context.Background()); err != nil {
				t.Fatalf("submit: %v", err)
			}
			mustScreen(t, m, ScreenError)
			if got := m.Snapshot().Payload.(ErrorView).Message; got != MsgPaymentFailed {
				t.Fatalf("message = %q, want %q", got, MsgPaymentFailed)
			}
			m.mu.Lock()
			processing := m.payment.Processing
			m.mu.Unlock()
			if processing {
				t.Fatalf("processing flag left set")
			}
		})
	}
}

func TestRequestConsultation_RequiresIdentity(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	at(m, ScreenResults)
	if err := m.RequestConsultation(context.Background()); !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("err = %v", err)
	}
	mustScreen(t, m, ScreenResults)
}

var caseIDPattern = regexp.MustCompile(`^KCA-\d{4}$`)

func TestConsultation_BooksEvenWhenEmailFails(t *testing.T) {
	deps := newTestDeps()
	mail := &fakeMailer{ok: false}
	deps.Mailer = mail
	m := NewMachine("s1", deps)
	m.user = jane
	at(m, ScreenConsultForm)

	if err := m.SubmitConsultDetails(context.Background(), "   "); !errors.Is(err, ErrEmptyComplaints) {
		t.Fatalf("blank complaints err = %v", err)
	}
	if err := m.SubmitConsultDetails(context.Background(), "They kept my masters."); err != nil {
		t.Fatalf("submit consult: %v", err)
	}
	mustScreen(t, m, ScreenBooking)

	bv := m.Snapshot().Payload.(BookingView)
	if !caseIDPattern.MatchString(bv.Case.ID) {
		t.Fatalf("case id %q does not match KCA-####", bv.Case.ID)
	}
	if bv.EmailSent {
		t.Fatalf("email_sent should be false")
	}
	if bv.Case.AttorneyBrief != "brief" || bv.Case.ClientComplaints != "They kept my masters." {
		t.Fatalf("case = %+v", bv.Case)
	}
	want := DefaultBookingURL + "?a1=" + bv.Case.ID + "&email=jane%40x.com&name=Jane"
	if bv.BookingURL != want {
		t.Fatalf("booking url = %q, want %q", bv.BookingURL, want)
	}
	if len(mail.briefs) != 1 || mail.briefs[0] != bv.Case.ID {
		t.Fatalf("brief mails = %v", mail.briefs)
	}
}

func TestConsultation_BriefFailure(t *testing.T) {
	deps := newTestDeps()
	deps.Briefs = &fakeBriefs{err: errBoom}
	mail := deps.Mailer.(*fakeMailer)
	m := NewMachine("s1", deps)
	m.user = jane
	at(m, ScreenConsultForm)

	if err := m.SubmitConsultDetails(context.Background(), "help"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	mustScreen(t, m, ScreenError)
	if got := m.Snapshot().Payload.(ErrorView).Message; got != MsgBriefFailed {
		t.Fatalf("message = %q", got)
	}
	if len(mail.briefs) != 0 {
		t.Fatalf("no mail expected after brief failure")
	}
}

func startQuiz(t *testing.T, m *Machine) {
	t.Helper()
	ctx := context.Background()
	if err := m.Navigate(ctx, ScreenQuizIntro); err != nil {
		t.Fatalf("navigate quiz intro: %v", err)
	}
	if err := m.StartQuiz(ctx, "jane doe", "Publishing"); err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	mustScreen(t, m, ScreenQuizGame)
}

// playQuiz answers every question, getting the first `correct` right.
func playQuiz(t *testing.T, m *Machine, correct int) {
	t.Helper()
	m.mu.Lock()
	qs := m.quiz.questions
	m.mu.Unlock()
	for i, q := range qs {
		opt := q.CorrectAnswerIndex
		if i >= correct {
			opt = (opt + 1) % len(q.Options)
		}
		if err := m.AnswerQuestion(opt); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if err := m.NextQuestion(context.Background()); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}
}

func TestQuiz_SeventeenCorrectPasses(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	startQuiz(t, m)
	playQuiz(t, m, 17)

	mustScreen(t, m, ScreenQuizResults)
	rv := m.Snapshot().Payload.(QuizResultsView)
	if !rv.Passed || rv.Score != 17 || rv.Total != 20 {
		t.Fatalf("results = %+v", rv)
	}
	if len(rv.Missed) != 3 {
		t.Fatalf("missed = %d, want 3", len(rv.Missed))
	}
}

func TestQuiz_PassMarkBoundary(t *testing.T) {
	for _, tc := range []struct {
		correct int
		passed  bool
	}{{15, false}, {16, true}, {20, true}} {
		t.Run(fmt.Sprint(tc.correct), func(t *testing.T) {
			m := NewMachine("s1", newTestDeps())
			startQuiz(t, m)
			playQuiz(t, m, tc.correct)
			if m.Passed() != tc.passed {
				t.Fatalf("passed = %v with %d correct", m.Passed(), tc.correct)
			}
			err := m.Navigate(context.Background(), ScreenCertificate)
			if tc.passed {
				if err != nil {
					t.Fatalf("open certificate: %v", err)
				}
				cv := m.Snapshot().Payload.(CertificateView)
				if cv.Name != "Jane Doe" || cv.Category != "Publishing" || cv.Score != tc.correct {
					t.Fatalf("certificate = %+v", cv)
				}
			} else if !errors.Is(err, ErrNotPassed) {
				t.Fatalf("err = %v, want ErrNotPassed", err)
			}
		})
	}
}

func TestAnswerQuestion_Idempotent(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	startQuiz(t, m)

	// Q1's correct answer is 0: answer wrong first, then right.
	if err := m.AnswerQuestion(2); err != nil {
		t.Fatalf("answer: %v", err)
	}
	for _, opt := range []int{0, 1, 3, 99} {
		if err := m.AnswerQuestion(opt); err != nil {
			t.Fatalf("repeat answer %d: %v", opt, err)
		}
	}
	m.mu.Lock()
	score, missed, sel := m.quiz.score, len(m.quiz.missed), m.quiz.selected
	m.mu.Unlock()
	if score != 0 || missed != 1 || sel != 2 {
		t.Fatalf("score=%d missed=%d selected=%d after repeats", score, missed, sel)
	}
}

func TestQuiz_AnswerValidationAndNext(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	startQuiz(t, m)

	if err := m.NextQuestion(context.Background()); !errors.Is(err, ErrNotAnswered) {
		t.Fatalf("next before answer err = %v", err)
	}
	if err := m.AnswerQuestion(4); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("out of range err = %v", err)
	}

	gv := m.Snapshot().Payload.(QuizGameView)
	if gv.Current == nil || gv.Current.Correct != nil || gv.Current.Explanation != "" {
		t.Fatalf("answer key leaked before answering: %+v", gv.Current)
	}
	if err := m.AnswerQuestion(0); err != nil {
		t.Fatalf("answer: %v", err)
	}
	gv = m.Snapshot().Payload.(QuizGameView)
	if gv.Current.Correct == nil || *gv.Current.Correct != 0 || gv.Score != 1 {
		t.Fatalf("answered view = %+v", gv)
	}
}

func TestStartQuiz_Failures(t *testing.T) {
	cases := []struct {
		name string
		quiz *fakeQuiz
		want string
	}{
		{"error", &fakeQuiz{err: errBoom}, MsgQuizFailed},
		{"empty", &fakeQuiz{}, MsgQuizEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			deps.Quiz = tc.quiz
			m := NewMachine("s1", deps)
			at(m, ScreenQuizIntro)
			if err := m.StartQuiz(context.Background(), "Jane", ""); err != nil {
				t.Fatalf("start: %v", err)
			}
			mustScreen(t, m, ScreenError)
			if got := m.Snapshot().Payload.(ErrorView).Message; got != tc.want {
				t.Fatalf("message = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStartQuiz_Validation(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	at(m, ScreenQuizIntro)
	if err := m.StartQuiz(context.Background(), " ", "Publishing"); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v", err)
	}
	if err := m.StartQuiz(context.Background(), "Jane", "Cooking"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err = %v", err)
	}
	mustScreen(t, m, ScreenQuizIntro)
}

func TestSubmitDetails_FromQuizIntroStartsQuiz(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	at(m, ScreenQuizIntro)
	if err := m.SelectQuizCategory("Film Industry"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := m.SubmitDetails(context.Background(), jane); err != nil {
		t.Fatalf("submit: %v", err)
	}
	mustScreen(t, m, ScreenQuizGame)
	if gv := m.Snapshot().Payload.(QuizGameView); gv.Category != "Film Industry" {
		t.Fatalf("category = %q", gv.Category)
	}
}

func TestSubmitDetails_Validation(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	at(m, ScreenDetailsForm)
	for _, u := range []UserInfo{
		{Email: "a@b.c", Whatsapp: "1"},
		{Name: "A", Whatsapp: "1"},
		{Name: "A", Email: "a@b.c", Whatsapp: "  "},
	} {
		if err := m.SubmitDetails(context.Background(), u); !errors.Is(err, ErrIncompleteIdentity) {
			t.Fatalf("SubmitDetails(%+v) err = %v", u, err)
		}
	}
	mustScreen(t, m, ScreenDetailsForm)
	if m.Snapshot().User != (UserInfo{}) {
		t.Fatalf("user should be untouched")
	}
}

func testTemplate() catalog.Template {
	return catalog.Template{ID: "t1", Name: "Split Sheet", Price: 1500, Category: "Music"}
}

func TestPurchase_StashesTemplateUntilDetails(t *testing.T) {
	deps := newTestDeps()
	mail := deps.Mailer.(*fakeMailer)
	pay := deps.Payments.(*fakePayments)
	m := NewMachine("s1", deps)
	ctx := context.Background()
	if err := m.Navigate(ctx, ScreenStore); err != nil {
		t.Fatalf("navigate store: %v", err)
	}

	if err := m.PurchaseTemplate(ctx, testTemplate()); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	mustScreen(t, m, ScreenDetailsForm)
	dv := m.Snapshot().Payload.(DetailsView)
	if dv.PendingTemplate == nil || dv.PendingTemplate.ID != "t1" {
		t.Fatalf("pending = %+v", dv.PendingTemplate)
	}
	if len(pay.amounts) != 0 {
		t.Fatalf("no charge before details")
	}

	if err := m.SubmitDetails(ctx, jane); err != nil {
		t.Fatalf("submit details: %v", err)
	}
	mustScreen(t, m, ScreenLanding)
	snap := m.Snapshot()
	want := "Success! Your Split Sheet has been sent to jane@x.com. Check your inbox for the download link."
	if snap.Notice != want {
		t.Fatalf("notice = %q", snap.Notice)
	}
	if len(pay.amounts) != 1 || pay.amounts[0] != 1500 {
		t.Fatalf("charged %v", pay.amounts)
	}
	if len(mail.orders) != 1 || mail.orders[0].Item != "Split Sheet" || mail.orders[0].ID != "KCA-STK-1" {
		t.Fatalf("orders = %+v", mail.orders)
	}

	// The notice is cleared by the next transition.
	if err := m.Navigate(ctx, ScreenStore); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if n := m.Snapshot().Notice; n != "" {
		t.Fatalf("notice survived navigation: %q", n)
	}
}

func TestPurchase_Failure(t *testing.T) {
	deps := newTestDeps()
	deps.Payments = &fakePayments{initErr: errBoom}
	m := NewMachine("s1", deps)
	m.user = jane
	at(m, ScreenStore)

	if err := m.PurchaseTemplate(context.Background(), testTemplate()); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	mustScreen(t, m, ScreenError)
	if got := m.Snapshot().Payload.(ErrorView).Message; got != MsgPurchaseFailed {
		t.Fatalf("message = %q", got)
	}
}

func TestArchive_LookupAndSelect(t *testing.T) {
	deps := newTestDeps()
	m := NewMachine("s1", deps)
	toResults(t, m)
	ctx := context.Background()

	if err := m.Navigate(ctx, ScreenArchive); err != nil {
		t.Fatalf("navigate archive: %v", err)
	}
	if av := m.Snapshot().Payload.(ArchiveView); av.Tried || len(av.Records) != 0 {
		t.Fatalf("fresh archive view = %+v", av)
	}
	if err := m.LookupArchive(ctx, "jane@x.com", ""); !errors.Is(err, ErrLookupFields) {
		t.Fatalf("err = %v", err)
	}

	// Existing email, wrong whatsapp.
	if err := m.LookupArchive(ctx, "jane@x.com", "+254711111111"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	mustScreen(t, m, ScreenArchive)
	av := m.Snapshot().Payload.(ArchiveView)
	if !av.Tried || av.Fetching || len(av.Records) != 0 {
		t.Fatalf("mismatch view = %+v", av)
	}

	if err := m.LookupArchive(ctx, "jane@x.com", "+254700000000"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	av = m.Snapshot().Payload.(ArchiveView)
	if len(av.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(av.Records))
	}

	if err := m.SelectArchivedAudit(ctx, "nope"); !errors.Is(err, ErrAuditNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := m.SelectArchivedAudit(ctx, av.Records[0].ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	mustScreen(t, m, ScreenResults)
	rv := m.Snapshot().Payload.(ResultsView)
	if rv.Analysis != "OK" || !rv.FromArchive || rv.ContractName != "deal.pdf" {
		t.Fatalf("results = %+v", rv)
	}
}

func TestArchivedAudit_DoesNotSelectAFile(t *testing.T) {
	deps := newTestDeps()
	store := deps.Store.(*fakeStore)
	analyzer := deps.Analyzer.(*fakeAnalyzer)
	store.PersistClient(context.Background(), storage.Identity{Name: jane.Name, Email: jane.Email, Whatsapp: jane.Whatsapp})
	store.PersistAudit(context.Background(), "client-"+jane.Email, "old.pdf", "archived")
	m := NewMachine("s1", deps)
	ctx := context.Background()

	if err := m.Navigate(ctx, ScreenArchive); err != nil {
		t.Fatalf("navigate archive: %v", err)
	}
	if err := m.LookupArchive(ctx, jane.Email, jane.Whatsapp); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := m.SelectArchivedAudit(ctx, "audit-1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	toUpload(t, m)
	if uv := m.Snapshot().Payload.(UploadView); uv.File != nil || uv.CanBegin {
		t.Fatalf("upload view = %+v", uv)
	}

	if err := m.BeginAnalysis(ctx); !errors.Is(err, ErrNoFile) {
		t.Fatalf("err = %v, want ErrNoFile", err)
	}
	mustScreen(t, m, ScreenUpload)
	if analyzer.calls != 0 || len(store.audits) != 1 {
		t.Fatalf("analyzer calls = %d, audits = %d", analyzer.calls, len(store.audits))
	}
}

func TestSelectFile_MIMEResolution(t *testing.T) {
	cases := []struct {
		declared string
		data     []byte
		want     string
	}{
		{"application/msword", []byte("x"), "application/msword"},
		{"", []byte("%PDF-1.7\n"), "application/pdf"},
		{"application/octet-stream", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, "image/png"},
		{"", []byte{0x00, 0x01, 0x02, 0x03}, "application/pdf"},
	}
	for _, tc := range cases {
		if got := resolveMIME(tc.declared, tc.data); got != tc.want {
			t.Errorf("resolveMIME(%q) = %q, want %q", tc.declared, got, tc.want)
		}
	}

	m := NewMachine("s1", newTestDeps())
	if err := m.SelectFile("a.pdf", "", []byte("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("select off upload err = %v", err)
	}
	at(m, ScreenUpload)
	if err := m.SelectFile("a.pdf", "", nil); !errors.Is(err, ErrNoFile) {
		t.Fatalf("empty file err = %v", err)
	}
	if err := m.SelectFile("a.pdf", "", []byte("%PDF-1.7\n")); err != nil {
		t.Fatalf("select: %v", err)
	}
	uv := m.Snapshot().Payload.(UploadView)
	if uv.File == nil || !uv.CanBegin || uv.File.Size != 9 {
		t.Fatalf("upload view = %+v", uv)
	}
}

func TestNavigate_UploadRedirectsWithoutIdentity(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	if err := m.Navigate(context.Background(), ScreenUpload); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	mustScreen(t, m, ScreenDetailsForm)

	m.user = jane
	if err := m.Navigate(context.Background(), ScreenUpload); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	mustScreen(t, m, ScreenUpload)
}

func TestInvalidTransition_LeavesStateUntouched(t *testing.T) {
	m := NewMachine("s1", newTestDeps())
	before := m.Snapshot()

	if err := m.SubmitPayment(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("payment from landing err = %v", err)
	}
	if err := m.Navigate(context.Background(), ScreenResults); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("back to results from landing err = %v", err)
	}
	if err := m.Navigate(context.Background(), ScreenBooking); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("navigate booking err = %v", err)
	}
	after := m.Snapshot()
	if after.Screen != before.Screen {
		t.Fatalf("screen changed to %s", after.Screen)
	}
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	if epoch != 0 {
		t.Fatalf("epoch = %d, want 0", epoch)
	}
}

func TestLandingReachableInOneAction(t *testing.T) {
	for _, s := range Screens {
		if s == ScreenLanding {
			continue
		}
		t.Run(string(s), func(t *testing.T) {
			m := NewMachine("s1", newTestDeps())
			at(m, s)
			err := m.Navigate(context.Background(), ScreenLanding)
			if s == ScreenCertificate {
				if err == nil {
					t.Fatalf("certificate should not leave straight to landing")
				}
				if err := m.Navigate(context.Background(), ScreenQuizResults); err != nil {
					t.Fatalf("close certificate: %v", err)
				}
				if err := m.Navigate(context.Background(), ScreenLanding); err != nil {
					t.Fatalf("landing from quiz results: %v", err)
				}
			} else if err != nil {
				t.Fatalf("home from %s: %v", s, err)
			}
			mustScreen(t, m, ScreenLanding)
		})
	}
}

func TestStaleAnalysisResultIsDiscarded(t *testing.T) {
	deps := newTestDeps()
	a := &fakeAnalyzer{result: "late", started: make(chan struct{}), release: make(chan struct{})}
	deps.Analyzer = a
	m := NewMachine("s1", deps)
	toUpload(t, m)
	if err := m.SelectFile("deal.pdf", "application/pdf", []byte("%PDF")); err != nil {
		t.Fatalf("select: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.BeginAnalysis(context.Background()) }()
	<-a.started

	snap := m.Snapshot()
	if snap.Screen != ScreenAnalyzing || !snap.Busy {
		t.Fatalf("during call: screen=%s busy=%v", snap.Screen, snap.Busy)
	}
	if wv := snap.Payload.(WorkingView); wv.Step == "" {
		t.Fatalf("working step empty")
	}
	if err := m.StartQuiz(context.Background(), "Jane", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("quiz from analyzing err = %v", err)
	}
	if err := m.Navigate(context.Background(), ScreenLanding); err != nil {
		t.Fatalf("navigate away: %v", err)
	}
	if err := m.Navigate(context.Background(), ScreenArchive); err != nil {
		t.Fatalf("navigate archive: %v", err)
	}
	if err := m.LookupArchive(context.Background(), "a@b.c", "1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("lookup while busy err = %v, want ErrBusy", err)
	}

	close(a.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("begin analysis: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis did not return")
	}

	snap = m.Snapshot()
	if snap.Screen != ScreenArchive || snap.Busy {
		t.Fatalf("after stale result: screen=%s busy=%v", snap.Screen, snap.Busy)
	}
	m.mu.Lock()
	analysis := m.analysis
	m.mu.Unlock()
	if analysis != "" {
		t.Fatalf("stale analysis stored: %q", analysis)
	}
}

func TestSnapshot_PayloadMatchesScreen(t *testing.T) {
	for _, s := range Screens {
		m := NewMachine("s1", newTestDeps())
		at(m, s)
		snap := m.Snapshot()
		if s == ScreenLanding || s == ScreenArtistEdu || s == ScreenProducerEdu || s == ScreenConsultForm {
			if snap.Payload != nil {
				t.Errorf("%s: unexpected payload %T", s, snap.Payload)
			}
			continue
		}
		if snap.Payload == nil {
			t.Errorf("%s: missing payload", s)
			continue
		}
		found := false
		for _, ps := range snap.Payload.payloadScreens() {
			if ps == s {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: payload %T belongs to %v", s, snap.Payload, snap.Payload.payloadScreens())
		}
	}
}
