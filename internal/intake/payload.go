package intake

import (
	"time"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/domain"
)

// UserInfo is the visitor's identity form.
type UserInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Whatsapp string `json:"whatsapp"`
}

// Complete reports whether every field is non-empty.
func (u UserInfo) Complete() bool {
	return u.Name != "" && u.Email != "" && u.Whatsapp != ""
}

// ContractFile is the document selected for analysis.
type ContractFile struct {
	Name     string
	Type     string
	MIMEType string
	Data     []byte
}

// CaseFile is created once per consultation and lives only in the session.
type CaseFile struct {
	ID               string    `json:"id"`
	CreatedDate      time.Time `json:"created_date"`
	ClientComplaints string    `json:"client_complaints"`
	AttorneyBrief    string    `json:"attorney_brief"`
}

// Snapshot is the externally visible state of a session. Payload holds only
// the data of the active screen.
type Snapshot struct {
	SessionID   string   `json:"session_id"`
	Screen      Screen   `json:"screen"`
	Busy        bool     `json:"busy"`
	User        UserInfo `json:"user"`
	Notice      string   `json:"notice,omitempty"`
	Payload     Payload  `json:"payload,omitempty"`
	Transitions []string `json:"transitions"`
}

// Payload is the per-screen data union. Each variant belongs to exactly one
// or two screens, reported by Screens.
type Payload interface {
	payloadScreens() []Screen
}

// WorkingView is shown while a collaborator call runs.
type WorkingView struct {
	Step string `json:"step"`
}

func (WorkingView) payloadScreens() []Screen {
	return []Screen{ScreenAnalyzing, ScreenGeneratingBrief}
}

// FileInfo describes a selected contract without its content.
type FileInfo struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// UploadView is the upload screen.
type UploadView struct {
	File     *FileInfo `json:"file,omitempty"`
	CanBegin bool      `json:"can_begin"`
}

func (UploadView) payloadScreens() []Screen { return []Screen{ScreenUpload} }

// ResultsView is the analysis result screen.
type ResultsView struct {
	ContractName string `json:"contract_name"`
	Analysis     string `json:"analysis"`
	FromArchive  bool   `json:"from_archive"`
}

func (ResultsView) payloadScreens() []Screen { return []Screen{ScreenResults} }

// PaymentView is the M-Pesa status of the payment screen or of a template
// purchase.
type PaymentView struct {
	Amount     int    `json:"amount"`
	Processing bool   `json:"processing"`
	Status     string `json:"status,omitempty"`
}

func (PaymentView) payloadScreens() []Screen { return []Screen{ScreenPayment} }

// DetailsView is the identity form, with any template waiting for it.
type DetailsView struct {
	PendingTemplate *catalog.Template `json:"pending_template,omitempty"`
	Payment         *PaymentView      `json:"payment,omitempty"`
}

func (DetailsView) payloadScreens() []Screen { return []Screen{ScreenDetailsForm} }

// StoreView carries an in-flight purchase on the store screen.
type StoreView struct {
	Payment *PaymentView `json:"payment,omitempty"`
}

func (StoreView) payloadScreens() []Screen { return []Screen{ScreenStore} }

// BookingView is the consultation booking screen.
type BookingView struct {
	Case       CaseFile `json:"case"`
	EmailSent  bool     `json:"email_sent"`
	BookingURL string   `json:"booking_url"`
}

func (BookingView) payloadScreens() []Screen { return []Screen{ScreenBooking} }

// QuizIntroView lists the categories to choose from.
type QuizIntroView struct {
	Categories []string `json:"categories"`
	Selected   string   `json:"selected"`
}

func (QuizIntroView) payloadScreens() []Screen { return []Screen{ScreenQuizIntro} }

// QuestionView is a question as shown to the player. The answer key is only
// filled in once the question is answered.
type QuestionView struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answered    bool     `json:"answered"`
	Selected    *int     `json:"selected,omitempty"`
	Correct     *int     `json:"correct,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
}

// QuizGameView is the quiz in progress.
type QuizGameView struct {
	Category string        `json:"category"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Score    int           `json:"score"`
	Current  *QuestionView `json:"current,omitempty"`
}

func (QuizGameView) payloadScreens() []Screen { return []Screen{ScreenQuizGame} }

// QuizResultsView is the final score.
type QuizResultsView struct {
	Category string                `json:"category"`
	Score    int                   `json:"score"`
	Total    int                   `json:"total"`
	Passed   bool                  `json:"passed"`
	Missed   []domain.QuizQuestion `json:"missed"`
}

func (QuizResultsView) payloadScreens() []Screen { return []Screen{ScreenQuizResults} }

// CertificateView is the printable certificate of a passed quiz.
type CertificateView struct {
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Score    int       `json:"score"`
	Total    int       `json:"total"`
	IssuedAt time.Time `json:"issued_at"`
}

func (CertificateView) payloadScreens() []Screen { return []Screen{ScreenCertificate} }

// ArchiveRecord is one past audit returned by a lookup.
type ArchiveRecord struct {
	ID              string    `json:"id"`
	ContractName    string    `json:"contract_name"`
	AnalysisSummary string    `json:"analysis_summary"`
	RiskScore       int       `json:"risk_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// ArchiveView is the two-factor archive screen. Tried distinguishes "no
// lookup yet" from "lookup found nothing".
type ArchiveView struct {
	Fetching bool            `json:"fetching"`
	Tried    bool            `json:"tried"`
	Records  []ArchiveRecord `json:"records"`
}

func (ArchiveView) payloadScreens() []Screen { return []Screen{ScreenArchive} }

// ErrorView is the generic failure screen.
type ErrorView struct {
	Message string `json:"message"`
}

func (ErrorView) payloadScreens() []Screen { return []Screen{ScreenError} }

func toArchiveRecords(in []domain.ContractAudit) []ArchiveRecord {
	out := make([]ArchiveRecord, len(in))
	for i, a := range in {
		out[i] = ArchiveRecord{
			ID:              a.ID,
			ContractName:    a.ContractName,
			AnalysisSummary: a.AnalysisSummary,
			RiskScore:       a.RiskScore,
			CreatedAt:       a.CreatedAt,
		}
	}
	return out
}
