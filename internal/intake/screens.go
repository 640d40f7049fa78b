package intake

import (
	"context"

	"github.com/looplab/fsm"
)

// Screen is the single active view of a session.
type Screen string

const (
	ScreenLanding         Screen = "landing"
	ScreenArtistEdu       Screen = "artist-edu"
	ScreenProducerEdu     Screen = "producer-edu"
	ScreenDetailsForm     Screen = "details-form"
	ScreenUpload          Screen = "upload"
	ScreenAnalyzing       Screen = "analyzing"
	ScreenResults         Screen = "results"
	ScreenPayment         Screen = "payment"
	ScreenConsultForm     Screen = "consult-form"
	ScreenGeneratingBrief Screen = "generating-brief"
	ScreenBooking         Screen = "booking"
	ScreenStore           Screen = "store"
	ScreenError           Screen = "error"
	ScreenQuizIntro       Screen = "quiz-intro"
	ScreenQuizGame        Screen = "quiz-game"
	ScreenQuizResults     Screen = "quiz-results"
	ScreenCertificate     Screen = "certificate"
	ScreenArchive         Screen = "archive"
)

// Screens lists every screen in declaration order.
var Screens = []Screen{
	ScreenLanding, ScreenArtistEdu, ScreenProducerEdu, ScreenDetailsForm,
	ScreenUpload, ScreenAnalyzing, ScreenResults, ScreenPayment,
	ScreenConsultForm, ScreenGeneratingBrief, ScreenBooking, ScreenStore,
	ScreenError, ScreenQuizIntro, ScreenQuizGame, ScreenQuizResults,
	ScreenCertificate, ScreenArchive,
}

// Valid reports whether s is a known screen.
func (s Screen) Valid() bool {
	for _, v := range Screens {
		if v == s {
			return true
		}
	}
	return false
}

// Event names of the screen graph.
const (
	evHome              = "home"
	evToArtistEdu       = "to_artist_edu"
	evToProducerEdu     = "to_producer_edu"
	evToStore           = "to_store"
	evToArchive         = "to_archive"
	evToQuizIntro       = "to_quiz_intro"
	evToDetails         = "to_details_form"
	evToUpload          = "to_upload"
	evBackToResults     = "back_to_results"
	evDetailsSubmitted  = "details_submitted"
	evBeginAnalysis     = "begin_analysis"
	evAnalysisSucceeded = "analysis_succeeded"
	evFail              = "fail"
	evRequestConsult    = "request_consultation"
	evPaymentVerified   = "payment_verified"
	evSubmitConsult     = "submit_consult"
	evBriefReady        = "brief_ready"
	evStartQuiz         = "start_quiz"
	evQuizReady         = "quiz_ready"
	evQuizFinished      = "quiz_finished"
	evOpenCertificate   = "open_certificate"
	evCloseCertificate  = "close_certificate"
	evOpenArchivedAudit = "open_archived_audit"
	evPurchaseComplete  = "purchase_complete"
)

func except(skip ...Screen) []string {
	out := make([]string, 0, len(Screens))
outer:
	for _, s := range Screens {
		for _, k := range skip {
			if s == k {
				continue outer
			}
		}
		out = append(out, string(s))
	}
	return out
}

func src(screens ...Screen) []string {
	out := make([]string, len(screens))
	for i, s := range screens {
		out[i] = string(s)
	}
	return out
}

// screenEvents is the complete transition table. The certificate screen only
// leaves back to the quiz results; every other screen reaches landing in one
// event.
func screenEvents() fsm.Events {
	global := except(ScreenCertificate)
	return fsm.Events{
		{Name: evHome, Src: except(ScreenLanding, ScreenCertificate), Dst: string(ScreenLanding)},
		{Name: evToArtistEdu, Src: global, Dst: string(ScreenArtistEdu)},
		{Name: evToProducerEdu, Src: global, Dst: string(ScreenProducerEdu)},
		{Name: evToStore, Src: global, Dst: string(ScreenStore)},
		{Name: evToArchive, Src: global, Dst: string(ScreenArchive)},
		{Name: evToQuizIntro, Src: global, Dst: string(ScreenQuizIntro)},
		{Name: evToDetails, Src: global, Dst: string(ScreenDetailsForm)},
		{Name: evToUpload, Src: global, Dst: string(ScreenUpload)},
		{Name: evBackToResults, Src: src(ScreenPayment), Dst: string(ScreenResults)},

		{Name: evDetailsSubmitted, Src: src(ScreenDetailsForm), Dst: string(ScreenUpload)},
		{Name: evBeginAnalysis, Src: src(ScreenUpload), Dst: string(ScreenAnalyzing)},
		{Name: evAnalysisSucceeded, Src: src(ScreenAnalyzing), Dst: string(ScreenResults)},
		{Name: evRequestConsult, Src: src(ScreenResults), Dst: string(ScreenPayment)},
		{Name: evPaymentVerified, Src: src(ScreenPayment), Dst: string(ScreenConsultForm)},
		{Name: evSubmitConsult, Src: src(ScreenConsultForm), Dst: string(ScreenGeneratingBrief)},
		{Name: evBriefReady, Src: src(ScreenGeneratingBrief), Dst: string(ScreenBooking)},
		{Name: evStartQuiz, Src: src(ScreenQuizIntro), Dst: string(ScreenGeneratingBrief)},
		{Name: evQuizReady, Src: src(ScreenGeneratingBrief), Dst: string(ScreenQuizGame)},
		{Name: evQuizFinished, Src: src(ScreenQuizGame), Dst: string(ScreenQuizResults)},
		{Name: evOpenCertificate, Src: src(ScreenQuizResults), Dst: string(ScreenCertificate)},
		{Name: evCloseCertificate, Src: src(ScreenCertificate), Dst: string(ScreenQuizResults)},
		{Name: evOpenArchivedAudit, Src: src(ScreenArchive), Dst: string(ScreenResults)},
		{Name: evPurchaseComplete, Src: src(ScreenStore, ScreenDetailsForm), Dst: string(ScreenLanding)},
		{Name: evFail, Src: except(ScreenError), Dst: string(ScreenError)},
	}
}

func newScreenFSM(initial Screen) *fsm.FSM {
	return fsm.NewFSM(string(initial), screenEvents(), fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			transitions.WithLabelValues(e.Src, e.Dst).Inc()
		},
	})
}

// navEvents maps a Navigate target to its event.
var navEvents = map[Screen]string{
	ScreenLanding:     evHome,
	ScreenArtistEdu:   evToArtistEdu,
	ScreenProducerEdu: evToProducerEdu,
	ScreenStore:       evToStore,
	ScreenArchive:     evToArchive,
	ScreenQuizIntro:   evToQuizIntro,
	ScreenDetailsForm: evToDetails,
	ScreenUpload:      evToUpload,
	ScreenResults:     evBackToResults,
	ScreenCertificate: evOpenCertificate,
	ScreenQuizResults: evCloseCertificate,
}
