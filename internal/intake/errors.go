// Package intake implements the per-visitor navigation state machine: one
// active screen, the transition rules between screens, and the side data
// threaded from one screen to the next.
//
// Errors returned by Machine methods describe rejected input or an illegal
// transition; state is unchanged when one is returned. Failures of external
// collaborators are not errors here: they move the session to the error
// screen with a fixed message.
package intake

import "errors"

var (
	// ErrInvalidTransition is returned when an action is not allowed from
	// the current screen.
	ErrInvalidTransition = errors.New("action not allowed on current screen")

	// ErrBusy is returned when a collaborator call is already outstanding
	// for the session.
	ErrBusy = errors.New("another action is in progress")

	// ErrSessionNotFound is returned by the registry for unknown or expired
	// session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrIncompleteIdentity is returned when name, email or whatsapp is empty.
	ErrIncompleteIdentity = errors.New("name, email and whatsapp are required")

	// ErrNoFile is returned when no contract file has been selected.
	ErrNoFile = errors.New("no contract file selected")

	// ErrNameRequired is returned by StartQuiz without a name.
	ErrNameRequired = errors.New("name is required")

	// ErrUnknownCategory is returned for a quiz category outside the fixed set.
	ErrUnknownCategory = errors.New("unknown quiz category")

	// ErrEmptyComplaints is returned when the consultation form is blank.
	ErrEmptyComplaints = errors.New("consultation concerns are required")

	// ErrInvalidOption is returned for an answer index outside the options.
	ErrInvalidOption = errors.New("answer option out of range")

	// ErrNotAnswered is returned by NextQuestion before the current question
	// has been answered.
	ErrNotAnswered = errors.New("current question not answered")

	// ErrLookupFields is returned when an archive lookup lacks either field.
	ErrLookupFields = errors.New("email and whatsapp are required")

	// ErrAuditNotFound is returned when the selected audit is not among the
	// records of the last lookup.
	ErrAuditNotFound = errors.New("audit not found in archive results")

	// ErrNotPassed is returned when the certificate is requested for a
	// failed quiz.
	ErrNotPassed = errors.New("certificate requires a passing score")
)

// Fixed error-screen messages, one per collaborator call site.
const (
	MsgAnalysisFailed = "Analysis encountered an unexpected obstacle."
	MsgPaymentFailed  = "M-Pesa session timed out or was cancelled."
	MsgBriefFailed    = "Briefing generation failed."
	MsgQuizFailed     = "Failed to generate quiz questions."
	MsgQuizEmpty      = "No quiz questions could be generated."
	MsgPurchaseFailed = "Payment failed. Please try again."
)
