// Package services holds the application logic that sits between the HTTP
// handlers and the collaborators: today the chat relay.
//
// Errors here describe rejected input; translation into HTTP status codes
// happens in the handlers.
package services

import "errors"

var (
	// ErrEmptyPrompt is returned when a chat utterance is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a chat utterance exceeds the configured
	// rune limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrChatBusy is returned when a reply is still streaming for the same
	// session.
	ErrChatBusy = errors.New("a reply is already streaming for this session")
)
