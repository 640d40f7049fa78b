// Package services – ChatService
//
// This file implements the chat relay. A reply arrives on two channels: text
// deltas forwarded to the caller as they stream, and tool calls collected
// out of band and dispatched by name once the stream has ended. Unknown tool
// names are ignored.
//
// Conversations are kept per session in memory, bounded to MaxTurns, and
// dropped after IdleTTL without activity.
package services

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/ip-intake-backend/internal/llm"
	"github.com/tbourn/ip-intake-backend/internal/mailer"
)

const (
	// Greeting is the assistant's opening line, shown before the first turn.
	Greeting = "Greetings. I am Khatiebi. Welcome to the IP Division of Khalwale & Co Advocates. How may I facilitate your intellectual property protection today?"

	// Apology replaces the reply when the stream fails.
	Apology = "Forgive me, my connection to the legal database was interrupted. Please re-state your query."

	// UploadCTA labels the call-to-action emitted for offerContractUpload.
	UploadCTA = "Initiate Professional Audit"

	// chatCaseID tags briefs sent from the chat.
	chatCaseID = "AI-CHAT"
)

// EventKind discriminates chat events.
type EventKind string

const (
	EventDelta  EventKind = "delta"
	EventAction EventKind = "action"
	EventStatus EventKind = "status"
	EventError  EventKind = "error"
)

// Event is one message pushed to the client while a reply is produced.
type Event struct {
	Kind   EventKind `json:"kind"`
	Text   string    `json:"text"`
	Action string    `json:"action,omitempty"`
}

// ChatStreamer produces a streamed model reply.
type ChatStreamer interface {
	StreamChat(ctx context.Context, history []llm.Turn, utterance string) iter.Seq2[llm.Chunk, error]
}

type conversation struct {
	turns    []llm.Turn
	busy     bool
	lastSeen time.Time
}

// ChatService relays chat turns to the model and reacts to its tool calls.
type ChatService struct {
	Model  ChatStreamer
	Mailer mailer.Mailer
	Logger zerolog.Logger

	// MaxTurns bounds the remembered history per session.
	MaxTurns int
	// MaxPromptRunes caps an utterance; zero disables the check.
	MaxPromptRunes int
	// IdleTTL drops conversations untouched for this long.
	IdleTTL time.Duration

	Now func() time.Time

	mu      sync.Mutex
	convs   map[string]*conversation
	lookups uint64
}

// NewChatService returns a relay with default bounds.
func NewChatService(model ChatStreamer, m mailer.Mailer, log zerolog.Logger) *ChatService {
	return &ChatService{
		Model:          model,
		Mailer:         m,
		Logger:         log,
		MaxTurns:       40,
		MaxPromptRunes: 4000,
		IdleTTL:        2 * time.Hour,
		Now:            time.Now,
		convs:          make(map[string]*conversation),
	}
}

// acquire returns a copy of the session history and marks it busy.
func (s *ChatService) acquire(sessionID string) ([]llm.Turn, error) {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convs == nil {
		s.convs = make(map[string]*conversation)
	}

	s.lookups++
	if s.lookups >= 1000 && s.IdleTTL > 0 {
		for id, c := range s.convs {
			if !c.busy && now.Sub(c.lastSeen) >= s.IdleTTL {
				delete(s.convs, id)
			}
		}
		s.lookups = 0
	}

	c, ok := s.convs[sessionID]
	if !ok {
		c = &conversation{}
		s.convs[sessionID] = c
	}
	if c.busy {
		return nil, ErrChatBusy
	}
	c.busy = true
	c.lastSeen = now
	return append([]llm.Turn(nil), c.turns...), nil
}

// release stores the completed exchange, if any, and clears busy.
func (s *ChatService) release(sessionID string, exchange ...llm.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[sessionID]
	if !ok {
		return
	}
	c.busy = false
	c.lastSeen = s.Now()
	c.turns = append(c.turns, exchange...)
	if s.MaxTurns > 0 && len(c.turns) > s.MaxTurns {
		c.turns = append([]llm.Turn(nil), c.turns[len(c.turns)-s.MaxTurns:]...)
	}
}

// History returns a copy of the remembered turns of a session.
func (s *ChatService) History(sessionID string) []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[sessionID]
	if !ok {
		return []llm.Turn{}
	}
	return append([]llm.Turn{}, c.turns...)
}

// Forget drops the conversation of a session.
func (s *ChatService) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.convs, sessionID)
	s.mu.Unlock()
}

// Send streams the reply to utterance through emit. A stream failure is
// reported as a single apology event, not as an error; the failed exchange
// is not remembered.
func (s *ChatService) Send(ctx context.Context, sessionID, utterance string, emit func(Event)) error {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(utterance) > s.MaxPromptRunes {
		return ErrTooLong
	}

	history, err := s.acquire(sessionID)
	if err != nil {
		return err
	}

	var (
		reply strings.Builder
		calls []llm.ToolCall
	)
	for chunk, err := range s.Model.StreamChat(ctx, history, utterance) {
		if err != nil {
			span.RecordError(err)
			s.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("chat stream interrupted")
			s.release(sessionID)
			emit(Event{Kind: EventError, Text: Apology})
			return nil
		}
		if chunk.Text != "" {
			reply.WriteString(chunk.Text)
			emit(Event{Kind: EventDelta, Text: chunk.Text})
		}
		calls = append(calls, chunk.Calls...)
	}

	s.release(sessionID,
		llm.Turn{Role: llm.RoleUser, Text: utterance},
		llm.Turn{Role: llm.RoleModel, Text: reply.String()},
	)

	span.SetAttributes(attribute.Int("chat.tool_calls", len(calls)))
	s.dispatch(context.WithoutCancel(ctx), sessionID, calls, emit)
	return nil
}

// dispatch reacts to the tool calls of one reply. offerContractUpload is
// surfaced once however often the model asked for it.
func (s *ChatService) dispatch(ctx context.Context, sessionID string, calls []llm.ToolCall, emit func(Event)) {
	offered := false
	for _, call := range calls {
		switch call.Name {
		case llm.ToolOfferContractUpload:
			if !offered {
				offered = true
				emit(Event{Kind: EventAction, Text: UploadCTA, Action: llm.ToolOfferContractUpload})
			}
		case llm.ToolSendLegalBrief:
			email := argString(call.Args, "email")
			name := argString(call.Args, "recipientName")
			summary := argString(call.Args, "summary")
			if email == "" || summary == "" {
				s.Logger.Warn().Str("session_id", sessionID).Msg("sendLegalBrief called without email or summary")
				continue
			}
			if s.Mailer != nil && s.Mailer.SendBrief(ctx, email, name, chatCaseID, summary) {
				emit(Event{Kind: EventStatus, Text: fmt.Sprintf("I have successfully dispatched the legal briefing to %s for %s.", email, name)})
			} else {
				s.Logger.Warn().Str("session_id", sessionID).Msg("chat brief not dispatched")
				emit(Event{Kind: EventStatus, Text: fmt.Sprintf("I was unable to dispatch the legal briefing to %s. Please try again shortly.", email)})
			}
		default:
			s.Logger.Debug().Str("tool", call.Name).Msg("ignoring unknown tool call")
		}
	}
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
