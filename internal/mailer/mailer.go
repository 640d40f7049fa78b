// Package mailer dispatches transactional email through the hosted edge
// functions (send-brief, send-email). Every send reports a boolean; failures
// are logged and never returned as errors.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Order describes a completed template purchase.
type Order struct {
	ID     string
	Item   string
	Amount int
}

// Mailer is the email-dispatch collaborator.
type Mailer interface {
	SendBrief(ctx context.Context, email, name, caseID, brief string) bool
	SendOrderConfirmation(ctx context.Context, email string, o Order) bool
}

// KeyLooksValid reports whether key parses as a JWT. The signature is not
// checked; the functions gateway does that.
func KeyLooksValid(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(key, jwt.MapClaims{})
	return err == nil
}

// New returns an EdgeMailer when both the base URL and a structurally valid
// key are present, else a Noop mailer.
func New(baseURL, key string, log zerolog.Logger) Mailer {
	if strings.TrimSpace(baseURL) == "" || !KeyLooksValid(key) {
		log.Warn().Msg("email functions not configured; outgoing mail disabled")
		return Noop{Logger: log}
	}
	return &EdgeMailer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Logger:  log,
	}
}

// EdgeMailer posts JSON payloads to {BaseURL}/functions/v1/{name}.
type EdgeMailer struct {
	BaseURL string
	Key     string
	Client  *http.Client
	Logger  zerolog.Logger
}

type briefPayload struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	CaseID string `json:"caseId"`
	Brief  string `json:"brief"`
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// SendBrief delivers an attorney brief for a case.
func (m *EdgeMailer) SendBrief(ctx context.Context, email, name, caseID, brief string) bool {
	err := m.invoke(ctx, "send-brief", briefPayload{Email: email, Name: name, CaseID: caseID, Brief: brief})
	if err != nil {
		m.Logger.Error().Err(err).Str("case_id", caseID).Msg("send-brief failed")
		return false
	}
	return true
}

// SendOrderConfirmation emails a receipt for a template purchase.
func (m *EdgeMailer) SendOrderConfirmation(ctx context.Context, email string, o Order) bool {
	p := emailPayload{
		To:      email,
		Subject: fmt.Sprintf("Order Confirmation #%s", o.ID),
		Text:    fmt.Sprintf("Thank you for your order! We received KES %d for %s. Regards, Khalwale IP Team", o.Amount, o.Item),
		HTML: fmt.Sprintf("<h1>Thank you for your order!</h1><p>We confirm that we have received your payment of KES %d</p>"+
			"<p><b>Item:</b> %s</p><br/><p>Regards,<br/>Khalwale IP Team</p>", o.Amount, html.EscapeString(o.Item)),
	}
	if err := m.invoke(ctx, "send-email", p); err != nil {
		m.Logger.Error().Err(err).Str("order_id", o.ID).Msg("send-email failed")
		return false
	}
	return true
}

func (m *EdgeMailer) invoke(ctx context.Context, fn string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/functions/v1/"+fn, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.Key)
	req.Header.Set("apikey", m.Key)

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", fn, resp.StatusCode)
	}
	return nil
}

// Noop drops every message and reports failure.
type Noop struct {
	Logger zerolog.Logger
}

func (n Noop) SendBrief(_ context.Context, _, _, caseID, _ string) bool {
	n.Logger.Warn().Str("case_id", caseID).Msg("brief not sent: mailer disabled")
	return false
}

func (n Noop) SendOrderConfirmation(_ context.Context, _ string, o Order) bool {
	n.Logger.Warn().Str("order_id", o.ID).Msg("order confirmation not sent: mailer disabled")
	return false
}
