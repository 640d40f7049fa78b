// Package payments provides the M-Pesa STK push collaborator. The gateway is
// simulated: Initiate always succeeds after a delay and hands out a checkout
// reference, and Verify settles any reference this simulator issued.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// refSpace bounds the numeric part of checkout references.
const refSpace = 1_000_000

// PromptSent is the status message returned when the STK prompt is pushed.
const PromptSent = "An M-Pesa prompt has been sent to your phone. Please enter your PIN to complete the transaction."

var (
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrMissingPhone is returned when the payer has no phone number.
	ErrMissingPhone = errors.New("payer phone number is required")
)

// Payer identifies who is charged.
type Payer struct {
	Name  string
	Phone string
}

// Response is the outcome of an STK push request.
type Response struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
}

// Simulator is a stand-in for the Daraja STK push API.
type Simulator struct {
	InitiateDelay time.Duration
	VerifyDelay   time.Duration
	Logger        zerolog.Logger

	mu     sync.Mutex
	issued map[string]int
	draw   func() int
}

// NewSimulator returns a simulator with the given latencies.
func NewSimulator(initiateDelay, verifyDelay time.Duration, log zerolog.Logger) *Simulator {
	return &Simulator{
		InitiateDelay: initiateDelay,
		VerifyDelay:   verifyDelay,
		Logger:        log,
		issued:        make(map[string]int),
	}
}

// Initiate pushes a payment prompt to the payer's phone.
func (s *Simulator) Initiate(ctx context.Context, p Payer, amount int) (Response, error) {
	if amount <= 0 {
		return Response{}, ErrInvalidAmount
	}
	if p.Phone == "" {
		return Response{}, ErrMissingPhone
	}
	s.Logger.Info().Str("payer", p.Name).Int("amount_kes", amount).Msg("initiating STK push")

	if err := sleep(ctx, s.InitiateDelay); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	if s.issued == nil {
		s.issued = make(map[string]int)
	}
	ref := s.nextRef()
	s.issued[ref] = amount
	s.mu.Unlock()

	return Response{Success: true, Message: PromptSent, CheckoutRequestID: ref}, nil
}

// nextRef draws a reference not currently outstanding. Callers hold s.mu.
func (s *Simulator) nextRef() string {
	draw := s.draw
	if draw == nil {
		draw = func() int { return rand.IntN(refSpace) }
	}
	for {
		ref := fmt.Sprintf("KCA-STK-%d", draw())
		if _, taken := s.issued[ref]; !taken {
			return ref
		}
	}
}

// Verify waits for the payer to confirm and reports whether the checkout
// settled. Unknown references never settle.
func (s *Simulator) Verify(ctx context.Context, checkoutRequestID string) (bool, error) {
	if err := sleep(ctx, s.VerifyDelay); err != nil {
		return false, err
	}
	s.mu.Lock()
	_, ok := s.issued[checkoutRequestID]
	delete(s.issued, checkoutRequestID)
	s.mu.Unlock()
	return ok, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
