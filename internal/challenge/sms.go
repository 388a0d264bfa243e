package challenge

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sender delivers a text message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// SMS challenges the user with a one-time code sent to the phone number on
// record.
type SMS struct {
	status StatusSource
	sender Sender

	mu          sync.Mutex
	initialized bool
	code        string
}

// NewSMS builds an SMS strategy. A nil sender leaves the strategy unusable;
// Init reports it.
func NewSMS(status StatusSource, sender Sender) *SMS {
	return &SMS{status: status, sender: sender}
}

func (s *SMS) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender == nil {
		return fmt.Errorf("sms init: no sender configured: %w", ErrNotInitialized)
	}
	s.initialized = true
	return nil
}

func (s *SMS) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// IssueChallenge sends a fresh code, replacing any earlier one.
func (s *SMS) IssueChallenge(ctx context.Context) error {
	if !s.IsInitialized() {
		return ErrNotInitialized
	}
	cur := s.status()
	if cur == nil || cur.PhoneNumber == "" {
		return errors.New("no phone number on record")
	}
	code, err := randomCode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.code = code
	s.mu.Unlock()

	if err := s.sender.Send(ctx, cur.PhoneNumber, code); err != nil {
		return fmt.Errorf("send challenge code: %w", err)
	}
	return nil
}

// CheckChallenge compares attempt with the issued code. A code is good for one
// check only.
func (s *SMS) CheckChallenge(attempt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.code == "" {
		return false
	}
	ok := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(attempt)), []byte(s.code)) == 1
	s.code = ""
	return ok
}

func (s *SMS) ValidateChallenge(attempt string) bool {
	return isCode(strings.TrimSpace(attempt), 6)
}

func (s *SMS) ServerRepresentation() string { return NameSMS }

func (s *SMS) CustomInformationText() string {
	cur := s.status()
	if cur == nil || cur.PhoneNumber == "" {
		return "No Phone Number on record."
	}
	return "Phone Number on record is: " + cur.PhoneNumber + ". If this is incorrect please contact your administrator."
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// WebhookSender posts {"to","body"} as JSON to a URL. SMS gateways such as
// Twilio Functions or an internal relay can accept this shape directly.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

type webhookMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (w WebhookSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(webhookMessage{To: to, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
