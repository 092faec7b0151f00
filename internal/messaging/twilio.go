// Package messaging delivers CoachPipe responses over Twilio WhatsApp or SMS.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MaxMessageLength is the longest body Twilio accepts for one WhatsApp message.
const MaxMessageLength = 1600

// whatsappPrefix marks a WhatsApp address in Twilio's To/From fields.
const whatsappPrefix = "whatsapp:"

var nonDigitPattern = regexp.MustCompile(`\D`)

// Sender delivers a text message to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// messageCreator is the part of the Twilio REST API used by TwilioSender.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio sender.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string // "whatsapp:+15551234567" for WhatsApp, "+15551234567" for SMS
}

// Option defines a configuration option for the Twilio sender.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending number. A "whatsapp:" prefix selects WhatsApp.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// TwilioSender sends messages through the Twilio REST API.
type TwilioSender struct {
	api  messageCreator
	from string
}

// NewTwilioSender creates a sender. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("TwilioSender.NewTwilioSender: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: cfg.FromNumber}, nil
}

// CanonicalizeRecipient strips a channel prefix and every non-digit
// character. At least six digits must remain.
func CanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(recipient), whatsappPrefix)
	canonical := nonDigitPattern.ReplaceAllString(trimmed, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// address formats a canonical number for the sender's channel.
func (s *TwilioSender) address(canonical string) string {
	if strings.HasPrefix(s.from, whatsappPrefix) {
		return whatsappPrefix + "+" + canonical
	}
	return "+" + canonical
}

// SendMessage sends body to the recipient, split into several messages when
// it exceeds MaxMessageLength.
func (s *TwilioSender) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := CanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioSender.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	for i, part := range SplitMessage(body, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(s.address(canonical))
		params.SetFrom(s.from)
		params.SetBody(part)
		if _, err := s.api.CreateMessage(params); err != nil {
			slog.Error("TwilioSender.SendMessage: send failed", "to", canonical, "part", i, "error", err)
			return fmt.Errorf("failed to send message to %s: %w", canonical, err)
		}
	}
	slog.Debug("TwilioSender.SendMessage: sent", "to", canonical, "length", len(body))
	return nil
}

// SplitMessage breaks body into chunks of at most limit bytes, preferring
// paragraph, then line, then word boundaries.
func SplitMessage(body string, limit int) []string {
	body = strings.TrimSpace(body)
	if limit <= 0 || len(body) <= limit {
		return []string{body}
	}
	var parts []string
	for len(body) > limit {
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(body[:limit], sep); i > 0 {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimSpace(body[:cut]))
		body = strings.TrimSpace(body[cut:])
	}
	if body != "" {
		parts = append(parts, body)
	}
	return parts
}

// MockSender records sent messages for tests and dry runs.
type MockSender struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{SentMessages: []SentMessage{}}
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
