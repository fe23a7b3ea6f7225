package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

var ErrInvalidMessage = errors.New("invalid mail message")

// Message is one outbound mail.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer sends mail.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// sender is the part of *gomail.Dialer the mailer uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
	d   sender
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg, d: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)}
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	msg, err := buildMessage(s.cfg.From, m)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.d.DialAndSend(msg)
	}()

	wait := s.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < wait {
			wait = d
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return context.DeadlineExceeded
	}
}

func buildMessage(from string, m Message) (*gomail.Message, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, fmt.Errorf("%w: from is required", ErrInvalidMessage)
	}
	to := cleanAddrs(m.To)
	if len(to) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	subj := strings.TrimSpace(m.Subject)
	if subj == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subj)

	hasText := strings.TrimSpace(m.TextBody) != ""
	hasHTML := strings.TrimSpace(m.HTMLBody) != ""
	switch {
	case hasText && hasHTML:
		msg.SetBody("text/plain", m.TextBody)
		msg.AddAlternative("text/html", m.HTMLBody)
	case hasHTML:
		msg.SetBody("text/html", m.HTMLBody)
	case hasText:
		msg.SetBody("text/plain", m.TextBody)
	default:
		return nil, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return msg, nil
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// LogMailer writes mail to the log instead of sending it. Used when no SMTP
// host is configured.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mailer").Logger()}
}

func (l *LogMailer) Send(_ context.Context, m Message) error {
	if len(cleanAddrs(m.To)) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	l.logger.Info().Strs("to", m.To).Str("subject", m.Subject).Msg("mail not sent, no smtp host configured")
	return nil
}

// RecordingMailer keeps every message in memory. Test double.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *RecordingMailer) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return r.Err
}

// Sent returns a copy of the recorded messages.
func (r *RecordingMailer) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
