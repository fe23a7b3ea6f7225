package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrDispatcherClosed = errors.New("mail dispatcher closed")

// Dispatcher renders templates and queues the resulting mail for a single
// background worker. Enqueue never blocks on SMTP.
type Dispatcher struct {
	mailer    Mailer
	templates *TemplateEngine
	logger    zerolog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	done   chan struct{}
}

// NewDispatcher starts the worker. size is the queue capacity.
func NewDispatcher(m Mailer, tpl *TemplateEngine, logger zerolog.Logger, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	d := &Dispatcher{
		mailer:    m,
		templates: tpl,
		logger:    logger.With().Str("component", "mail_dispatcher").Logger(),
		timeout:   30 * time.Second,
		queue:     make(chan Message, size),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.mailer.Send(ctx, msg); err != nil {
			d.logger.Error().Err(err).Strs("to", msg.To).Str("subject", msg.Subject).Msg("mail delivery failed")
		}
		cancel()
	}
}

// Enqueue queues a message. It fails when the queue is full or closed.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return fmt.Errorf("mail queue full (%d)", cap(d.queue))
	}
}

// SendTemplate renders templateID with data and queues it for every recipient.
func (d *Dispatcher) SendTemplate(templateID string, data map[string]string, to ...string) error {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	return d.Enqueue(Message{To: to, Subject: subject, TextBody: body})
}

// Close stops accepting mail and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
