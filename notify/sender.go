package notify

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
)

// Sender delivers a message. Failures are marked errors.ErrDelivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers over SMTP, upgrading with STARTTLS when offered
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Log      *zap.SugaredLogger

	// DialTimeout bounds the connect when ctx has no deadline (default 30s)
	DialTimeout time.Duration
}

var _ Sender = (*SMTPSender)(nil)

// Send performs one SMTP transaction
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := s.send(ctx, msg); err != nil {
		return errors.Mark(errors.Wrapf(err, "send %q to %s", msg.Subject, msg.To), errors.ErrDelivery)
	}
	if s.Log != nil {
		s.Log.Infow("Notification sent", logger.FieldRecipient, msg.To, logger.FieldSubject, msg.Subject)
	}
	return nil
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))

	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return errors.Wrap(err, "set deadline")
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if s.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.WithHint(errors.New("server does not support AUTH"),
				"clear notify.username or use a server that accepts authentication")
		}
		if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return errors.Wrap(err, "auth")
		}
	}

	if err := client.Mail(s.From); err != nil {
		return errors.Wrap(err, "mail from")
	}
	if err := client.Rcpt(msg.To); err != nil {
		return errors.Wrap(err, "rcpt to")
	}
	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "data")
	}
	if _, err := w.Write(msg.rfc5322(s.From, time.Now())); err != nil {
		w.Close()
		return errors.Wrap(err, "write body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "end data")
	}
	return client.Quit()
}

// Outbox records messages instead of sending them. Used by dry runs and tests.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
	fail func(Message) error
}

var _ Sender = (*Outbox)(nil)

// NewOutbox creates an empty outbox
func NewOutbox() *Outbox {
	return &Outbox{}
}

// FailWith makes Send call fn first; a non-nil result is returned as a delivery failure
func (o *Outbox) FailWith(fn func(Message) error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fn
}

// Send records msg
func (o *Outbox) Send(ctx context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		if err := o.fail(msg); err != nil {
			return errors.Mark(errors.Wrapf(err, "send %q", msg.Subject), errors.ErrDelivery)
		}
	}
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of recorded messages
func (o *Outbox) Sent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}

// Count returns the number of recorded messages with subject, or all when subject is empty
func (o *Outbox) Count(subject string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if subject == "" {
		return len(o.sent)
	}
	n := 0
	for _, m := range o.sent {
		if m.Subject == subject {
			n++
		}
	}
	return n
}

// Throttle limits outbound messages to a per-minute rate with a burst of one
type Throttle struct {
	next    Sender
	limiter *rate.Limiter
}

var _ Sender = (*Throttle)(nil)

// NewThrottle wraps next. perMinute <= 0 returns next unchanged.
func NewThrottle(next Sender, perMinute int) Sender {
	if perMinute <= 0 {
		return next
	}
	return &Throttle{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Send waits for a token, then delegates
func (t *Throttle) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "notification rate limit"), errors.ErrDelivery)
	}
	return t.next.Send(ctx, msg)
}
