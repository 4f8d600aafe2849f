package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
)

// Message is one rendered digest ready for delivery.
type Message struct {
	Subject string
	To      string
	HTML    string
	Text    string
}

// ErrAuth marks a rejected login. Wrong credentials do not self-heal, so
// this class is never retried.
var ErrAuth = errors.New("smtp: authentication rejected")

// Session is the live SMTP conversation for a single attempt. *smtp.Client
// satisfies it; tests substitute fakes.
type Session interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(cfg *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// DialFunc opens a fresh session. A half-broken session is never reused
// across attempts, so every retry dials again.
type DialFunc func(ctx context.Context, addr string) (Session, error)

// Sender delivers rendered reports with bounded retry. Transport failures
// back off and retry; authentication failures abort immediately.
type Sender struct {
	host     string
	port     int
	username string
	password string
	log      zerolog.Logger

	attemptsMax int
	wait        func(attempt int) time.Duration
	dial        DialFunc
}

func NewSender(cfg config.Config, log zerolog.Logger) *Sender {
	base := cfg.RetryBackoff
	if base <= 0 {
		base = 2 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Sender{
		host:        cfg.SMTPHost,
		port:        cfg.SMTPPort,
		username:    cfg.SMTPUsername,
		password:    cfg.SMTPPassword,
		log:         log,
		attemptsMax: attempts,
		wait:        func(attempt int) time.Duration { return time.Duration(attempt) * base },
		dial:        netDial(cfg.SMTPTimeout),
	}
}

func netDial(timeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string) (Session, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(addr)
		c, err := smtp.NewClient(conn, host)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	}
}

// Deliver sends msg, retrying transport failures up to the attempt bound
// with increasing backoff. Auth rejection returns ErrAuth after the first
// attempt. Exhausting the bound returns the last transport error.
func (s *Sender) Deliver(ctx context.Context, msg Message) error {
	var last error
	for attempt := 1; attempt <= s.attemptsMax; attempt++ {
		err := s.sendOnce(ctx, msg)
		if err == nil {
			s.log.Info().Int("attempt", attempt).Str("to", msg.To).Msg("digest email sent")
			return nil
		}
		if errors.Is(err, ErrAuth) {
			s.log.Error().Err(err).Msg("smtp authentication failed, not retrying")
			return err
		}
		last = err
		s.log.Error().Err(err).Int("attempt", attempt).Int("max", s.attemptsMax).Msg("smtp delivery failed")
		if attempt < s.attemptsMax {
			delay := s.wait(attempt)
			s.log.Info().Dur("delay", delay).Msg("retrying delivery")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("smtp: giving up after %d attempts: %w", s.attemptsMax, last)
}

// sendOnce runs one complete connect → hello → starttls-probe → auth → send
// cycle on a fresh session.
func (s *Sender) sendOnce(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	sess, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer sess.Close()

	if err := sess.Hello("localhost"); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}
	if ok, _ := sess.Extension("STARTTLS"); ok {
		if err := sess.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if err := sess.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if err := sess.Mail(s.username); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := sess.Rcpt(msg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	wc, err := sess.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := wc.Write(buildMIME(s.username, msg)); err != nil {
		wc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return sess.Quit()
}

// TestConnection runs the connect/auth phases without sending anything.
func (s *Sender) TestConnection(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	sess, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer sess.Close()
	if err := sess.Hello("localhost"); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}
	if ok, _ := sess.Extension("STARTTLS"); ok {
		if err := sess.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if err := sess.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return sess.Quit()
}

// buildMIME assembles a multipart/alternative body: plain text first, HTML
// second, so capable clients prefer the HTML part.
func buildMIME(from string, msg Message) []byte {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", from)
	fmt.Fprintf(&head, "To: %s\r\n", msg.To)
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&head, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/alternative; boundary=%q\r\n", w.Boundary())
	head.WriteString("\r\n")

	if msg.Text != "" {
		part, _ := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
		io.WriteString(part, msg.Text)
	}
	part, _ := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	io.WriteString(part, msg.HTML)
	w.Close()

	return append(head.Bytes(), buf.Bytes()...)
}
