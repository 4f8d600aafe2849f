package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSession struct {
	authErr  error
	dataErr  error
	quitErr  error
	body     strings.Builder
	starttls bool
	authed   bool
	closed   bool
}

func (f *fakeSession) Hello(string) error { return nil }

func (f *fakeSession) Extension(ext string) (bool, string) {
	return ext == "STARTTLS" && f.starttls, ""
}

func (f *fakeSession) StartTLS(*tls.Config) error { return nil }

func (f *fakeSession) Auth(smtp.Auth) error {
	if f.authErr != nil {
		return f.authErr
	}
	f.authed = true
	return nil
}

func (f *fakeSession) Mail(string) error { return nil }
func (f *fakeSession) Rcpt(string) error { return nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (f *fakeSession) Data() (io.WriteCloser, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return nopCloser{&f.body}, nil
}

func (f *fakeSession) Quit() error  { return f.quitErr }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func testSender(dial DialFunc) (*Sender, *[]time.Duration) {
	delays := &[]time.Duration{}
	return &Sender{
		host:        "smtp.example.com",
		port:        587,
		username:    "digest@example.com",
		password:    "secret",
		log:         zerolog.Nop(),
		attemptsMax: 3,
		wait: func(attempt int) time.Duration {
			d := time.Duration(attempt) * 2 * time.Second
			*delays = append(*delays, d)
			return 0 // record policy output, never sleep in tests
		},
		dial: dial,
	}, delays
}

func msg() Message {
	return Message{Subject: "Daily Digest", To: "team@example.com", HTML: "<p>hi</p>", Text: "hi"}
}

func TestDeliverAuthFailureIsPermanent(t *testing.T) {
	attempts := 0
	s, _ := testSender(func(context.Context, string) (Session, error) {
		attempts++
		return &fakeSession{authErr: errors.New("535 bad credentials")}, nil
	})
	err := s.Deliver(context.Background(), msg())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("auth failure retried: %d attempts", attempts)
	}
}

func TestDeliverRetriesTransportThenSucceeds(t *testing.T) {
	attempts := 0
	var sessions []*fakeSession
	s, delays := testSender(func(context.Context, string) (Session, error) {
		attempts++
		if attempts <= 2 {
			return nil, errors.New("connection refused")
		}
		f := &fakeSession{}
		sessions = append(sessions, f)
		return f, nil
	})
	if err := s.Deliver(context.Background(), msg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("want 3 attempts, got %d", attempts)
	}
	if len(sessions) != 1 || !sessions[0].authed {
		t.Fatalf("final attempt did not run a full session")
	}
	// wait policy consulted for attempts 1 and 2 with increasing delays
	if len(*delays) != 2 || (*delays)[0] != 2*time.Second || (*delays)[1] != 4*time.Second {
		t.Fatalf("backoff delays = %v", *delays)
	}
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	attempts := 0
	s, _ := testSender(func(context.Context, string) (Session, error) {
		attempts++
		return nil, errors.New("timeout")
	})
	err := s.Deliver(context.Background(), msg())
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if errors.Is(err, ErrAuth) {
		t.Fatal("transport exhaustion must not classify as auth failure")
	}
	if attempts != 3 {
		t.Fatalf("want 3 attempts, got %d", attempts)
	}
}

func TestDeliverFreshSessionPerAttempt(t *testing.T) {
	var sessions []*fakeSession
	s, _ := testSender(func(context.Context, string) (Session, error) {
		f := &fakeSession{}
		if len(sessions) < 2 {
			f.dataErr = errors.New("transient send error")
		}
		sessions = append(sessions, f)
		return f, nil
	})
	if err := s.Deliver(context.Background(), msg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("want 3 distinct sessions, got %d", len(sessions))
	}
	for i, f := range sessions {
		if !f.closed {
			t.Errorf("session %d not closed", i)
		}
	}
}

func TestDeliverProbesStartTLSBeforeAuth(t *testing.T) {
	f := &fakeSession{starttls: true}
	s, _ := testSender(func(context.Context, string) (Session, error) { return f, nil })
	if err := s.Deliver(context.Background(), msg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.authed {
		t.Fatal("auth never ran")
	}
	if !strings.Contains(f.body.String(), "multipart/alternative") {
		t.Errorf("DATA payload missing MIME structure: %q", f.body.String())
	}
}

func TestConnectionCheck(t *testing.T) {
	f := &fakeSession{starttls: true}
	s, _ := testSender(func(context.Context, string) (Session, error) { return f, nil })
	if err := s.TestConnection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.authed || !f.closed {
		t.Fatalf("session = %+v", f)
	}
	if f.body.Len() != 0 {
		t.Fatal("connection check must not send a message")
	}

	bad, _ := testSender(func(context.Context, string) (Session, error) {
		return &fakeSession{authErr: errors.New("535 bad credentials")}, nil
	})
	if err := bad.TestConnection(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("digest@example.com", msg()))
	for _, want := range []string{
		"From: digest@example.com",
		"To: team@example.com",
		"Subject: Daily Digest",
		"MIME-Version: 1.0",
		"multipart/alternative",
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		"<p>hi</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("MIME message missing %q", want)
		}
	}
	// plain part must precede the HTML part
	if strings.Index(raw, "text/plain") > strings.Index(raw, "text/html") {
		t.Error("plain-text part should come before HTML part")
	}
}
