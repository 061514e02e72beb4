package mailer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	logx "remindd/pkg/logx"
)

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("550 mailbox unavailable")
	err := fmt.Errorf("send: %w", Permanent(base))
	if !IsPermanent(err) {
		t.Fatalf("expected permanent")
	}
	if !errors.Is(err, base) {
		t.Fatalf("Permanent must unwrap to the cause")
	}
	if IsPermanent(base) {
		t.Fatalf("plain error reported permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}

func TestNewSMTPRequiresHostAndFrom(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{From: "a@example.com"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing host: %v", err)
	}
	if _, err := NewSMTP(SMTPConfig{Host: "smtp.example.com"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing from: %v", err)
	}
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if s.cfg.Port != 587 || s.cfg.Timeout <= 0 {
		t.Fatalf("defaults not applied: %+v", s.cfg)
	}
}

func TestSMTPBuildRejectsBadRecipient(t *testing.T) {
	s, _ := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"})
	if _, err := s.build(Message{To: "not an address", Subject: "x", Text: "y"}); err == nil {
		t.Fatalf("expected error for bad recipient")
	}
	if _, err := s.build(Message{To: "b@example.com", Subject: "x", Text: "y", HTML: "<p>y</p>", Attachments: []Attachment{{Name: "a.ics", Data: []byte("BEGIN:VCALENDAR")}}}); err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestLogMailerKeepsMessages(t *testing.T) {
	m := NewLog(logx.Nop())
	for i := 0; i < logKeep+5; i++ {
		if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	sent := m.Sent()
	if len(sent) != logKeep || sent[0].Subject != "5" {
		t.Fatalf("retained %d, first %q", len(sent), sent[0].Subject)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, Message{}); err == nil {
		t.Fatalf("expected context error")
	}
}
