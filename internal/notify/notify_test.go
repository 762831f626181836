package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gopkg.in/gomail.v2"

	"github.com/seantiz/servicedg/internal/config"
)

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func TestMultiNotifier(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("boom")}
	m := NewMultiNotifier(a, nil, b)

	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}

	err := m.Send(context.Background(), Notification{Title: "done"})
	if err == nil {
		t.Error("expected joined error from failing notifier")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("sent = %d/%d, want 1/1", len(a.sent), len(b.sent))
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	if err := n.Send(context.Background(), Notification{}); err != nil {
		t.Errorf("NoopNotifier.Send = %v", err)
	}
}

func TestSlackColor(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelSuccess, "good"},
		{LevelWarning, "warning"},
		{LevelError, "danger"},
		{LevelInfo, "#439FE0"},
	}
	for _, tt := range tests {
		if got := SlackColor(tt.level); got != tt.want {
			t.Errorf("SlackColor(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestSlackNotifierSend(t *testing.T) {
	var got SlackMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewSlackNotifier(ts.URL)
	err := s.Send(context.Background(), Notification{
		Title:   "Block 1 completed",
		Message: "3 operations, 120 viewers",
		Level:   LevelSuccess,
		BlockID: "block-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Text != "Block 1 completed" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Title != "block-1" || got.Attachments[0].Color != "good" {
		t.Errorf("Attachments = %+v", got.Attachments)
	}
}

func TestSlackNotifierNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	if err := NewSlackNotifier(ts.URL).Send(context.Background(), Notification{Title: "x"}); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestSlackNotifierDisabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(context.Background(), Notification{Title: "x"}); err != nil {
		t.Errorf("disabled Send = %v, want nil", err)
	}
}

type fakeSender struct {
	msgs []*gomail.Message
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.msgs = append(f.msgs, m...)
	return nil
}

func TestEmailNotifierSend(t *testing.T) {
	sender := &fakeSender{}
	e := newEmailNotifier(config.EmailConfig{
		Username: "ops@example.com",
		To:       []string{"lead@example.com", "ops@example.com"},
	}, sender)

	if err := e.Send(context.Background(), Notification{Title: "Block 2 completed", Message: "done", BlockID: "block-2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.msgs))
	}
	msg := sender.msgs[0]
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "Block 2 completed" {
		t.Errorf("Subject = %v", got)
	}
	if got := msg.GetHeader("To"); len(got) != 2 {
		t.Errorf("To = %v, want 2 recipients", got)
	}
}

func TestNewEmailNotifierValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmailConfig
	}{
		{"missing host", config.EmailConfig{To: []string{"a@example.com"}}},
		{"no recipients", config.EmailConfig{Host: "smtp.example.com"}},
		{"bad recipient", config.EmailConfig{Host: "smtp.example.com", To: []string{"not an address"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEmailNotifier(tt.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
