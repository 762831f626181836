// Package notify delivers block lifecycle notifications over email and Slack.
package notify

import (
	"context"
	"errors"
)

// Level represents the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// Notification represents a notification to be sent.
type Notification struct {
	Title   string
	Message string
	Level   Level
	BlockID string // Optional block reference
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier sends to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers.
// Nil entries are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of wrapped notifiers.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Send delivers n to every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications).
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }
