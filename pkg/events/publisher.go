package events

import (
	"context"
	"time"
)

const (
	TypeCheckedIn  = "student.checked_in"
	TypeCheckedOut = "student.checked_out"
)

// Event describes a record lifecycle transition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	RecordID   string    `json:"recordId"`
	StudentID  string    `json:"studentId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
