package email

import (
	"context"
	"time"
)

// Message is a transactional email with HTML and plain-text alternatives.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Delivery describes an accepted message.
type Delivery struct {
	MessageID string
	Accepted  time.Time
}

// Sender delivers transactional email. Implementations do not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Delivery, error)
}
