package sms

import (
	"context"
	"time"
)

// Message is one outbound text, immutable once constructed.
type Message struct {
	To   string
	Body string
}

// InboundMessage is one received text.
type InboundMessage struct {
	From       string
	Body       string
	ReceivedAt time.Time
}

// Sender delivers a single outbound message. Send returns nil only when the
// transport confirmed acceptance; the engine keys its notification flags on
// that.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Receiver yields messages received since the last poll.
type Receiver interface {
	Receive(ctx context.Context) ([]InboundMessage, error)
}
