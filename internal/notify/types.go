package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the notification pipeline.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  int
	Burst       int
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
}

// Message is one outgoing notification.
//
// Messages with the same non-empty Key are sent at most once per dedup
// window; Force skips that check.
type Message struct {
	Key      string
	Text     string
	Priority int
	Force    bool
}

// Notifier is what pulse hooks report through. *Service implements it; a nil
// or disabled Service returns ErrDisabled.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

var _ Notifier = (*Service)(nil)

// Sender delivers rendered text to a chat.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// Event is the Data of notify.* bus events.
type Event struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

const (
	EventSent    = "notify.sent"
	EventDeduped = "notify.deduped"
	EventDropped = "notify.dropped"
	EventFailed  = "notify.failed"
)
