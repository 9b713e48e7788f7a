package notifier

import "time"

// Config controls the delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// DedupWindow suppresses a notification identical to one sent for the
	// same entity (metadata entity_id) within the window. Zero disables it.
	DedupWindow time.Duration
}

// Delivery statuses kept in the history and published on the bus.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
	StatusDeduped = "deduped"
)

// Bus event types.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
	EventDeduped = "notifier.deduped"
)

// Delivery is one channel attempt outcome.
type Delivery struct {
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}
