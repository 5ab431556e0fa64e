package notifier

import "time"

// Config controls send pacing.
type Config struct {
	RatePerSec         float64
	Burst              int
	SendTimeout        time.Duration
	DisableLinkPreview bool
	HistorySize        int
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	Key       string    `json:"key"`
	FactID    string    `json:"fact_id"`
	ChatID    int64     `json:"chat_id"`
	MessageID int       `json:"message_id,omitempty"`
	Edited    bool      `json:"edited,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NotificationEvent is emitted on the event bus after every delivery attempt.
type NotificationEvent struct {
	Key       string        `json:"key"`
	FactID    string        `json:"fact_id"`
	ChatID    int64         `json:"chat_id"`
	ThreadID  int           `json:"thread_id,omitempty"`
	MessageID int           `json:"message_id,omitempty"`
	At        time.Time     `json:"at"`
	Took      time.Duration `json:"took"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}
