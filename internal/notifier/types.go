package notifier

import (
	"time"

	"ccbell/internal/event"
	"ccbell/pkg/opt"
)

// Config controls the playback pipeline.
type Config struct {
	Enabled     bool
	Command     []string
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	RatePerSec  int
	HistorySize int
	// Volume is used when a request carries none. Absent means full volume;
	// an explicit 0 is silence.
	Volume opt.Value[float64]
}

// Request asks for one sound.
type Request struct {
	EventType event.Type
	EventID   string
	Sound     string
	Volume    *float64
	At        time.Time
}

// Outcomes recorded in history and metrics.
const (
	OutcomePlayed  = "played"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
	OutcomeSkipped = "skipped"
)

type HistoryItem struct {
	At        time.Time     `json:"at"`
	EventType event.Type    `json:"event_type"`
	EventID   string        `json:"event_id,omitempty"`
	Sound     string        `json:"sound,omitempty"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took_ns,omitempty"`
}

// PlayEvent is emitted on the event bus for player lifecycle events.
type PlayEvent struct {
	EventType event.Type `json:"event_type"`
	EventID   string     `json:"event_id,omitempty"`
	Sound     string     `json:"sound,omitempty"`
	At        time.Time  `json:"at"`
	Error     string     `json:"error,omitempty"`
}

// Bus topics.
const (
	TopicQueued  = "player.queued"
	TopicPlayed  = "player.played"
	TopicFailed  = "player.failed"
	TopicDropped = "player.dropped"
)
