// Package journal records pool lifecycle events: spawns, connections,
// disconnects with their cause, retry scheduling, removals and shared target
// changes. Events go to hourly zstd-compressed JSONL files and optionally to a
// SQLite index. The journal is write-only at runtime; nothing is replayed on
// startup.
package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSpawned         Kind = "agent_spawned"
	KindConnected       Kind = "agent_connected"
	KindDisconnected    Kind = "agent_disconnected"
	KindRetryScheduled  Kind = "retry_scheduled"
	KindForcedReconnect Kind = "forced_reconnect"
	KindRemoved         Kind = "agent_removed"
	KindTargetAcquired  Kind = "target_acquired"
	KindTargetChanged   Kind = "target_changed"
	KindTargetCleared   Kind = "target_cleared"
)

type Event struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Agent       string    `json:"agent,omitempty"`
	Incarnation string    `json:"incarnation,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	DelayMs     int64     `json:"delay_ms,omitempty"`
	Target      string    `json:"target,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Delay returns DelayMs as a duration.
func (e Event) Delay() time.Duration { return time.Duration(e.DelayMs) * time.Millisecond }

// stamp fills in the ID and time of events recorded without them.
func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// Recorder accepts events. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Recorder interface {
	Record(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(Event) {}

// Multi fans an event out to several recorders.
type Multi []Recorder

func (m Multi) Record(e Event) {
	e = stamp(e)
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

// Memory keeps events in memory. Tests use it to observe pool behavior.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(e Event) {
	e = stamp(e)
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Filter returns the recorded events of the given kind, in order.
func (m *Memory) Filter(kind Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (m *Memory) Count(kind Kind) int { return len(m.Filter(kind)) }

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
