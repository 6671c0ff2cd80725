// Package eventstream implements the append-only, size-bounded,
// single-writer event log described in spec §3/§4.H. One Stream is owned
// exclusively by the agent loop for the duration of a single incident
// resolution run.
package eventstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/sentineld/resolveops/pkg/models"
)

// Broadcaster is notified of every appended event, mirroring the teacher's
// WebSocket-broadcast-on-append pattern (pkg/events.EventPublisher). Nil is
// a valid Stream.broadcaster (broadcasting disabled).
type Broadcaster interface {
	Broadcast(incidentID string, event models.Event)
}

// Stream is a bounded, append-only sequence of events for one incident run.
// Not safe for concurrent writers — ownership is exclusive to one agent
// loop, per spec §5.
type Stream struct {
	incidentID  string
	maxEvents   int
	events      []models.Event
	broadcaster Broadcaster
}

// New creates a Stream for the given incident, bounded at maxEvents entries
// before compression kicks in.
func New(incidentID string, maxEvents int, broadcaster Broadcaster) *Stream {
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Stream{
		incidentID:  incidentID,
		maxEvents:   maxEvents,
		broadcaster: broadcaster,
	}
}

// AddEvent appends a new event, triggers the broadcaster if configured, and
// compresses older entries once the stream exceeds maxEvents.
func (s *Stream) AddEvent(eventType models.EventType, data map[string]any, agentName string) models.Event {
	ev := models.Event{
		Type:         eventType,
		UTCTimestamp: time.Now().UTC(),
		AgentName:    agentName,
		Data:         data,
		IncidentID:   s.incidentID,
	}
	// Timestamps are non-decreasing: if clock skew ever produced an entry
	// earlier than the last one, pin it to the last timestamp instead of
	// violating the ordering invariant (spec testable property 7).
	if n := len(s.events); n > 0 && ev.UTCTimestamp.Before(s.events[n-1].UTCTimestamp) {
		ev.UTCTimestamp = s.events[n-1].UTCTimestamp
	}

	s.events = append(s.events, ev)

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(s.incidentID, ev)
	}

	if len(s.events) > s.maxEvents {
		s.compress()
	}

	return ev
}

// compress collapses every event but the most recent into a single
// COMPRESSION entry containing counts by type. This is the only lossy
// operation on the stream (spec §3/§8 testable property 8).
func (s *Stream) compress() {
	keep := s.events[len(s.events)-1]
	toCollapse := s.events[:len(s.events)-1]

	counts := make(map[string]int, len(toCollapse))
	for _, ev := range toCollapse {
		counts[string(ev.Type)]++
	}

	breakdown := make(map[string]any, len(counts))
	for t, c := range counts {
		breakdown[t] = c
	}

	compression := models.Event{
		Type:         models.EventCompression,
		UTCTimestamp: keep.UTCTimestamp,
		IncidentID:   s.incidentID,
		Data: map[string]any{
			"collapsed_count": len(toCollapse),
			"breakdown":       breakdown,
		},
	}

	s.events = []models.Event{compression, keep}
}

// Events returns the current event slice. Callers must not mutate it.
func (s *Stream) Events() []models.Event {
	return s.events
}

// GetEventsByType filters the stream for a single event type.
func (s *Stream) GetEventsByType(t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// GetRecentEvents returns up to the last n events in chronological order.
func (s *Stream) GetRecentEvents(n int) []models.Event {
	if n <= 0 || n >= len(s.events) {
		return s.events
	}
	return s.events[len(s.events)-n:]
}

// ToContextString renders up to max recent events (reverse-chronological
// internally, reversed back before formatting) into LLM-friendly context.
func (s *Stream) ToContextString(max int) string {
	recent := s.GetRecentEvents(max)

	var b strings.Builder
	for _, ev := range recent {
		agent := ev.AgentName
		if agent == "" {
			agent = "system"
		}
		fmt.Fprintf(&b, "[%s] %s (%s): %v\n",
			ev.UTCTimestamp.Format(time.RFC3339), ev.Type, agent, ev.Data)
	}
	return b.String()
}
