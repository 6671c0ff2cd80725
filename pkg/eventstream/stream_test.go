package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
)

func TestStream_NonDecreasingTimestamps(t *testing.T) {
	s := New("inc-1", 100, nil)
	for i := 0; i < 10; i++ {
		s.AddEvent(models.EventAgentAction, map[string]any{"i": i}, "planner")
	}

	events := s.Events()
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].UTCTimestamp.Before(events[i-1].UTCTimestamp))
	}
}

func TestStream_CompressesBeyondMax(t *testing.T) {
	s := New("inc-1", 5, nil)
	for i := 0; i < 12; i++ {
		s.AddEvent(models.EventObservation, nil, "")
	}

	events := s.Events()
	require.LessOrEqual(t, len(events), 6) // max_events + 1 compression entry
	assert.Equal(t, models.EventCompression, events[0].Type)
}

func TestStream_GetEventsByType(t *testing.T) {
	s := New("inc-1", 100, nil)
	s.AddEvent(models.EventError, nil, "")
	s.AddEvent(models.EventAgentAction, nil, "")
	s.AddEvent(models.EventError, nil, "")

	errs := s.GetEventsByType(models.EventError)
	assert.Len(t, errs, 2)
}

type fakeBroadcaster struct {
	calls int
}

func (f *fakeBroadcaster) Broadcast(incidentID string, event models.Event) {
	f.calls++
}

func TestStream_BroadcastsOnAppend(t *testing.T) {
	fb := &fakeBroadcaster{}
	s := New("inc-1", 100, fb)
	s.AddEvent(models.EventAgentAction, nil, "")
	assert.Equal(t, 1, fb.calls)
}
