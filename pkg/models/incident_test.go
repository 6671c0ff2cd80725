package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIncidentStatus_TransitionDAG(t *testing.T) {
	assert.True(t, IncidentStatusOpen.CanTransitionTo(IncidentStatusInvestigating))
	assert.True(t, IncidentStatusOpen.CanTransitionTo(IncidentStatusFailed))
	assert.False(t, IncidentStatusResolved.CanTransitionTo(IncidentStatusOpen))
	assert.False(t, IncidentStatusHealing.CanTransitionTo(IncidentStatusInvestigating))
}

func TestIncidentSeverity_EscalatesOnlyUpward(t *testing.T) {
	s := IncidentSeverityMedium
	s = s.Escalate(IncidentSeverityCritical)
	assert.Equal(t, IncidentSeverityCritical, s)

	s = s.Escalate(IncidentSeverityMedium)
	assert.Equal(t, IncidentSeverityCritical, s, "escalate must never downgrade")
}

func TestIncident_AppendLogID_DeduplicatesAndPreservesOrder(t *testing.T) {
	inc := &Incident{}
	assert.True(t, inc.AppendLogID("a"))
	assert.True(t, inc.AppendLogID("b"))
	assert.False(t, inc.AppendLogID("a"))
	assert.Equal(t, []string{"a", "b"}, inc.LogIDs)
}

func TestIncident_Touch_NeverGoesBackwards(t *testing.T) {
	now := time.Now().UTC()
	inc := &Incident{LastSeenAt: now}

	inc.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, inc.LastSeenAt)

	later := now.Add(time.Minute)
	inc.Touch(later)
	assert.Equal(t, later, inc.LastSeenAt)
}

func TestIncident_MergeMetadata_NewOverwritesOld(t *testing.T) {
	inc := &Incident{Metadata: map[string]any{"pod": "a", "region": "us-east"}}
	inc.MergeMetadata(map[string]any{"pod": "b"})
	assert.Equal(t, "b", inc.Metadata["pod"])
	assert.Equal(t, "us-east", inc.Metadata["region"])
}
