package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
)

func TestSplitRepoName_ParsesOwnerAndRepo(t *testing.T) {
	owner, name, err := splitRepoName("acme/checkout")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "checkout", name)
}

func TestSplitRepoName_RejectsMalformedInput(t *testing.T) {
	for _, bad := range []string{"acme", "", "/checkout", "acme/"} {
		_, _, err := splitRepoName(bad)
		assert.Error(t, err, bad)
	}
}

func TestPRDescription_IncludesRootCauseAndFix(t *testing.T) {
	rootCause := "nil pointer in checkout handler"
	fix := "added nil check before dereference"
	inc := &models.Incident{ID: "inc-1", RootCause: &rootCause, CodeFixExplanation: &fix}

	desc := prDescription(inc)
	assert.Contains(t, desc, "inc-1")
	assert.Contains(t, desc, rootCause)
	assert.Contains(t, desc, fix)
}

func TestPRDescription_OmitsMissingFields(t *testing.T) {
	inc := &models.Incident{ID: "inc-2"}
	desc := prDescription(inc)
	assert.Contains(t, desc, "inc-2")
	assert.NotContains(t, desc, "Root cause")
	assert.NotContains(t, desc, "Fix")
}
