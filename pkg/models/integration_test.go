package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegration_ResolveRepoName_PrefersServiceMapping(t *testing.T) {
	repo := "fallback-repo"
	i := &Integration{
		ServiceMappings: map[string]string{"checkout": "checkout-service"},
		RepoName:        &repo,
	}
	got, ok := i.ResolveRepoName("checkout")
	assert.True(t, ok)
	assert.Equal(t, "checkout-service", got)
}

func TestIntegration_ResolveRepoName_FallsThroughOrder(t *testing.T) {
	repository := "org/repo"
	i := &Integration{Repository: &repository}
	got, ok := i.ResolveRepoName("unmapped-service")
	assert.True(t, ok)
	assert.Equal(t, "org/repo", got)
}

func TestIntegration_ResolveRepoName_UnresolvedReturnsFalse(t *testing.T) {
	i := &Integration{}
	_, ok := i.ResolveRepoName("checkout")
	assert.False(t, ok)
}
