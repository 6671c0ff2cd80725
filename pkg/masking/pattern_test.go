package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileBuiltinPatterns(t *testing.T) {
	svc := New(true, "all")

	assert.Equal(t, len(builtinPatterns), len(svc.patterns), "every built-in pattern should compile")
	for name, cp := range svc.patterns {
		assert.NotNil(t, cp.Regex, "pattern %s should have compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "pattern %s should have replacement", name)
	}
}

func TestResolvePatternsFromGroup(t *testing.T) {
	svc := New(true, "all")

	tests := []struct {
		name           string
		group          string
		minRegex       int
		hasCodeMaskers bool
	}{
		{name: "basic group", group: "basic", minRegex: 2},
		{name: "security group", group: "security", minRegex: 7},
		{name: "kubernetes group", group: "kubernetes", minRegex: 3, hasCodeMaskers: false},
		{name: "all group", group: "all", minRegex: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := svc.resolvePatternsFromGroup(tt.group)
			assert.GreaterOrEqual(t, len(resolved.regexPatterns), tt.minRegex)
			if tt.hasCodeMaskers {
				assert.Contains(t, resolved.codeMaskerNames, "kubernetes_secret")
			}
		})
	}
}

func TestResolvePatternsFromGroup_UnknownGroup(t *testing.T) {
	svc := New(true, "all")
	resolved := svc.resolvePatternsFromGroup("nonexistent_group")
	assert.Empty(t, resolved.regexPatterns)
	assert.Empty(t, resolved.codeMaskerNames)
}

func TestResolvePatternsFromGroup_Deduplication(t *testing.T) {
	// builtinPatternGroups itself lists each pattern name once per group, so
	// resolving the same group twice must never produce duplicate entries.
	svc := New(true, "all")
	resolved := svc.resolvePatternsFromGroup("basic")

	apiKeyCount := 0
	for _, p := range resolved.regexPatterns {
		if p.Name == "api_key" {
			apiKeyCount++
		}
	}
	assert.Equal(t, 1, apiKeyCount)
}
