package chat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_AcceptsValidSignatureFromAnyConfiguredSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := `{"type":"event_callback"}`
	sig := sign("morgan-secret", ts, body)

	ok := VerifySignature([]string{"alex-secret", "morgan-secret"}, ts, sig, body, now)
	assert.True(t, ok)
}

func TestVerifySignature_RejectsWrongSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	ok := VerifySignature([]string{"secret"}, ts, "v0=deadbeef", "body", now)
	assert.False(t, ok)
}

func TestVerifySignature_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	staleTS := strconv.FormatInt(now.Add(-301*time.Second).Unix(), 10)
	body := "body"
	sig := sign("secret", staleTS, body)

	ok := VerifySignature([]string{"secret"}, staleTS, sig, body, now)
	assert.False(t, ok, "a timestamp older than 300s must be rejected even with a valid signature")
}

func TestVerifySignature_RejectsMissingHeaders(t *testing.T) {
	assert.False(t, VerifySignature([]string{"secret"}, "", "sig", "body", time.Now()))
	assert.False(t, VerifySignature([]string{"secret"}, "123", "", "body", time.Now()))
	assert.False(t, VerifySignature(nil, "123", "sig", "body", time.Now()))
}

func TestExtractMentions_ParsesUserIDsAndDisplayNames(t *testing.T) {
	ids, names := ExtractMentions("hey <@U123|Alex Rivera> can you look at <@U456> please")
	assert.Equal(t, []string{"U123", "U456"}, ids)
	assert.Equal(t, []string{"alex rivera"}, names)
}

var testPersonas = []Persona{
	{UserID: "U_ALEX", Name: "Alex Rivera", Nicknames: []string{"alex"}, RoleKeywords: []string{"backend", "on-call"}},
	{UserID: "U_MORGAN", Name: "Morgan Taylor", Nicknames: []string{"mo"}, RoleKeywords: []string{"frontend"}},
}

func TestResolveMention_ExactUserIDMatch(t *testing.T) {
	p, ok := ResolveMention("<@U_MORGAN> please help", []string{"U_MORGAN"}, nil, testPersonas)
	assert.True(t, ok)
	assert.Equal(t, "Morgan Taylor", p.Name)
}

func TestResolveMention_DisplayNameMatch(t *testing.T) {
	p, ok := ResolveMention("<@U999|alex rivera> ping", []string{"U999"}, []string{"alex rivera"}, testPersonas)
	assert.True(t, ok)
	assert.Equal(t, "Alex Rivera", p.Name)
}

func TestResolveMention_UnmatchedMentionDoesNotFallBackToDefault(t *testing.T) {
	p, ok := ResolveMention("<@U999|nobody known>", []string{"U999"}, []string{"nobody known"}, testPersonas)
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestResolveMention_ScoredKeywordMatchWhenNoMentions(t *testing.T) {
	p, ok := ResolveMention("can someone on backend take a look at this outage", nil, nil, testPersonas)
	assert.True(t, ok)
	assert.Equal(t, "Alex Rivera", p.Name)
}

func TestResolveMention_FullNameOutscoresRoleKeyword(t *testing.T) {
	p, ok := ResolveMention("morgan taylor, can you check the frontend build", nil, nil, testPersonas)
	assert.True(t, ok)
	assert.Equal(t, "Morgan Taylor", p.Name)
}

func TestResolveMention_NoMatchWhenNothingScoresAndNoMentions(t *testing.T) {
	_, ok := ResolveMention("totally unrelated message", nil, nil, testPersonas)
	assert.False(t, ok)
}
