package chat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxSignatureAge is the Slack replay-attack window (spec §6): a request
// whose X-Slack-Request-Timestamp is older than this is rejected outright,
// signature valid or not.
const maxSignatureAge = 300 * time.Second

// VerifySignature checks an inbound Slack request against the HMAC-SHA-256
// signing scheme (spec §6), trying every configured signing secret in turn
// — any one may validate, since separate bot personas can carry distinct
// secrets. Grounded on original_source's slack_controller.py signature
// check: `v0=` + hex(HMAC-SHA256("v0:{timestamp}:{body}")).
func VerifySignature(secrets []string, timestamp, signature, body string, now time.Time) bool {
	if timestamp == "" || signature == "" || len(secrets) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > maxSignatureAge {
		return false
	}

	baseString := "v0:" + timestamp + ":" + body
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(baseString))
		computed := "v0=" + hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(computed), []byte(signature)) {
			return true
		}
	}
	return false
}

// mentionPattern matches Slack's `<@U12345>` and `<@U12345|display.name>`
// mention syntax.
var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|([^>]+))?>`)

// ExtractMentions pulls every `<@user-id[|display-name]>` token out of a
// Slack message, returning the raw user ids and any accompanying display
// names (lower-cased, for case-insensitive matching).
func ExtractMentions(text string) (userIDs, displayNames []string) {
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		userIDs = append(userIDs, m[1])
		if m[2] != "" {
			displayNames = append(displayNames, strings.ToLower(m[2]))
		}
	}
	return userIDs, displayNames
}

// Persona is one addressable AI bot identity a chat message can be routed
// to — the teacher's Slack adapter serves a single bot; this module's
// spec.md §6 extends that to several named personas sharing one channel,
// disambiguated by mention or by keyword scoring over free text.
type Persona struct {
	UserID       string   // Slack user id of the persona's bot account, for exact-mention matching
	Name         string   // full display name, e.g. "Alex Rivera"
	Nicknames    []string // informal names resolved at nickname weight, e.g. "alex"
	RoleKeywords []string // role words resolved at keyword weight, e.g. "backend", "on-call"
}

// Score weights for the scored keyword match (spec §6): full name 100,
// nickname 60, first-name 50, role keyword 10-20.
const (
	scoreFullName    = 100
	scoreNickname    = 60
	scoreFirstName   = 50
	scoreRoleKeyword = 20
)

// ResolveMention implements the agent-matching procedure (spec §6): exact
// user-id match, then display-name match, then a scored keyword match
// over the raw message text. If mentions were present in the message but
// none of them matched a known persona, no match is returned — the spec
// explicitly forbids falling back to a default agent in that case, so an
// unresolved @-mention never silently routes to persona 0.
func ResolveMention(text string, mentionedUserIDs, mentionedDisplayNames []string, personas []Persona) (*Persona, bool) {
	for _, id := range mentionedUserIDs {
		for i := range personas {
			if personas[i].UserID == id {
				return &personas[i], true
			}
		}
	}

	mentionsPresent := len(mentionedUserIDs) > 0 || len(mentionedDisplayNames) > 0

	for _, dn := range mentionedDisplayNames {
		if p := matchByDisplayName(dn, personas); p != nil {
			return p, true
		}
	}
	if mentionsPresent {
		return nil, false
	}

	return scoredKeywordMatch(text, personas)
}

func matchByDisplayName(displayName string, personas []Persona) *Persona {
	for i := range personas {
		full := strings.ToLower(personas[i].Name)
		first := firstWord(full)
		switch {
		case displayName == full:
			return &personas[i]
		case first != "" && displayName == first:
			return &personas[i]
		case strings.Contains(full, displayName) || strings.Contains(displayName, full):
			return &personas[i]
		}
	}
	return nil
}

func scoredKeywordMatch(text string, personas []Persona) (*Persona, bool) {
	lowerText := strings.ToLower(text)

	var best *Persona
	bestScore := 0
	for i := range personas {
		score := personaScore(lowerText, &personas[i])
		if score > bestScore {
			bestScore = score
			best = &personas[i]
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func personaScore(lowerText string, p *Persona) int {
	full := strings.ToLower(p.Name)
	if full != "" && containsWord(lowerText, full) {
		return scoreFullName
	}
	for _, nick := range p.Nicknames {
		if containsWord(lowerText, strings.ToLower(nick)) {
			return scoreNickname
		}
	}
	if first := firstWord(full); first != "" && containsWord(lowerText, first) {
		return scoreFirstName
	}

	score := 0
	for _, kw := range p.RoleKeywords {
		if containsWord(lowerText, strings.ToLower(kw)) {
			score += scoreRoleKeyword
		}
	}
	if score > scoreFirstName-1 {
		// Role keywords alone must never outscore a name-level match.
		score = scoreFirstName - 1
	}
	return score
}

func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`).MatchString(text)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
