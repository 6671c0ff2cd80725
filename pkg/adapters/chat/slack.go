// Package chat implements agentloop.Notifier against Slack (spec §4.L),
// grounded on the teacher's pkg/slack package (Client/Service split,
// fingerprint-based thread lookup, Block Kit message builders),
// generalized from session-lifecycle notifications to incident
// resolution-outcome notifications.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/sentineld/resolveops/pkg/masking"
	"github.com/sentineld/resolveops/pkg/models"
)

// client is the subset of slack-go's API surface this adapter uses,
// narrowed so tests can swap in a fake without touching the real SDK.
type client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *goslack.GetConversationHistoryParameters) (*goslack.GetConversationHistoryResponse, error)
}

// SlackNotifier posts incident resolution-outcome notifications to a
// Slack channel, threading the reply under the incident's originating
// alert message when one can be found. Nil-safe: a nil *SlackNotifier is
// a no-op, matching the teacher's Service convention so wiring code can
// pass it through unconditionally when Slack isn't configured.
type SlackNotifier struct {
	api          client
	channelID    string
	dashboardURL string
	masker       *masking.Service
	breaker      *gobreaker.CircuitBreaker[any]
	log          *slog.Logger
}

// NewSlackNotifier builds a SlackNotifier. Returns nil if token or
// channel is empty, so callers can wire it in unconditionally. masker may
// be nil, in which case detail text is posted unmasked. Every Slack API
// call runs through a circuit breaker (spec §5's resilience policy, same
// gobreaker settings as pkg/llm.Client's LLM breaker) so a Slack outage
// trips open instead of every resolution outcome hanging on a dead
// dependency.
func NewSlackNotifier(token, channelID, dashboardURL string, masker *masking.Service, log *slog.Logger) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "slack-chat-adapter",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &SlackNotifier{api: goslack.New(token), channelID: channelID, dashboardURL: dashboardURL, masker: masker, breaker: breaker, log: log}
}

// postMessageResult and historyResult box the multi-value returns of the
// slack-go client methods so they can travel through the single-value
// gobreaker.CircuitBreaker[any].Execute signature.
type postMessageResult struct {
	channel, ts string
}

var statusEmoji = map[string]string{
	"resolved":         ":white_check_mark:",
	"failed":           ":x:",
	"skipped_external": ":information_source:",
}

var statusLabel = map[string]string{
	"resolved":         "Incident Resolved",
	"failed":           "Resolution Failed",
	"skipped_external": "Auto-Resolution Skipped",
}

const maxDetailLength = 2900

// NotifyResolutionOutcome implements agentloop.Notifier. Errors are
// logged, never returned: a notification failure must never fail the
// resolution run it's reporting on.
func (s *SlackNotifier) NotifyResolutionOutcome(ctx context.Context, inc *models.Incident, outcome string, detail string) {
	if s == nil {
		return
	}

	threadTS, err := s.findThreadForIncident(ctx, inc)
	if err != nil {
		s.log.Warn("slack: thread lookup failed", "incident_id", inc.ID, "error", err)
	}

	if s.masker != nil {
		detail = s.masker.MaskOutboundText(detail)
	}
	blocks := buildOutcomeMessage(inc, outcome, detail, s.dashboardURL)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	_, err = s.breaker.Execute(func() (any, error) {
		channel, ts, err := s.api.PostMessageContext(ctx, s.channelID, opts...)
		return postMessageResult{channel: channel, ts: ts}, err
	})
	if err != nil {
		s.log.Error("slack: post message failed", "incident_id", inc.ID, "outcome", outcome, "error", err)
	}
}

// findThreadForIncident searches recent channel history for the alert
// message that originated this incident, so the outcome can be posted
// as a threaded reply rather than a new top-level message.
func (s *SlackNotifier) findThreadForIncident(ctx context.Context, inc *models.Incident) (string, error) {
	needle := normalizeText(inc.Title)
	if needle == "" {
		return "", nil
	}

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: s.channelID,
		Oldest:    fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix()),
		Limit:     200,
	}

	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		raw, err := s.breaker.Execute(func() (any, error) {
			return s.api.GetConversationHistoryContext(ctx, params)
		})
		if err != nil {
			return "", fmt.Errorf("conversations.history: %w", err)
		}
		history, _ := raw.(*goslack.GetConversationHistoryResponse)
		if history == nil {
			return "", fmt.Errorf("conversations.history: empty response")
		}

		for _, msg := range history.Messages {
			if strings.Contains(normalizeText(collectMessageText(msg)), needle) {
				return msg.Timestamp, nil
			}
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}
	return "", nil
}

func buildOutcomeMessage(inc *models.Incident, outcome, detail, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[outcome]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[outcome]
	if label == "" {
		label = "Resolution " + outcome
	}

	headerText := fmt.Sprintf("%s *%s*\n%s", emoji, label, inc.Title)
	if detail != "" {
		headerText += fmt.Sprintf("\n\n%s", truncateForSlack(detail))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false), nil, nil),
	}

	if dashboardURL != "" {
		url := fmt.Sprintf("%s/incidents/%s", dashboardURL, inc.ID)
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Incident", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxDetailLength {
		return text
	}
	return text[:maxDetailLength] + "\n\n_... (truncated — view full detail in dashboard)_"
}
