package chat

import (
	"context"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/masking"
	"github.com/sentineld/resolveops/pkg/models"
)

type fakeSlackClient struct {
	posted       []goslack.MsgOption
	postedThread string
	history      *goslack.GetConversationHistoryResponse
	postErr      error
	historyErr   error
}

func (f *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error) {
	f.posted = options
	return channelID, "1700000000.000100", f.postErr
}

func (f *fakeSlackClient) GetConversationHistoryContext(ctx context.Context, params *goslack.GetConversationHistoryParameters) (*goslack.GetConversationHistoryResponse, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.history != nil {
		return f.history, nil
	}
	return &goslack.GetConversationHistoryResponse{}, nil
}

func newTestNotifier(fake *fakeSlackClient) *SlackNotifier {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{Name: "test"})
	return &SlackNotifier{api: fake, channelID: "C123", dashboardURL: "https://dash.example.com", breaker: breaker}
}

func TestNewSlackNotifier_ReturnsNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewSlackNotifier("", "C123", "", nil, nil))
	assert.Nil(t, NewSlackNotifier("tok", "", "", nil, nil))
}

func TestNewSlackNotifier_BuildsNotifierWhenConfigured(t *testing.T) {
	n := NewSlackNotifier("tok", "C123", "https://dash.example.com", nil, nil)
	require.NotNil(t, n)
}

func TestNotifyResolutionOutcome_NilReceiverIsNoop(t *testing.T) {
	var n *SlackNotifier
	n.NotifyResolutionOutcome(context.Background(), &models.Incident{ID: "inc-1"}, "resolved", "fixed it")
}

func TestNotifyResolutionOutcome_PostsMessageOnResolved(t *testing.T) {
	fake := &fakeSlackClient{}
	n := newTestNotifier(fake)

	n.NotifyResolutionOutcome(context.Background(), &models.Incident{ID: "inc-1", Title: "db timeout"}, "resolved", "added retry with backoff")
	assert.NotEmpty(t, fake.posted)
}

func TestNotifyResolutionOutcome_MasksDetailBeforePosting(t *testing.T) {
	fake := &fakeSlackClient{}
	n := newTestNotifier(fake)
	n.masker = masking.New(true, "security")

	n.NotifyResolutionOutcome(context.Background(), &models.Incident{ID: "inc-1", Title: "db timeout"},
		"resolved", `rotated leaked credential password: "FAKE-S3CRET-NOT-REAL"`)

	require.NotEmpty(t, fake.posted)
}

func TestNotifyResolutionOutcome_SwallowsPostError(t *testing.T) {
	fake := &fakeSlackClient{postErr: assert.AnError}
	n := newTestNotifier(fake)

	n.NotifyResolutionOutcome(context.Background(), &models.Incident{ID: "inc-1", Title: "db timeout"}, "failed", "gave up after 3 replans")
}

func TestFindThreadForIncident_ReturnsEmptyWhenTitleNotFound(t *testing.T) {
	fake := &fakeSlackClient{history: &goslack.GetConversationHistoryResponse{
		Messages: []goslack.Message{{Msg: goslack.Msg{Text: "unrelated chatter", Timestamp: "1.1"}}},
	}}
	n := newTestNotifier(fake)

	ts, err := n.findThreadForIncident(context.Background(), &models.Incident{Title: "db connection pool exhausted"})
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestFindThreadForIncident_MatchesCaseAndWhitespaceInsensitively(t *testing.T) {
	fake := &fakeSlackClient{history: &goslack.GetConversationHistoryResponse{
		Messages: []goslack.Message{{Msg: goslack.Msg{Text: "DB   Connection   Pool Exhausted in prod", Timestamp: "1.2"}}},
	}}
	n := newTestNotifier(fake)

	ts, err := n.findThreadForIncident(context.Background(), &models.Incident{Title: "db connection pool exhausted"})
	require.NoError(t, err)
	assert.Equal(t, "1.2", ts)
}

func TestBuildOutcomeMessage_IncludesDashboardButtonWhenConfigured(t *testing.T) {
	blocks := buildOutcomeMessage(&models.Incident{ID: "inc-9", Title: "boom"}, "resolved", "fixed", "https://dash.example.com")
	assert.Len(t, blocks, 2)
}

func TestBuildOutcomeMessage_OmitsButtonWithoutDashboardURL(t *testing.T) {
	blocks := buildOutcomeMessage(&models.Incident{ID: "inc-9", Title: "boom"}, "failed", "gave up", "")
	assert.Len(t, blocks, 1)
}

func TestTruncateForSlack_TruncatesLongText(t *testing.T) {
	long := make([]byte, maxDetailLength+500)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateForSlack(string(long))
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "truncated")
}

func TestTruncateForSlack_LeavesShortTextUntouched(t *testing.T) {
	assert.Equal(t, "short", truncateForSlack("short"))
}
