package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callpilot/internal/logger"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/utils"
)

func TestNotificationService_Send(t *testing.T) {
	n := &recordingNotifier{}
	svc := NewNotificationService(n)

	out, err := svc.Send(context.Background(), "co1", "u1", "Call waiting", "queue 2")
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, []string{"member:co1:u1"}, n.targets(notify.EventNotification))

	_, err = svc.Send(context.Background(), "co1", "", "x", "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	_, err = svc.Send(context.Background(), "", "u1", "x", "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestTranscriptService_NoMongoIsNoop(t *testing.T) {
	svc := NewTranscriptService(nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, &models.StreamSession{StreamID: "MZ1"}))
	require.NoError(t, svc.Append(ctx, &models.Utterance{StreamID: "MZ1", Text: "hi"}))
	require.NoError(t, svc.End(ctx, "MZ1", 1))

	rows, err := svc.ListByCall(ctx, "call-1", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = svc.ListByCall(ctx, "", 0)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	assert.True(t, utils.IsCode(svc.Append(ctx, &models.Utterance{StreamID: "MZ1"}), utils.CodeInvalidArgument))
}

type fakeUtteranceRepo struct {
	rows []models.Utterance
}

func (r *fakeUtteranceRepo) Insert(_ context.Context, u *models.Utterance) error {
	r.rows = append(r.rows, *u)
	return nil
}

func (r *fakeUtteranceRepo) ListByCall(_ context.Context, callID string, _ int64) ([]models.Utterance, error) {
	var out []models.Utterance
	for _, u := range r.rows {
		if u.CallID == callID {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestTranscriptService_ReplaysBufferedUtterances(t *testing.T) {
	repo := &fakeUtteranceRepo{}
	svc := NewTranscriptService(nil, repo)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, &models.Utterance{StreamID: "MZ1", CallID: "call-1", Seq: 1, Text: "hello"}))
	require.NoError(t, svc.Append(ctx, &models.Utterance{StreamID: "MZ2", CallID: "call-2", Seq: 1, Text: "other"}))
	require.NoError(t, svc.Append(ctx, &models.Utterance{StreamID: "MZ1", CallID: "call-1", Seq: 2, Text: "charged twice"}))

	rows, err := svc.ListByCall(ctx, "call-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hello", rows[0].Text)
	assert.Equal(t, "charged twice", rows[1].Text)
}

type blockingHandler struct {
	mu      sync.Mutex
	jobs    []models.SuggestionJob
	ctxErrs []error
}

func (h *blockingHandler) GenerateAndDeliver(ctx context.Context, job models.SuggestionJob) (*models.Suggestion, error) {
	time.Sleep(10 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return &models.Suggestion{}, nil
}

func TestInlineDispatcher_DetachedFromCaller(t *testing.T) {
	h := &blockingHandler{}
	d := NewInlineDispatcher(h, time.Second, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, models.SuggestionJob{Transcript: "a"}))
	require.NoError(t, d.Dispatch(ctx, models.SuggestionJob{Transcript: "b"}))
	cancel()

	d.Wait()
	assert.Len(t, h.jobs, 2)
	for _, err := range h.ctxErrs {
		assert.NoError(t, err)
	}
}
