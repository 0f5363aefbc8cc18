package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callpilot/internal/logger"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/utils"
)

func newChatFixture() (*fakeChatRepo, *recordingNotifier, *fakeDispatcher, ChatService) {
	repo := &fakeChatRepo{chats: map[string]*models.Chat{
		"chat-1": {ID: "chat-1", CompanyID: "co1", OperatorID: "op1"},
		"chat-2": {ID: "chat-2", CompanyID: "co1"},
	}}
	n := &recordingNotifier{}
	d := &fakeDispatcher{}
	return repo, n, d, NewChatService(repo, n, d, 5, logger.Discard())
}

func TestReceiveMessage_InboundDispatchesWithWindow(t *testing.T) {
	_, n, d, svc := newChatFixture()
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		_, err := svc.ReceiveMessage(ctx, ChatMessageInput{
			ChatID: "chat-1", CompanyID: "co1", Direction: models.DirectionInbound, Body: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}

	require.Len(t, d.jobs, 7)
	last := d.jobs[6]
	assert.Equal(t, models.ChannelChat, last.Channel)
	assert.Equal(t, "op1", last.OperatorID)
	assert.Equal(t, "m7", last.Transcript)
	assert.Equal(t, []string{"customer: m3", "customer: m4", "customer: m5", "customer: m6", "customer: m7"}, last.Context)
	for _, j := range d.jobs {
		assert.LessOrEqual(t, len(j.Context), 5)
	}

	assert.Len(t, n.targets(notify.EventWhatsAppMessage), 14)
}

func TestReceiveMessage_OutboundDoesNotDispatch(t *testing.T) {
	repo, n, d, svc := newChatFixture()

	msg, err := svc.ReceiveMessage(context.Background(), ChatMessageInput{
		ChatID: "chat-1", CompanyID: "co1", Direction: models.DirectionOutbound, Sender: "Ana", Body: "on it",
	})
	require.NoError(t, err)
	assert.Equal(t, "on it", msg.Body)
	assert.Len(t, repo.messages, 1)
	assert.Empty(t, d.jobs)
	assert.ElementsMatch(t, []string{"chat:chat-1", "company:co1"}, n.targets(notify.EventWhatsAppMessage))
}

func TestReceiveMessage_NoOperatorSkipsSuggestion(t *testing.T) {
	_, _, d, svc := newChatFixture()

	_, err := svc.ReceiveMessage(context.Background(), ChatMessageInput{ChatID: "chat-2", CompanyID: "co1", Body: "hello"})
	require.NoError(t, err)
	assert.Empty(t, d.jobs)
}

func TestReceiveMessage_DispatchFailureIsSoft(t *testing.T) {
	_, _, d, svc := newChatFixture()
	d.err = errBoom

	msg, err := svc.ReceiveMessage(context.Background(), ChatMessageInput{ChatID: "chat-1", CompanyID: "co1", Body: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestReceiveMessage_Errors(t *testing.T) {
	repo, _, _, svc := newChatFixture()
	ctx := context.Background()

	_, err := svc.ReceiveMessage(ctx, ChatMessageInput{ChatID: "chat-1", CompanyID: "co1"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.ReceiveMessage(ctx, ChatMessageInput{ChatID: "chat-1", CompanyID: "co1", Body: "x", Direction: "sideways"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.ReceiveMessage(ctx, ChatMessageInput{ChatID: "chat-1", CompanyID: "co2", Body: "x"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	repo.insertErr = errBoom
	_, err = svc.ReceiveMessage(ctx, ChatMessageInput{ChatID: "chat-1", CompanyID: "co1", Body: "x"})
	assert.True(t, utils.IsCode(err, utils.CodeInternal))
}

func TestCanJoinChat(t *testing.T) {
	_, _, _, svc := newChatFixture()
	ctx := context.Background()

	ok, err := svc.CanJoinChat(ctx, "co1", "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanJoinChat(ctx, "co9", "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
