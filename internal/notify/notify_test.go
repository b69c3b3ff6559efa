package notify

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestJobFailedSendsToConfiguredChat(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender, 42, nil)

	n.JobFailed("acme", "acme-2026-02-03", 5, errors.New("ads api 500"))

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "acme")
	assert.Contains(t, msg.Text, "ads api 500")
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.JobFailed("acme", "job", 1, errors.New("boom"))
	n.QueuesStopped(3)
}

func TestSendErrorsAreSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := NewWithSender(sender, 1, nil)

	n.QueuesStopped(16)
	require.Len(t, sender.sent, 1)
}

func TestEmptyTokenDisables(t *testing.T) {
	n, err := New("", 1, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}
