package sender

import (
	"context"
	"testing"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient 지정된 횟수만큼 실패한 뒤 성공하는 테스트용 클라이언트입니다.
type fakeClient struct {
	sendCalls    int
	requestCalls int
	failures     int
	failWith     error
}

func (c *fakeClient) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "fake_bot"}
}

func (c *fakeClient) Send(_ tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.sendCalls++
	if c.sendCalls <= c.failures {
		return tgbotapi.Message{}, c.failWith
	}
	return tgbotapi.Message{MessageID: 42}, nil
}

func (c *fakeClient) Request(_ tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	c.requestCalls++
	if c.requestCalls <= c.failures {
		return nil, c.failWith
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestIdentity(t *testing.T, client *fakeClient) *registry.Identity {
	t.Helper()

	appConfig := &config.AppConfig{
		Bots: []config.BotConfig{
			{ID: "ventas", BotToken: "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"},
		},
		Support: config.SupportConfig{GroupChatID: -100123, DispatcherBotID: "ventas"},
	}

	reg, err := registry.New(appConfig, func(string) (registry.Client, error) {
		return client, nil
	})
	require.NoError(t, err)

	identity, err := reg.Get("ventas")
	require.NoError(t, err)

	return identity
}

func newTestSender() *Sender {
	return New(config.HTTPRetryConfig{MaxRetries: 3, RetryDelay: "1ms"})
}

func TestSendMessage(t *testing.T) {
	t.Run("정상 전송", func(t *testing.T) {
		client := &fakeClient{}
		identity := newTestIdentity(t, client)

		message, err := newTestSender().SendMessage(context.Background(), identity, 555, "hola")
		require.NoError(t, err)
		assert.Equal(t, 42, message.MessageID)
		assert.Equal(t, 1, client.sendCalls)
	})

	t.Run("5xx 오류는 재시도 후 성공", func(t *testing.T) {
		client := &fakeClient{failures: 2, failWith: &tgbotapi.Error{Code: 500, Message: "Internal Server Error"}}
		identity := newTestIdentity(t, client)

		message, err := newTestSender().SendMessage(context.Background(), identity, 555, "hola")
		require.NoError(t, err)
		assert.Equal(t, 42, message.MessageID)
		assert.Equal(t, 3, client.sendCalls)
	})

	t.Run("429 오류는 재시도 대상", func(t *testing.T) {
		client := &fakeClient{failures: 1, failWith: &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}}
		identity := newTestIdentity(t, client)

		_, err := newTestSender().SendMessage(context.Background(), identity, 555, "hola")
		require.NoError(t, err)
		assert.Equal(t, 2, client.sendCalls)
	})

	t.Run("4xx 오류는 즉시 실패", func(t *testing.T) {
		client := &fakeClient{failures: 10, failWith: &tgbotapi.Error{Code: 403, Message: "Forbidden"}}
		identity := newTestIdentity(t, client)

		_, err := newTestSender().SendMessage(context.Background(), identity, 555, "hola")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ExecutionFailed))
		assert.Equal(t, 1, client.sendCalls)
	})

	t.Run("최대 재시도 초과 시 최종 실패", func(t *testing.T) {
		client := &fakeClient{failures: 10, failWith: &tgbotapi.Error{Code: 500, Message: "Internal Server Error"}}
		identity := newTestIdentity(t, client)

		_, err := newTestSender().SendMessage(context.Background(), identity, 555, "hola")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.Unavailable))
		assert.Equal(t, 3, client.sendCalls)
	})

	t.Run("취소된 컨텍스트는 호출 없이 중단", func(t *testing.T) {
		client := &fakeClient{}
		identity := newTestIdentity(t, client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestSender().SendMessage(ctx, identity, 555, "hola")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.Timeout))
		assert.Zero(t, client.sendCalls)
	})
}

func TestAnswerCallback(t *testing.T) {
	t.Run("정상 응답", func(t *testing.T) {
		client := &fakeClient{}
		identity := newTestIdentity(t, client)

		err := newTestSender().AnswerCallback(context.Background(), identity, "cb-1", "Reporte enviado ✅")
		require.NoError(t, err)
		assert.Equal(t, 1, client.requestCalls)
	})

	t.Run("네트워크 오류는 재시도", func(t *testing.T) {
		client := &fakeClient{failures: 1, failWith: assert.AnError}
		identity := newTestIdentity(t, client)

		err := newTestSender().AnswerCallback(context.Background(), identity, "cb-1", "ok")
		require.NoError(t, err)
		assert.Equal(t, 2, client.requestCalls)
	})
}

func TestClearInlineKeyboard(t *testing.T) {
	client := &fakeClient{}
	identity := newTestIdentity(t, client)

	err := newTestSender().ClearInlineKeyboard(context.Background(), identity, 555, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, client.requestCalls)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(0), "네트워크 오류")
	assert.True(t, shouldRetry(429))
	assert.True(t, shouldRetry(500))
	assert.True(t, shouldRetry(503))
	assert.False(t, shouldRetry(400))
	assert.False(t, shouldRetry(403))
	assert.False(t, shouldRetry(404))
}

func TestParseTelegramError(t *testing.T) {
	code, retryAfter := parseTelegramError(&tgbotapi.Error{
		Code:               429,
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	})
	assert.Equal(t, 429, code)
	assert.Equal(t, 7, retryAfter)

	code, retryAfter = parseTelegramError(assert.AnError)
	assert.Zero(t, code)
	assert.Zero(t, retryAfter)
}

func TestBestEffort(t *testing.T) {
	called := false
	BestEffort("bot.test", "clear_keyboard", func() error {
		called = true
		return assert.AnError
	})
	assert.True(t, called, "오류가 발생해도 함수는 실행되어야 한다")
}
