package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/httputil"
	appmiddleware "github.com/darkkaiser/ticket-relay-server/internal/service/api/middleware"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/catalog"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/dedup"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/router"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGroupChatID = int64(-1001234567890)

// sentItem 가짜 클라이언트가 기록한 발신 메시지 하나입니다.
type sentItem struct {
	chatID  int64
	text    string
	isPhoto bool
}

// fakeClient 발신 호출을 기록하는 테스트용 클라이언트입니다.
type fakeClient struct {
	sent    []sentItem
	sendErr error
}

func (c *fakeClient) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "fake_bot"}
}

func (c *fakeClient) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	if c.sendErr != nil {
		return tgbotapi.Message{}, c.sendErr
	}

	switch v := chattable.(type) {
	case tgbotapi.MessageConfig:
		c.sent = append(c.sent, sentItem{chatID: v.ChatID, text: v.Text})
	case tgbotapi.PhotoConfig:
		c.sent = append(c.sent, sentItem{chatID: v.ChatID, text: v.Caption, isPhoto: true})
	}

	return tgbotapi.Message{MessageID: 9000 + len(c.sent)}, nil
}

func (c *fakeClient) Request(_ tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// harness 핸들러와 협력자, 테스트 서버를 묶은 픽스처입니다.
type harness struct {
	e       *echo.Echo
	store   storage.TicketStore
	clients map[string]*fakeClient
}

func newHarness(t *testing.T, sharedSecret string) *harness {
	t.Helper()

	appConfig := &config.AppConfig{
		Bots: []config.BotConfig{
			{ID: "ventas", BotToken: "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", DisplayName: "Ventas Bot", DefaultErrorCode: "300"},
			{ID: "soporte", BotToken: "987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsbx", DisplayName: "Soporte Bot"},
		},
		Aliases:   map[string]string{"bot-ventas": "ventas"},
		Support:   config.SupportConfig{GroupChatID: testGroupChatID, DispatcherBotID: "soporte"},
		TicketAPI: config.TicketAPIConfig{SharedSecret: sharedSecret},
	}

	clients := map[string]*fakeClient{
		"123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw": {},
		"987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsbx": {},
	}

	reg, err := registry.New(appConfig, func(botToken string) (registry.Client, error) {
		return clients[botToken], nil
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	snd := sender.New(config.HTTPRetryConfig{MaxRetries: 1, RetryDelay: "1ms"})
	rt := router.New(reg, catalog.New("", ""), store, dedup.NewGuard(), snd, testGroupChatID)

	h := NewHandler(appConfig, reg, rt, store, snd)

	e := echo.New()
	e.HTTPErrorHandler = httputil.ErrorHandler
	e.GET("/", h.LivenessHandler)
	e.POST("/telegram/:bot_key", h.TelegramWebhookHandler)
	e.POST("/ticket", h.TicketHandler, appmiddleware.RequireSharedSecret(sharedSecret))

	return &harness{
		e:     e,
		store: store,
		clients: map[string]*fakeClient{
			"ventas":  clients["123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"],
			"soporte": clients["987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsbx"],
		},
	}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func validTicketBody() map[string]interface{} {
	return map[string]interface{}{
		"type":        "reporte_falla",
		"description": "pantalla en blanco al cargar",
		"user": map[string]interface{}{
			"id":         555,
			"first_name": "Juan",
			"last_name":  "Pérez",
			"username":   "juanp",
		},
	}
}

func TestLivenessHandler(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		OK      bool     `json:"ok"`
		Service string   `json:"service"`
		Bots    []string `json:"bots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, config.AppName, body.Service)
	assert.Equal(t, []string{"soporte", "ventas"}, body.Bots)
}

func TestTelegramWebhookHandler(t *testing.T) {
	t.Run("정상 업데이트 처리", func(t *testing.T) {
		h := newHarness(t, "")

		update := map[string]interface{}{
			"update_id": 1,
			"message": map[string]interface{}{
				"message_id": 10,
				"chat":       map[string]interface{}{"id": 555, "type": "private"},
				"text":       "/start",
			},
		}

		rec := h.do(jsonRequest(t, http.MethodPost, "/telegram/ventas", update))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

		require.Len(t, h.clients["ventas"].sent, 1)
		assert.Equal(t, int64(555), h.clients["ventas"].sent[0].chatID)
	})

	t.Run("별칭으로도 접점이 해석된다", func(t *testing.T) {
		h := newHarness(t, "")

		update := map[string]interface{}{"update_id": 1}
		rec := h.do(jsonRequest(t, http.MethodPost, "/telegram/bot-ventas", update))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("등록되지 않은 봇 식별자", func(t *testing.T) {
		h := newHarness(t, "")

		rec := h.do(jsonRequest(t, http.MethodPost, "/telegram/desconocido", map[string]interface{}{"update_id": 1}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("해석 불가능한 본문", func(t *testing.T) {
		h := newHarness(t, "")

		req := httptest.NewRequest(http.MethodPost, "/telegram/ventas", strings.NewReader("{invalid"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		rec := h.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("필수 발신 호출 실패 시 502", func(t *testing.T) {
		h := newHarness(t, "")
		h.clients["ventas"].sendErr = assert.AnError

		update := map[string]interface{}{
			"update_id": 1,
			"callback_query": map[string]interface{}{
				"id":   "cb-1",
				"from": map[string]interface{}{"id": 555, "first_name": "Juan"},
				"message": map[string]interface{}{
					"message_id": 10,
					"chat":       map[string]interface{}{"id": 555, "type": "private"},
				},
				"data": "report:604",
			},
		}

		rec := h.do(jsonRequest(t, http.MethodPost, "/telegram/ventas", update))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestTicketHandler(t *testing.T) {
	t.Run("JSON 본문 접수", func(t *testing.T) {
		h := newHarness(t, "")

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", validTicketBody()))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			OK       bool   `json:"ok"`
			Sent     string `json:"sent"`
			TicketID int64  `json:"ticket_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.OK)
		assert.Equal(t, "message", body.Sent)
		assert.Equal(t, int64(1), body.TicketID)

		// bot_key 미지정 시 디스패처 봇으로 게시된다.
		soporte := h.clients["soporte"]
		require.Len(t, soporte.sent, 1)
		assert.Equal(t, testGroupChatID, soporte.sent[0].chatID)
		assert.Contains(t, soporte.sent[0].text, "🧾 TICKET")
		assert.Contains(t, soporte.sent[0].text, "BotKey: soporte")
		assert.Contains(t, soporte.sent[0].text, "ChatID: 555")
		assert.Contains(t, soporte.sent[0].text, "pantalla en blanco al cargar")

		record, err := h.store.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "soporte", record.OriginBotKey)
		assert.NotZero(t, record.GroupMessageID)
	})

	t.Run("bot_key 지정 접수", func(t *testing.T) {
		h := newHarness(t, "")

		body := validTicketBody()
		body["bot_key"] = "ventas"

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", body))
		require.Equal(t, http.StatusOK, rec.Code)

		require.Len(t, h.clients["ventas"].sent, 1)
		assert.Empty(t, h.clients["soporte"].sent)
	})

	t.Run("multipart 접수 및 스크린샷 첨부", func(t *testing.T) {
		h := newHarness(t, "")

		payload, err := json.Marshal(validTicketBody())
		require.NoError(t, err)

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("payload", string(payload)))

		fw, err := w.CreateFormFile("screenshot", "captura.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("png-bytes"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/ticket", &buf)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())

		rec := h.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Sent string `json:"sent"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "photo", body.Sent)

		soporte := h.clients["soporte"]
		require.Len(t, soporte.sent, 1)
		assert.True(t, soporte.sent[0].isPhoto)
		assert.Contains(t, soporte.sent[0].text, "🧾 TICKET")
	})

	t.Run("검증 실패", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(body map[string]interface{})
		}{
			{
				name:   "짧은 오류 설명",
				mutate: func(body map[string]interface{}) { body["description"] = "abc" },
			},
			{
				name:   "사용자 ID 누락",
				mutate: func(body map[string]interface{}) { body["user"] = map[string]interface{}{"first_name": "Juan"} },
			},
			{
				name:   "잘못된 요청 유형",
				mutate: func(body map[string]interface{}) { body["type"] = "otro" },
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, "")

				body := validTicketBody()
				tt.mutate(body)

				rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", body))
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Empty(t, h.clients["soporte"].sent)
			})
		}
	})

	t.Run("등록되지 않은 bot_key", func(t *testing.T) {
		h := newHarness(t, "")

		body := validTicketBody()
		body["bot_key"] = "desconocido"

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("그룹 게시 실패 시 502", func(t *testing.T) {
		h := newHarness(t, "")
		h.clients["soporte"].sendErr = assert.AnError

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", validTicketBody()))
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		// 게시에 실패해도 레코드는 저장되어 있다.
		record, err := h.store.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Zero(t, record.GroupMessageID)
	})
}

func TestTicketHandlerSharedSecret(t *testing.T) {
	t.Run("시크릿 불일치", func(t *testing.T) {
		h := newHarness(t, "s3cret")

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", validTicketBody()))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("시크릿 일치", func(t *testing.T) {
		h := newHarness(t, "s3cret")

		req := jsonRequest(t, http.MethodPost, "/ticket", validTicketBody())
		req.Header.Set(appmiddleware.HeaderXRelaySecret, "s3cret")

		rec := h.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("시크릿 미설정 시 인증 생략", func(t *testing.T) {
		h := newHarness(t, "")

		rec := h.do(jsonRequest(t, http.MethodPost, "/ticket", validTicketBody()))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
