package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/catalog"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/dedup"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/ticket"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
)

const (
	testGroupChatID  = int64(-1001234567890)
	testClientChatID = int64(555)
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sentItem 가짜 클라이언트가 기록한 발신 메시지 하나입니다.
type sentItem struct {
	chatID int64
	text   string
	markup interface{}
}

// fakeClient 발신 호출을 기록하는 테스트용 클라이언트입니다.
type fakeClient struct {
	mu           sync.Mutex
	sent         []sentItem
	requestCalls int
	sendErr      error
}

func (c *fakeClient) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "fake_bot"}
}

func (c *fakeClient) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return tgbotapi.Message{}, c.sendErr
	}

	if messageConfig, ok := chattable.(tgbotapi.MessageConfig); ok {
		c.sent = append(c.sent, sentItem{
			chatID: messageConfig.ChatID,
			text:   messageConfig.Text,
			markup: messageConfig.ReplyMarkup,
		})
	}

	return tgbotapi.Message{MessageID: 9000 + len(c.sent)}, nil
}

func (c *fakeClient) Request(_ tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestCalls++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// harness 라우터와 그 협력자들을 묶은 테스트 픽스처입니다.
type harness struct {
	router  *Router
	reg     *registry.Registry
	store   storage.TicketStore
	clients map[string]*fakeClient
}

func newHarness(t *testing.T, catalogFile string) *harness {
	t.Helper()

	appConfig := &config.AppConfig{
		Bots: []config.BotConfig{
			{ID: "ventas", BotToken: "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", DisplayName: "Ventas Bot", DefaultErrorCode: "300", DefaultErrorText: "Metabet requiere biométrico"},
			{ID: "soporte", BotToken: "987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsbx", DisplayName: "Soporte Bot"},
		},
		Aliases: map[string]string{"bot-ventas": "ventas"},
		Support: config.SupportConfig{GroupChatID: testGroupChatID, DispatcherBotID: "soporte"},
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

	return &harness{
		router: New(reg, catalog.New(catalogFile, ""), store, dedup.NewGuard(), snd, testGroupChatID),
		reg:    reg,
		store:  store,
		clients: map[string]*fakeClient{
			"ventas":  clients["123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"],
			"soporte": clients["987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsbx"],
		},
	}
}

func (h *harness) identity(t *testing.T, key string) *registry.Identity {
	t.Helper()
	identity, err := h.reg.Get(key)
	require.NoError(t, err)
	return identity
}

func reportCallbackUpdate(updateID int, data string) *tgbotapi.Update {
	return &tgbotapi.Update{
		UpdateID: updateID,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-" + strconv.Itoa(updateID),
			From: &tgbotapi.User{FirstName: "Juan", LastName: "Pérez", UserName: "juanp"},
			Message: &tgbotapi.Message{
				MessageID: 77,
				Chat:      &tgbotapi.Chat{ID: testClientChatID, Type: "private"},
			},
			Data: data,
		},
	}
}

func groupMessageUpdate(updateID int, text string, repliedText string) *tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 300 + updateID,
		Chat:      &tgbotapi.Chat{ID: testGroupChatID, Type: "supergroup"},
		Text:      text,
	}
	if repliedText != "" {
		msg.ReplyToMessage = &tgbotapi.Message{
			MessageID: 200,
			Chat:      &tgbotapi.Chat{ID: testGroupChatID, Type: "supergroup"},
			Text:      repliedText,
		}
	}
	return &tgbotapi.Update{UpdateID: updateID, Message: msg}
}

func privateMessageUpdate(updateID int, text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: 400 + updateID,
			Chat:      &tgbotapi.Chat{ID: testClientChatID, Type: "private"},
			Text:      text,
		},
	}
}

func writeCatalogFile(t *testing.T) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"code", "platform", "cause", "solution"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"604", "X", "Y", "Z"}))

	file := filepath.Join(t.TempDir(), "errores.xlsx")
	require.NoError(t, f.SaveAs(file))
	require.NoError(t, f.Close())

	return file
}

func TestReportCallback(t *testing.T) {
	h := newHarness(t, writeCatalogFile(t))
	surface := h.identity(t, "ventas")

	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "report:604")))

	client := h.clients["ventas"]
	require.Len(t, client.sent, 2)

	// 티켓은 수신 접점의 봇 자격 증명으로 지원 그룹에 게시된다.
	groupPost := client.sent[0]
	assert.Equal(t, testGroupChatID, groupPost.chatID)
	assert.Contains(t, groupPost.text, "🧾 TICKET")
	assert.Contains(t, groupPost.text, "🤖 Bot: Ventas Bot")
	assert.Contains(t, groupPost.text, "BotKey: ventas")
	assert.Contains(t, groupPost.text, "👤 Cliente: Juan Pérez @juanp")
	assert.Contains(t, groupPost.text, "ChatID: 555")
	assert.Contains(t, groupPost.text, "#TICKET-1")

	// 카탈로그 값은 그대로 티켓 본문에 반영된다.
	assert.Contains(t, groupPost.text, "📝 Detalle: X")
	assert.Contains(t, groupPost.text, "🧩 Causa: Y")
	assert.Contains(t, groupPost.text, "✅ Solución: Z")

	// 클라이언트에게 접수 확인 메시지가 전송된다.
	confirm := client.sent[1]
	assert.Equal(t, testClientChatID, confirm.chatID)
	assert.Equal(t, "✅ Tu reporte fué enviado! En breves soporte se comunicará contigo.", confirm.text)

	// 콜백 응답과 버튼 제거 호출이 수행된다.
	assert.Equal(t, 2, client.requestCalls)

	// 레코드는 그룹 메시지 ID와 연결된 상태로 저장된다.
	record, err := h.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ventas", record.OriginBotKey)
	assert.Equal(t, testClientChatID, record.OriginChatID)
	assert.NotZero(t, record.GroupMessageID)
}

func TestReportCallbackEmptyCatalog(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")

	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "report:604")))

	client := h.clients["ventas"]
	require.NotEmpty(t, client.sent)

	// 카탈로그가 비어있어도 티켓은 자리표시자로 채워져 게시된다.
	groupPost := client.sent[0]
	assert.Contains(t, groupPost.text, "📝 Detalle: -")
	assert.Contains(t, groupPost.text, "🧩 Causa: -")
	assert.Contains(t, groupPost.text, "✅ Solución: -")
}

func TestChatCallback(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")

	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "chat")))

	client := h.clients["ventas"]
	require.NotEmpty(t, client.sent)

	groupPost := client.sent[0]
	assert.Contains(t, groupPost.text, "💬 Solicita contacto directo con soporte")
	assert.Contains(t, groupPost.text, "BotKey: ventas")
	assert.Contains(t, groupPost.text, "ChatID: 555")
	assert.NotContains(t, groupPost.text, "⚠️ Error:")
}

func TestReportCallbackDuplicate(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")

	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "report:604")))
	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "report:604")))

	// 동일한 update_id의 두 번째 전달은 아무 작업도 수행하지 않는다.
	assert.Len(t, h.clients["ventas"].sent, 2)

	_, err := h.store.Get(context.Background(), 2)
	require.Error(t, err)
}

func TestReportCallbackGroupPostFailure(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")
	h.clients["ventas"].sendErr = assert.AnError

	err := h.router.HandleUpdate(context.Background(), surface, reportCallbackUpdate(1, "report:604"))
	require.Error(t, err)

	// 게시에 실패해도 레코드는 이미 저장되어 있다. (그룹 메시지 ID 미연결)
	record, getErr := h.store.Get(context.Background(), 1)
	require.NoError(t, getErr)
	assert.Zero(t, record.GroupMessageID)

	// 실패 경로에서도 콜백 응답이 시도되어 클라이언트 UI가 멈추지 않는다.
	assert.GreaterOrEqual(t, h.clients["ventas"].requestCalls, 1)
}

func TestStaffReply(t *testing.T) {
	h := newHarness(t, "")
	dispatcher := h.identity(t, "soporte")

	ticketText := ticket.Format(ticket.Ticket{
		Kind:           ticket.KindReport,
		BotDisplayName: "Ventas Bot",
		BotKey:         "ventas",
		ClientName:     "Juan Pérez",
		ChatID:         testClientChatID,
	}, 7)

	require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, "/r thanks", ticketText)))

	// 응답은 티켓을 발신한 봇(ventas)의 자격 증명으로 클라이언트 채팅에 전달된다.
	ventas := h.clients["ventas"]
	require.Len(t, ventas.sent, 1)
	assert.Equal(t, testClientChatID, ventas.sent[0].chatID)
	assert.Equal(t, "📩 Soporte: thanks", ventas.sent[0].text)

	// 디스패처 봇은 지원 그룹에 완료 안내를 남긴다.
	soporte := h.clients["soporte"]
	require.Len(t, soporte.sent, 1)
	assert.Equal(t, testGroupChatID, soporte.sent[0].chatID)
	assert.Equal(t, "✅ Respuesta enviada al cliente.", soporte.sent[0].text)
}

func TestStaffReplyWithBotMention(t *testing.T) {
	h := newHarness(t, "")
	dispatcher := h.identity(t, "soporte")

	ticketText := ticket.Format(ticket.Ticket{BotKey: "ventas", ChatID: testClientChatID}, 0)

	require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, "/r@soporte_bot hola cliente", ticketText)))

	ventas := h.clients["ventas"]
	require.Len(t, ventas.sent, 1)
	assert.Equal(t, "📩 Soporte: hola cliente", ventas.sent[0].text)
}

func TestStaffReplyAliasResolution(t *testing.T) {
	h := newHarness(t, "")
	dispatcher := h.identity(t, "soporte")

	// 별칭으로 기록된 BotKey도 정규화를 거쳐 올바른 봇으로 해석된다.
	ticketText := ticket.Format(ticket.Ticket{BotKey: "bot-ventas", ChatID: testClientChatID}, 0)

	require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, "/r hola", ticketText)))

	require.Len(t, h.clients["ventas"].sent, 1)
}

func TestStaffReplyNonDispatcherIgnores(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")

	ticketText := ticket.Format(ticket.Ticket{BotKey: "ventas", ChatID: testClientChatID}, 0)

	// 디스패처가 아닌 봇의 웹훅은 동일한 그룹 메시지를 받아도 아무 동작도 하지 않는다.
	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, groupMessageUpdate(1, "/r thanks", ticketText)))

	assert.Empty(t, h.clients["ventas"].sent)
	assert.Empty(t, h.clients["soporte"].sent)
}

func TestStaffReplyGuards(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		repliedText string
		wantNotice  string
	}{
		{
			name:       "reply가 아닌 /r 명령",
			text:       "/r thanks",
			wantNotice: "⚠️ Debes responder (reply) al mensaje del ticket y escribir: /r tu respuesta",
		},
		{
			name:        "티켓이 아닌 메시지에 대한 reply",
			text:        "/r thanks",
			repliedText: "hola equipo",
			wantNotice:  "⚠️ El mensaje respondido no parece un ticket.",
		},
		{
			name:        "BotKey 라인이 없는 티켓",
			text:        "/r thanks",
			repliedText: "🧾 TICKET\nChatID: 555",
			wantNotice:  "⚠️ No encontré BotKey en el ticket.",
		},
		{
			name:        "해석되지 않는 BotKey",
			text:        "/r thanks",
			repliedText: "🧾 TICKET\nBotKey: desconocido\nChatID: 555",
			wantNotice:  "⚠️ Bot desconocido en el ticket: 'desconocido'",
		},
		{
			name:        "ChatID 라인이 없는 티켓",
			text:        "/r thanks",
			repliedText: "🧾 TICKET\nBotKey: ventas",
			wantNotice:  "⚠️ No encontré ChatID en el ticket.",
		},
		{
			name:        "본문이 없는 /r",
			text:        "/r",
			repliedText: "🧾 TICKET\nBotKey: ventas\nChatID: 555",
			wantNotice:  "⚠️ Escribe algo después de /r. Ej: /r Ya te ayudamos con el biométrico.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			dispatcher := h.identity(t, "soporte")

			require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, tt.text, tt.repliedText)))

			soporte := h.clients["soporte"]
			require.Len(t, soporte.sent, 1)
			assert.Equal(t, testGroupChatID, soporte.sent[0].chatID)
			assert.Equal(t, tt.wantNotice, soporte.sent[0].text)

			// 클라이언트 측으로는 어떤 메시지도 전달되지 않는다.
			assert.Empty(t, h.clients["ventas"].sent)
		})
	}
}

func TestCommands(t *testing.T) {
	t.Run("/start", func(t *testing.T) {
		h := newHarness(t, "")
		surface := h.identity(t, "ventas")

		require.NoError(t, h.router.HandleUpdate(context.Background(), surface, privateMessageUpdate(1, "/start")))

		client := h.clients["ventas"]
		require.Len(t, client.sent, 1)
		assert.Equal(t, "Hola. Usa /prueba para ver el error con el botón REPORTAR.", client.sent[0].text)
	})

	t.Run("/prueba", func(t *testing.T) {
		h := newHarness(t, "")
		surface := h.identity(t, "ventas")

		require.NoError(t, h.router.HandleUpdate(context.Background(), surface, privateMessageUpdate(1, "/prueba")))

		client := h.clients["ventas"]
		require.Len(t, client.sent, 1)
		assert.Equal(t, "Error 300, Metabet requiere biométrico", client.sent[0].text)

		keyboard, ok := client.sent[0].markup.(tgbotapi.InlineKeyboardMarkup)
		require.True(t, ok, "인라인 키보드가 포함되어야 한다")
		require.Len(t, keyboard.InlineKeyboard, 1)
		require.Len(t, keyboard.InlineKeyboard[0], 1)
		assert.Equal(t, "REPORTAR", keyboard.InlineKeyboard[0][0].Text)
		assert.Equal(t, "report:300", *keyboard.InlineKeyboard[0][0].CallbackData)
	})

	t.Run("/getchatid", func(t *testing.T) {
		h := newHarness(t, "")
		surface := h.identity(t, "ventas")

		require.NoError(t, h.router.HandleUpdate(context.Background(), surface, privateMessageUpdate(1, "/getchatid")))

		client := h.clients["ventas"]
		require.Len(t, client.sent, 1)
		assert.Equal(t, "chat_id de este chat/grupo: 555", client.sent[0].text)
	})
}

func TestWelcomeOnPrivateText(t *testing.T) {
	h := newHarness(t, "")
	surface := h.identity(t, "ventas")

	require.NoError(t, h.router.HandleUpdate(context.Background(), surface, privateMessageUpdate(1, "hola, tengo un problema")))

	client := h.clients["ventas"]
	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0].text, "Bienvenido al soporte de Ventas Bot")

	_, hasKeyboard := client.sent[0].markup.(tgbotapi.InlineKeyboardMarkup)
	assert.True(t, hasKeyboard)
}

func TestCommandsInGroup(t *testing.T) {
	t.Run("/start와 /prueba는 그룹에서 무시된다", func(t *testing.T) {
		h := newHarness(t, "")
		dispatcher := h.identity(t, "soporte")

		require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, "/start", "")))
		require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(2, "/prueba", "")))

		assert.Empty(t, h.clients["soporte"].sent)
		assert.Empty(t, h.clients["ventas"].sent)
	})

	t.Run("그룹의 /getchatid는 디스패처만 응답한다", func(t *testing.T) {
		h := newHarness(t, "")

		// 그룹의 모든 봇이 같은 명령을 수신하는 상황을 재현한다.
		require.NoError(t, h.router.HandleUpdate(context.Background(), h.identity(t, "ventas"), groupMessageUpdate(1, "/getchatid", "")))
		require.NoError(t, h.router.HandleUpdate(context.Background(), h.identity(t, "soporte"), groupMessageUpdate(2, "/getchatid", "")))

		assert.Empty(t, h.clients["ventas"].sent)

		dispatcher := h.clients["soporte"]
		require.Len(t, dispatcher.sent, 1)
		assert.Equal(t, fmt.Sprintf("chat_id de este chat/grupo: %d", testGroupChatID), dispatcher.sent[0].text)
	})
}

func TestGroupPlainTextIgnored(t *testing.T) {
	h := newHarness(t, "")
	dispatcher := h.identity(t, "soporte")

	require.NoError(t, h.router.HandleUpdate(context.Background(), dispatcher, groupMessageUpdate(1, "comentario interno del equipo", "")))

	assert.Empty(t, h.clients["soporte"].sent)
	assert.Empty(t, h.clients["ventas"].sent)
}
