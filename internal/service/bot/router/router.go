// Package router 텔레그램 웹훅 업데이트를 해석하여 티켓 접수와 응답 중계를 수행합니다.
//
// 하나의 업데이트는 다음 중 하나의 경로로 처리됩니다.
//
//   - 중복 업데이트: 아무 작업 없이 정상 종료 (플랫폼 재전송 방지)
//   - 인라인 버튼 콜백(report:<code> / chat): 티켓 생성 및 지원 그룹 게시
//   - 클라이언트 명령(/start, /prueba, /getchatid): 고정 응답
//   - 지원 그룹의 /r 응답: 티켓 원문에서 발신 봇과 채팅을 복원하여 중계
//   - 개인 채팅의 일반 텍스트: 환영 메시지와 신고 버튼 안내
//
// 지원 그룹의 /r 명령은 지정된 디스패처 봇의 웹훅에서만 처리됩니다.
// 그룹에 속한 다른 봇들도 동일한 메시지를 각자의 웹훅으로 수신하므로,
// 디스패처가 아닌 봇은 조용히 무시해야 응답이 중복 전송되지 않습니다.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/catalog"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/dedup"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/ticket"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// component Inbound Router 로깅용 컴포넌트 이름
const component = "bot.router"

// 콜백 데이터 식별자
const (
	callbackReportPrefix = "report:"
	callbackChat         = "chat"
)

// 클라이언트/지원 그룹에 노출되는 고정 메시지 (스페인어 운영 환경)
const (
	msgStart             = "Hola. Usa /prueba para ver el error con el botón REPORTAR."
	msgReportConfirmed   = "✅ Tu reporte fué enviado! En breves soporte se comunicará contigo."
	msgReportToast       = "Reporte enviado ✅"
	msgReplyUsage        = "⚠️ Debes responder (reply) al mensaje del ticket y escribir: /r tu respuesta"
	msgReplyNotTicket    = "⚠️ El mensaje respondido no parece un ticket."
	msgReplyNoBotKey     = "⚠️ No encontré BotKey en el ticket."
	msgReplyNoChatID     = "⚠️ No encontré ChatID en el ticket."
	msgReplyEmptyBody    = "⚠️ Escribe algo después de /r. Ej: /r Ya te ayudamos con el biométrico."
	msgReplyDelivered    = "✅ Respuesta enviada al cliente."
	msgReplyFailed       = "❌ No pude enviarle el mensaje al cliente."
	msgSupportPrefix     = "📩 Soporte: "
	reportButtonLabel    = "REPORTAR"
	welcomeMessageFormat = "Bienvenido al soporte de %s.\nPulsa el botón para crear un ticket:"
)

// /r 명령 식별과 본문 추출용 패턴. replyCommandMatchRegexp는 /r 단독 또는
// /r@봇이름 형태만 인식하며 /reporte 같은 다른 명령과 혼동하지 않습니다.
var (
	replyCommandMatchRegexp = regexp.MustCompile(`^/r(@\w+)?(\s|$)`)
	replyCommandStripRegexp = regexp.MustCompile(`^/r(@\w+)?\s*`)
)

// Router 웹훅 업데이트 처리기입니다. 생성 이후 불변이며 동시 호출에 안전합니다.
type Router struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	store    storage.TicketStore
	guard    *dedup.Guard
	sender   *sender.Sender

	supportGroupChatID int64
}

// New 라우터를 생성합니다.
func New(reg *registry.Registry, cat *catalog.Catalog, store storage.TicketStore, guard *dedup.Guard, snd *sender.Sender, supportGroupChatID int64) *Router {
	return &Router{
		registry:           reg,
		catalog:            cat,
		store:              store,
		guard:              guard,
		sender:             snd,
		supportGroupChatID: supportGroupChatID,
	}
}

// HandleUpdate 웹훅으로 수신된 업데이트 하나를 처리합니다.
//
// surface는 이 업데이트를 수신한 봇 신원입니다. 티켓 게시와 클라이언트 응답은
// 모두 이 신원의 자격 증명으로 전송됩니다. (발신 봇 보존 원칙)
//
// 반환 에러는 필수 호출(티켓 게시, 응답 중계)의 실패만을 의미합니다.
// 부가 호출 실패와 사용자 안내 메시지는 에러 없이 처리됩니다.
func (r *Router) HandleUpdate(ctx context.Context, surface *registry.Identity, update *tgbotapi.Update) error {
	if update == nil {
		return nil
	}

	if r.guard.SeenOrMark(update.UpdateID) {
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":   surface.Key,
			"update_id": update.UpdateID,
		}).Debug("중복 업데이트 수신. 처리하지 않습니다")
		return nil
	}

	if update.CallbackQuery != nil {
		return r.handleCallback(ctx, surface, update.CallbackQuery)
	}

	if update.Message != nil {
		return r.handleMessage(ctx, surface, update.Message)
	}

	return nil
}

// handleCallback 인라인 키보드 버튼 클릭을 처리합니다.
func (r *Router) handleCallback(ctx context.Context, surface *registry.Identity, cq *tgbotapi.CallbackQuery) error {
	if cq.Message == nil || cq.Message.Chat == nil {
		// 버튼이 달린 원본 메시지가 만료된 경우 스피너만 해제하고 종료합니다.
		sender.BestEffort(component, "answer_callback", func() error {
			return r.sender.AnswerCallback(ctx, surface, cq.ID, "")
		})
		return nil
	}

	switch {
	case strings.HasPrefix(cq.Data, callbackReportPrefix):
		code := strings.TrimSpace(strings.TrimPrefix(cq.Data, callbackReportPrefix))
		return r.fileTicket(ctx, surface, cq, ticket.KindReport, code)

	case cq.Data == callbackChat:
		return r.fileTicket(ctx, surface, cq, ticket.KindChat, "")

	default:
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":       surface.Key,
			"callback_data": cq.Data,
		}).Debug("알 수 없는 콜백 데이터 수신. 처리하지 않습니다")

		sender.BestEffort(component, "answer_callback", func() error {
			return r.sender.AnswerCallback(ctx, surface, cq.ID, "")
		})
		return nil
	}
}

// fileTicket 콜백 컨텍스트에서 클라이언트 신원을 복원하여 티켓을 접수합니다.
//
// 처리 순서:
//  1. 티켓 레코드 저장 (ID 발급, 필수)
//  2. 지원 그룹에 티켓 게시 (필수, 실패 시 에러 전파)
//  3. 그룹 메시지 ID 연결 (부가, 레코드는 이미 저장된 상태)
//  4. 원본 버튼 제거 (부가, 중복 클릭 방지)
//  5. 콜백 응답 및 클라이언트 확인 메시지 (부가)
func (r *Router) fileTicket(ctx context.Context, surface *registry.Identity, cq *tgbotapi.CallbackQuery, kind ticket.Kind, code string) error {
	clientChatID := cq.Message.Chat.ID

	var clientName, clientUsername string
	if cq.From != nil {
		clientName = strings.TrimSpace(cq.From.FirstName + " " + cq.From.LastName)
		clientUsername = cq.From.UserName
	}

	t := ticket.Ticket{
		Kind:           kind,
		BotDisplayName: surface.DisplayName,
		BotKey:         surface.Key,
		ClientName:     clientName,
		ClientUsername: clientUsername,
		ChatID:         clientChatID,
	}

	if kind == ticket.KindReport {
		entry := r.catalog.Lookup(code)
		t.ErrorText = composeErrorText(surface, code)
		t.Detail = entry.Platform
		t.Cause = entry.Cause
		t.Solution = entry.Solution
	}

	record := &storage.TicketRecord{
		OriginBotKey:      surface.Key,
		OriginChatID:      clientChatID,
		ClientDisplayName: clientName,
		Description:       t.ErrorText,
		Cause:             t.Cause,
		Solution:          t.Solution,
		RawPayload:        ticket.Format(t, 0),
	}

	id, err := r.store.Insert(ctx, record)
	if err != nil {
		sender.BestEffort(component, "answer_callback", func() error {
			return r.sender.AnswerCallback(ctx, surface, cq.ID, "")
		})
		return apperrors.Wrap(err, apperrors.UnderlyingType(err), "티켓 레코드 저장에 실패하여 접수를 중단합니다")
	}

	body := ticket.Format(t, id)

	groupMessage, err := r.sender.SendMessage(ctx, surface, r.supportGroupChatID, body)
	if err != nil {
		// 스피너가 무한히 돌지 않도록 실패 경로에서도 콜백 응답을 시도합니다.
		sender.BestEffort(component, "answer_callback", func() error {
			return r.sender.AnswerCallback(ctx, surface, cq.ID, "")
		})
		return apperrors.Wrapf(err, apperrors.UnderlyingType(err), "티켓('%d')의 지원 그룹 게시에 실패했습니다", id)
	}

	sender.BestEffort(component, "attach_group_message_id", func() error {
		return r.store.AttachGroupMessageID(ctx, id, int64(groupMessage.MessageID))
	})

	sender.BestEffort(component, "clear_inline_keyboard", func() error {
		return r.sender.ClearInlineKeyboard(ctx, surface, clientChatID, cq.Message.MessageID)
	})

	sender.BestEffort(component, "answer_callback", func() error {
		return r.sender.AnswerCallback(ctx, surface, cq.ID, msgReportToast)
	})

	sender.BestEffort(component, "confirm_to_client", func() error {
		_, err := r.sender.SendMessage(ctx, surface, clientChatID, msgReportConfirmed)
		return err
	})

	applog.WithComponentAndFields(component, log.Fields{
		"bot_key":          surface.Key,
		"ticket_id":        id,
		"kind":             string(kind),
		"client_chat_id":   clientChatID,
		"group_message_id": groupMessage.MessageID,
	}).Info("티켓 접수 완료: 지원 그룹에 게시되었습니다")

	return nil
}

// handleMessage 일반 메시지(명령 포함)를 처리합니다.
func (r *Router) handleMessage(ctx context.Context, surface *registry.Identity, msg *tgbotapi.Message) error {
	if msg.Chat == nil {
		return nil
	}

	chatID := msg.Chat.ID
	text := msg.Text

	switch {
	case strings.HasPrefix(text, "/start"):
		// 클라이언트 안내 명령은 개인 채팅 전용입니다. 그룹에서는 멤버인
		// 모든 봇이 같은 명령을 수신하므로 봇 수만큼 응답이 중복됩니다.
		if !msg.Chat.IsPrivate() {
			return nil
		}
		sender.BestEffort(component, "command_start", func() error {
			_, err := r.sender.SendMessage(ctx, surface, chatID, msgStart)
			return err
		})
		return nil

	case strings.HasPrefix(text, "/prueba"):
		if !msg.Chat.IsPrivate() {
			return nil
		}
		sender.BestEffort(component, "command_prueba", func() error {
			_, err := r.sender.SendMessageWithKeyboard(ctx, surface, chatID,
				composeErrorText(surface, surface.DefaultErrorCode), reportKeyboard(surface))
			return err
		})
		return nil

	case strings.HasPrefix(text, "/getchatid"):
		// 그룹/채널에서는 지정 디스패처 봇만 응답합니다.
		if !msg.Chat.IsPrivate() && surface.Key != r.registry.Dispatcher().Key {
			return nil
		}
		sender.BestEffort(component, "command_getchatid", func() error {
			_, err := r.sender.SendMessage(ctx, surface, chatID, fmt.Sprintf("chat_id de este chat/grupo: %d", chatID))
			return err
		})
		return nil

	case chatID == r.supportGroupChatID && replyCommandMatchRegexp.MatchString(text):
		return r.handleStaffReply(ctx, surface, msg)

	case msg.Chat.IsPrivate() && text != "" && !strings.HasPrefix(text, "/"):
		// 개인 채팅의 일반 텍스트에는 환영 메시지와 신고 버튼을 안내합니다.
		sender.BestEffort(component, "welcome", func() error {
			_, err := r.sender.SendMessageWithKeyboard(ctx, surface, chatID,
				fmt.Sprintf(welcomeMessageFormat, surface.DisplayName), reportKeyboard(surface))
			return err
		})
		return nil
	}

	return nil
}

// handleStaffReply 지원 그룹에서 직원이 티켓에 남긴 /r 응답을 발신 봇/채팅으로 중계합니다.
func (r *Router) handleStaffReply(ctx context.Context, surface *registry.Identity, msg *tgbotapi.Message) error {
	// 그룹에 속한 모든 봇이 같은 메시지를 수신하므로, 지정된 디스패처 봇만 처리합니다.
	if surface.Key != r.registry.Dispatcher().Key {
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":    surface.Key,
			"dispatcher": r.registry.Dispatcher().Key,
		}).Debug("디스패처가 아닌 봇이 /r 명령을 수신했습니다. 처리하지 않습니다")
		return nil
	}

	groupChatID := msg.Chat.ID

	if msg.ReplyToMessage == nil || msg.ReplyToMessage.Text == "" {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyUsage)
		return nil
	}

	repliedText := msg.ReplyToMessage.Text
	if !ticket.HasTag(repliedText) {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyNotTicket)
		return nil
	}

	rawBotKey, ok := ticket.ExtractBotKey(repliedText)
	if !ok {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyNoBotKey)
		return nil
	}

	// 식별자가 해석되지 않으면 추측하지 않고 원문 그대로 직원에게 보고합니다.
	origin, ok := r.registry.Resolve(rawBotKey)
	if !ok {
		r.notifyStaff(ctx, surface, groupChatID, fmt.Sprintf("⚠️ Bot desconocido en el ticket: '%s'", rawBotKey))
		return nil
	}

	clientChatID, ok := ticket.ExtractChatID(repliedText)
	if !ok {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyNoChatID)
		return nil
	}

	replyBody := strings.TrimSpace(replyCommandStripRegexp.ReplaceAllString(msg.Text, ""))
	if replyBody == "" {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyEmptyBody)
		return nil
	}

	// 응답은 반드시 티켓을 발신한 봇의 자격 증명으로 전송합니다.
	if _, err := r.sender.SendMessage(ctx, origin, clientChatID, msgSupportPrefix+replyBody); err != nil {
		r.notifyStaff(ctx, surface, groupChatID, msgReplyFailed)
		return apperrors.Wrapf(err, apperrors.UnderlyingType(err), "클라이언트 채팅('%d')으로의 응답 중계에 실패했습니다 (봇: '%s')", clientChatID, origin.Key)
	}

	r.notifyStaff(ctx, surface, groupChatID, msgReplyDelivered)

	ticketID, _ := ticket.ExtractID(repliedText)
	applog.WithComponentAndFields(component, log.Fields{
		"dispatcher_bot": surface.Key,
		"origin_bot":     origin.Key,
		"client_chat_id": clientChatID,
		"ticket_id":      ticketID,
	}).Info("응답 중계 완료: 발신 봇을 통해 클라이언트에게 전달되었습니다")

	return nil
}

// notifyStaff 지원 그룹에 안내 메시지를 전송합니다. 실패해도 흐름을 막지 않습니다.
func (r *Router) notifyStaff(ctx context.Context, surface *registry.Identity, groupChatID int64, text string) {
	sender.BestEffort(component, "notify_staff", func() error {
		_, err := r.sender.SendMessage(ctx, surface, groupChatID, text)
		return err
	})
}

// composeErrorText 접점의 기본 오류 설명과 코드를 결합한 오류 문구를 생성합니다.
func composeErrorText(surface *registry.Identity, code string) string {
	if code == "" {
		code = surface.DefaultErrorCode
	}
	if surface.DefaultErrorText == "" {
		return fmt.Sprintf("Error %s", code)
	}
	return fmt.Sprintf("Error %s, %s", code, surface.DefaultErrorText)
}

// reportKeyboard 접점의 기본 오류 코드로 연결되는 신고 버튼 키보드를 생성합니다.
func reportKeyboard(surface *registry.Identity) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(reportButtonLabel, callbackReportPrefix+surface.DefaultErrorCode),
		),
	)
}
