// Package handler API 엔드포인트의 요청 처리를 담당합니다.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	"github.com/darkkaiser/ticket-relay-server/internal/pkg/validator"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/httputil"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/model/request"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/model/response"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/router"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/ticket"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// component API Handler 로깅용 컴포넌트 이름
const component = "api.handler"

const (
	// screenshotFormField 티켓 접수 요청의 스크린샷 파일 파트 이름
	screenshotFormField = "screenshot"

	// payloadFormField multipart 요청에서 JSON 본문을 담는 폼 필드 이름
	payloadFormField = "payload"
)

const (
	errMsgUnknownBotKey      = "등록되지 않은 봇 식별자입니다."
	errMsgInvalidUpdateBody  = "웹훅 본문을 해석할 수 없습니다."
	errMsgInvalidPayload     = "payload가 올바른 JSON 형식이 아닙니다."
	errMsgTicketPostFailed   = "지원 그룹으로의 티켓 게시에 실패했습니다. 잠시 후 다시 시도해주세요."
	errMsgUpdateHandleFailed = "업데이트 처리 중 필수 발신 호출이 실패했습니다."
)

// Handler 티켓 중계 API의 모든 엔드포인트 핸들러입니다.
type Handler struct {
	appConfig *config.AppConfig

	registry *registry.Registry
	router   *router.Router
	store    storage.TicketStore
	sender   *sender.Sender
}

// NewHandler Handler 인스턴스를 생성합니다.
func NewHandler(appConfig *config.AppConfig, reg *registry.Registry, rt *router.Router, store storage.TicketStore, snd *sender.Sender) *Handler {
	if appConfig == nil {
		panic("AppConfig는 필수입니다")
	}
	if reg == nil || rt == nil || store == nil || snd == nil {
		panic("Registry, Router, TicketStore, Sender는 필수입니다")
	}

	return &Handler{
		appConfig: appConfig,
		registry:  reg,
		router:    rt,
		store:     store,
		sender:    snd,
	}
}

// LivenessHandler 서비스 생존 여부와 등록된 봇 식별자 목록을 반환합니다.
//
// GET /
func (h *Handler) LivenessHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, response.LivenessResponse{
		OK:      true,
		Service: config.AppName,
		Bots:    h.registry.Keys(),
	})
}

// TelegramWebhookHandler 특정 봇 접점으로 전달된 텔레그램 웹훅을 처리합니다.
//
// POST /telegram/:bot_key
//
// 봇 식별자는 별칭과 표시 이름을 포함하여 정규화 규칙으로 해석되며,
// 해석에 실패하면 404를 반환합니다. 처리된 업데이트는 결과와 무관하게
// 200 {"ok":true}를 반환하여 플랫폼의 재전송을 막습니다.
// 단, 필수 발신 호출(티켓 게시, 응답 중계)이 실패한 경우에는 502를 반환하여
// 플랫폼이 업데이트를 재전송할 수 있도록 합니다.
func (h *Handler) TelegramWebhookHandler(c echo.Context) error {
	botKey := c.Param("bot_key")

	surface, ok := h.registry.Resolve(botKey)
	if !ok {
		return httputil.NewNotFoundError(errMsgUnknownBotKey)
	}

	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		return httputil.NewBadRequestError(errMsgInvalidUpdateBody)
	}

	if err := h.router.HandleUpdate(c.Request().Context(), surface, &update); err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":   surface.Key,
			"update_id": update.UpdateID,
			"error":     err,
		}).Error("웹훅 업데이트 처리 실패")

		return httputil.NewBadGatewayError(errMsgUpdateHandleFailed)
	}

	return c.JSON(http.StatusOK, response.WebhookResponse{OK: true})
}

// TicketHandler 외부 클라이언트의 티켓 접수 요청을 처리합니다.
//
// POST /ticket
//
// multipart/form-data(payload 필드 + 선택적 screenshot 파일) 또는
// application/json 본문을 받아 티켓 레코드를 저장하고 지원 그룹에 게시합니다.
// 스크린샷이 포함된 경우 사진과 캡션으로, 그렇지 않으면 텍스트로 전송됩니다.
func (h *Handler) TicketHandler(c echo.Context) error {
	ticketRequest, err := h.bindTicketRequest(c)
	if err != nil {
		return err
	}

	if err := validator.Struct(ticketRequest); err != nil {
		return httputil.NewBadRequestError(validator.FormatValidationError(err))
	}

	surface, err := h.resolveSurface(ticketRequest.BotKey)
	if err != nil {
		return err
	}

	t := ticket.Ticket{
		Kind:           ticket.KindReport,
		BotDisplayName: surface.DisplayName,
		BotKey:         surface.Key,
		ClientName:     ticketRequest.User.FullName(),
		ClientUsername: ticketRequest.User.Username,
		ChatID:         ticketRequest.User.ID,
		Detail:         ticketRequest.Description,
	}

	record := &storage.TicketRecord{
		OriginBotKey:      surface.Key,
		OriginChatID:      ticketRequest.User.ID,
		ClientDisplayName: t.ClientName,
		Description:       ticketRequest.Description,
		RawPayload:        ticket.Format(t, 0),
	}

	ctx := c.Request().Context()

	id, err := h.store.Insert(ctx, record)
	if err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key": surface.Key,
			"error":   err,
		}).Error("티켓 레코드 저장 실패")

		return httputil.NewInternalServerError(errMsgTicketPostFailed)
	}

	body := ticket.Format(t, id)
	groupChatID := h.appConfig.Support.GroupChatID

	sent := "message"
	var groupMessage tgbotapi.Message

	if screenshot, ok := h.readScreenshot(c); ok {
		sent = "photo"
		groupMessage, err = h.sender.SendPhoto(ctx, surface, groupChatID, body, screenshot)
	} else {
		groupMessage, err = h.sender.SendMessage(ctx, surface, groupChatID, body)
	}
	if err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":   surface.Key,
			"ticket_id": id,
			"error":     err,
		}).Error("지원 그룹 티켓 게시 실패")

		return httputil.NewBadGatewayError(errMsgTicketPostFailed)
	}

	sender.BestEffort(component, "attach_group_message_id", func() error {
		return h.store.AttachGroupMessageID(ctx, id, int64(groupMessage.MessageID))
	})

	applog.WithComponentAndFields(component, log.Fields{
		"bot_key":          surface.Key,
		"ticket_id":        id,
		"sent":             sent,
		"client_chat_id":   ticketRequest.User.ID,
		"group_message_id": groupMessage.MessageID,
	}).Info("티켓 접수 완료: 외부 클라이언트 요청이 지원 그룹에 게시되었습니다")

	return c.JSON(http.StatusOK, response.TicketResponse{
		OK:       true,
		Sent:     sent,
		TicketID: id,
	})
}

// bindTicketRequest 요청 본문을 TicketRequest로 해석합니다.
// multipart 요청은 payload 폼 필드(JSON 문자열)를, 그 외에는 JSON 본문을 사용합니다.
func (h *Handler) bindTicketRequest(c echo.Context) (*request.TicketRequest, error) {
	var ticketRequest request.TicketRequest

	if payload := c.FormValue(payloadFormField); payload != "" {
		if err := json.Unmarshal([]byte(payload), &ticketRequest); err != nil {
			return nil, httputil.NewBadRequestError(errMsgInvalidPayload)
		}
		return &ticketRequest, nil
	}

	if err := c.Bind(&ticketRequest); err != nil {
		return nil, httputil.NewBadRequestError(errMsgInvalidPayload)
	}

	return &ticketRequest, nil
}

// resolveSurface 요청의 봇 식별자를 해석합니다. 비어있으면 디스패처 봇을 사용합니다.
func (h *Handler) resolveSurface(botKey string) (*registry.Identity, error) {
	if botKey == "" {
		return h.registry.Dispatcher(), nil
	}

	surface, ok := h.registry.Resolve(botKey)
	if !ok {
		return nil, httputil.NewBadRequestError(errMsgUnknownBotKey)
	}

	return surface, nil
}

// readScreenshot multipart 요청에서 스크린샷 파일을 읽습니다.
// 파일 파트가 없거나 비어있으면 ok=false를 반환하며, 티켓은 텍스트로 전송됩니다.
func (h *Handler) readScreenshot(c echo.Context) (tgbotapi.RequestFileData, bool) {
	fileHeader, err := c.FormFile(screenshotFormField)
	if err != nil || fileHeader == nil || fileHeader.Size == 0 {
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"filename": fileHeader.Filename,
			"error":    err,
		}).Warn("스크린샷 파일 열기 실패. 텍스트로 전송합니다")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		applog.WithComponentAndFields(component, log.Fields{
			"filename": fileHeader.Filename,
			"error":    err,
		}).Warn("스크린샷 파일 읽기 실패. 텍스트로 전송합니다")
		return nil, false
	}

	return tgbotapi.FileBytes{Name: fileHeader.Filename, Bytes: data}, true
}
