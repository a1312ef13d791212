package api

import (
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/handler"
	appmiddleware "github.com/darkkaiser/ticket-relay-server/internal/service/api/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes API 서비스의 라우트를 등록합니다.
//
//   - GET  /                  서비스 생존 확인 및 봇 목록 (인증 불필요)
//   - POST /telegram/:bot_key 텔레그램 웹훅 수신 (봇 식별자로 접점 구분)
//   - POST /ticket            외부 클라이언트 티켓 접수 (공유 시크릿 설정 시 인증 필요)
func RegisterRoutes(e *echo.Echo, h *handler.Handler, sharedSecret string) {
	e.GET("/", h.LivenessHandler)

	e.POST("/telegram/:bot_key", h.TelegramWebhookHandler)

	e.POST("/ticket", h.TicketHandler, appmiddleware.RequireSharedSecret(sharedSecret))
}
