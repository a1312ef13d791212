package httputil

import (
	"net/http"

	"github.com/darkkaiser/ticket-relay-server/internal/service/api/model/response"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	"github.com/labstack/echo/v4"
)

// component 전역 에러 핸들러 로깅용 컴포넌트 이름
const component = "api.error_handler"

const (
	errMsgInternalServer = "서버 내부 오류가 발생했습니다."
	errMsgNotFound       = "요청하신 리소스를 찾을 수 없습니다."
)

// ErrorHandler Echo 프레임워크의 전역 에러 핸들러입니다.
//
// 모든 HTTP 에러를 가로채서 표준 ErrorResponse JSON 형식으로 변환하여 반환합니다.
// 에러 발생 시 적절한 로그 레벨(Error/Warn)로 상세 정보를 기록합니다.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := errMsgInternalServer

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else if resp, ok := he.Message.(response.ErrorResponse); ok {
			message = resp.Message
		}
	}

	// 404 에러는 사용자 친화적인 메시지로 통일
	if code == http.StatusNotFound && message == errMsgInternalServer {
		message = errMsgNotFound
	}

	fields := applog.Fields{
		"path":        c.Request().URL.Path,
		"method":      c.Request().Method,
		"status_code": code,
		"error":       err,
		"remote_ip":   c.RealIP(),
		"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
	}

	if code >= http.StatusInternalServerError {
		applog.WithComponentAndFields(component, fields).Error("HTTP 5xx 서버 오류 응답")
	} else if code >= http.StatusBadRequest {
		applog.WithComponentAndFields(component, fields).Warn("HTTP 4xx 클라이언트 오류 응답")
	}

	// 이중 응답 방지: 이미 응답이 전송된 경우 추가 응답 시도하지 않음
	if c.Response().Committed {
		return
	}

	// HEAD 요청은 HTTP 명세에 따라 헤더만 반환하고 본문을 생략합니다.
	if c.Request().Method == http.MethodHead {
		c.NoContent(code)
		return
	}

	c.JSON(code, response.ErrorResponse{
		ResultCode: code,
		Message:    message,
	})
}
