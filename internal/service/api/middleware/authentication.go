package middleware

import (
	"crypto/subtle"

	"github.com/darkkaiser/ticket-relay-server/internal/service/api/httputil"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	"github.com/labstack/echo/v4"
)

// HeaderXRelaySecret 외부 클라이언트 인증용 공유 시크릿 HTTP 헤더 키
const HeaderXRelaySecret = "X-Relay-Secret"

const errMsgInvalidSharedSecret = "인증에 실패했습니다. 공유 시크릿을 확인해주세요."

// RequireSharedSecret X-Relay-Secret 헤더 기반의 공유 시크릿 인증 미들웨어를 반환합니다.
//
// 설정에 시크릿이 비어있으면 인증을 수행하지 않고 통과시킵니다.
// (이 경우 기동 시점에 경고 로그가 남습니다. config.VerifyRecommendations 참고)
//
// 시크릿 비교는 타이밍 공격을 피하기 위해 상수 시간으로 수행합니다.
func RequireSharedSecret(sharedSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if sharedSecret == "" {
				return next(c)
			}

			provided := c.Request().Header.Get(HeaderXRelaySecret)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(sharedSecret)) != 1 {
				applog.WithComponentAndFields(component, applog.Fields{
					"path":      c.Path(),
					"method":    c.Request().Method,
					"remote_ip": c.RealIP(),
				}).Warn("인증 실패: 공유 시크릿이 일치하지 않습니다")

				return httputil.NewUnauthorizedError(errMsgInvalidSharedSecret)
			}

			return next(c)
		}
	}
}
