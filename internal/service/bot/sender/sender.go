// Package sender 텔레그램 봇 API로 나가는 모든 호출을 담당합니다.
//
// 레지스트리의 봇 신원(Identity)별 클라이언트를 사용해 메시지, 사진,
// 콜백 응답을 전송하며, 호출 전체에 공통 재시도 정책과 속도 제한을
// 적용합니다. 실패해도 흐름을 막으면 안 되는 부가 호출은 BestEffort로
// 감싸 로그만 남기고 넘어갑니다.
package sender

import (
	"context"
	"time"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// component Outbound Sender 로깅용 컴포넌트 이름
const component = "bot.sender"

const (
	// textSendTimeout 텍스트 메시지, 콜백 응답, 키보드 편집 호출의 제한 시간입니다.
	textSendTimeout = 15 * time.Second

	// photoSendTimeout 사진 업로드 호출의 제한 시간입니다. 파일 전송이 포함되므로 더 깁니다.
	photoSendTimeout = 60 * time.Second

	// 텔레그램 API 정책(초당 약 30건)보다 보수적인 전송 속도 제한입니다.
	defaultRateLimit = rate.Limit(25)
	defaultRateBurst = 5
)

// Sender 모든 봇 신원의 발신 호출에 공통 정책을 적용하는 전송기입니다.
//
// 속도 제한기는 신원 전체가 공유합니다. 단일 프로세스에서 여러 봇이
// 하나의 텔레그램 API 엔드포인트로 나가므로 전체 발신량 기준으로 제한합니다.
type Sender struct {
	rateLimiter *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
}

// New HTTP 재시도 설정으로부터 전송기를 생성합니다.
func New(retryConfig config.HTTPRetryConfig) *Sender {
	retryDelay, err := time.ParseDuration(retryConfig.RetryDelay)
	if err != nil {
		// 설정 검증 단계에서 걸러지지만, 단독 사용 시를 대비해 기본값으로 대체합니다.
		retryDelay, _ = time.ParseDuration(config.DefaultRetryDelay)
	}

	maxRetries := retryConfig.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}

	return &Sender{
		rateLimiter: rate.NewLimiter(defaultRateLimit, defaultRateBurst),
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

// SendMessage 지정된 봇 신원으로 텍스트 메시지를 전송하고 전송된 메시지를 반환합니다.
func (s *Sender) SendMessage(ctx context.Context, identity *registry.Identity, chatID int64, text string) (tgbotapi.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, textSendTimeout)
	defer cancel()

	messageConfig := tgbotapi.NewMessage(chatID, text)

	return s.sendWithRetry(sendCtx, identity, messageConfig, chatID)
}

// SendMessageWithKeyboard 인라인 키보드가 붙은 텍스트 메시지를 전송합니다.
func (s *Sender) SendMessageWithKeyboard(ctx context.Context, identity *registry.Identity, chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, textSendTimeout)
	defer cancel()

	messageConfig := tgbotapi.NewMessage(chatID, text)
	messageConfig.ReplyMarkup = keyboard

	return s.sendWithRetry(sendCtx, identity, messageConfig, chatID)
}

// SendPhoto 지정된 봇 신원으로 사진과 캡션을 전송합니다.
func (s *Sender) SendPhoto(ctx context.Context, identity *registry.Identity, chatID int64, caption string, photo tgbotapi.RequestFileData) (tgbotapi.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, photoSendTimeout)
	defer cancel()

	photoConfig := tgbotapi.NewPhoto(chatID, photo)
	photoConfig.Caption = caption

	return s.sendWithRetry(sendCtx, identity, photoConfig, chatID)
}

// AnswerCallback 인라인 키보드 버튼 클릭에 대한 확인 응답(토스트)을 전송합니다.
func (s *Sender) AnswerCallback(ctx context.Context, identity *registry.Identity, callbackID string, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, textSendTimeout)
	defer cancel()

	callbackConfig := tgbotapi.NewCallback(callbackID, text)

	return s.requestWithRetry(sendCtx, identity, callbackConfig)
}

// ClearInlineKeyboard 이미 전송된 메시지의 인라인 키보드를 제거합니다.
// 버튼 중복 클릭을 줄이기 위한 정리 호출입니다.
func (s *Sender) ClearInlineKeyboard(ctx context.Context, identity *registry.Identity, chatID int64, messageID int) error {
	sendCtx, cancel := context.WithTimeout(ctx, textSendTimeout)
	defer cancel()

	editConfig := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})

	return s.requestWithRetry(sendCtx, identity, editConfig)
}

// sendWithRetry Send 계열 호출(메시지, 사진)에 속도 제한과 재시도 정책을 적용합니다.
//
// 재시도 정책:
//   - 5xx 서버 오류와 네트워크 오류는 maxRetries 횟수까지 재시도합니다.
//   - 429 Rate Limit은 서버가 지정한 Retry-After 시간만큼 대기 후 재시도합니다.
//   - 그 외 4xx 클라이언트 오류는 재시도해도 결과가 같으므로 즉시 실패합니다.
func (s *Sender) sendWithRetry(ctx context.Context, identity *registry.Identity, chattable tgbotapi.Chattable, chatID int64) (tgbotapi.Message, error) {
	var sentMessage tgbotapi.Message

	err := s.attemptWithRetry(ctx, identity, func() error {
		message, err := identity.Client().Send(chattable)
		if err != nil {
			return err
		}
		sentMessage = message
		return nil
	}, log.Fields{"chat_id": chatID})

	return sentMessage, err
}

// requestWithRetry Request 계열 호출(콜백 응답, 키보드 편집)에 동일한 정책을 적용합니다.
func (s *Sender) requestWithRetry(ctx context.Context, identity *registry.Identity, chattable tgbotapi.Chattable) error {
	return s.attemptWithRetry(ctx, identity, func() error {
		_, err := identity.Client().Request(chattable)
		return err
	}, log.Fields{})
}

func (s *Sender) attemptWithRetry(ctx context.Context, identity *registry.Identity, call func() error, logFields log.Fields) error {
	logFields["bot_key"] = identity.Key

	if err := s.rateLimiter.Wait(ctx); err != nil {
		applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
			"error": err,
			"limit": s.rateLimiter.Limit(),
			"burst": s.rateLimiter.Burst(),
		}).Debug("작업 중단: RateLimiter 대기 중 컨텍스트가 취소되었습니다")

		return apperrors.Wrap(err, apperrors.Timeout, "전송 속도 제한 대기 중 작업이 취소되었습니다")
	}

	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
					"error":   ctx.Err(),
					"attempt": attempt,
				}).Error("작업 중단: 발송 제한 시간(Timeout)을 초과하였습니다")
			}
			return apperrors.Wrap(ctx.Err(), apperrors.Timeout, "텔레그램 API 호출이 취소되었습니다")

		default:
		}

		err := call()
		if err == nil {
			applog.WithComponentAndFields(component, logFields).WithField("attempt", attempt).Debug("발송 성공: 텔레그램 API 호출이 정상 처리되었습니다")
			return nil
		}

		lastErr = err
		applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
			"error":   err,
			"attempt": attempt,
		}).Warn("발송 실패: 텔레그램 API 호출에서 오류가 발생했습니다 (재시도 예정)")

		errCode, retryAfter := parseTelegramError(err)

		if !shouldRetry(errCode) {
			applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
				"error":   err,
				"code":    errCode,
				"attempt": attempt,
			}).Error("작업 중단: 재시도 불가능한 API 오류가 발생했습니다 (4xx Fatal Error)")

			return apperrors.Wrap(err, apperrors.ExecutionFailed, "텔레그램 API가 요청을 거부했습니다")
		}

		if attempt >= s.maxRetries {
			break
		}

		if errCode == 429 && retryAfter > 0 {
			applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
				"retry_after": retryAfter,
				"attempt":     attempt,
			}).Warn("재시도 대기: 429 Rate Limit 감지 (Retry-After 준수)")
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
					"error":   ctx.Err(),
					"attempt": attempt,
				}).Error("재시도 중단: 대기 중 작업 제한 시간(Timeout)을 초과하였습니다")
			}
			return apperrors.Wrap(ctx.Err(), apperrors.Timeout, "재시도 대기 중 작업이 취소되었습니다")

		case <-time.After(s.delayForRetry(retryAfter)):
		}
	}

	applog.WithComponentAndFields(component, logFields).WithFields(log.Fields{
		"error":       lastErr,
		"max_retries": s.maxRetries,
	}).Error("전송 최종 실패: 최대 재시도 횟수를 초과하였습니다")

	return apperrors.Wrapf(lastErr, apperrors.Unavailable, "텔레그램 API 호출이 %d회 모두 실패했습니다", s.maxRetries)
}

// delayForRetry 다음 재시도까지의 대기 시간을 계산합니다.
// 429 응답에 Retry-After가 포함된 경우 서버가 요청한 시간을 우선합니다.
func (s *Sender) delayForRetry(retryAfter int) time.Duration {
	if retryAfter > 0 {
		return time.Duration(retryAfter) * time.Second
	}
	return s.retryDelay
}

// shouldRetry HTTP 상태 코드를 기반으로 재시도 가능 여부를 판단합니다.
//
//   - 4xx (Client Error): 클라이언트 측 문제이므로 재시도 불가
//   - 429 (Too Many Requests): Rate Limit이므로 재시도 가능 (예외)
//   - 5xx 및 네트워크 오류(errCode=0): 일시적 문제로 보고 재시도 가능
func shouldRetry(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		return statusCode == 429
	}
	return true
}

// parseTelegramError 텔레그램 API 에러에서 HTTP 상태 코드와 Retry-After 값을 추출합니다.
// 텔레그램 에러가 아닌 경우(일반 네트워크 에러 등) (0, 0)을 반환합니다.
func parseTelegramError(err error) (code int, retryAfter int) {
	if apiErr, ok := err.(tgbotapi.Error); ok {
		return apiErr.Code, apiErr.ResponseParameters.RetryAfter
	}

	if apiErrPtr, ok := err.(*tgbotapi.Error); ok {
		return apiErrPtr.Code, apiErrPtr.ResponseParameters.RetryAfter
	}

	return 0, 0
}

// BestEffort 실패해도 주 흐름을 막으면 안 되는 부가 호출을 실행합니다.
// 오류는 Warn 로그로만 남기고 호출자에게 전파하지 않습니다.
func BestEffort(callerComponent, step string, fn func() error) {
	if err := fn(); err != nil {
		applog.WithComponentAndFields(callerComponent, log.Fields{
			"step":  step,
			"error": err,
		}).Warn("부가 호출 실패: 주 흐름에는 영향을 주지 않습니다")
	}
}
