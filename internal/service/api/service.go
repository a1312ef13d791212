// Package api 티켓 중계 API 서버의 생명주기를 관리합니다.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api/handler"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/router"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// component API Service 로깅용 컴포넌트 이름
const component = "api.service"

const (
	// shutdownTimeout Graceful Shutdown 시 최대 대기 시간 (5초)
	shutdownTimeout = 5 * time.Second
)

// Service 티켓 중계 API 서버의 생명주기를 관리하는 서비스입니다.
//
// 이 서비스는 다음과 같은 역할을 수행합니다:
//   - Echo 기반 HTTP/HTTPS 서버 시작 및 종료
//   - 미들웨어 체인 설정 (PanicRecovery, RequestID, RateLimiting, HTTPLogger, CORS, Secure)
//   - 엔드포인트 라우팅 설정 (생존 확인, 텔레그램 웹훅, 티켓 접수)
//   - 공유 시크릿 기반 인증 (설정된 경우)
//   - 서비스 상태 관리 및 Graceful Shutdown (5초 타임아웃)
//
// 서비스는 고루틴으로 실행되며, context를 통해 종료 신호를 받습니다.
type Service struct {
	appConfig *config.AppConfig

	registry *registry.Registry
	router   *router.Router
	store    storage.TicketStore
	sender   *sender.Sender

	running   bool
	runningMu sync.Mutex
}

// NewService Service 인스턴스를 생성합니다.
func NewService(appConfig *config.AppConfig, reg *registry.Registry, rt *router.Router, store storage.TicketStore, snd *sender.Sender) *Service {
	if appConfig == nil {
		panic("AppConfig는 필수입니다")
	}
	if reg == nil || rt == nil || store == nil || snd == nil {
		panic("Registry, Router, TicketStore, Sender는 필수입니다")
	}

	return &Service{
		appConfig: appConfig,

		registry: reg,
		router:   rt,
		store:    store,
		sender:   snd,

		running:   false,
		runningMu: sync.Mutex{},
	}
}

// Start API 서비스를 시작합니다.
//
// 서비스는 별도의 고루틴에서 실행되며, 중복 호출 시 경고 로그만 남기고
// 즉시 반환합니다. 실제 서버 종료는 serviceStopCtx 취소로 트리거되며,
// 완료 시 serviceStopWG에 통지됩니다.
func (s *Service) Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	applog.WithComponent(component).Info("API 서비스를 시작합니다")

	if s.running {
		defer serviceStopWG.Done()
		applog.WithComponent(component).Warn("API 서비스가 이미 실행 중입니다")
		return nil
	}

	s.running = true

	go s.runServiceLoop(serviceStopCtx, serviceStopWG)

	applog.WithComponent(component).Info("API 서비스가 시작되었습니다")

	return nil
}

// runServiceLoop 서비스의 메인 실행 루프입니다.
// 서버 설정, HTTP 서버 시작, Shutdown 대기를 순차적으로 수행합니다.
func (s *Service) runServiceLoop(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) {
	defer serviceStopWG.Done()

	e := s.setupServer()

	httpServerDone := make(chan struct{})
	go s.startHTTPServer(e, httpServerDone)

	s.waitForShutdown(serviceStopCtx, e, httpServerDone)
}

// setupServer Echo 서버 인스턴스를 생성하고 모든 설정을 완료합니다.
func (s *Service) setupServer() *echo.Echo {
	h := handler.NewHandler(s.appConfig, s.registry, s.router, s.store, s.sender)

	e := NewHTTPServer(HTTPServerConfig{
		Debug:        s.appConfig.Debug,
		AllowOrigins: s.appConfig.TicketAPI.CORS.AllowOrigins,
	})

	RegisterRoutes(e, h, s.appConfig.TicketAPI.SharedSecret)

	return e
}

// startHTTPServer HTTP/HTTPS 서버를 시작합니다.
//
// 설정에 따라 TLS 활성화 여부를 결정하며, 서버가 종료되면 done 채널을 닫아
// 대기 중인 고루틴에 신호를 보냅니다. 이 함수는 서버가 종료될 때까지 블로킹됩니다.
func (s *Service) startHTTPServer(e *echo.Echo, done chan struct{}) {
	defer close(done)

	port := s.appConfig.TicketAPI.WS.ListenPort
	applog.WithComponentAndFields(component, log.Fields{
		"port": port,
	}).Debug("HTTP 서버를 시작합니다")

	var err error
	if s.appConfig.TicketAPI.WS.TLSServer {
		err = e.StartTLS(
			fmt.Sprintf(":%d", port),
			s.appConfig.TicketAPI.WS.TLSCertFile,
			s.appConfig.TicketAPI.WS.TLSKeyFile,
		)
	} else {
		err = e.Start(fmt.Sprintf(":%d", port))
	}

	s.handleServerError(err)
}

// handleServerError HTTP 서버 종료 시 반환된 에러를 처리합니다.
//   - nil: 정상 종료
//   - http.ErrServerClosed: Graceful Shutdown 완료 (Info 로깅)
//   - 그 외: 예상치 못한 종료 (Error 로깅)
func (s *Service) handleServerError(err error) {
	if err == nil {
		return
	}

	if errors.Is(err, http.ErrServerClosed) {
		applog.WithComponent(component).Info("HTTP 서버가 정상 종료되었습니다")
		return
	}

	applog.WithComponentAndFields(component, log.Fields{
		"port":  s.appConfig.TicketAPI.WS.ListenPort,
		"error": err,
	}).Error("HTTP 서버가 치명적인 오류로 종료되었습니다")
}

// waitForShutdown 종료 신호를 대기하고 Graceful Shutdown을 수행합니다.
// 이 함수는 서비스가 완전히 종료될 때까지 블로킹됩니다.
func (s *Service) waitForShutdown(serviceStopCtx context.Context, e *echo.Echo, httpServerDone chan struct{}) {
	select {
	case <-serviceStopCtx.Done():
		applog.WithComponent(component).Info("API 서비스를 종료합니다")
	case <-httpServerDone:
		// HTTP 서버가 예기치 않게 종료됨 (포트 바인딩 실패 등)
		// 이미 종료되었으므로 Shutdown 호출 없이 상태만 정리합니다.
		applog.WithComponent(component).Error("HTTP 서버가 예기치 않게 종료되었습니다")

		s.cleanup()

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"error": err,
		}).Error("HTTP 서버 Shutdown 중 오류가 발생했습니다")
	}

	<-httpServerDone

	s.cleanup()
}

// cleanup 서비스 종료 후 상태를 정리합니다.
func (s *Service) cleanup() {
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()

	applog.WithComponent(component).Info("API 서비스가 종료되었습니다")
}
