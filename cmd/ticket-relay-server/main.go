package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	"github.com/darkkaiser/ticket-relay-server/internal/pkg/version"
	"github.com/darkkaiser/ticket-relay-server/internal/service"
	"github.com/darkkaiser/ticket-relay-server/internal/service/api"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/catalog"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/dedup"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/registry"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/router"
	"github.com/darkkaiser/ticket-relay-server/internal/service/bot/sender"
	"github.com/darkkaiser/ticket-relay-server/internal/storage"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	log "github.com/sirupsen/logrus"
)

// 빌드 정보 변수 (Dockerfile의 ldflags로 주입됨)
var (
	Version     = "dev"     // Git 커밋 해시
	BuildDate   = "unknown" // 빌드 날짜
	BuildNumber = "0"       // 빌드 번호
)

const (
	banner = `
  _____  _        _            _     ____         _
 |_   _|(_)  ___ | | __  ___  | |_  |  _ \   ___ | |  __ _  _   _
   | |  | | / __|| |/ / / _ \ | __| | |_) | / _ \| | / _' || | | |
   | |  | || (__ |   < |  __/ | |_  |  _ < |  __/| || (_| || |_| |
   |_|  |_| \___||_|\_\ \___|  \__| |_| \_\ \___||_| \__,_| \__, |
                                                            |___/  %s
                                                        developed by DarkKaiser
--------------------------------------------------------------------------------
`
)

func main() {
	// 1. 환경설정 로드 (로그 설정에 필요하므로 가장 먼저 수행한다)
	configFile := config.DefaultFilename
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	appConfig, err := config.LoadWithFile(configFile)
	if err != nil {
		// 로거 초기화 전이므로 표준 에러에 출력
		fmt.Fprintf(os.Stderr, "[FATAL] 환경설정 로드 실패: %v\n", err)
		os.Exit(1)
	}

	// 2. 로그 시스템 초기화
	var logOpts applog.Options
	if appConfig.Debug {
		logOpts = applog.NewDevelopmentConfig(config.AppName)
	} else {
		logOpts = applog.NewProductionConfig(config.AppName)
	}

	appLogCloser, err := applog.Setup(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[FATAL] 로그 시스템 초기화 실패. 서버 구동을 중단합니다. (Cause: %v)\n", err)
		os.Exit(1)
	}
	defer appLogCloser.Close()

	// 3. 로그 레벨 최종 확정
	applog.SetDebugMode(appConfig.Debug)

	// 아스키아트 출력(https://ko.rakko.tools/tools/68/, 폰트:standard)
	fmt.Printf(banner, Version)

	// 빌드 정보 설정 (전역 싱글톤 등록)
	buildInfo := version.Info{
		Version:     Version,
		BuildDate:   BuildDate,
		BuildNumber: BuildNumber,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	}
	version.Set(buildInfo)

	applog.WithComponentAndFields("main", log.Fields{
		"version": buildInfo.String(),
		"env":     map[bool]string{true: "development", false: "production"}[appConfig.Debug],
	}).Info("서버 초기화 시작")

	// 권장 설정 미준수 항목 경고
	for _, warning := range appConfig.VerifyRecommendations() {
		applog.WithComponent("main").Warn(warning)
	}

	// 봇 신원 레지스트리 생성 (토큰 인증 실패 시 기동 중단)
	botRegistry, err := registry.New(appConfig, nil)
	if err != nil {
		applog.WithComponentAndFields("main", log.Fields{
			"error": err,
		}).Error("봇 레지스트리 초기화 실패")

		log.Fatal("봇 레지스트리 초기화 실패로 프로그램을 종료합니다")
	}

	// 티켓 저장소 연결 (postgres 드라이버는 내장 마이그레이션을 먼저 적용한다)
	store, err := storage.Open(context.Background(), appConfig.Storage)
	if err != nil {
		applog.WithComponentAndFields("main", log.Fields{
			"driver": appConfig.Storage.Driver,
			"error":  err,
		}).Error("티켓 저장소 초기화 실패")

		log.Fatal("티켓 저장소 초기화 실패로 프로그램을 종료합니다")
	}

	// 오류 카탈로그는 없어도 기동을 막지 않으므로 경고 확인을 위해 미리 로드한다.
	errorCatalog := catalog.New(appConfig.Catalog.File, appConfig.Catalog.Sheet)
	errorCatalog.EnsureLoaded()

	// 서비스를 생성하고 초기화한다.
	messageSender := sender.New(appConfig.HTTPRetry)
	updateRouter := router.New(botRegistry, errorCatalog, store, dedup.NewGuard(), messageSender, appConfig.Support.GroupChatID)
	apiService := api.NewService(appConfig, botRegistry, updateRouter, store, messageSender)

	// Set up cancellation context and waitgroup
	serviceStopCtx, cancel := context.WithCancel(context.Background())
	serviceStopWG := &sync.WaitGroup{}

	// 서비스를 시작한다.
	services := []service.Service{apiService}
	for _, s := range services {
		serviceStopWG.Add(1)
		if err := s.Start(serviceStopCtx, serviceStopWG); err != nil {
			applog.WithComponentAndFields("main", log.Fields{
				"error": err,
			}).Error("서비스 초기화 실패")

			cancel() // 다른 서비스들도 종료
			serviceStopWG.Wait()
			store.Close()

			log.Fatal("서비스 초기화 실패로 프로그램을 종료합니다")
		}
	}

	// Handle sigterm and await termC signal
	termC := make(chan os.Signal, 1)
	signal.Notify(termC, syscall.SIGINT, syscall.SIGTERM)

	applog.WithComponent("main").Info("서버 가동 완료")

	<-termC // Blocks here until interrupted

	// Handle shutdown
	applog.WithComponent("main").Info("Shutdown signal received")
	cancel()             // Signal cancellation to context.Context
	serviceStopWG.Wait() // Block here until are workers are done
	store.Close()
}
