package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// AppName 애플리케이션의 전역 고유 식별자입니다.
	AppName string = "ticket-relay-server"

	// DefaultFilename 애플리케이션 초기화 시 참조하는 기본 설정 파일명입니다.
	// 실행 인자를 통해 명시적인 경로가 제공되지 않을 경우, 시스템은 이 파일을 탐색하여 구성을 로드합니다.
	DefaultFilename = AppName + ".json"

	// DefaultMaxRetries HTTP 요청 실패 시 최대 재시도 횟수 기본값
	DefaultMaxRetries = 3

	// DefaultRetryDelay 재시도 사이의 대기 시간 기본값
	DefaultRetryDelay = "2s"

	// 저장소 드라이버 식별자
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// AppConfig 애플리케이션의 모든 설정을 관장하는 최상위 루트 구조체
type AppConfig struct {
	Debug     bool              `json:"debug"`
	HTTPRetry HTTPRetryConfig   `json:"http_retry"`
	Bots      []BotConfig       `json:"bots"`
	Aliases   map[string]string `json:"aliases"`
	Support   SupportConfig     `json:"support"`
	Catalog   CatalogConfig     `json:"catalog"`
	Storage   StorageConfig     `json:"storage"`
	TicketAPI TicketAPIConfig   `json:"ticket_api"`
}

// validate 설정 파일 로드 직후, 각 설정 항목의 정합성과 필수 값의 유효성을 검증합니다.
func (c *AppConfig) validate() error {
	if err := c.HTTPRetry.validate(); err != nil {
		return err
	}

	botIDs, err := c.validateBots()
	if err != nil {
		return err
	}

	if err := c.validateAliases(botIDs); err != nil {
		return err
	}

	if err := c.Support.validate(botIDs); err != nil {
		return err
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if err := c.TicketAPI.validate(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) validateBots() ([]string, error) {
	if len(c.Bots) == 0 {
		return nil, apperrors.New(apperrors.InvalidInput, "봇(bots) 목록이 비어있습니다. 최소 1개 이상의 봇 설정이 필요합니다")
	}

	// 봇 중복 ID 검사
	if err := checkUniqueField(validate, c.Bots, "ID", "Bot"); err != nil {
		return nil, err
	}

	for _, bot := range c.Bots {
		if err := checkStruct(validate, bot, fmt.Sprintf("Bot['%s']", bot.ID)); err != nil {
			return nil, err
		}
	}

	var botIDs []string
	for _, bot := range c.Bots {
		botIDs = append(botIDs, bot.ID)
	}

	return botIDs, nil
}

func (c *AppConfig) validateAliases(botIDs []string) error {
	for alias, target := range c.Aliases {
		if strings.TrimSpace(alias) == "" {
			return apperrors.New(apperrors.InvalidInput, "빈 문자열은 별칭(alias)으로 사용할 수 없습니다")
		}

		// 별칭이 정식 봇 ID를 가리는 것을 금지합니다. (식별자 해석의 모호성 방지)
		if slices.Contains(botIDs, alias) {
			return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("별칭('%s')이 정식 봇 ID와 동일합니다. 별칭은 정식 ID를 가릴 수 없습니다", alias))
		}

		if !slices.Contains(botIDs, target) {
			return apperrors.New(apperrors.NotFound, fmt.Sprintf("별칭('%s')이 참조하는 봇 ID('%s')가 정의되지 않았습니다", alias, target))
		}
	}

	return nil
}

// VerifyRecommendations 서비스 운영의 안정성과 보안을 위해 권장되는 설정 준수 여부를 진단합니다.
// 강제적인 에러를 발생시키지는 않으나, 잠재적 위험 요소에 대한 경고 메시지를 반환합니다.
func (c *AppConfig) VerifyRecommendations() []string {
	var warnings []string

	warnings = append(warnings, c.TicketAPI.WS.VerifyRecommendations()...)

	if c.TicketAPI.SharedSecret == "" {
		warnings = append(warnings, "티켓 API의 공유 시크릿(shared_secret)이 설정되지 않았습니다. POST /ticket 엔드포인트가 인증 없이 공개됩니다")
	}

	return warnings
}

// FindBot 지정된 ID의 봇 설정을 반환합니다.
func (c *AppConfig) FindBot(id string) (*BotConfig, bool) {
	for i := range c.Bots {
		if c.Bots[i].ID == id {
			return &c.Bots[i], true
		}
	}
	return nil, false
}

// HTTPRetryConfig HTTP 요청 실패 시 재시도 횟수와 대기 시간을 정의하는 설정 구조체
type HTTPRetryConfig struct {
	MaxRetries int    `json:"max_retries"`
	RetryDelay string `json:"retry_delay"`
}

func (c *HTTPRetryConfig) validate() error {
	if c.MaxRetries < 0 {
		return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("HTTP 최대 재시도 횟수(max_retries)는 0 이상이어야 합니다: %d", c.MaxRetries))
	}
	if _, err := time.ParseDuration(c.RetryDelay); err != nil {
		return apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("HTTP 재시도 대기 시간(retry_delay) 설정이 올바르지 않습니다: '%s' (예: 1s, 500ms)", c.RetryDelay))
	}
	return nil
}

// BotConfig 클라이언트 접점별 봇 식별자와 토큰 정보를 담는 설정 구조체
type BotConfig struct {
	ID               string `json:"id" validate:"required"`
	BotToken         string `json:"bot_token" validate:"required,telegram_bot_token"`
	DisplayName      string `json:"display_name"`
	DefaultErrorCode string `json:"default_error_code"`
	DefaultErrorText string `json:"default_error_text"`
}

// SupportConfig 모든 티켓이 모이는 지원 그룹과 지정 디스패처 봇을 정의하는 설정 구조체
type SupportConfig struct {
	GroupChatID     int64  `json:"group_chat_id" validate:"required"`
	DispatcherBotID string `json:"dispatcher_bot_id" validate:"required"`
}

func (c *SupportConfig) validate(botIDs []string) error {
	if err := checkStruct(validate, c, "Support"); err != nil {
		return err
	}

	if !slices.Contains(botIDs, c.DispatcherBotID) {
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("디스패처 봇 ID('%s')가 정의된 봇 목록에 존재하지 않습니다", c.DispatcherBotID))
	}

	return nil
}

// CatalogConfig 오류 카탈로그(xlsx) 파일 위치를 정의하는 설정 구조체
//
// 파일이 없거나 손상된 경우에도 기동 실패로 처리하지 않습니다.
// (카탈로그는 빈 상태로 동작하며, 조회 결과는 기본값으로 채워집니다)
type CatalogConfig struct {
	File  string `json:"file"`
	Sheet string `json:"sheet"`
}

// StorageConfig 티켓 저장소 드라이버 설정 구조체
type StorageConfig struct {
	Driver string `json:"driver" validate:"required,oneof=memory postgres"`
	DSN    string `json:"dsn"`
}

func (c *StorageConfig) validate() error {
	if err := checkStruct(validate, c, "Storage"); err != nil {
		return err
	}

	if c.Driver == StorageDriverPostgres && strings.TrimSpace(c.DSN) == "" {
		return apperrors.New(apperrors.InvalidInput, "postgres 저장소 사용 시 접속 정보(dsn)는 필수입니다")
	}

	return nil
}

// TicketAPIConfig 티켓 접수를 위한 REST API 서버 설정 구조체
type TicketAPIConfig struct {
	WS           WSConfig   `json:"ws"`
	CORS         CORSConfig `json:"cors"`
	SharedSecret string     `json:"shared_secret"`
}

func (c *TicketAPIConfig) validate() error {
	if err := c.WS.validate(); err != nil {
		return err
	}

	if err := c.CORS.validate(); err != nil {
		return err
	}

	return nil
}

// WSConfig 웹 서버의 포트 및 TLS(HTTPS) 보안 설정을 정의하는 구조체
type WSConfig struct {
	TLSServer   bool   `json:"tls_server"`
	TLSCertFile string `json:"tls_cert_file" validate:"required_if=TLSServer true,omitempty,file"`
	TLSKeyFile  string `json:"tls_key_file" validate:"required_if=TLSServer true,omitempty,file"`
	ListenPort  int    `json:"listen_port" validate:"min=1,max=65535"`
}

func (c *WSConfig) validate() error {
	return checkStruct(validate, c, "WS")
}

func (c *WSConfig) VerifyRecommendations() []string {
	var warnings []string

	// 시스템 예약 포트(1024 미만) 사용 경고
	if c.ListenPort < 1024 {
		warnings = append(warnings, fmt.Sprintf("시스템 예약 포트(1-1023)를 사용하도록 설정되었습니다(port: %d). 이 경우 서버 구동 시 관리자 권한이 필요할 수 있습니다", c.ListenPort))
	}

	return warnings
}

// CORSConfig 웹 브라우저의 교차 출처 리소스 공유(CORS) 정책을 설정하는 구조체
type CORSConfig struct {
	AllowOrigins []string `json:"allow_origins" validate:"dive,cors_origin"`
}

func (c *CORSConfig) validate() error {
	if len(c.AllowOrigins) == 0 {
		return apperrors.New(apperrors.InvalidInput, "CORS 허용 도메인(allow_origins) 목록이 비어있습니다")
	}

	for _, origin := range c.AllowOrigins {
		if origin == "*" {
			if len(c.AllowOrigins) > 1 {
				return apperrors.New(apperrors.InvalidInput, "와일드카드(*)는 다른 도메인과 함께 사용할 수 없습니다. 모든 도메인을 허용하려면 와일드카드만 설정하세요")
			}

			// 와일드카드만 있는 경우는 유효함 (validator skip)
			return nil
		}
	}

	return checkStruct(validate, c, "CORS")
}

// Load 기본 설정 파일을 읽어 애플리케이션 설정을 로드합니다.
func Load() (*AppConfig, error) {
	return LoadWithFile(DefaultFilename)
}

// LoadWithFile 지정된 경로의 설정 파일을 읽어 AppConfig 객체를 생성합니다.
func LoadWithFile(filename string) (*AppConfig, error) {
	k := koanf.New(".")

	// 1. 기본값 로드 (가장 낮은 우선순위)
	err := k.Load(confmap.Provider(map[string]interface{}{
		"http_retry.max_retries": DefaultMaxRetries,
		"http_retry.retry_delay": DefaultRetryDelay,
		"storage.driver":         StorageDriverMemory,
	}, "."), nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "애플리케이션 기본 설정 로드에 실패했습니다")
	}

	// 2. JSON 설정 파일 로드 (기본값 덮어쓰기)
	if err := k.Load(file.Provider(filename), json.Parser()); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(err, apperrors.System, fmt.Sprintf("설정 파일을 찾을 수 없습니다: '%s'", filename))
		}
		return nil, apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("설정 파일 로드 중 오류가 발생했습니다: '%s'", filename))
	}

	// 3. 환경 변수 로드 (최우선 순위, JSON 설정 덮어쓰기)
	// 접두사: TICKETRELAY_
	// 구분자: 이중 언더스코어(__)를 점(.)으로 변환 (계층 구조 표현)
	// 예: TICKETRELAY_STORAGE__DSN -> storage.dsn
	if err := k.Load(env.Provider("TICKETRELAY_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "TICKETRELAY_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "환경 변수 로드에 실패했습니다")
	}

	// 4. 구조체 언마샬링 (Strict Validation 적용)
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			ErrorUnused:      true, // 파일에 존재하지만 구조체에 없는 필드가 있을 경우 에러를 발생시킴
			WeaklyTypedInput: true,
		},
	}
	var appConfig AppConfig
	if err := k.UnmarshalWithConf("", &appConfig, unmarshalConf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "설정 데이터를 애플리케이션 구조체로 변환하는데 실패했습니다")
	}

	// 5. 유효성 검사 수행 (정합성 체크)
	if err := appConfig.validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("설정 파일('%s')의 유효성 검증에 실패했습니다", filename))
	}

	return &appConfig, nil
}
