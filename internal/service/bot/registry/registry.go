// Package registry 설정에 정의된 봇 신원(Identity) 목록을 관리합니다.
//
// 각 봇 신원은 클라이언트 접점(bot_key) 하나를 대표하며, 기동 시점에
// 텔레그램 봇 API 클라이언트를 생성하여 토큰을 인증합니다.
// 생성 이후 레지스트리는 불변이며 동시 조회에 안전합니다.
package registry

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// component Bot Registry 로깅용 컴포넌트 이름
const component = "bot.registry"

// clientConnectTimeout 봇 클라이언트 생성(getMe 인증 호출) 시 적용되는 HTTP 타임아웃입니다.
const clientConnectTimeout = 15 * time.Second

// Client 텔레그램 봇 API와의 통신을 추상화한 인터페이스입니다.
// 실제 네트워크 호출 없이 테스트할 수 있도록 tgbotapi.BotAPI를 감쌉니다.
type Client interface {
	// 봇 정보 조회
	GetSelf() tgbotapi.User

	// 메시지 전송 및 API 호출
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// tgClient tgbotapi.BotAPI를 래핑하여 Client 인터페이스를 구현하는 구조체입니다.
type tgClient struct {
	*tgbotapi.BotAPI
}

// GetSelf 현재 봇의 사용자 정보를 반환합니다.
func (c *tgClient) GetSelf() tgbotapi.User {
	return c.Self
}

// Dialer 봇 토큰으로부터 Client를 생성하는 함수 타입입니다.
// 테스트에서는 가짜 클라이언트를 반환하는 Dialer를 주입합니다.
type Dialer func(botToken string) (Client, error)

// DefaultDialer 실제 텔레그램 봇 API 서버에 접속하는 기본 Dialer입니다.
func DefaultDialer(botToken string) (Client, error) {
	botAPI, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, &http.Client{
		Timeout: clientConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &tgClient{BotAPI: botAPI}, nil
}

// Identity 클라이언트 접점 하나를 대표하는 봇 신원입니다. 생성 이후 불변입니다.
type Identity struct {
	// Key 정식 봇 식별자 (설정의 bot id)
	Key string

	// DisplayName 사용자에게 노출되는 봇 표시 이름
	DisplayName string

	// DefaultErrorCode 이 접점의 기본 오류 코드 (인라인 키보드 report 버튼에 사용)
	DefaultErrorCode string

	// DefaultErrorText 이 접점의 기본 오류 설명 텍스트
	DefaultErrorText string

	client Client
}

// Client 이 신원에 연결된 텔레그램 클라이언트를 반환합니다.
func (i *Identity) Client() Client {
	return i.client
}

// Registry 정식 봇 식별자를 키로 하는 불변 봇 신원 저장소입니다.
type Registry struct {
	identities map[string]*Identity
	keys       []string // 정렬된 정식 식별자 목록
	dispatcher *Identity
	normalizer *Normalizer
}

// New 설정으로부터 레지스트리를 생성합니다.
//
// 각 봇의 토큰으로 클라이언트를 생성하며, 토큰이 유효하지 않은 경우
// 에러를 반환합니다. (기동 중단 대상의 설정 오류)
func New(appConfig *config.AppConfig, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DefaultDialer
	}

	identities := make(map[string]*Identity, len(appConfig.Bots))
	keys := make([]string, 0, len(appConfig.Bots))

	for _, botConfig := range appConfig.Bots {
		client, err := dial(botConfig.BotToken)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.System, "봇('%s')의 텔레그램 클라이언트 생성에 실패했습니다 (토큰: %s)", botConfig.ID, applog.MaskSensitiveData(botConfig.BotToken))
		}

		displayName := botConfig.DisplayName
		if displayName == "" {
			displayName = botConfig.ID
		}

		identities[botConfig.ID] = &Identity{
			Key:              botConfig.ID,
			DisplayName:      displayName,
			DefaultErrorCode: botConfig.DefaultErrorCode,
			DefaultErrorText: botConfig.DefaultErrorText,
			client:           client,
		}
		keys = append(keys, botConfig.ID)

		applog.WithComponentAndFields(component, log.Fields{
			"bot_key":   botConfig.ID,
			"bot_token": applog.MaskSensitiveData(botConfig.BotToken),
		}).Debug("봇 신원 등록 완료")
	}

	sort.Strings(keys)

	dispatcher, ok := identities[appConfig.Support.DispatcherBotID]
	if !ok {
		// 설정 검증 단계에서 걸러지지만, 레지스트리 단독 사용 시를 대비해 한 번 더 확인합니다.
		return nil, apperrors.Newf(apperrors.NotFound, "디스패처 봇('%s')이 레지스트리에 존재하지 않습니다", appConfig.Support.DispatcherBotID)
	}

	return &Registry{
		identities: identities,
		keys:       keys,
		dispatcher: dispatcher,
		normalizer: NewNormalizer(appConfig.Bots, appConfig.Aliases),
	}, nil
}

// Get 정식 봇 식별자로 신원을 조회합니다.
func (r *Registry) Get(key string) (*Identity, error) {
	identity, ok := r.identities[key]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, fmt.Sprintf("등록되지 않은 봇 식별자입니다: '%s'", key))
	}
	return identity, nil
}

// Keys 정렬된 정식 봇 식별자 목록을 반환합니다.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// Dispatcher 지원 그룹에서 /r 명령을 처리하는 지정 디스패처 봇의 신원을 반환합니다.
func (r *Registry) Dispatcher() *Identity {
	return r.dispatcher
}

// Normalizer 이 레지스트리의 식별자 정규화기를 반환합니다.
func (r *Registry) Normalizer() *Normalizer {
	return r.normalizer
}

// Resolve 원시 식별자를 정규화한 뒤 해당 신원을 조회합니다.
func (r *Registry) Resolve(raw string) (*Identity, bool) {
	key, ok := r.normalizer.Normalize(raw)
	if !ok {
		return nil, false
	}

	identity, ok := r.identities[key]
	return identity, ok
}
