// Package storage 티켓 레코드의 영속화 계층을 제공합니다.
//
// 레코드는 두 단계로 기록됩니다. 먼저 Insert로 레코드를 확정하여 ID를
// 발급받고, 지원 그룹 게시가 성공하면 AttachGroupMessageID로 메시지 ID를
// 연결합니다. 게시 실패 시에도 이미 확정된 레코드는 유지됩니다.
package storage

import (
	"context"
	"time"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
)

// TicketRecord 티켓 하나의 영속 레코드입니다.
type TicketRecord struct {
	ID        int64
	CreatedAt time.Time

	// OriginBotKey 티켓이 발생한 접점의 정식 봇 식별자
	OriginBotKey string

	// OriginChatID 클라이언트 채팅 ID (응답 라우팅 대상)
	OriginChatID int64

	ClientDisplayName string
	Description       string
	Cause             string
	Solution          string

	// GroupMessageID 지원 그룹에 게시된 메시지 ID (0: 미연결)
	GroupMessageID int64

	// RawPayload 외부 API로 접수된 경우의 원본 페이로드 (디버깅용)
	RawPayload string
}

// TicketStore 티켓 레코드 저장소의 공통 인터페이스입니다.
// 모든 구현은 동시 호출에 안전해야 하며, ID 발급은 원자적이어야 합니다.
type TicketStore interface {
	// Insert 레코드를 저장하고 단조 증가하는 티켓 ID를 발급합니다.
	Insert(ctx context.Context, record *TicketRecord) (int64, error)

	// AttachGroupMessageID 발급된 티켓에 지원 그룹 메시지 ID를 연결합니다.
	AttachGroupMessageID(ctx context.Context, id int64, messageID int64) error

	// Get 티켓 ID로 레코드를 조회합니다. 없는 경우 NotFound 에러를 반환합니다.
	Get(ctx context.Context, id int64) (*TicketRecord, error)

	// Close 저장소 리소스를 해제합니다.
	Close()
}

// Open 설정에 지정된 드라이버의 저장소를 생성합니다.
// postgres 드라이버의 경우 내장된 마이그레이션을 먼저 적용합니다.
func Open(ctx context.Context, storageConfig config.StorageConfig) (TicketStore, error) {
	switch storageConfig.Driver {
	case config.StorageDriverMemory:
		return NewMemoryStore(), nil

	case config.StorageDriverPostgres:
		if err := Migrate(storageConfig.DSN); err != nil {
			return nil, apperrors.Wrap(err, apperrors.System, "티켓 저장소 마이그레이션에 실패했습니다")
		}
		return NewPostgresStore(ctx, storageConfig.DSN)

	default:
		return nil, apperrors.Newf(apperrors.InvalidInput, "지원하지 않는 저장소 드라이버입니다: '%s'", storageConfig.Driver)
	}
}
