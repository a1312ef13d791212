package storage

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// component Ticket Store 로깅용 컴포넌트 이름
const component = "storage.postgres"

// connectTimeout 저장소 연결 확인(Ping)에 적용되는 제한 시간입니다.
const connectTimeout = 10 * time.Second

// psql PostgreSQL용 플레이스홀더($1, $2, ...)를 사용하는 쿼리 빌더입니다.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// postgresStore pgx 커넥션 풀 기반의 티켓 저장소입니다.
// ID는 BIGSERIAL 시퀀스로 발급되어 동시 삽입에서도 중복되지 않습니다.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore DSN으로 커넥션 풀을 생성하고 연결을 확인합니다.
func NewPostgresStore(ctx context.Context, dsn string) (TicketStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "티켓 저장소 커넥션 풀 생성에 실패했습니다")
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.System, "티켓 저장소 연결 확인에 실패했습니다")
	}

	applog.WithComponent(component).Info("티켓 저장소 연결 완료")

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Insert(ctx context.Context, record *TicketRecord) (int64, error) {
	if record == nil {
		return 0, apperrors.New(apperrors.Internal, "저장할 티켓 레코드가 nil입니다")
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args, err := psql.
		Insert("tickets").
		Columns("created_at", "origin_bot_key", "origin_chat_id", "client_display_name", "description", "cause", "solution", "raw_payload").
		Values(createdAt, record.OriginBotKey, record.OriginChatID, record.ClientDisplayName, record.Description, record.Cause, record.Solution, record.RawPayload).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.Internal, "티켓 삽입 쿼리 생성에 실패했습니다")
	}

	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, apperrors.Wrap(err, apperrors.System, "티켓 레코드 저장에 실패했습니다")
	}

	return id, nil
}

func (s *postgresStore) AttachGroupMessageID(ctx context.Context, id int64, messageID int64) error {
	query, args, err := psql.
		Update("tickets").
		Set("group_message_id", messageID).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "티켓 갱신 쿼리 생성에 실패했습니다")
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.System, "티켓 메시지 ID 연결에 실패했습니다")
	}

	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.NotFound, "티켓을 찾을 수 없습니다: %d", id)
	}

	return nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (*TicketRecord, error) {
	query, args, err := psql.
		Select("id", "created_at", "origin_bot_key", "origin_chat_id", "client_display_name", "description", "cause", "solution", "group_message_id", "raw_payload").
		From("tickets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "티켓 조회 쿼리 생성에 실패했습니다")
	}

	var record TicketRecord
	var groupMessageID *int64

	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&record.ID,
		&record.CreatedAt,
		&record.OriginBotKey,
		&record.OriginChatID,
		&record.ClientDisplayName,
		&record.Description,
		&record.Cause,
		&record.Solution,
		&groupMessageID,
		&record.RawPayload,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.NotFound, "티켓을 찾을 수 없습니다: %d", id)
		}
		return nil, apperrors.Wrap(err, apperrors.System, "티켓 레코드 조회에 실패했습니다")
	}

	if groupMessageID != nil {
		record.GroupMessageID = *groupMessageID
	}

	return &record, nil
}

func (s *postgresStore) Close() {
	s.pool.Close()

	applog.WithComponentAndFields(component, log.Fields{}).Debug("티켓 저장소 연결 해제")
}
