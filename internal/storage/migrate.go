package storage

import (
	"database/sql"
	"embed"

	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	_ "github.com/jackc/pgx/v5/stdlib" // goose가 사용하는 database/sql 드라이버
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate 내장된 SQL 마이그레이션을 최신 버전까지 적용합니다.
// 기동 시점에 한 번 호출되며, 이미 최신 상태라면 아무 작업도 수행하지 않습니다.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return apperrors.Wrap(err, apperrors.System, "마이그레이션용 데이터베이스 연결에 실패했습니다")
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "마이그레이션 dialect 설정에 실패했습니다")
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.System, "마이그레이션 적용에 실패했습니다")
	}

	applog.WithComponent("storage.migrate").Info("티켓 저장소 마이그레이션 완료")

	return nil
}
