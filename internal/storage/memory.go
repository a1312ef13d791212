package storage

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
)

// memoryStore 프로세스 메모리에 티켓을 보관하는 저장소입니다.
// 단일 인스턴스 운영 또는 테스트 용도이며, 재시작 시 모든 레코드가 사라집니다.
type memoryStore struct {
	mu      sync.Mutex
	records map[int64]TicketRecord
	nextID  int64
}

// NewMemoryStore 새 메모리 저장소를 생성합니다.
func NewMemoryStore() TicketStore {
	return &memoryStore{
		records: make(map[int64]TicketRecord),
		nextID:  1,
	}
}

func (s *memoryStore) Insert(_ context.Context, record *TicketRecord) (int64, error) {
	if record == nil {
		return 0, apperrors.New(apperrors.Internal, "저장할 티켓 레코드가 nil입니다")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	stored.ID = s.nextID
	s.nextID++

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.records[stored.ID] = stored

	return stored.ID, nil
}

func (s *memoryStore) AttachGroupMessageID(_ context.Context, id int64, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return apperrors.Newf(apperrors.NotFound, "티켓을 찾을 수 없습니다: %d", id)
	}

	record.GroupMessageID = messageID
	s.records[id] = record

	return nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (*TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "티켓을 찾을 수 없습니다: %d", id)
	}

	// 내부 상태 보호를 위해 복사본을 반환합니다.
	copied := record
	return &copied, nil
}

func (s *memoryStore) Close() {}
