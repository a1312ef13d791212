// Package dedup 메시징 플랫폼의 at-least-once 웹훅 재전송으로 인한
// 중복 업데이트 처리를 방지하는 메모리 상주 가드를 제공합니다.
//
// 가드는 프로세스 로컬 상태이며 재시작 시 초기화됩니다. (재시작 직후의
// 중복 재전송은 허용 가능한 트레이드오프)
package dedup

import (
	"sync"
)

const (
	// defaultHighWatermark 가드가 보유하는 업데이트 ID의 상한입니다.
	defaultHighWatermark = 5000

	// defaultLowWatermark 퇴거(eviction) 후 도달하는 하한입니다.
	// 상한 초과 시 삽입 순서가 오래된 것부터 하한까지 일괄 제거하여,
	// 가득 찬 상태에서 삽입마다 퇴거가 발생하는 것을 방지합니다. (히스테리시스)
	defaultLowWatermark = 4000
)

// Guard 최근에 처리한 업데이트 ID의 유계 집합입니다. 동시 호출에 안전합니다.
type Guard struct {
	mu    sync.Mutex
	seen  map[int]struct{}
	order []int // 삽입 순서 (FIFO 퇴거용)

	highWatermark int
	lowWatermark  int
}

// NewGuard 기본 수위(상한 5000, 하한 4000)의 가드를 생성합니다.
func NewGuard() *Guard {
	return NewGuardWithWatermarks(defaultHighWatermark, defaultLowWatermark)
}

// NewGuardWithWatermarks 지정된 수위의 가드를 생성합니다.
// 잘못된 수위(하한 >= 상한, 0 이하)는 기본값으로 대체됩니다.
func NewGuardWithWatermarks(high, low int) *Guard {
	if high <= 0 || low <= 0 || low >= high {
		high = defaultHighWatermark
		low = defaultLowWatermark
	}

	return &Guard{
		seen:          make(map[int]struct{}, high),
		highWatermark: high,
		lowWatermark:  low,
	}
}

// SeenOrMark 업데이트 ID의 중복 여부를 확인하고, 처음 보는 ID라면 등록합니다.
//
// 이미 등록된 ID이면 상태 변경 없이 true를 반환합니다.
// 확인과 등록은 하나의 임계 구역에서 수행되므로, 동일 ID에 대한 동시 호출 중
// 정확히 하나만 false(미확인)를 관찰합니다.
func (g *Guard) SeenOrMark(updateID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.seen[updateID]; exists {
		return true
	}

	g.seen[updateID] = struct{}{}
	g.order = append(g.order, updateID)

	if len(g.seen) > g.highWatermark {
		g.evictLocked()
	}

	return false
}

// evictLocked 삽입 순서가 오래된 ID부터 하한 수위까지 제거합니다.
// 호출자는 반드시 g.mu를 보유해야 합니다.
func (g *Guard) evictLocked() {
	evictCount := len(g.order) - g.lowWatermark
	if evictCount <= 0 {
		return
	}

	for _, updateID := range g.order[:evictCount] {
		delete(g.seen, updateID)
	}

	// 남은 구간을 새 슬라이스로 복사하여 제거된 앞부분의 메모리가 유지되지 않도록 합니다.
	remaining := make([]int, len(g.order)-evictCount)
	copy(remaining, g.order[evictCount:])
	g.order = remaining
}

// Len 현재 보유 중인 업데이트 ID 수를 반환합니다.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
