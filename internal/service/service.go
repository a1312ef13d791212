package service

import (
	"context"
	"sync"
)

// Service 애플리케이션 생명주기에 참여하는 서비스의 공통 인터페이스입니다.
//
// Start는 서비스 구동에 필요한 초기화를 수행한 뒤 즉시 반환하며,
// 실제 작업은 내부 고루틴에서 수행합니다. serviceStopCtx가 취소되면
// 서비스는 정리 작업을 마친 후 serviceStopWG.Done()을 호출해야 합니다.
type Service interface {
	Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error
}
