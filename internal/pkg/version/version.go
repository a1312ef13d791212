// Package version 애플리케이션의 빌드 및 버저닝 정보를 관리하는 패키지입니다.
//
// 빌드 시점(ldflags)에 주입된 메타데이터와 실행 시점의 환경 정보(Go 버전, OS, 아키텍처)를
// 통합하여 제공합니다.
package version

import (
	"fmt"
	"sync/atomic"
)

const unknown = "unknown"

// globalBuildInfo 전역 빌드 정보 (Atomic Value를 사용하여 Thread-Safe 보장)
var globalBuildInfo atomic.Value

// Info 애플리케이션의 빌드 정보를 담고 있습니다.
// 주로 liveness 엔드포인트나 로그 출력에 사용됩니다.
type Info struct {
	Version     string `json:"version"`      // 애플리케이션의 버전 (예: v1.0.1-155-gf25b8bf)
	BuildDate   string `json:"build_date"`   // 빌드 날짜 (예: "2026-08-31T11:30:00Z")
	BuildNumber string `json:"build_number"` // CI/CD 빌드 번호
	GoVersion   string `json:"go_version"`   // 빌드에 사용된 Go 컴파일러 버전
	OS          string `json:"os"`           // 실행 중인 운영체제
	Arch        string `json:"arch"`         // 실행 중인 시스템 아키텍처
}

// String 빌드 정보를 사람이 읽기 좋은 단일 문자열로 반환합니다.
func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = unknown
	}
	return fmt.Sprintf("%s (build #%s, %s, %s/%s)", version, orUnknown(i.BuildNumber), orUnknown(i.BuildDate), i.OS, i.Arch)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// Set 전역 빌드 정보를 등록합니다. 애플리케이션 시작 시점에 한 번 호출합니다.
func Set(info Info) {
	globalBuildInfo.Store(info)
}

// Get 등록된 전역 빌드 정보를 반환합니다.
func Get() Info {
	if info, ok := globalBuildInfo.Load().(Info); ok {
		return info
	}
	return Info{Version: unknown}
}
