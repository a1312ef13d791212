// Package ticket 지원 그룹 메시지에 내장되는 티켓 직렬화 포맷을 정의합니다.
//
// 포맷은 "레이블: 값" 형태의 고정 라인으로 구성된 소형 텍스트 프로토콜이며,
// 직렬화(Format)와 역직렬화(Extract)가 닫힌 쌍을 이룹니다. 프로세스가 재시작되어도
// 과거 메시지에 대한 /r 응답 경로가 동작해야 하므로, 라인 구성은 바이트 단위로
// 안정적으로 유지되어야 합니다. (포맷 버전: v1)
package ticket

import (
	"fmt"
	"strings"
)

// Tag 티켓 메시지를 식별하는 고정 마커입니다.
const Tag = "🧾 TICKET"

// placeholder 값이 없는 필드에 기록되는 자리표시자입니다.
const placeholder = "-"

// replyTrailer 지원 그룹 직원에게 응답 방법을 안내하는 고정 트레일러입니다.
const replyTrailer = "↩️ Responde a ESTE mensaje con:\n/r tu respuesta aquí"

// Kind 티켓의 종류입니다.
type Kind string

const (
	// KindReport 오류 코드 기반의 일반 장애 보고 티켓
	KindReport Kind = "report"

	// KindChat 직접 상담 요청 티켓. 클라이언트 신원만 기록하며
	// 오류/원인/해결 라인이 없는 축약 형태로 렌더링됩니다.
	KindChat Kind = "chat"
)

// Ticket 직렬화 대상 티켓 필드의 집합입니다.
type Ticket struct {
	Kind Kind

	BotDisplayName string
	BotKey         string

	ClientName     string
	ClientUsername string // @ 없이 저장, 빈 값은 username 없음을 의미
	ChatID         int64

	ErrorText string
	Detail    string
	Cause     string
	Solution  string
}

// Format 티켓을 지원 그룹에 게시할 메시지 본문으로 직렬화합니다.
//
// assignedID가 0보다 크면 #TICKET-<id> 라인이 포함됩니다.
// 빈 필드는 자리표시자("-")로 기록되어 역직렬화 시 라인 누락이 발생하지 않습니다.
func Format(t Ticket, assignedID int64) string {
	var b strings.Builder

	b.WriteString(Tag)
	b.WriteString("\n")

	fmt.Fprintf(&b, "🤖 Bot: %s\n", orPlaceholder(t.BotDisplayName))
	fmt.Fprintf(&b, "BotKey: %s\n", orPlaceholder(t.BotKey))
	fmt.Fprintf(&b, "👤 Cliente: %s %s\n", clientName(t.ClientName), clientUsername(t.ClientUsername))
	fmt.Fprintf(&b, "ChatID: %d\n", t.ChatID)

	if assignedID > 0 {
		fmt.Fprintf(&b, "#TICKET-%d\n", assignedID)
	}

	if t.Kind == KindChat {
		b.WriteString("💬 Solicita contacto directo con soporte\n")
	} else {
		fmt.Fprintf(&b, "⚠️ Error: %s\n", orPlaceholder(t.ErrorText))
		fmt.Fprintf(&b, "📝 Detalle: %s\n", orPlaceholder(t.Detail))
		fmt.Fprintf(&b, "🧩 Causa: %s\n", orPlaceholder(t.Cause))
		fmt.Fprintf(&b, "✅ Solución: %s\n", orPlaceholder(t.Solution))
	}

	b.WriteString("\n")
	b.WriteString(replyTrailer)

	return b.String()
}

func orPlaceholder(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return placeholder
	}
	return s
}

// clientName 클라이언트가 제어하는 값이므로 개행을 포함한 연속 공백을 한 칸으로
// 접습니다. 라인 단위 프로토콜에서 값이 라인 구조를 깨뜨리면 안 됩니다.
func clientName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Sin nombre"
	}
	return name
}

func clientUsername(username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	username = strings.Join(strings.Fields(username), "")
	if username == "" {
		return "(sin username)"
	}
	return "@" + username
}
