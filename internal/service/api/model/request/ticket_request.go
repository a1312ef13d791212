// Package request API 요청의 DTO와 검증 규칙을 정의합니다.
package request

// TicketRequest 외부 클라이언트(미니앱 백엔드 등)가 전송하는 티켓 접수 요청입니다.
//
// multipart/form-data의 payload 필드(JSON 문자열) 또는 application/json
// 본문으로 전달되며, 선택적으로 screenshot 파일 파트가 동반될 수 있습니다.
type TicketRequest struct {
	// Type 요청 유형. 장애 보고("reporte_falla")만 허용됩니다.
	Type string `json:"type" validate:"required,oneof=reporte_falla" korean:"요청 유형"`

	// BotKey 티켓을 게시할 봇 식별자. 비어있으면 디스패처 봇이 사용됩니다.
	BotKey string `json:"bot_key"`

	// Description 장애 설명 (최소 5자)
	Description string `json:"description" validate:"required,min=5" korean:"오류 설명"`

	// Timestamp 클라이언트 측 발생 시각 (Unix 밀리초, 선택)
	Timestamp int64 `json:"ts"`

	User TicketUser `json:"user"`
}

// TicketUser 티켓을 접수한 클라이언트 사용자 정보입니다.
type TicketUser struct {
	// ID 텔레그램 사용자의 채팅 ID. 응답 중계 경로의 목적지가 됩니다.
	ID int64 `json:"id" validate:"required" korean:"사용자 ID"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// FullName 성과 이름을 결합한 표시용 이름을 반환합니다.
func (u TicketUser) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
