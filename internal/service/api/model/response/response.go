// Package response API 응답의 표준 형식을 정의합니다.
package response

// ErrorResponse 에러 응답의 표준 JSON 형식입니다.
type ErrorResponse struct {
	// ResultCode HTTP 상태 코드와 동일한 결과 코드
	ResultCode int `json:"result_code"`

	// Message 사용자에게 전달되는 에러 메시지
	Message string `json:"message"`
}

// SuccessResponse 성공 응답의 표준 JSON 형식입니다.
type SuccessResponse struct {
	ResultCode int    `json:"result_code"`
	Message    string `json:"message"`
}

// LivenessResponse 서비스 생존 확인(GET /) 응답입니다.
type LivenessResponse struct {
	OK      bool     `json:"ok"`
	Service string   `json:"service"`
	Bots    []string `json:"bots"`
}

// WebhookResponse 텔레그램 웹훅 처리 결과 응답입니다.
// 플랫폼의 무한 재전송을 막기 위해 처리된 업데이트는 항상 ok를 반환합니다.
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// TicketResponse 티켓 접수(POST /ticket) 응답입니다.
type TicketResponse struct {
	OK       bool   `json:"ok"`
	Sent     string `json:"sent"` // "message" 또는 "photo"
	TicketID int64  `json:"ticket_id"`
}
