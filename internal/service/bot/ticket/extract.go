package ticket

import (
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/darkkaiser/ticket-relay-server/internal/pkg/errors"
)

// 역직렬화용 레이블 패턴. Format이 기록하는 레이블과 정확히 일치해야 하며,
// 레이블 주변 공백에는 관대하게 동작합니다.
//
// 라우팅 레이블(BotKey, ChatID)은 라인 시작에서만 인식되고 값은 레이블과 같은
// 라인에 있어야 합니다. 클라이언트 표시 이름처럼 본문 중간에 삽입되는 임의
// 입력이 라우팅 라인을 가장할 수 없어야 합니다.
var (
	botKeyRegexp   = regexp.MustCompile(`(?m)^\s*BotKey:[ \t]*(\S+)`)
	chatIDRegexp   = regexp.MustCompile(`(?m)^\s*ChatID:[ \t]*(-?\d+)`)
	ticketIDRegexp = regexp.MustCompile(`#TICKET-(\d+)`)
)

// Fields 티켓 메시지 본문에서 복원된 라우팅 필드의 집합입니다.
type Fields struct {
	BotKey string // 원본 봇 식별자 (정규화 전의 원시 값)
	ChatID int64
	ID     int64 // #TICKET 시퀀스 번호, 없으면 0
}

// HasTag 본문이 티켓 마커를 포함하는지 확인합니다.
func HasTag(text string) bool {
	return strings.Contains(text, Tag)
}

// ExtractBotKey 본문에서 BotKey 레이블의 원시 값을 복원합니다.
func ExtractBotKey(text string) (string, bool) {
	m := botKeyRegexp.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractChatID 본문에서 ChatID 레이블의 값을 복원합니다.
func ExtractChatID(text string) (int64, bool) {
	m := chatIDRegexp.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	chatID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}

// ExtractID 본문에서 #TICKET 시퀀스 번호를 복원합니다. 없으면 0을 반환합니다.
func ExtractID(text string) (int64, bool) {
	m := ticketIDRegexp.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Extract 본문에서 라우팅에 필요한 모든 필드를 복원합니다.
// 필수 필드(BotKey, ChatID)가 누락된 경우 ParsingFailed 에러를 반환합니다.
func Extract(text string) (Fields, error) {
	if !HasTag(text) {
		return Fields{}, apperrors.New(apperrors.ParsingFailed, "티켓 마커가 없는 본문입니다")
	}

	botKey, ok := ExtractBotKey(text)
	if !ok {
		return Fields{}, apperrors.New(apperrors.ParsingFailed, "본문에서 BotKey를 찾을 수 없습니다")
	}

	chatID, ok := ExtractChatID(text)
	if !ok {
		return Fields{}, apperrors.New(apperrors.ParsingFailed, "본문에서 ChatID를 찾을 수 없습니다")
	}

	fields := Fields{
		BotKey: botKey,
		ChatID: chatID,
	}

	if id, ok := ExtractID(text); ok {
		fields.ID = id
	}

	return fields, nil
}
