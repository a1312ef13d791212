package registry

import (
	"strings"

	"github.com/darkkaiser/ticket-relay-server/internal/config"
)

// Normalizer 원시 봇 식별자 문자열을 정식 식별자로 해석하는 순수 조회 테이블입니다.
//
// 해석 순서:
//  1. 정식 식별자 정확 일치
//  2. 별칭 정확 일치
//  3. 별칭 대소문자 무시 일치 (공백 제거 후)
//  4. 표시 이름 대소문자 무시 일치
//
// 1, 2단계는 입력 원형 그대로 비교하며, 공백 제거와 대소문자 접기는
// 3단계부터 적용됩니다. 어느 단계에서도 일치하지 않으면 실패를 반환하며,
// 추측하지 않습니다.
type Normalizer struct {
	canonical     map[string]struct{}
	aliasExact    map[string]string
	aliasFolded   map[string]string
	displayFolded map[string]string
}

// NewNormalizer 봇 목록과 별칭 테이블로부터 정규화기를 생성합니다.
func NewNormalizer(bots []config.BotConfig, aliases map[string]string) *Normalizer {
	n := &Normalizer{
		canonical:     make(map[string]struct{}, len(bots)),
		aliasExact:    make(map[string]string, len(aliases)),
		aliasFolded:   make(map[string]string, len(aliases)),
		displayFolded: make(map[string]string, len(bots)),
	}

	for _, bot := range bots {
		n.canonical[bot.ID] = struct{}{}

		if bot.DisplayName != "" {
			n.displayFolded[fold(bot.DisplayName)] = bot.ID
		}
	}

	for alias, target := range aliases {
		n.aliasExact[alias] = target
		n.aliasFolded[fold(alias)] = target
	}

	return n
}

// Normalize 원시 식별자를 정식 봇 식별자로 해석합니다.
// 빈 입력이거나 어느 단계에서도 일치하지 않으면 ok=false를 반환합니다.
func (n *Normalizer) Normalize(raw string) (key string, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	// 1. 정식 식별자 정확 일치
	if _, exists := n.canonical[raw]; exists {
		return raw, true
	}

	// 2. 별칭 정확 일치
	if target, exists := n.aliasExact[raw]; exists {
		return target, true
	}

	folded := fold(raw)

	// 3. 별칭 대소문자 무시 일치
	if target, exists := n.aliasFolded[folded]; exists {
		return target, true
	}

	// 4. 표시 이름 대소문자 무시 일치
	if target, exists := n.displayFolded[folded]; exists {
		return target, true
	}

	return "", false
}

// fold 대소문자 무시 비교를 위한 키를 생성합니다.
func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
