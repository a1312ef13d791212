// Package catalog 오류 코드별 원인/해결 설명을 담은 표 형식 카탈로그를 제공합니다.
//
// 카탈로그 파일(xlsx)은 프로세스당 한 번만 지연 로드되며, 파일이 없거나
// 손상된 경우에도 서비스 동작을 막지 않습니다. 이 경우 카탈로그는 빈 상태로
// 동작하고 모든 조회 결과는 자리표시자("-")로 채워집니다.
package catalog

import (
	"strings"
	"sync"

	applog "github.com/darkkaiser/ticket-relay-server/pkg/log"
	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// component Error Catalog 로깅용 컴포넌트 이름
const component = "bot.catalog"

// Placeholder 카탈로그에 값이 없을 때 사용되는 자리표시자입니다.
const Placeholder = "-"

// Entry 오류 코드 하나에 대한 카탈로그 항목입니다.
type Entry struct {
	Code     string
	Platform string
	Cause    string
	Solution string
}

// Catalog 오류 코드를 키로 하는 읽기 전용 카탈로그입니다.
//
// 로드는 sync.Once로 보호되어 성공/실패와 무관하게 한 번만 수행됩니다.
// (로드 실패 시 빈 카탈로그로 확정되며 재시도하지 않습니다)
type Catalog struct {
	file  string
	sheet string

	loadOnce sync.Once
	entries  map[string]Entry
}

// New 지정된 xlsx 파일과 시트를 참조하는 카탈로그를 생성합니다.
// 파일은 이 시점에 열지 않으며, 최초 조회 시점에 로드됩니다.
func New(file, sheet string) *Catalog {
	return &Catalog{
		file:  file,
		sheet: sheet,
	}
}

// EnsureLoaded 카탈로그가 아직 로드되지 않았다면 로드를 수행합니다.
// 멱등 호출이 가능하며, 로드 실패는 로그로만 남기고 삼킵니다.
func (c *Catalog) EnsureLoaded() {
	c.loadOnce.Do(func() {
		c.entries = loadEntries(c.file, c.sheet)
	})
}

// Lookup 오류 코드에 해당하는 카탈로그 항목을 반환합니다.
// 코드가 없는 경우에도 에러 없이 자리표시자로 채워진 항목을 반환합니다.
func (c *Catalog) Lookup(code string) Entry {
	c.EnsureLoaded()

	if entry, ok := c.entries[code]; ok {
		return entry
	}

	return Entry{
		Code:     code,
		Platform: Placeholder,
		Cause:    Placeholder,
		Solution: Placeholder,
	}
}

// Size 로드된 카탈로그 항목 수를 반환합니다.
func (c *Catalog) Size() int {
	c.EnsureLoaded()
	return len(c.entries)
}

// loadEntries xlsx 파일에서 카탈로그 항목을 읽어 맵으로 반환합니다.
// 어떤 실패든 빈 맵을 반환하며, 호출자에게 에러를 전파하지 않습니다.
func loadEntries(file, sheet string) map[string]Entry {
	entries := make(map[string]Entry)

	if file == "" {
		applog.WithComponent(component).Info("카탈로그 파일이 설정되지 않았습니다. 빈 카탈로그로 동작합니다")
		return entries
	}

	f, err := excelize.OpenFile(file)
	if err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"file":  file,
			"error": err,
		}).Warn("카탈로그 파일 열기 실패. 빈 카탈로그로 동작합니다")
		return entries
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponentAndFields(component, log.Fields{
				"file":  file,
				"error": err,
			}).Warn("카탈로그 파일 닫기 실패")
		}
	}()

	// 시트가 지정되지 않은 경우 첫 번째 시트를 사용합니다.
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		applog.WithComponentAndFields(component, log.Fields{
			"file":  file,
			"sheet": sheet,
			"error": err,
		}).Warn("카탈로그 시트 읽기 실패. 빈 카탈로그로 동작합니다")
		return entries
	}

	for i, row := range rows {
		// 첫 번째 행은 헤더(code/platform/cause/solution)이므로 건너뜁니다.
		if i == 0 {
			continue
		}

		code := strings.TrimSpace(cellAt(row, 0))
		if code == "" {
			continue
		}

		entries[code] = Entry{
			Code:     code,
			Platform: cellOrPlaceholder(row, 1),
			Cause:    cellOrPlaceholder(row, 2),
			Solution: cellOrPlaceholder(row, 3),
		}
	}

	applog.WithComponentAndFields(component, log.Fields{
		"file":    file,
		"sheet":   sheet,
		"entries": len(entries),
	}).Info("카탈로그 로드 완료")

	return entries
}

// cellAt 행에서 지정된 인덱스의 셀 값을 반환합니다. 셀이 없으면 빈 문자열을 반환합니다.
func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// cellOrPlaceholder 셀 값을 공백 제거 후 반환하되, 비어있으면 자리표시자를 반환합니다.
func cellOrPlaceholder(row []string, idx int) string {
	value := strings.TrimSpace(cellAt(row, idx))
	if value == "" {
		return Placeholder
	}
	return value
}
