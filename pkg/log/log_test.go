package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSensitiveData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"빈 문자열", "", ""},
		{"3자 이하", "abc", "***"},
		{"12자 이하", "abcdefgh", "abcd***"},
		{"긴 토큰", "1234567890:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", "1234***Dsaw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskSensitiveData(tt.input))
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Run("식별자 누락 시 에러", func(t *testing.T) {
		opts := Options{}
		assert.Error(t, opts.Validate())
	})

	t.Run("음수 설정값 거부", func(t *testing.T) {
		opts := Options{Name: "app", MaxAge: -1}
		assert.Error(t, opts.Validate())
	})

	t.Run("정상 설정", func(t *testing.T) {
		opts := Options{Name: "app", MaxAge: 7}
		assert.NoError(t, opts.Validate())
	})
}

func newTestEntry(level Level, msg string) *Entry {
	entry := logrus.NewEntry(logrus.New())
	entry.Level = level
	entry.Message = msg
	entry.Time = time.Now()
	return entry
}

func TestHookLevelRouting(t *testing.T) {
	var mainBuf, criticalBuf, verboseBuf bytes.Buffer

	h := &hook{
		mainWriter:     &mainBuf,
		criticalWriter: &criticalBuf,
		verboseWriter:  &verboseBuf,
		formatter:      &logrus.TextFormatter{DisableTimestamp: true},
	}

	require.NoError(t, h.Fire(newTestEntry(InfoLevel, "info message")))
	require.NoError(t, h.Fire(newTestEntry(ErrorLevel, "error message")))
	require.NoError(t, h.Fire(newTestEntry(DebugLevel, "debug message")))

	// Main: Info + Error (Debug 제외)
	assert.Contains(t, mainBuf.String(), "info message")
	assert.Contains(t, mainBuf.String(), "error message")
	assert.NotContains(t, mainBuf.String(), "debug message")

	// Critical: Error만
	assert.NotContains(t, criticalBuf.String(), "info message")
	assert.Contains(t, criticalBuf.String(), "error message")

	// Verbose: Debug만
	assert.Contains(t, verboseBuf.String(), "debug message")
	assert.NotContains(t, verboseBuf.String(), "info message")
}

func TestHookClosedDropsEntries(t *testing.T) {
	var mainBuf bytes.Buffer

	h := &hook{
		mainWriter: &mainBuf,
		formatter:  &logrus.TextFormatter{DisableTimestamp: true},
	}

	require.NoError(t, h.Close())
	require.NoError(t, h.Fire(newTestEntry(InfoLevel, "after close")))

	assert.Empty(t, mainBuf.String())
}

func TestCloserIdempotent(t *testing.T) {
	c := &closer{hook: &hook{}}

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestWithComponent(t *testing.T) {
	entry := WithComponent("router")
	assert.Equal(t, "router", entry.Data["component"])

	entry = WithComponentAndFields("sender", Fields{"bot_key": "ventas"})
	assert.Equal(t, "sender", entry.Data["component"])
	assert.Equal(t, "ventas", entry.Data["bot_key"])
}
