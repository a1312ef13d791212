package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticketRequest struct {
	BotKey      string `validate:"required" korean:"봇 식별자"`
	Description string `validate:"required,min=5" korean:"오류 설명"`
	Code        string `validate:"max=32" korean:"오류 코드"`
}

func TestStruct(t *testing.T) {
	t.Run("정상 입력", func(t *testing.T) {
		err := Struct(&ticketRequest{BotKey: "ventas", Description: "pantalla en blanco"})
		assert.NoError(t, err)
	})

	t.Run("필수값 누락", func(t *testing.T) {
		err := Struct(&ticketRequest{Description: "pantalla en blanco"})
		require.Error(t, err)
		assert.Equal(t, "봇 식별자는 필수입니다", FormatValidationError(err))
	})

	t.Run("최소 길이 미달", func(t *testing.T) {
		err := Struct(&ticketRequest{BotKey: "ventas", Description: "abc"})
		require.Error(t, err)
		assert.Equal(t, "오류 설명는 최소 5자 이상이어야 합니다", FormatValidationError(err))
	})
}

func TestFormatValidationError(t *testing.T) {
	t.Run("nil 에러", func(t *testing.T) {
		assert.Empty(t, FormatValidationError(nil))
	})

	t.Run("validator 외 에러는 원본 메시지", func(t *testing.T) {
		err := assert.AnError
		assert.Equal(t, err.Error(), FormatValidationError(err))
	})
}
