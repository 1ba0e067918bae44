package helper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	t.Run("Error message includes the context", func(t *testing.T) {
		err := NewError("load document", fmt.Errorf("connection refused"))
		assert.Equal(t, "error in load document: connection refused", err.Error())
	})

	t.Run("Unwrap reaches the underlying error", func(t *testing.T) {
		sentinel := errors.New("not found")
		err := NewError("get document", fmt.Errorf("id 42: %w", sentinel))
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("Nested wrapping keeps the chain intact", func(t *testing.T) {
		sentinel := errors.New("timeout")
		err := NewError("outer", NewError("inner", sentinel))
		assert.ErrorIs(t, err, sentinel)
		assert.Contains(t, err.Error(), "outer")
		assert.Contains(t, err.Error(), "inner")
	})
}
