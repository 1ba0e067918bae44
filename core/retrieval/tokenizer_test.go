package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	t.Run("Lowercases and splits on punctuation", func(t *testing.T) {
		terms := Tokenize("What's the Refund-Policy?")

		assert.Equal(t, []string{"refund", "policy"}, terms)
	})

	t.Run("Stopwords dropped", func(t *testing.T) {
		terms := Tokenize("what is the policy for the returns")

		assert.Equal(t, []string{"policy", "returns"}, terms)
	})

	t.Run("Short terms dropped", func(t *testing.T) {
		terms := Tokenize("go vs c++ runtime")

		assert.Equal(t, []string{"runtime"}, terms)
	})

	t.Run("Duplicates removed in first seen order", func(t *testing.T) {
		terms := Tokenize("policy refund policy refund policy")

		assert.Equal(t, []string{"policy", "refund"}, terms)
	})

	t.Run("Numbers kept", func(t *testing.T) {
		terms := Tokenize("error 12345 during upload")

		assert.Equal(t, []string{"error", "12345", "during", "upload"}, terms)
	})

	t.Run("Empty question yields no terms", func(t *testing.T) {
		assert.Empty(t, Tokenize(""))
		assert.Empty(t, Tokenize("  ?!  "))
	})
}
