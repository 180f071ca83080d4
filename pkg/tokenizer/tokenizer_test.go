package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		minExpect int
		maxExpect int
	}{
		{"empty", "", 0, 0},
		{"single word", "hello", 1, 3},
		{"short sentence", "Started vitamin D 2000 IU daily", 5, 15},
		{"longer text", strings.Repeat("word ", 100), 80, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := EstimateTokens(tt.text)
			assert.GreaterOrEqual(t, tokens, tt.minExpect)
			assert.LessOrEqual(t, tokens, tt.maxExpect)
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Run("zero budget", func(t *testing.T) {
		assert.Empty(t, Truncate("anything", 0))
	})
	t.Run("fits", func(t *testing.T) {
		assert.Equal(t, "short text", Truncate("short text", 100))
	})
	t.Run("cut at word boundary", func(t *testing.T) {
		text := strings.Repeat("symptom ", 200)
		got := Truncate(text, 10)
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, len(got), 43)
		assert.False(t, strings.HasSuffix(strings.TrimSuffix(got, "..."), "sympt"))
	})
}
