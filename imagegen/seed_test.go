package imagegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFixedSeed_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prompt := rapid.String().Draw(t, "prompt")
		style := rapid.String().Draw(t, "style")

		first := FixedSeed(prompt, style)
		second := FixedSeed(prompt, style)

		if first != second {
			t.Fatalf("seed not stable: %d != %d", first, second)
		}
		if first < 0 {
			t.Fatalf("seed must be non-negative, got %d", first)
		}
	})
}

func TestFixedSeed_KnownValues(t *testing.T) {
	assert.Equal(t, int64(0), FixedSeed("", ""))
	assert.Equal(t, int64('a'), FixedSeed("a", ""))
	// Distinct inputs should land on distinct seeds for typical prompts.
	assert.NotEqual(t, FixedSeed("a cat", "vivid"), FixedSeed("a dog", "vivid"))
	assert.NotEqual(t, FixedSeed("a cat", "vivid"), FixedSeed("a cat", "natural"))
}
