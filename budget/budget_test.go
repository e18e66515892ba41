package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithinBudget(t *testing.T) {
	g := NewGuard(0.02)

	assert.True(t, g.WithinBudget(0))
	assert.True(t, g.WithinBudget(0.02))
	assert.True(t, g.WithinBudget(-1), "negative estimates are treated as zero")
	assert.False(t, g.WithinBudget(0.020001))
}

func TestCheckPolicy(t *testing.T) {
	g := NewGuard(0.02)

	assert.Equal(t, Accept, g.Check(0.01, false))
	assert.Equal(t, Accept, g.Check(0.01, true))
	assert.Equal(t, CompressRetry, g.Check(0.05, false))
	assert.Equal(t, Reject, g.Check(0.05, true))
}

func TestNewGuardDefaultsCap(t *testing.T) {
	assert.Equal(t, DefaultCapUSD, NewGuard(0).CapUSD)
	assert.Equal(t, DefaultCapUSD, NewGuard(-0.5).CapUSD)
	assert.Equal(t, 0.1, NewGuard(0.1).CapUSD)
}

func TestCompressPromptRemovesVerbosity(t *testing.T) {
	prompt := "Please make sure to carefully and ensure that you write well.\n\n\nDo not paraphrase, summarize, or add commentary. Keep it short."

	compressed := CompressPrompt(prompt)

	assert.NotContains(t, compressed, "Please make sure to ")
	assert.NotContains(t, compressed, "Do not paraphrase")
	assert.Contains(t, compressed, "Keep it short.")
	assert.NotContains(t, compressed, "  ", "whitespace collapsed")
	assert.Less(t, len(compressed), len(prompt))
}

func TestCompressPromptPreservesContent(t *testing.T) {
	article := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	compressed := CompressPrompt("Summarize:\n" + article)
	assert.Contains(t, compressed, "quick brown fox")
}

func TestCompressPromptEmpty(t *testing.T) {
	assert.Equal(t, "", CompressPrompt(""))
	assert.Equal(t, "", CompressPrompt("   \n  "))
}
