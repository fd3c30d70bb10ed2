package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaydesk/relaydesk/internal/core/registry"
)

func TestPriceKnownModel(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.ModelInfo{
		Provider:            "gemini",
		Model:               "gemini-1.5-flash",
		PromptCostPer1K:     0.000075,
		CompletionCostPer1K: 0.0003,
	})
	a := NewAccountant(reg)

	got := a.Price("gemini", "gemini-1.5-flash", Usage{PromptTokens: 2000, CompletionTokens: 1000})
	assert.InDelta(t, 2*0.000075+0.0003, got, 1e-12)
}

func TestPriceUnknownModelIsZero(t *testing.T) {
	a := NewAccountant(registry.New())
	assert.Zero(t, a.Price("nope", "none", Usage{PromptTokens: 5000, CompletionTokens: 5000}))
}

func TestUsageTotal(t *testing.T) {
	assert.Equal(t, 150, Usage{PromptTokens: 100, CompletionTokens: 50}.Total())
	assert.Zero(t, Usage{}.Total())
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("hi"))
	assert.Equal(t, 1, ApproxTokens("abcd"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
	assert.Equal(t, 3, ApproxTokens("hello, world"))
}
