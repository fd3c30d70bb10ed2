package cost

import (
	"github.com/relaydesk/relaydesk/internal/core/registry"
)

// Usage is the raw counter set a provider reports for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total is the derived token sum.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Accountant prices raw usage counters against the model registry.
type Accountant struct {
	reg *registry.Registry
}

func NewAccountant(reg *registry.Registry) *Accountant {
	return &Accountant{reg: reg}
}

// Price computes the USD cost of one call. Unknown models price at zero;
// the attempt record still carries its token counts for later backfill.
func (a *Accountant) Price(provider, model string, u Usage) float64 {
	info, err := a.reg.Lookup(provider, model)
	if err != nil {
		return 0
	}
	prompt := float64(u.PromptTokens) / 1000 * info.PromptCostPer1K
	completion := float64(u.CompletionTokens) / 1000 * info.CompletionCostPer1K
	return prompt + completion
}

// ApproxTokens is a cheap token estimator (~4 chars per token), used where
// a provider reports no usage. Same estimator the ingestion chunker uses.
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
