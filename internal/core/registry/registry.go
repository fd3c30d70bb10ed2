package registry

import (
	"fmt"
	"sync"
	"time"
)

// Capability names what a model can do.
type Capability string

const (
	CapChat      Capability = "chat"
	CapEmbedding Capability = "embedding"
	CapCode      Capability = "code"
)

// LatencyClass buckets models by expected responsiveness. The fallback
// chain manager derives per-attempt timeouts from it.
type LatencyClass string

const (
	LatencyFast     LatencyClass = "fast"
	LatencyStandard LatencyClass = "standard"
	LatencySlow     LatencyClass = "slow"
)

// ModelInfo describes one generation or embedding model.
// Costs are USD per 1K tokens.
type ModelInfo struct {
	Provider            string
	Model               string
	Capabilities        []Capability
	PromptCostPer1K     float64
	CompletionCostPer1K float64
	Latency             LatencyClass
}

// Registry is the catalog of available models. Reads dominate; entries can
// be registered at startup or swapped at runtime.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
}

func key(provider, model string) string { return provider + "/" + model }

func New() *Registry {
	return &Registry{models: make(map[string]ModelInfo)}
}

// Register adds or replaces a model entry.
func (r *Registry) Register(info ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[key(info.Provider, info.Model)] = info
}

// Lookup returns the entry for provider/model.
func (r *Registry) Lookup(provider, model string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.models[key(provider, model)]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unknown model %s/%s", provider, model)
	}
	return info, nil
}

// Supports reports whether the model carries the capability.
func (r *Registry) Supports(provider, model string, cap Capability) bool {
	info, err := r.Lookup(provider, model)
	if err != nil {
		return false
	}
	for _, c := range info.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AttemptTimeout maps a model's latency class to a per-attempt deadline.
func (r *Registry) AttemptTimeout(provider, model string) time.Duration {
	info, err := r.Lookup(provider, model)
	if err != nil {
		return 8 * time.Second
	}
	switch info.Latency {
	case LatencyFast:
		return 3 * time.Second
	case LatencySlow:
		return 20 * time.Second
	default:
		return 8 * time.Second
	}
}

// SeedDefaults registers the stock catalog used when no overrides exist.
func SeedDefaults(r *Registry) {
	r.Register(ModelInfo{
		Provider: "gemini", Model: "gemini-1.5-flash",
		Capabilities:        []Capability{CapChat, CapCode},
		PromptCostPer1K:     0.000075,
		CompletionCostPer1K: 0.0003,
		Latency:             LatencyFast,
	})
	r.Register(ModelInfo{
		Provider: "gemini", Model: "gemini-1.5-pro",
		Capabilities:        []Capability{CapChat, CapCode},
		PromptCostPer1K:     0.00125,
		CompletionCostPer1K: 0.005,
		Latency:             LatencyStandard,
	})
	r.Register(ModelInfo{
		Provider: "gemini", Model: "text-embedding-004",
		Capabilities:    []Capability{CapEmbedding},
		PromptCostPer1K: 0.0000125,
		Latency:         LatencyFast,
	})
	r.Register(ModelInfo{
		Provider: "openai", Model: "gpt-4o-mini",
		Capabilities:        []Capability{CapChat, CapCode},
		PromptCostPer1K:     0.00015,
		CompletionCostPer1K: 0.0006,
		Latency:             LatencyFast,
	})
	r.Register(ModelInfo{
		Provider: "openai", Model: "gpt-4o",
		Capabilities:        []Capability{CapChat, CapCode},
		PromptCostPer1K:     0.0025,
		CompletionCostPer1K: 0.01,
		Latency:             LatencyStandard,
	})
}
