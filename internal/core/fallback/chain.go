package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/confidence"
	"github.com/relaydesk/relaydesk/internal/core/cost"
	"github.com/relaydesk/relaydesk/internal/core/registry"
	"github.com/relaydesk/relaydesk/internal/models"
)

// ChainEntry is one (provider, model) candidate in a fallback chain.
type ChainEntry struct {
	Provider string
	Model    string
}

// Job bundles one generation request with the scoring inputs the chain
// manager needs to gate each attempt on confidence.
type Job struct {
	Request       core.GenerationRequest
	QueryLen      int
	CitationCount int
	ClaimsFactual bool
	// Threshold is the minimum confidence to accept an attempt outright.
	Threshold float64
}

// AttemptRecord is the per-try telemetry the manager emits; the
// orchestrator turns these into persisted ModelAttempt rows.
type AttemptRecord struct {
	Provider   string
	Model      string
	Ordinal    int
	Usage      cost.Usage
	CostUSD    float64
	Latency    time.Duration
	Confidence float64
	Outcome    models.AttemptOutcome

	// text is carried privately; callers read text off the Result.
	text string
}

// Result is the aggregate outcome of walking a chain.
type Result struct {
	Text          string
	Provider      string
	Model         string
	Confidence    float64
	LowConfidence bool
	Exhausted     bool
	Attempts      []AttemptRecord
}

// Manager walks a fallback chain: skip open circuits, attempt with a
// per-model timeout, score, and return the first attempt at or above the
// threshold — or the best low-confidence candidate, or an exhausted result.
type Manager struct {
	providers  map[string]core.GenerationProvider
	circuits   *CircuitTable
	reg        *registry.Registry
	accountant *cost.Accountant
	log        zerolog.Logger
	onAttempt  func(AttemptRecord)
}

func NewManager(providers map[string]core.GenerationProvider, circuits *CircuitTable, reg *registry.Registry, acct *cost.Accountant, log zerolog.Logger) *Manager {
	return &Manager{providers: providers, circuits: circuits, reg: reg, accountant: acct, log: log}
}

// OnAttempt registers an observer invoked once per finished attempt.
func (m *Manager) OnAttempt(fn func(AttemptRecord)) {
	m.onAttempt = fn
}

// Generate tries each chain entry in order. Provider failures advance the
// circuit breaker and the chain; they are never surfaced individually.
// The returned Result always carries the full ordered attempt list.
func (m *Manager) Generate(ctx context.Context, job Job, chain []ChainEntry) Result {
	res := Result{Exhausted: true}
	bestConfidence := -1.0
	ordinal := 0

	for _, entry := range chain {
		if err := ctx.Err(); err != nil {
			break
		}
		provider, ok := m.providers[entry.Provider]
		if !ok {
			m.log.Warn().Str("provider", entry.Provider).Msg("chain entry has no adapter, skipping")
			continue
		}
		if !m.circuits.Allow(entry.Provider) {
			m.log.Debug().Str("provider", entry.Provider).Msg("circuit open, skipping")
			continue
		}

		ordinal++
		rec := m.attempt(ctx, provider, entry, job, ordinal)
		res.Attempts = append(res.Attempts, rec)
		if m.onAttempt != nil {
			m.onAttempt(rec)
		}

		if rec.Outcome != models.OutcomeSuccess && rec.Outcome != models.OutcomeLowConfidenceRejected {
			m.circuits.RecordFailure(entry.Provider)
			continue
		}
		m.circuits.RecordSuccess(entry.Provider)

		if rec.Outcome == models.OutcomeSuccess {
			res.Text = rec.text
			res.Provider = entry.Provider
			res.Model = entry.Model
			res.Confidence = rec.Confidence
			res.Exhausted = false
			res.LowConfidence = false
			return res
		}

		// Low confidence: keep the best candidate, keep walking.
		if rec.Confidence > bestConfidence {
			bestConfidence = rec.Confidence
			res.Text = rec.text
			res.Provider = entry.Provider
			res.Model = entry.Model
			res.Confidence = rec.Confidence
			res.Exhausted = false
			res.LowConfidence = true
		}
	}

	return res
}

func (m *Manager) attempt(ctx context.Context, provider core.GenerationProvider, entry ChainEntry, job Job, ordinal int) AttemptRecord {
	timeout := m.reg.AttemptTimeout(entry.Provider, entry.Model)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Generate(actx, entry.Model, job.Request)
	latency := time.Since(start)

	rec := AttemptRecord{
		Provider: entry.Provider,
		Model:    entry.Model,
		Ordinal:  ordinal,
		Latency:  latency,
	}

	if err != nil {
		switch {
		case errors.Is(err, core.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
			rec.Outcome = models.OutcomeTimeout
		case errors.Is(err, core.ErrProviderRateLimited):
			rec.Outcome = models.OutcomeRateLimited
		default:
			rec.Outcome = models.OutcomeError
		}
		m.log.Warn().Err(err).
			Str("provider", entry.Provider).
			Str("model", entry.Model).
			Int("ordinal", ordinal).
			Msg("generation attempt failed")
		return rec
	}

	rec.Usage = cost.Usage{PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens}
	if rec.Usage.Total() == 0 {
		rec.Usage = cost.Usage{
			PromptTokens:     cost.ApproxTokens(job.Request.Prompt),
			CompletionTokens: cost.ApproxTokens(resp.Text),
		}
	}
	rec.CostUSD = m.accountant.Price(entry.Provider, entry.Model, rec.Usage)

	rec.Confidence = confidence.Score(confidence.Signals{
		RawSignal:     resp.RawSignal,
		QueryLen:      job.QueryLen,
		ResponseLen:   len([]rune(resp.Text)),
		CitationCount: job.CitationCount,
		ClaimsFactual: job.ClaimsFactual,
		ResponseText:  resp.Text,
	})

	rec.text = resp.Text
	if rec.Confidence >= job.Threshold {
		rec.Outcome = models.OutcomeSuccess
	} else {
		rec.Outcome = models.OutcomeLowConfidenceRejected
	}
	return rec
}
