package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/contextwin"
	"github.com/relaydesk/relaydesk/internal/core/convstate"
	"github.com/relaydesk/relaydesk/internal/core/fallback"
	"github.com/relaydesk/relaydesk/internal/core/nlp"
	"github.com/relaydesk/relaydesk/internal/core/retrieval"
	"github.com/relaydesk/relaydesk/internal/models"
)

// SafeFallbackText is the fixed reply users see when every path fails.
const SafeFallbackText = "I'm sorry, I'm having trouble helping with this right now. I've flagged your conversation for a member of our support team, who will follow up shortly."

const systemPolicy = "You are a customer support assistant. Be concise, courteous and factual. Answer only from the provided knowledge snippets when they are present; if they do not cover the question, say so plainly."

// Escalation categories, stable labels for dashboards. The human-readable
// reason on the Result carries the detail.
const (
	EscalateChainExhausted = "chain_exhausted"
	EscalateLowConfidence  = "low_confidence"
	EscalateEmotion        = "emotion"
)

// Policy carries the tunable thresholds the orchestrator enforces.
type Policy struct {
	EscalationThreshold float64
	TargetConfidence    float64
	EmotionIntensity    float64
	EmotionStreak       int
	ProcessCeiling      time.Duration
	ExtractDeadline     time.Duration
	RetrievalDeadline   time.Duration
	MaxTokens           int
	Temperature         float64
}

// Request is one inbound message to process.
type Request struct {
	ConversationID string
	Content        string
	// EscalationThreshold overrides the policy default when > 0.
	EscalationThreshold float64
}

// Result is the structured outcome of Process. It always carries either a
// generated response above the escalation threshold or an explicit
// escalation flag with a diagnostic reason; never a silent empty reply.
type Result struct {
	ConversationID     string                     `json:"conversation_id"`
	MessageID          string                     `json:"message_id"`
	Response           string                     `json:"response"`
	Citations          []models.KnowledgeCitation `json:"citations,omitempty"`
	Grounded           bool                       `json:"grounded"`
	Confidence         float64                    `json:"confidence"`
	CostUSD            float64                    `json:"cost_usd"`
	TokensUsed         int                        `json:"tokens_used"`
	RequiresEscalation bool                       `json:"requires_escalation"`
	EscalationReason   string                     `json:"escalation_reason,omitempty"`
	EscalationCategory string                     `json:"-"`
	State              models.ConversationState   `json:"state"`
	SuggestedActions   []string                   `json:"suggested_actions,omitempty"`
}

// Orchestrator routes each message through extraction, retrieval,
// generation, scoring and state transitions.
type Orchestrator struct {
	store     core.Store
	ctxmgr    *contextwin.Manager
	extractor *nlp.Extractor
	fuser     *retrieval.Fuser
	chain     *fallback.Manager
	chainCfg  []fallback.ChainEntry
	machine   *convstate.Machine
	locks     *convstate.LockTable
	sink      core.EscalationSink
	policy    Policy
	log       zerolog.Logger
	now       func() time.Time

	onProcessed func(res *Result, took time.Duration)
}

func New(store core.Store, ctxmgr *contextwin.Manager, extractor *nlp.Extractor, fuser *retrieval.Fuser, chain *fallback.Manager, chainCfg []fallback.ChainEntry, machine *convstate.Machine, locks *convstate.LockTable, sink core.EscalationSink, policy Policy, log zerolog.Logger) *Orchestrator {
	if policy.ProcessCeiling <= 0 {
		policy.ProcessCeiling = 5 * time.Second
	}
	if policy.ExtractDeadline <= 0 {
		policy.ExtractDeadline = 2 * time.Second
	}
	if policy.RetrievalDeadline <= 0 {
		policy.RetrievalDeadline = 800 * time.Millisecond
	}
	if policy.MaxTokens <= 0 {
		policy.MaxTokens = 1024
	}
	if policy.EmotionStreak <= 0 {
		policy.EmotionStreak = 2
	}
	return &Orchestrator{
		store: store, ctxmgr: ctxmgr, extractor: extractor, fuser: fuser,
		chain: chain, chainCfg: chainCfg, machine: machine, locks: locks,
		sink: sink, policy: policy, log: log, now: time.Now,
	}
}

// OnProcessed registers an observer invoked after each completed Process.
func (o *Orchestrator) OnProcessed(fn func(res *Result, took time.Duration)) {
	o.onProcessed = fn
}

// Process handles one inbound user message end to end.
//
// Hard failures (empty content, unknown conversation, concurrent
// processing, invalid transition) return an error. Everything else —
// extraction failures, retrieval timeouts, chain exhaustion — degrades to
// a structured Result, worst case the safe fallback with the escalation
// flag set. Process never panics through to the caller.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	started := o.now()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, core.ErrEmptyMessage
	}

	release, err := o.locks.Acquire(req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.policy.ProcessCeiling)
	defer cancel()

	window, err := o.ctxmgr.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	conv := window.Conversation

	// First message activates; a message on an abandoned conversation
	// reopens it. Then processing acts as the in-flight marker.
	if conv.State == models.StateInitialized || conv.State == models.StateAbandoned {
		if err := o.machine.Transition(conv, models.StateActive); err != nil {
			return nil, err
		}
	}
	if err := o.machine.Transition(conv, models.StateProcessing); err != nil {
		return nil, err
	}
	// Record processing so a second node (or a crash recovery sweep) can
	// see the in-flight marker; local mutual exclusion is the lock table.
	if err := o.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	threshold := o.policy.EscalationThreshold
	if req.EscalationThreshold > 0 {
		threshold = req.EscalationThreshold
	}

	extraction, citations := o.extractAndRetrieve(ctx, conv, window, content)

	userMsg := o.appendUserMessage(ctx, conv, content, extraction)

	res := o.generate(ctx, conv, window, userMsg, content, extraction, citations, threshold)

	// Emotion-trigger escalation applies even when generation went fine.
	if !res.RequiresEscalation && o.emotionTriggered(conv) {
		res.RequiresEscalation = true
		res.EscalationReason = "sustained high-intensity negative emotion"
		res.EscalationCategory = EscalateEmotion
	}

	o.finish(ctx, conv, userMsg, res)
	if o.onProcessed != nil {
		o.onProcessed(res, o.now().Sub(started))
	}
	return res, nil
}

// extractAndRetrieve runs NLP extraction and knowledge retrieval in
// parallel, each under its own deadline. Retrieval degrades to nil; a
// panic or failure in either branch yields degraded-but-valid results.
func (o *Orchestrator) extractAndRetrieve(ctx context.Context, conv *models.Conversation, window *contextwin.Window, content string) (nlp.Extraction, []models.KnowledgeCitation) {
	var (
		extraction nlp.Extraction
		citations  []models.KnowledgeCitation
	)

	jctx, cancel := context.WithTimeout(ctx, o.policy.ExtractDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(jctx)
	g.Go(func() error {
		extraction = o.extractor.Extract(content)
		return nil
	})
	g.Go(func() error {
		if o.fuser == nil {
			return nil
		}
		rctx, rcancel := context.WithTimeout(gctx, o.policy.RetrievalDeadline)
		defer rcancel()

		var seeds []string
		for _, v := range window.Entities {
			seeds = append(seeds, v)
		}
		citations = o.fuser.Retrieve(rctx, retrieval.Query{
			Text:         content,
			EntityValues: seeds,
			Filters:      core.RetrievalFilters{TenantID: conv.TenantID},
		})
		return nil
	})
	_ = g.Wait()

	return extraction, citations
}

func (o *Orchestrator) appendUserMessage(ctx context.Context, conv *models.Conversation, content string, ex nlp.Extraction) *models.Message {
	msg := &models.Message{
		ID:                 uuid.NewString(),
		ConversationID:     conv.ID,
		Role:               models.RoleUser,
		Content:            content,
		Intents:            ex.Intents,
		Sentiment:          ex.Emotion,
		SentimentIntensity: ex.Intensity,
		Entities:           ex.Entities,
		Language:           ex.Language,
		CreatedAt:          o.now(),
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		o.log.Error().Err(err).Str("conversation", conv.ID).Msg("append user message failed")
	}

	conv.EmotionTrajectory = append(conv.EmotionTrajectory, models.EmotionSample{
		Emotion:   ex.Emotion,
		Intensity: ex.Intensity,
		At:        msg.CreatedAt,
	})
	return msg
}

func (o *Orchestrator) generate(ctx context.Context, conv *models.Conversation, window *contextwin.Window, userMsg *models.Message, content string, ex nlp.Extraction, citations []models.KnowledgeCitation, threshold float64) *Result {
	res := &Result{
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
		Citations:      citations,
		Grounded:       !ex.ChitChat && len(citations) > 0,
	}

	job := fallback.Job{
		Request: core.GenerationRequest{
			System:      systemPolicy,
			Prompt:      buildPrompt(window, citations, content),
			MaxTokens:   o.policy.MaxTokens,
			Temperature: o.policy.Temperature,
		},
		QueryLen:      len([]rune(content)),
		CitationCount: len(citations),
		ClaimsFactual: !ex.ChitChat,
		Threshold:     threshold,
	}

	gen := o.chain.Generate(ctx, job, o.chainCfg)
	o.recordAttempts(ctx, conv, userMsg.ID, gen.Attempts)

	switch {
	case gen.Exhausted:
		res.Response = SafeFallbackText
		res.Grounded = false
		res.Citations = nil
		res.RequiresEscalation = true
		res.EscalationReason = "fallback chain exhausted"
		res.EscalationCategory = EscalateChainExhausted
	case gen.LowConfidence:
		res.Response = gen.Text
		res.Confidence = gen.Confidence
		res.RequiresEscalation = true
		res.EscalationReason = fmt.Sprintf("confidence %.2f below threshold %.2f after fallback", gen.Confidence, threshold)
		res.EscalationCategory = EscalateLowConfidence
	default:
		res.Response = gen.Text
		res.Confidence = gen.Confidence
	}

	for _, a := range gen.Attempts {
		res.CostUSD += a.CostUSD
		res.TokensUsed += a.Usage.Total()
	}
	res.SuggestedActions = suggestActions(ex)
	return res
}

// recordAttempts persists the ordered ModelAttempt rows and folds accepted
// confidences into the conversation's running mean.
func (o *Orchestrator) recordAttempts(ctx context.Context, conv *models.Conversation, messageID string, attempts []fallback.AttemptRecord) {
	if len(attempts) == 0 {
		return
	}
	rows := make([]models.ModelAttempt, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, models.ModelAttempt{
			ID:               uuid.NewString(),
			MessageID:        messageID,
			Provider:         a.Provider,
			Model:            a.Model,
			Ordinal:          a.Ordinal,
			PromptTokens:     a.Usage.PromptTokens,
			CompletionTokens: a.Usage.CompletionTokens,
			TotalTokens:      a.Usage.Total(),
			CostUSD:          a.CostUSD,
			LatencyMs:        a.Latency.Milliseconds(),
			Confidence:       a.Confidence,
			Outcome:          a.Outcome,
			CreatedAt:        o.now(),
		})
		if a.Outcome == models.OutcomeSuccess {
			conv.AggregateConfidence = (conv.AggregateConfidence*float64(conv.AcceptedAttempts) + a.Confidence) / float64(conv.AcceptedAttempts+1)
			conv.AcceptedAttempts++
		}
	}
	if err := o.store.InsertModelAttempts(ctx, rows); err != nil {
		o.log.Error().Err(err).Str("message", messageID).Msg("persist attempts failed")
	}
}

// finish appends the assistant reply, applies the closing transition and
// persists the conversation. Escalation notifies the sink exactly once.
func (o *Orchestrator) finish(ctx context.Context, conv *models.Conversation, userMsg *models.Message, res *Result) {
	reply := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAgent,
		Content:        res.Response,
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, reply); err != nil {
		o.log.Error().Err(err).Str("conversation", conv.ID).Msg("append reply failed")
	}

	target := models.StateWaitingForUser
	if res.RequiresEscalation {
		target = models.StateEscalated
	}
	if err := o.machine.Transition(conv, target); err != nil {
		// The table always allows processing -> waiting_for_user and
		// processing -> escalated, so this is a data-integrity bug.
		o.log.Error().Err(err).Str("conversation", conv.ID).Msg("closing transition rejected")
	}

	conv.LastActivityAt = o.now()
	if err := o.store.UpdateConversation(ctx, conv); err != nil {
		o.log.Error().Err(err).Str("conversation", conv.ID).Msg("persist conversation failed")
	}
	res.State = conv.State
	res.Confidence = clampConfidence(res.Confidence)

	if res.RequiresEscalation && o.sink != nil {
		ev := core.EscalationEvent{
			ConversationID:    conv.ID,
			TenantID:          conv.TenantID,
			Reason:            res.EscalationReason,
			Confidence:        res.Confidence,
			EmotionTrajectory: conv.EmotionTrajectory,
			LastUserMessage:   userMsg.Content,
			At:                o.now(),
		}
		if err := o.sink.Notify(ctx, ev); err != nil {
			o.log.Warn().Err(err).Str("conversation", conv.ID).Msg("escalation sink notify failed")
		}
	}
}

// emotionTriggered fires when the trailing EmotionStreak samples are all
// negative at or above the intensity trigger.
func (o *Orchestrator) emotionTriggered(conv *models.Conversation) bool {
	streak := o.policy.EmotionStreak
	tr := conv.EmotionTrajectory
	if len(tr) < streak {
		return false
	}
	for _, s := range tr[len(tr)-streak:] {
		if s.Intensity < o.policy.EmotionIntensity || !isNegativeEmotion(s.Emotion) {
			return false
		}
	}
	return true
}

func isNegativeEmotion(e string) bool {
	switch e {
	case "anger", "frustration", "anxiety":
		return true
	}
	return false
}

func buildPrompt(window *contextwin.Window, citations []models.KnowledgeCitation, question string) string {
	var b strings.Builder
	if hist := window.PromptHistory(); hist != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(hist)
		b.WriteString("\n")
	}
	if len(citations) > 0 {
		b.WriteString("Knowledge snippets:\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Snippet)
		}
		b.WriteString("\n")
	}
	b.WriteString("Customer: ")
	b.WriteString(question)
	return b.String()
}

func suggestActions(ex nlp.Extraction) []string {
	var out []string
	for _, in := range ex.Intents {
		switch in.Name {
		case "password_reset":
			out = append(out, "send_password_reset_link")
		case "billing":
			out = append(out, "open_billing_portal")
		case "cancel_subscription":
			out = append(out, "offer_retention_flow")
		case "order_status":
			out = append(out, "lookup_order")
		case "speak_to_human":
			out = append(out, "offer_agent_handoff")
		}
	}
	return out
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Resolve marks a conversation resolved (caller-driven, e.g. user closes
// the thread or an agent finishes).
func (o *Orchestrator) Resolve(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return o.applyExternal(ctx, conversationID, models.StateResolved)
}

// Transfer records a human agent accepting an escalated conversation.
func (o *Orchestrator) Transfer(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return o.applyExternal(ctx, conversationID, models.StateTransferred)
}

func (o *Orchestrator) applyExternal(ctx context.Context, conversationID string, to models.ConversationState) (*models.Conversation, error) {
	release, err := o.locks.Acquire(conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, core.ErrConversationNotFound
	}
	if err := o.machine.Transition(conv, to); err != nil {
		return nil, err
	}
	conv.LastActivityAt = o.now()
	if err := o.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}
