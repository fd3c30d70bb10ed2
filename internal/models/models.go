package models

import (
	"time"
)

// Channel identifies where a conversation originates.
type Channel string

const (
	ChannelWeb     Channel = "web"
	ChannelEmail   Channel = "email"
	ChannelChatApp Channel = "chat_app"
	ChannelAPI     Channel = "api"
)

// ConversationState is the lifecycle state owned by the state machine.
type ConversationState string

const (
	StateInitialized     ConversationState = "initialized"
	StateActive          ConversationState = "active"
	StateWaitingForUser  ConversationState = "waiting_for_user"
	StateWaitingForAgent ConversationState = "waiting_for_agent"
	StateProcessing      ConversationState = "processing"
	StateEscalated       ConversationState = "escalated"
	StateTransferred     ConversationState = "transferred"
	StateResolved        ConversationState = "resolved"
	StateAbandoned       ConversationState = "abandoned"
	StateArchived        ConversationState = "archived"
)

// Role is the sender role of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// EmotionSample is one point on a conversation's emotion trajectory.
type EmotionSample struct {
	Emotion   string    `json:"emotion"`
	Intensity float64   `json:"intensity"`
	At        time.Time `json:"at"`
}

// Conversation aggregates everything the core tracks per dialog.
//
// AggregateConfidence is the running mean over accepted attempts only;
// AcceptedAttempts is the denominator needed to keep that mean exact.
type Conversation struct {
	ID                  string            `db:"id" json:"id"`
	TenantID            string            `db:"tenant_id" json:"tenant_id"`
	Channel             Channel           `db:"channel" json:"channel"`
	State               ConversationState `db:"state" json:"state"`
	AggregateConfidence float64           `db:"aggregate_confidence" json:"aggregate_confidence"`
	AcceptedAttempts    int               `db:"accepted_attempts" json:"accepted_attempts"`
	EmotionTrajectory   []EmotionSample   `db:"emotion_trajectory" json:"emotion_trajectory"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	LastActivityAt      time.Time         `db:"last_activity_at" json:"last_activity_at"`
}

// ScoredIntent is one detected intent with its classifier score.
type ScoredIntent struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Message is one append-only entry in a conversation's history.
type Message struct {
	ID                 string            `db:"id" json:"id"`
	ConversationID     string            `db:"conversation_id" json:"conversation_id"`
	Role               Role              `db:"role" json:"role"`
	Content            string            `db:"content" json:"content"`
	Intents            []ScoredIntent    `db:"intents" json:"intents,omitempty"`
	Sentiment          string            `db:"sentiment" json:"sentiment,omitempty"`
	SentimentIntensity float64           `db:"sentiment_intensity" json:"sentiment_intensity,omitempty"`
	Entities           map[string]string `db:"entities" json:"entities,omitempty"`
	Language           string            `db:"language" json:"language,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
}

// AttemptOutcome classifies how a single generation attempt ended.
type AttemptOutcome string

const (
	OutcomeSuccess               AttemptOutcome = "success"
	OutcomeTimeout               AttemptOutcome = "timeout"
	OutcomeError                 AttemptOutcome = "error"
	OutcomeRateLimited           AttemptOutcome = "rate_limited"
	OutcomeLowConfidenceRejected AttemptOutcome = "low_confidence_rejected"
)

// ModelAttempt records one generation try against one provider/model.
// Immutable once written; ordinals within a message are gapless from 1.
type ModelAttempt struct {
	ID               string         `db:"id" json:"id"`
	MessageID        string         `db:"message_id" json:"message_id"`
	Provider         string         `db:"provider" json:"provider"`
	Model            string         `db:"model" json:"model"`
	Ordinal          int            `db:"ordinal" json:"ordinal"`
	PromptTokens     int            `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int            `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int            `db:"total_tokens" json:"total_tokens"`
	CostUSD          float64        `db:"cost_usd" json:"cost_usd"`
	LatencyMs        int64          `db:"latency_ms" json:"latency_ms"`
	Confidence       float64        `db:"confidence" json:"confidence"`
	Outcome          AttemptOutcome `db:"outcome" json:"outcome"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// SourceType names which retrieval source produced a citation.
type SourceType string

const (
	SourceVector   SourceType = "vector"
	SourceFullText SourceType = "fulltext"
	SourceGraph    SourceType = "graph"
)

// KnowledgeCitation is one grounding snippet attached to a response.
// Ephemeral: it lives on the response and is not persisted on its own.
type KnowledgeCitation struct {
	DocID   string     `json:"doc_id"`
	Source  SourceType `json:"source"`
	Score   float64    `json:"score"`
	Snippet string     `json:"snippet"`
	Title   string     `json:"title,omitempty"`
	Version string     `json:"version,omitempty"`
}

// Agent is a human support agent who can accept escalated conversations.
type Agent struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// KnowledgeArticle is a tenant knowledge-base document feeding retrieval.
type KnowledgeArticle struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Title       string    `db:"title" json:"title"`
	StorageURL  string    `db:"storage_url" json:"storage_url"`
	ContentType string    `db:"content_type" json:"content_type"`
	Status      string    `db:"status" json:"status"` // uploaded | processing | ready | failed
	Version     string    `db:"version" json:"version"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// KnowledgeChunk is one embedded text chunk of an article.
type KnowledgeChunk struct {
	ID         string    `db:"id" json:"id"`
	ArticleID  string    `db:"article_id" json:"article_id"`
	Position   int       `db:"position" json:"position"`
	Text       string    `db:"text" json:"text"`
	TokenCount int       `db:"token_count" json:"token_count"`
	Embedding  []float32 `db:"embedding" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
