package core

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/models"
)

// GenerationRequest is the provider-neutral prompt bundle.
type GenerationRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerationResponse carries the raw provider output plus usage counters.
// RawSignal is the provider's self-reported probability signal in [0,1];
// nil when the provider does not expose one.
type GenerationResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	RawSignal        *float64
}

// GenerationProvider is one model backend in the fallback chain.
// Implementations must honor ctx deadlines and surface timeouts as
// ErrProviderTimeout and rate limits as ErrProviderRateLimited so the
// chain manager can distinguish them.
type GenerationProvider interface {
	Name() string
	Generate(ctx context.Context, model string, req GenerationRequest) (*GenerationResponse, error)
}

// EmbeddingProvider embeds texts for the vector retrieval source.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SourceHit is one raw result from a single retrieval source, before fusion.
type SourceHit struct {
	DocID   string
	Score   float64
	Snippet string
	Title   string
	Version string
}

// RetrievalFilters narrows a retrieval call to one tenant's corpus.
type RetrievalFilters struct {
	TenantID string
}

// VectorSource is a similarity search over embedded knowledge chunks.
type VectorSource interface {
	SearchVector(ctx context.Context, vec []float32, topK int, f RetrievalFilters) ([]SourceHit, error)
}

// FullTextSource is a lexical search over the same corpus.
type FullTextSource interface {
	SearchText(ctx context.Context, query string, topK int, f RetrievalFilters) ([]SourceHit, error)
}

// GraphSource walks article relationships outward from seed entities.
// Optional: a nil GraphSource simply contributes no results.
type GraphSource interface {
	Related(ctx context.Context, entityValues []string, depth, topK int, f RetrievalFilters) ([]SourceHit, error)
}

// EscalationEvent is the packaged context handed to the escalation sink.
type EscalationEvent struct {
	ConversationID    string                 `json:"conversation_id"`
	TenantID          string                 `json:"tenant_id"`
	Reason            string                 `json:"reason"`
	Confidence        float64                `json:"confidence"`
	EmotionTrajectory []models.EmotionSample `json:"emotion_trajectory"`
	LastUserMessage   string                 `json:"last_user_message"`
	At                time.Time              `json:"at"`
}

// EscalationSink receives fire-and-forget escalation notifications.
// Delivery and retry are the collaborator's problem; Notify must not block
// message processing and its error is logged, never propagated.
type EscalationSink interface {
	Notify(ctx context.Context, ev EscalationEvent) error
}

// Store is the durable persistence boundary for the conversation core.
type Store interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, c *models.Conversation) error
	ListConversationsInState(ctx context.Context, state models.ConversationState, idleSince time.Time) ([]models.Conversation, error)

	AppendMessage(ctx context.Context, m *models.Message) error
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)

	InsertModelAttempts(ctx context.Context, attempts []models.ModelAttempt) error
	ListAttemptsByMessage(ctx context.Context, messageID string) ([]models.ModelAttempt, error)

	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error)

	CreateArticle(ctx context.Context, a *models.KnowledgeArticle) error
	GetArticleByID(ctx context.Context, id string) (*models.KnowledgeArticle, error)
	ListArticlesByTenant(ctx context.Context, tenantID string) ([]models.KnowledgeArticle, error)
	UpdateArticleStatus(ctx context.Context, id, status string) error
	InsertKnowledgeChunks(ctx context.Context, chunks []models.KnowledgeChunk) error

	Close() error
}

// ObjectClient stores and streams raw knowledge article files.
type ObjectClient interface {
	PutFile(ctx context.Context, bucket, key string, body io.Reader, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// ArticleExtractor converts a raw article payload into text fragments
// streamed on a channel owned by the pipeline errgroup.
type ArticleExtractor interface {
	ExtractText(ctx context.Context, g *errgroup.Group, raw []byte, contentType string) (<-chan string, error)
}
