package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

// PgStore implements core.Store plus the three retrieval source
// interfaces (vector, full-text, graph) on one Postgres database.
type PgStore struct {
	db *sql.DB
}

var (
	_ core.Store          = (*PgStore)(nil)
	_ core.VectorSource   = (*PgStore)(nil)
	_ core.FullTextSource = (*PgStore)(nil)
	_ core.GraphSource    = (*PgStore)(nil)
)

func NewPgStore(ctx context.Context, cfg *config.Config) (*PgStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(pctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &PgStore{db: db}, nil
}

func (s *PgStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Conversations

func (s *PgStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c == nil {
		return errors.New("nil conversation")
	}
	traj, err := json.Marshal(c.EmotionTrajectory)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO conversations
			(id, tenant_id, channel, state, aggregate_confidence, accepted_attempts, emotion_trajectory, created_at, last_activity_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.TenantID, c.Channel, c.State, c.AggregateConfidence, c.AcceptedAttempts, traj, c.CreatedAt, c.LastActivityAt)
	return err
}

func (s *PgStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	const q = `
		SELECT id, tenant_id, channel, state, aggregate_confidence, accepted_attempts, emotion_trajectory, created_at, last_activity_at
		FROM conversations WHERE id = $1
	`
	var (
		c    models.Conversation
		traj []byte
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.TenantID, &c.Channel, &c.State, &c.AggregateConfidence, &c.AcceptedAttempts, &traj, &c.CreatedAt, &c.LastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(traj) > 0 {
		if err := json.Unmarshal(traj, &c.EmotionTrajectory); err != nil {
			return nil, fmt.Errorf("decode trajectory: %w", err)
		}
	}
	return &c, nil
}

func (s *PgStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	if c == nil {
		return errors.New("nil conversation")
	}
	traj, err := json.Marshal(c.EmotionTrajectory)
	if err != nil {
		return err
	}
	const q = `
		UPDATE conversations
		SET state = $2, aggregate_confidence = $3, accepted_attempts = $4, emotion_trajectory = $5, last_activity_at = $6
		WHERE id = $1
	`
	_, err = s.db.ExecContext(ctx, q, c.ID, c.State, c.AggregateConfidence, c.AcceptedAttempts, traj, c.LastActivityAt)
	return err
}

func (s *PgStore) ListConversationsInState(ctx context.Context, state models.ConversationState, idleSince time.Time) ([]models.Conversation, error) {
	const q = `
		SELECT id, tenant_id, channel, state, aggregate_confidence, accepted_attempts, emotion_trajectory, created_at, last_activity_at
		FROM conversations
		WHERE state = $1 AND last_activity_at < $2
		ORDER BY last_activity_at
	`
	rows, err := s.db.QueryContext(ctx, q, state, idleSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var (
			c    models.Conversation
			traj []byte
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Channel, &c.State, &c.AggregateConfidence, &c.AcceptedAttempts, &traj, &c.CreatedAt, &c.LastActivityAt); err != nil {
			return nil, err
		}
		if len(traj) > 0 {
			if err := json.Unmarshal(traj, &c.EmotionTrajectory); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Messages (append-only)

func (s *PgStore) AppendMessage(ctx context.Context, m *models.Message) error {
	if m == nil {
		return errors.New("nil message")
	}
	intents, err := json.Marshal(m.Intents)
	if err != nil {
		return err
	}
	entities, err := json.Marshal(m.Entities)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO messages
			(id, conversation_id, role, content, intents, sentiment, sentiment_intensity, entities, language, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`
	_, err = s.db.ExecContext(ctx, q,
		m.ID, m.ConversationID, m.Role, m.Content, intents, m.Sentiment, m.SentimentIntensity, entities, m.Language, m.CreatedAt)
	return err
}

func (s *PgStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	const q = `
		SELECT id, conversation_id, role, content, intents, sentiment, sentiment_intensity, entities, language, created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m        models.Message
			intents  []byte
			entities []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &intents, &m.Sentiment, &m.SentimentIntensity, &entities, &m.Language, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(intents) > 0 {
			_ = json.Unmarshal(intents, &m.Intents)
		}
		if len(entities) > 0 {
			_ = json.Unmarshal(entities, &m.Entities)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Model attempts (immutable rollup rows)

func (s *PgStore) InsertModelAttempts(ctx context.Context, attempts []models.ModelAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO model_attempts
			(id, message_id, provider, model, ordinal, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, confidence, outcome, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
	`
	for _, a := range attempts {
		if _, err := tx.ExecContext(ctx, q,
			a.ID, a.MessageID, a.Provider, a.Model, a.Ordinal,
			a.PromptTokens, a.CompletionTokens, a.TotalTokens,
			a.CostUSD, a.LatencyMs, a.Confidence, a.Outcome, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PgStore) ListAttemptsByMessage(ctx context.Context, messageID string) ([]models.ModelAttempt, error) {
	const q = `
		SELECT id, message_id, provider, model, ordinal, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, confidence, outcome, created_at
		FROM model_attempts
		WHERE message_id = $1
		ORDER BY ordinal
	`
	rows, err := s.db.QueryContext(ctx, q, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModelAttempt
	for rows.Next() {
		var a models.ModelAttempt
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Provider, &a.Model, &a.Ordinal,
			&a.PromptTokens, &a.CompletionTokens, &a.TotalTokens,
			&a.CostUSD, &a.LatencyMs, &a.Confidence, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Agents

func (s *PgStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a == nil {
		return errors.New("nil agent")
	}
	const q = `
		INSERT INTO agents (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Name, a.Email, a.PasswordHash, a.CreatedAt)
	return err
}

func (s *PgStore) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	const q = `
		SELECT id, name, email, password_hash, created_at
		FROM agents WHERE email = $1
	`
	var a models.Agent
	err := s.db.QueryRowContext(ctx, q, email).Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Knowledge articles and chunks

func (s *PgStore) CreateArticle(ctx context.Context, a *models.KnowledgeArticle) error {
	if a == nil {
		return errors.New("nil article")
	}
	const q = `
		INSERT INTO knowledge_articles
			(id, tenant_id, title, storage_url, content_type, status, version, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err := s.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.Title, a.StorageURL, a.ContentType, a.Status, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PgStore) GetArticleByID(ctx context.Context, id string) (*models.KnowledgeArticle, error) {
	const q = `
		SELECT id, tenant_id, title, storage_url, content_type, status, version, created_at, updated_at
		FROM knowledge_articles WHERE id = $1
	`
	var a models.KnowledgeArticle
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID, &a.TenantID, &a.Title, &a.StorageURL, &a.ContentType, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PgStore) ListArticlesByTenant(ctx context.Context, tenantID string) ([]models.KnowledgeArticle, error) {
	const q = `
		SELECT id, tenant_id, title, storage_url, content_type, status, version, created_at, updated_at
		FROM knowledge_articles WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeArticle
	for rows.Next() {
		var a models.KnowledgeArticle
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Title, &a.StorageURL, &a.ContentType, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateArticleStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE knowledge_articles SET status = $2, updated_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, id, status)
	return err
}

func (s *PgStore) InsertKnowledgeChunks(ctx context.Context, chunks []models.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO knowledge_chunks (id, article_id, position, text, token_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`
	for _, ch := range chunks {
		if _, err := tx.ExecContext(ctx, q,
			ch.ID, ch.ArticleID, ch.Position, ch.Text, ch.TokenCount, pgvector.NewVector(ch.Embedding), ch.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Retrieval sources

// SearchVector runs cosine similarity over ready articles for the tenant.
// Scores are 1 - cosine distance, higher is better.
func (s *PgStore) SearchVector(ctx context.Context, vec []float32, topK int, f core.RetrievalFilters) ([]core.SourceHit, error) {
	const q = `
		SELECT c.article_id, a.title, a.version, c.text, 1 - (c.embedding <=> $1) AS score
		FROM knowledge_chunks c
		JOIN knowledge_articles a ON a.id = c.article_id
		WHERE a.tenant_id = $2 AND a.status = 'ready'
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(vec), f.TenantID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

// SearchText runs Postgres full-text ranking over the same corpus.
func (s *PgStore) SearchText(ctx context.Context, query string, topK int, f core.RetrievalFilters) ([]core.SourceHit, error) {
	const q = `
		SELECT c.article_id, a.title, a.version, c.text,
		       ts_rank(c.tsv, plainto_tsquery('english', $1)) AS score
		FROM knowledge_chunks c
		JOIN knowledge_articles a ON a.id = c.article_id
		WHERE a.tenant_id = $2 AND a.status = 'ready'
		  AND c.tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, query, f.TenantID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

// Related walks knowledge_links outward from articles whose titles match
// the seed entity values, up to depth hops, decaying score per hop.
func (s *PgStore) Related(ctx context.Context, entityValues []string, depth, topK int, f core.RetrievalFilters) ([]core.SourceHit, error) {
	if len(entityValues) == 0 {
		return nil, nil
	}
	const q = `
		WITH RECURSIVE seeds AS (
			SELECT id, 0 AS hop, 1.0::float8 AS score
			FROM knowledge_articles
			WHERE tenant_id = $2 AND status = 'ready' AND title ILIKE ANY($1)
			UNION ALL
			SELECT l.to_article, s.hop + 1, s.score * l.weight * 0.5
			FROM knowledge_links l
			JOIN seeds s ON s.id = l.from_article
			WHERE s.hop < $3
		)
		SELECT a.id, a.title, a.version,
		       (SELECT c.text FROM knowledge_chunks c WHERE c.article_id = a.id ORDER BY c.position LIMIT 1),
		       MAX(s.score) AS score
		FROM seeds s
		JOIN knowledge_articles a ON a.id = s.id
		WHERE s.hop > 0
		GROUP BY a.id, a.title, a.version
		ORDER BY score DESC
		LIMIT $4
	`
	patterns := make([]string, len(entityValues))
	for i, v := range entityValues {
		patterns[i] = "%" + v + "%"
	}
	rows, err := s.db.QueryContext(ctx, q, patterns, f.TenantID, depth, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows *sql.Rows) ([]core.SourceHit, error) {
	var out []core.SourceHit
	for rows.Next() {
		var (
			h       core.SourceHit
			snippet sql.NullString
		)
		if err := rows.Scan(&h.DocID, &h.Title, &h.Version, &snippet, &h.Score); err != nil {
			return nil, err
		}
		h.Snippet = snippet.String
		out = append(out, h)
	}
	return out, rows.Err()
}
