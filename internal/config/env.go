package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	Port         string
	JWTSecret    string
	RedisURL     string
	EscalationCh string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey      string
	EmbedModel    string
	EmbedDim      int
	OpenAIBaseURL string
	OpenAIKey     string

	// FallbackChain is the ordered provider/model list, e.g.
	// "gemini:gemini-1.5-flash,openai:gpt-4o-mini".
	FallbackChain string

	// Policy constants. Configurable per design; the defaults below are
	// starting points, not tuned values.
	EscalationThreshold float64
	TargetConfidence    float64
	EmotionIntensity    float64
	EmotionStreak       int
	IntentAmbiguityGap  float64

	ProcessCeiling    time.Duration
	ExtractDeadline   time.Duration
	RetrievalDeadline time.Duration
	SourceTimeout     time.Duration

	ContextWindow     int
	CitationLimit     int
	VectorWeight      float64
	FullTextWeight    float64
	GraphWeight       float64
	GraphDepth        int

	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerCooldownCap time.Duration

	InactivityTimeout time.Duration
	RetentionWindow   time.Duration
	SweepInterval     time.Duration
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EscalationCh: getEnv("ESCALATION_CHANNEL", "relaydesk.escalations"),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "relaydesk-knowledge"),

		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),

		FallbackChain: getEnv("FALLBACK_CHAIN", "gemini:gemini-1.5-flash,openai:gpt-4o-mini"),

		EscalationThreshold: getEnvFloat("ESCALATION_THRESHOLD", 0.7),
		TargetConfidence:    getEnvFloat("TARGET_CONFIDENCE", 0.8),
		EmotionIntensity:    getEnvFloat("EMOTION_INTENSITY_TRIGGER", 0.8),
		EmotionStreak:       getEnvInt("EMOTION_STREAK", 2),
		IntentAmbiguityGap:  getEnvFloat("INTENT_AMBIGUITY_GAP", 0.15),

		ProcessCeiling:    getEnvDur("PROCESS_CEILING", 5*time.Second),
		ExtractDeadline:   getEnvDur("EXTRACT_DEADLINE", 2*time.Second),
		RetrievalDeadline: getEnvDur("RETRIEVAL_DEADLINE", 800*time.Millisecond),
		SourceTimeout:     getEnvDur("SOURCE_TIMEOUT", 600*time.Millisecond),

		ContextWindow:  getEnvInt("CONTEXT_WINDOW", 20),
		CitationLimit:  getEnvInt("CITATION_LIMIT", 5),
		VectorWeight:   getEnvFloat("VECTOR_WEIGHT", 0.5),
		FullTextWeight: getEnvFloat("FULLTEXT_WEIGHT", 0.3),
		GraphWeight:    getEnvFloat("GRAPH_WEIGHT", 0.2),
		GraphDepth:     getEnvInt("GRAPH_DEPTH", 2),

		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:    getEnvDur("BREAKER_COOLDOWN", 60*time.Second),
		BreakerCooldownCap: getEnvDur("BREAKER_COOLDOWN_CAP", 16*60*time.Second),

		InactivityTimeout: getEnvDur("INACTIVITY_TIMEOUT", 30*time.Minute),
		RetentionWindow:   getEnvDur("RETENTION_WINDOW", 30*24*time.Hour),
		SweepInterval:     getEnvDur("SWEEP_INTERVAL", time.Minute),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// ChainEntries parses FallbackChain into (provider, model) pairs.
func (c *Config) ChainEntries() [][2]string {
	var out [][2]string
	for _, part := range strings.Split(c.FallbackChain, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pm := strings.SplitN(part, ":", 2)
		if len(pm) != 2 {
			log.Printf("WARN: skipping malformed chain entry %q", part)
			continue
		}
		out = append(out, [2]string{pm[0], pm[1]})
	}
	return out
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDur(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
