package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Environment string
	Debug       bool
	LogLevel    string
	LogFormat   string
	APIHost     string
	APIPort     int

	// Chat model (Vertex AI Gemini).
	VertexProjectID string
	VertexLocation  string
	VertexModel     string

	// OpenAI-compatible embeddings endpoint, used by the pgvector doc
	// backend's query embedder (OpenAIModel is the embedding model).
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature float64
	OpenAIMaxTokens   int

	// Document-retrieval adapter.
	DocBackend       string // "http" | "pgvector"
	KnowledgeAPIURL  string
	KnowledgeAPIKey  string
	KnowledgeTimeout int

	// Graph-RAG adapter.
	GraphBackend       string // "http" | "neo4j"
	LightRAGAPIURL     string
	LightRAGAPIKey     string
	LightRAGTimeout    int
	LightRAGDefaultMode string

	// Web search adapter.
	SearchEngineAPIKey string
	SearchEngineURL    string
	SearchTimeout      int
	SearchMaxResults   int

	// Postgres (pgvector backend) / Neo4j (graph backend).
	DatabaseURL  string
	Neo4jURI     string
	Neo4jUser    string
	Neo4jPassword string

	// Redis (agent-mode checkpoint store, when CHECKPOINT_BACKEND=redis).
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	RedisTimeout  int
	CheckpointBackend string // "memory" | "redis"

	// Firebase (optional identity verification).
	FirebaseProjectID string

	// Execution shape.
	RequestTimeout     int
	StreamChunkSize    int
	MaxConcurrentTasks int

	// Ambient stack.
	FrontendURL        string
	CORSOrigins        string
	CORSMethods        string
	CORSHeaders        string
	InternalAuthSecret string
}

// Load reads configuration from environment variables. Optional variables
// use sensible defaults. Load returns an error when INTERNAL_AUTH_SECRET is
// empty outside the development environment, when a backend selector has
// an unknown value, when DOC_BACKEND=pgvector lacks DATABASE_URL, or when
// GRAPH_BACKEND=neo4j lacks NEO4J_URI.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: envStr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFormat:   envStr("LOG_FORMAT", "json"),
		APIHost:     envStr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", 8080),

		VertexProjectID: envStr("VERTEX_PROJECT_ID", ""),
		VertexLocation:  envStr("VERTEX_LOCATION", "global"),
		VertexModel:     envStr("VERTEX_AI_MODEL", "gemini-2.0-flash"),

		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:       envStr("OPENAI_MODEL", ""),
		OpenAITemperature: envFloat("OPENAI_TEMPERATURE", 0.5),
		OpenAIMaxTokens:   envInt("OPENAI_MAX_TOKENS", 2048),

		DocBackend:       envStr("DOC_BACKEND", "http"),
		KnowledgeAPIURL:  envStr("KNOWLEDGE_API_URL", ""),
		KnowledgeAPIKey:  envStr("KNOWLEDGE_API_KEY", ""),
		KnowledgeTimeout: envInt("KNOWLEDGE_TIMEOUT", 30),

		GraphBackend:        envStr("GRAPH_BACKEND", "http"),
		LightRAGAPIURL:      envStr("LIGHTRAG_API_URL", ""),
		LightRAGAPIKey:      envStr("LIGHTRAG_API_KEY", ""),
		LightRAGTimeout:     envInt("LIGHTRAG_TIMEOUT", 60),
		LightRAGDefaultMode: envStr("LIGHTRAG_DEFAULT_MODE", "mix"),

		SearchEngineAPIKey: envStr("SEARCH_ENGINE_API_KEY", ""),
		SearchEngineURL:    envStr("SEARCH_ENGINE_URL", ""),
		SearchTimeout:      envInt("SEARCH_TIMEOUT", 30),
		SearchMaxResults:   envInt("SEARCH_MAX_RESULTS", 5),

		DatabaseURL:   envStr("DATABASE_URL", ""),
		Neo4jURI:      envStr("NEO4J_URI", ""),
		Neo4jUser:     envStr("NEO4J_USER", ""),
		Neo4jPassword: envStr("NEO4J_PASSWORD", ""),

		RedisHost:         envStr("REDIS_HOST", "localhost"),
		RedisPort:         envInt("REDIS_PORT", 6379),
		RedisDB:           envInt("REDIS_DB", 0),
		RedisPassword:     envStr("REDIS_PASSWORD", ""),
		RedisTimeout:      envInt("REDIS_TIMEOUT", 5),
		CheckpointBackend: envStr("CHECKPOINT_BACKEND", "memory"),

		FirebaseProjectID: envStr("FIREBASE_PROJECT_ID", ""),

		RequestTimeout:     envInt("REQUEST_TIMEOUT", 120),
		StreamChunkSize:    envInt("STREAM_CHUNK_SIZE", 1024),
		MaxConcurrentTasks: envInt("MAX_CONCURRENT_TASKS", 3),

		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),
		CORSOrigins:        envStr("CORS_ORIGINS", ""),
		CORSMethods:        envStr("CORS_METHODS", "GET,POST,DELETE"),
		CORSHeaders:        envStr("CORS_HEADERS", "Content-Type,Authorization"),
		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}
	if cfg.DocBackend != "http" && cfg.DocBackend != "pgvector" {
		return nil, fmt.Errorf("config.Load: DOC_BACKEND must be http or pgvector, got %q", cfg.DocBackend)
	}
	if cfg.GraphBackend != "http" && cfg.GraphBackend != "neo4j" {
		return nil, fmt.Errorf("config.Load: GRAPH_BACKEND must be http or neo4j, got %q", cfg.GraphBackend)
	}
	if cfg.CheckpointBackend != "memory" && cfg.CheckpointBackend != "redis" {
		return nil, fmt.Errorf("config.Load: CHECKPOINT_BACKEND must be memory or redis, got %q", cfg.CheckpointBackend)
	}
	if cfg.DocBackend == "pgvector" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required when DOC_BACKEND=pgvector")
	}
	if cfg.GraphBackend == "neo4j" && cfg.Neo4jURI == "" {
		return nil, fmt.Errorf("config.Load: NEO4J_URI is required when GRAPH_BACKEND=neo4j")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
