package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/conversagent/orchestrator/internal/adapter"
	"github.com/conversagent/orchestrator/internal/agentgraph"
	"github.com/conversagent/orchestrator/internal/config"
	"github.com/conversagent/orchestrator/internal/handler"
	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/middleware"
	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/repository"
	"github.com/conversagent/orchestrator/internal/router"
	"github.com/conversagent/orchestrator/internal/service"
	"github.com/conversagent/orchestrator/internal/workflow"
)

const Version = "0.1.0"

func getPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	if cfg.APIPort != 0 {
		return fmt.Sprintf("%d", cfg.APIPort)
	}
	return "8080"
}

func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var h slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// buildDocStore selects the HTTP-backed knowledge API or a local pgvector
// store per DOC_BACKEND, returning the optional pool so main can close it
// on shutdown.
func buildDocStore(ctx context.Context, cfg *config.Config) (adapter.DocStore, *pgxpool.Pool, error) {
	if cfg.DocBackend != "pgvector" {
		return adapter.NewHTTPDocStore(cfg.KnowledgeAPIURL, cfg.KnowledgeAPIKey, time.Duration(cfg.KnowledgeTimeout)*time.Second), nil, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, 10)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pgvector pool: %w", err)
	}
	embedder := repository.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, time.Duration(cfg.KnowledgeTimeout)*time.Second)
	return repository.NewVectorDocStore(pool, embedder), pool, nil
}

// buildGraphStore selects the HTTP-backed LightRAG service or a local
// Neo4j-backed store per GRAPH_BACKEND, returning the optional driver so
// main can close it on shutdown.
func buildGraphStore(ctx context.Context, cfg *config.Config) (adapter.GraphStore, neo4j.DriverWithContext, error) {
	if cfg.GraphBackend != "neo4j" {
		return adapter.NewGraphRAGAdapter(cfg.LightRAGAPIURL, cfg.LightRAGAPIKey, time.Duration(cfg.LightRAGTimeout)*time.Second), nil, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("connect neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return repository.NewNeo4jGraphStore(driver), driver, nil
}

// buildCheckpointStore selects an in-memory or Redis-backed checkpoint
// store per CHECKPOINT_BACKEND, returning the optional client so main can
// close it on shutdown.
func buildCheckpointStore(cfg *config.Config) (agentgraph.CheckpointStore, *redis.Client) {
	if cfg.CheckpointBackend != "redis" {
		return agentgraph.NewMemoryCheckpointStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	return agentgraph.NewRedisCheckpointStore(client, 24*time.Hour), client
}

// buildAuthService constructs a Firebase-backed AuthService when
// FIREBASE_PROJECT_ID is configured. Returns nil, nil otherwise, leaving
// the router to fall back to InternalSecretGate alone.
func buildAuthService(ctx context.Context, cfg *config.Config) (*service.AuthService, error) {
	if cfg.FirebaseProjectID == "" {
		return nil, nil
	}

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	authClient, err := fbApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth client: %w", err)
	}
	return service.NewAuthService(authClient), nil
}

// app bundles every long-lived resource the server owns, so run() can
// close them in the right order on shutdown.
type app struct {
	router *chi.Mux
	chat   *adapter.ChatAdapter
	pool   *pgxpool.Pool
	neo4j  neo4j.DriverWithContext
	redis  *redis.Client
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	chatAdapter, err := adapter.NewChatAdapter(ctx, cfg.VertexProjectID, cfg.VertexLocation, cfg.VertexModel, time.Duration(cfg.RequestTimeout)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("build chat adapter: %w", err)
	}
	webSearch := adapter.NewWebSearchAdapter(cfg.SearchEngineURL, cfg.SearchEngineAPIKey, time.Duration(cfg.SearchTimeout)*time.Second)

	docStore, pool, err := buildDocStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	docRetrieval := adapter.NewDocRetrievalAdapter(docStore)

	graphStore, neoDriver, err := buildGraphStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	breakers := isolation.NewBreakers()
	breakers.Chat.OnTrip(metrics.IncrementCircuitBreakerTrip)
	breakers.Search.OnTrip(metrics.IncrementCircuitBreakerTrip)
	breakers.Doc.OnTrip(metrics.IncrementCircuitBreakerTrip)
	breakers.Graph.OnTrip(metrics.IncrementCircuitBreakerTrip)

	engine := workflow.NewEngine(chatAdapter, webSearch, docRetrieval, graphStore, breakers)

	agentDeps := func(token string, candidateKBs []string) *agentgraph.Deps {
		return &agentgraph.Deps{
			Chat:         chatAdapter,
			WebSearch:    webSearch,
			DocRetrieval: docRetrieval,
			GraphRAG:     graphStore,
			Breakers:     breakers,
			CandidateKBs: candidateKBs,
			Token:        token,
		}
	}

	checkpoints, redisClient := buildCheckpointStore(cfg)

	store := orchestrator.NewStore()
	locks := isolation.NewConversationLocks()
	rateLimiter := isolation.NewRateLimiter(isolation.RateLimiterConfig{
		MaxRequests:     100,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	})

	var dbPinger handler.DBPinger
	if pool != nil {
		dbPinger = pool
	}

	authService, err := buildAuthService(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := router.New(&router.Dependencies{
		DB:                 dbPinger,
		FrontendURL:        cfg.FrontendURL,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         reg,
		InternalAuthSecret: cfg.InternalAuthSecret,
		AuthService:        authService,
		Conversation: handler.ConversationDeps{
			Store:       store,
			Engine:      engine,
			AgentDeps:   agentDeps,
			Locks:       locks,
			RateLimiter: rateLimiter,
			Checkpoints: checkpoints,
		},
		HealthV1: handler.HealthV1Deps{
			DB:       dbPinger,
			Breakers: breakers,
			Version:  Version,
		},
	})

	return &app{router: r, chat: chatAdapter, pool: pool, neo4j: neoDriver, redis: redisClient}, nil
}

func (a *app) Close(ctx context.Context) {
	if a.chat != nil {
		a.chat.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.neo4j != nil {
		a.neo4j.Close(ctx)
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)

	ctx := context.Background()
	application, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	port := getPort(cfg)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      application.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the SSE stream endpoint needs an unbounded write deadline
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator starting", "version", Version, "port", port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	application.Close(shutdownCtx)

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
