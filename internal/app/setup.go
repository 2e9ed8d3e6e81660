package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nourly/nourly/db"
	"github.com/nourly/nourly/internal/chat"
	"github.com/nourly/nourly/internal/config"
	"github.com/nourly/nourly/internal/embedding"
	"github.com/nourly/nourly/internal/knowledge"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/matcher"
	"github.com/nourly/nourly/internal/memory"
	"github.com/nourly/nourly/internal/observability"
	"github.com/nourly/nourly/internal/rag"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so its
	// TracerProvider picks up the span processor.
	a.otelCleanup = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, err := embedding.NewGenkitClient(provideEmbedder(g, cfg))
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	docStore, err := knowledge.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}

	memStore, err := memory.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	memManager, err := memory.NewManager(memStore, nil, memory.Config{
		SummaryThreshold: cfg.SummaryThreshold,
		ContextWindow:    cfg.ContextWindow,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory manager: %w", err)
	}

	entryStore, err := matcher.NewStore(pool)
	if err != nil {
		return nil, fmt.Errorf("creating entry store: %w", err)
	}

	chunker := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	retriever := rag.NewRetriever(embedder, docStore, cfg.SimilarityThreshold, cfg.RetrievalLimit, logger)
	a.Indexer = rag.NewIndexer(chunker, embedder, docStore, logger)

	generator, err := chat.NewGenkitGenerator(g, cfg.FullModelName())
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel
	a.wg = &sync.WaitGroup{}

	engine, err := chat.New(chat.Config{
		Retriever:     retriever,
		Corpus:        docStore,
		Memory:        memManager,
		Entries:       entryStore,
		Matcher:       matcher.New(rand.New(rand.NewSource(time.Now().UnixNano())), logger),
		Generator:     generator,
		Logger:        logger,
		Temperature:   float64(cfg.Temperature),
		MaxTokens:     cfg.MaxTokens,
		BackgroundCtx: bgCtx,
		WG:            a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}
	a.Engine = engine

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	connURL := cfg.ConnString()
	if err := db.Migrate(connURL, logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := db.Open(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration, there is no discovery.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Ollama keys embedders by server address, gemini by model.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	if cfg.Provider == config.ProviderOllama {
		return ollama.Embedder(g, cfg.OllamaHost)
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}
