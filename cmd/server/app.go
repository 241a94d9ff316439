package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/config"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/embedding"
	"github.com/Ankitmohanty2/Kagaz/internal/llm"
	"github.com/Ankitmohanty2/Kagaz/internal/lock"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/observability"
	"github.com/Ankitmohanty2/Kagaz/internal/parsing"
	"github.com/Ankitmohanty2/Kagaz/internal/rag"
)

// app holds the pipeline shared by every subcommand.
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	store        db.DB
	loader       *parsing.Loader
	locker       lock.Locker
	retriever    *rag.Retriever
	generator    *llm.Generator
	orchestrator *chat.Orchestrator

	closers []func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, observability.InitOTel(ctx, log, cfg.Telemetry, cfg.Server.Mode))

	a.store, err = db.Open(cfg.Database, cfg.Embedding.Dimensions)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		rl, err := lock.NewRedisLocker(log, cfg.Redis.Addr, time.Duration(cfg.Redis.LockTTLSecs)*time.Second)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rl.Close() })
		locker = rl
	}
	a.locker = locker

	splitter := parsing.NewSplitter(
		parsing.WithChunkSize(cfg.Ingest.ChunkSize),
		parsing.WithOverlap(cfg.Ingest.ChunkOverlap),
	)
	a.loader = parsing.NewLoader(log, time.Duration(cfg.Ingest.FetchTimeout)*time.Second, cfg.Ingest.MaxPDFBytes, nil, splitter)
	a.retriever = rag.NewRetriever(log, a.store, a.store, a.loader, newEmbedder(log, cfg), locker, rag.Options{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
	})

	client := llm.NewOpenAIClient(cfg.LLM.Endpoint, cfg.LLM.APIKey)
	if cfg.LLM.Temperature != 0 {
		temperature := cfg.LLM.Temperature
		client.Temperature = &temperature
	}
	a.generator = llm.NewGenerator(log, client, llm.GeneratorConfig{
		Models:        cfg.Models(),
		Timeout:       time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		StreamTimeout: time.Duration(cfg.LLM.StreamTimeoutSecs) * time.Second,
	})
	a.orchestrator = chat.NewOrchestrator(log, a.retriever, a.generator, a.store, a.store, cfg.Retrieval.TopK)
	return a, nil
}

func newEmbedder(log *logger.Logger, cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.Provider == "hash" {
		log.Warn("using hash embeddings; retrieval quality is for development only")
		return embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}
	return embedding.NewOpenAIEmbedder(log, embedding.OpenAIConfig{
		Endpoint:          cfg.Embedding.Endpoint,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Embedding.MaxRetries,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	a.log.Sync()
	return errors.Join(errs...)
}
