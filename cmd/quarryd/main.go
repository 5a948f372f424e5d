// Command quarryd runs the Quarry RAG server: the HTTP API, the Postgres-backed
// event bus with its pipeline, lifecycle, and chat consumers, and the WebSocket
// hub for streaming events to clients.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quarryworks/quarry/internal/api"
	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/chat"
	"github.com/quarryworks/quarry/internal/config"
	"github.com/quarryworks/quarry/internal/db"
	"github.com/quarryworks/quarry/internal/db/migrations"
	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/lifecycle"
	"github.com/quarryworks/quarry/internal/pipeline"
	"github.com/quarryworks/quarry/internal/storage"
	"github.com/quarryworks/quarry/internal/store"
	"github.com/quarryworks/quarry/internal/ws"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("invalid log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if err := run(log, cfg); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(log *logrus.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		return err
	}

	if err := db.EnsureVectorDimensions(ctx, pool, log, cfg.EmbeddingDimensions); err != nil {
		return err
	}

	objects, err := storage.NewFilesystem(cfg.StorageDir)
	if err != nil {
		return err
	}

	base := store.Base{Pool: pool, Log: log}
	workspaces := store.NewWorkspaceStore(base)
	documents := store.NewDocumentStore(base)
	chunks := store.NewChunkStore(base)
	vectors := store.NewVectorStore(base)
	graph := store.NewGraphStore(base)
	configs := store.NewConfigStore(base)
	chats := store.NewChatStore(base)
	snapshots := store.NewSnapshotCache(ctx, configs)

	registry := capability.NewRegistry()
	registry.SetParser(capability.NewTextParser())
	registry.RegisterEmbedder("ollama", capability.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel))
	registry.RegisterExtractor("cooccurrence", capability.NewCooccurrenceExtractor())
	registry.RegisterDetector("label_propagation", capability.NewLabelPropagationDetector())
	registry.SetVectorStore(vectors)
	registry.SetGraphStore(graph)
	registry.SetLlm(capability.NewOllamaLLM(cfg.OllamaURL, cfg.LLMModel))

	hub := ws.NewHub(log)

	pipe := &pipeline.Pipeline{
		Docs:              documents,
		Chunks:            chunks,
		Snapshots:         snapshots,
		Registry:          registry,
		Objects:           objects,
		Log:               log,
		StageTimeout:      cfg.StageTimeout,
		HybridJoinTimeout: cfg.HybridJoinTimeout,
	}

	pgBus := bus.NewPG(pool, log, bus.PGOptions{
		MaxAttempts: cfg.BusMaxAttempts,
		Concurrency: cfg.BusConcurrency,
		// The stage timeout plus slack for claim bookkeeping.
		HandlerTimeout: cfg.StageTimeout + 30*time.Second,
		// Token frames must hit the hub in publish order.
		OrderedTopics: bus.ChatStreamTopics,
		OnFailure:     pipe.OnFailure,
	})
	pipe.Bus = pgBus

	manager := &lifecycle.Manager{
		Workspaces: workspaces,
		Snapshots:  snapshots,
		Vector:     vectors,
		Graph:      graph,
		Objects:    objects,
		Bus:        pgBus,
		Log:        log,
	}

	orchestrator := chat.NewOrchestrator(chats, snapshots, registry, pgBus, log)
	forwarder := &ws.Forwarder{Hub: hub, Bus: pgBus}

	// All subscriptions must land before the bus starts claiming.
	pipe.Register()
	manager.Register()
	orchestrator.Register()
	forwarder.Register()

	bridge := db.NewNotifyBridge(log, pool, pgBus, hub)
	if err := bridge.Start(ctx); err != nil {
		return err
	}

	router := api.NewRouter(ctx, &api.RouterDeps{
		Log:            log,
		Pool:           pool,
		Hub:            hub,
		Bus:            pgBus,
		Objects:        objects,
		Workspaces:     workspaces,
		Documents:      documents,
		Config:         configs,
		Chats:          chats,
		CORSOrigins:    cfg.CORSOrigins,
		Version:        version,
		OllamaURL:      cfg.OllamaURL,
		EmbeddingModel: cfg.EmbeddingModel,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)

		return nil
	})

	g.Go(func() error {
		pgBus.Run(gctx)

		return nil
	})

	g.Go(func() error {
		pipe.RunReaper(gctx)

		return nil
	})

	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":    cfg.Addr(),
			"version": version,
		}).Info("quarryd listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http server shutdown")
		}

		hub.Shutdown()

		return nil
	})

	return g.Wait()
}
