// Command api serves the equipment knowledge graph engine over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/graph"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/ingest"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/powerflow"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/profile"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/store/pgstore"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/config"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mets := metrics.New()

	reg := registry.New()
	res := resolver.New(reg, resolver.Config{
		AcceptThreshold: cfg.ResolverThreshold,
		TieMargin:       cfg.ResolverTieMargin,
	}, logger).WithMetrics(mets)
	edges := relation.NewStore()
	profiles := profile.NewStore()
	flow := powerflow.New(reg, res, edges)

	deps := ingest.Deps{
		Registry: reg,
		Resolver: res,
		Edges:    edges,
		Profiles: profiles,
		Metrics:  mets,
		Logger:   logger,
	}

	var mirror *graph.GraphStore
	if cfg.MirrorGraph {
		neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer neo4jDriver.Close(ctx)
		mirror = graph.New(neo4jDriver)
		deps.Mirror = mirror
	}

	var archive *pgstore.Store
	if cfg.ArchiveBatch && cfg.DatabaseURL != "" {
		var err error
		archive, err = pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres archive: %w", err)
		}
		defer archive.Close()
		deps.Archiver = archive
	}

	coord := ingest.NewCoordinator(deps)

	app := &app{
		registry: reg,
		resolver: res,
		edges:    edges,
		profiles: profiles,
		flow:     flow,
		coord:    coord,
		mirror:   mirror,
		archive:  archive,
		maxDepth: cfg.TraversalMaxDepth,
		metrics:  mets,
		log:      logger,
	}

	mux := app.routes()
	mux.Handle("GET /metrics", promhttp.HandlerFor(mets.Prometheus(), promhttp.HandlerOpts{}))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.Metrics(mets.HTTPRequestsTotal, mets.HTTPDuration),
		mid.OTel("ekg-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
