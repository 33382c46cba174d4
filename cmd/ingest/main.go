// Command ingest runs the batch ingestion worker. Batches arrive over NATS
// from document processors; a directory of batch JSON files can also be
// replayed, which is how drawing sets exported offline get loaded.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/graph"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/ingest"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/profile"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/store/pgstore"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/config"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/resilience"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dataDir    = flag.String("dir", "", "directory of batch JSON files to replay")
		interval   = flag.Duration("interval", 30*time.Second, "directory scan interval")
		stateFile  = flag.String("state", "", "processed files state (defaults to <dir>/.ingest-state.json)")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mets := metrics.New()
	reg := registry.New()
	res := resolver.New(reg, resolver.Config{
		AcceptThreshold: cfg.ResolverThreshold,
		TieMargin:       cfg.ResolverTieMargin,
	}, log).WithMetrics(mets)

	deps := ingest.Deps{
		Registry: reg,
		Resolver: res,
		Edges:    relation.NewStore(),
		Profiles: profile.NewStore(),
		Metrics:  mets,
		Logger:   log,
	}

	if cfg.MirrorGraph {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			log.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Error("neo4j verify failed", "error", err)
			os.Exit(1)
		}
		log.Info("connected to Neo4j")
		deps.Mirror = ingest.NewGuardedMirror(
			graph.New(driver),
			resilience.NewBreaker(resilience.DefaultBreakerOpts),
			resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.MirrorRate, Burst: cfg.MirrorBurst}),
		)
	}

	if cfg.ArchiveBatch && cfg.DatabaseURL != "" {
		archive, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres archive connect failed", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		log.Info("connected to Postgres archive")
		deps.Archiver = archive
	}

	coord := ingest.NewCoordinator(deps)

	// Replay mode: scan a directory of exported batch files.
	if *dataDir != "" {
		state := *stateFile
		if state == "" {
			state = filepath.Join(*dataDir, ".ingest-state.json")
		}
		runDirWatcher(ctx, coord, *dataDir, state, *interval, log)
		return
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ekg-ingest"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, coord, log)
	if err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	log.Info("ingest worker started", "subject", ingest.BatchSubject, "nats", cfg.NATSURL)
	<-ctx.Done()
	log.Info("shutting down")
}

// runDirWatcher scans dir for *.json batch files and ingests new ones. A
// file is marked processed only when its batch applied without a batch-level
// error, so transient failures retry on the next scan.
func runDirWatcher(ctx context.Context, coord *ingest.Coordinator, dir, stateFile string, interval time.Duration, log *slog.Logger) {
	processed := loadState(stateFile)
	os.MkdirAll(dir, 0o755)
	log.Info("watching for batch files", "dir", dir, "interval", interval)

	scan := func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Error("readdir failed", "error", err)
			return
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name()[0] == '.' {
				continue
			}
			info, _ := e.Info()
			key := e.Name()
			if info != nil {
				key = fmt.Sprintf("%s:%d", e.Name(), info.Size())
			}
			if processed[key] {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := processFile(ctx, coord, path, log); err != nil {
				log.Warn("file had errors, will retry on next scan", "file", e.Name(), "error", err)
				continue
			}
			processed[key] = true
			saveState(stateFile, processed)
		}
	}

	scan()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// processFile reads one or more JSON-encoded batches from a file and
// ingests them in order.
func processFile(ctx context.Context, coord *ingest.Coordinator, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	n := 0
	for dec.More() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var batch ingest.Batch
		if err := dec.Decode(&batch); err != nil {
			return fmt.Errorf("decode batch %d: %w", n, err)
		}
		report, err := coord.IngestBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("batch %d: %w", n, err)
		}
		log.Info("batch ingested",
			"file", filepath.Base(path),
			"project", report.Project,
			"created", len(report.Created),
			"matched", len(report.Matched),
			"failures", len(report.Failures),
		)
		n++
	}
	if n == 0 {
		return fmt.Errorf("no batches decoded from %s", path)
	}
	return nil
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
