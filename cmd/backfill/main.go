// Command backfill rebuilds the Neo4j mirror from the Postgres archive.
// Run it after a mirror wipe or when mirroring was disabled while batches
// were ingested. Replays are idempotent: nodes and relationships merge, and
// relationship confidence only moves upward.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/graph"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/store/pgstore"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		project    = flag.String("project", "", "replay a single project (default: all)")
		wipe       = flag.Bool("wipe", false, "delete mirrored project data before replaying")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	archive, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer archive.Close()

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
	mirror := graph.New(driver)

	projects := []string{*project}
	if *project == "" {
		projects, err = archive.Projects(ctx)
		if err != nil {
			log.Error("list projects failed", "error", err)
			os.Exit(1)
		}
	}
	if len(projects) == 0 {
		log.Info("archive is empty, nothing to replay")
		return
	}

	for _, p := range projects {
		if ctx.Err() != nil {
			log.Warn("interrupted", "error", ctx.Err())
			os.Exit(1)
		}
		if err := replayProject(ctx, archive, mirror, p, *wipe, log); err != nil {
			log.Error("replay failed", "project", p, "error", err)
			os.Exit(1)
		}
	}
	log.Info("backfill complete", "projects", len(projects))
}

// replayProject mirrors one project's archived equipment, aliases and edges.
func replayProject(ctx context.Context, archive *pgstore.Store, mirror *graph.GraphStore, project string, wipe bool, log *slog.Logger) error {
	equipment, err := archive.LoadEquipment(ctx, project)
	if err != nil {
		return err
	}
	aliases, err := archive.LoadAliases(ctx, project)
	if err != nil {
		return err
	}
	edges, err := archive.LoadEdges(ctx, project)
	if err != nil {
		return err
	}

	if wipe {
		if err := mirror.DeleteProject(ctx, project); err != nil {
			return err
		}
		log.Info("wiped mirrored project", "project", project)
	}

	// Nodes carry their alias lists, so they go one at a time; edges get
	// source and target tags resolved from the equipment rows.
	tagByID := make(map[string]string, len(equipment))
	for _, eq := range equipment {
		tagByID[eq.ID] = eq.Tag
		if err := mirror.SaveEquipment(ctx, eq, aliases[eq.ID]); err != nil {
			return err
		}
	}
	for _, e := range edges {
		tags := relation.EdgeTags{SourceTag: tagByID[e.Source], TargetTag: tagByID[e.Target]}
		if err := mirror.SaveEdge(ctx, tags, e); err != nil {
			return err
		}
	}

	nodes, err := mirror.NodeCounts(ctx, project)
	if err != nil {
		return err
	}
	rels, err := mirror.RelationshipCounts(ctx, project)
	if err != nil {
		return err
	}
	log.Info("project replayed",
		"project", project,
		"equipment", len(equipment),
		"edges", len(edges),
		"mirrored_node_types", len(nodes),
		"mirrored_rel_types", len(rels),
	)
	return nil
}
