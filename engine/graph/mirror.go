package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
)

// GraphStore writes equipment and relationships to Neo4j.
type GraphStore struct {
	opener SessionOpener
}

// New creates a GraphStore backed by a real Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{opener: driverOpener{driver: driver}}
}

// NewWithOpener creates a GraphStore with a custom session opener.
func NewWithOpener(opener SessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// SaveEquipment creates or updates an Equipment node with its alias list.
func (g *GraphStore) SaveEquipment(ctx context.Context, eq domain.Equipment, aliases []domain.Alias) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Equipment {id: $id}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    eq.ID,
		"props": equipmentToMap(eq, aliases),
	})
	return err
}

// SaveEdge creates or updates a relationship between two equipment nodes.
// Confidence only moves upward; the stored value is kept when the incoming
// one is lower, matching the engine's upsert guard.
func (g *GraphStore) SaveEdge(ctx context.Context, tags relation.EdgeTags, e domain.Edge) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:Equipment {id: $source}), (b:Equipment {id: $target})
		 MERGE (a)-[r:%s]->(b)
		 SET r.confidence = CASE
		       WHEN r.confidence IS NULL OR r.confidence <= $confidence
		       THEN $confidence ELSE r.confidence END,
		     r += $props`,
		sanitizeRelType(string(e.Type)),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"source":     e.Source,
		"target":     e.Target,
		"confidence": e.Confidence,
		"props":      edgeToMap(tags, e),
	})
	return err
}

// SaveBatch mirrors a set of equipment and edges in one transaction.
func (g *GraphStore) SaveBatch(ctx context.Context, equipment []domain.Equipment, edges []domain.Edge) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		for _, eq := range equipment {
			cypher := `MERGE (n:Equipment {id: $id}) SET n += $props`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id":    eq.ID,
				"props": equipmentToMap(eq, nil),
			}); err != nil {
				return nil, err
			}
		}
		for _, e := range edges {
			cypher := fmt.Sprintf(
				`MATCH (a:Equipment {id: $source}), (b:Equipment {id: $target})
				 MERGE (a)-[r:%s]->(b)
				 SET r.confidence = CASE
				       WHEN r.confidence IS NULL OR r.confidence <= $confidence
				       THEN $confidence ELSE r.confidence END,
				     r += $props`,
				sanitizeRelType(string(e.Type)),
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"source":     e.Source,
				"target":     e.Target,
				"confidence": e.Confidence,
				"props":      edgeToMap(relation.EdgeTags{}, e),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// DeleteProject removes every node and relationship mirrored for a project.
func (g *GraphStore) DeleteProject(ctx context.Context, project string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Equipment {project: $project}) DETACH DELETE n`
	_, err := sess.Run(ctx, cypher, map[string]any{"project": project})
	return err
}

// NodeCounts returns mirrored node counts grouped by equipment type.
func (g *GraphStore) NodeCounts(ctx context.Context, project string) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Equipment {project: $project})
	           RETURN n.type AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, map[string]any{"project": project})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// RelationshipCounts returns mirrored relationship counts grouped by type.
func (g *GraphStore) RelationshipCounts(ctx context.Context, project string) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Equipment {project: $project})-[r]->()
	           RETURN type(r) AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, map[string]any{"project": project})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// equipmentToMap flattens an equipment and its aliases into node properties.
func equipmentToMap(eq domain.Equipment, aliases []domain.Alias) map[string]any {
	props := map[string]any{
		"project": eq.Project,
		"tag":     eq.Tag,
		"type":    eq.Type,
	}
	if eq.Description != "" {
		props["description"] = eq.Description
	}
	if eq.Manufacturer != "" {
		props["manufacturer"] = eq.Manufacturer
	}
	if eq.ModelNumber != "" {
		props["model_number"] = eq.ModelNumber
	}
	if len(aliases) > 0 {
		names := make([]string, len(aliases))
		for i, a := range aliases {
			names[i] = a.Alias
		}
		props["aliases"] = names
	}
	return props
}

// edgeToMap flattens edge attributes into relationship properties.
func edgeToMap(tags relation.EdgeTags, e domain.Edge) map[string]any {
	props := map[string]any{
		"category": string(e.Category),
	}
	if tags.SourceTag != "" {
		props["source_tag"] = tags.SourceTag
	}
	if tags.TargetTag != "" {
		props["target_tag"] = tags.TargetTag
	}
	if e.DocumentID != "" {
		props["document_id"] = e.DocumentID
	}
	if e.Attrs.Voltage != "" {
		props["voltage"] = e.Attrs.Voltage
	}
	if e.Attrs.Breaker != "" {
		props["breaker"] = e.Attrs.Breaker
	}
	if e.Attrs.WireSize != "" {
		props["wire_size"] = e.Attrs.WireSize
	}
	if e.Attrs.Load != "" {
		props["load"] = e.Attrs.Load
	}
	if e.Attrs.SignalType != "" {
		props["signal_type"] = e.Attrs.SignalType
	}
	if e.Attrs.Medium != "" {
		props["medium"] = e.Attrs.Medium
	}
	if e.Attrs.PipeSize != "" {
		props["pipe_size"] = e.Attrs.PipeSize
	}
	return props
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return strings.ToUpper(string(safe))
}
