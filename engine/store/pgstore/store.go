// Package pgstore archives the engine's canonical state in PostgreSQL. The
// in-memory engine is authoritative at runtime; the archive is the durable
// record batches are written through to.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/ingest"
)

// Store persists batches to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool and ensures the schema exists.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// NewWithPool wraps an existing pool without running migrations. Used by
// integration tests that manage schema themselves.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// migrate creates the archive tables.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS equipment (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		tag TEXT NOT NULL,
		type TEXT,
		description TEXT,
		manufacturer TEXT,
		model_number TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS equipment_aliases (
		equipment_id TEXT NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
		project TEXT NOT NULL,
		alias TEXT NOT NULL,
		source_doc TEXT,
		confidence DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project, alias)
	);

	CREATE TABLE IF NOT EXISTS equipment_relationships (
		id TEXT NOT NULL,
		project TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		type TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		attrs JSONB,
		document_id TEXT,
		page_number INT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project, source_id, target_id, type)
	);

	CREATE TABLE IF NOT EXISTS equipment_facts (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		equipment_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		source_location TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_equipment_project ON equipment(project);
	CREATE INDEX IF NOT EXISTS idx_aliases_equipment ON equipment_aliases(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_rel_source ON equipment_relationships(project, source_id);
	CREATE INDEX IF NOT EXISTS idx_rel_target ON equipment_relationships(project, target_id);
	CREATE INDEX IF NOT EXISTS idx_facts_equipment ON equipment_facts(project, equipment_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// ArchiveBatch writes one applied ingestion batch in a single pipelined
// round trip. Equipment and aliases upsert, relationships upsert with the
// same confidence guard the engine applies, facts append.
func (s *Store) ArchiveBatch(ctx context.Context, set ingest.ArchiveSet) error {
	b := &pgx.Batch{}

	for _, eq := range set.Equipment {
		b.Queue(`INSERT INTO equipment (id, project, tag, type, description, manufacturer, model_number, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				tag = EXCLUDED.tag,
				type = EXCLUDED.type,
				description = EXCLUDED.description,
				manufacturer = EXCLUDED.manufacturer,
				model_number = EXCLUDED.model_number,
				updated_at = EXCLUDED.updated_at`,
			eq.ID, eq.Project, eq.Tag, eq.Type, eq.Description,
			eq.Manufacturer, eq.ModelNumber, eq.CreatedAt, eq.UpdatedAt)
	}

	for _, a := range set.Aliases {
		b.Queue(`INSERT INTO equipment_aliases (equipment_id, project, alias, source_doc, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (project, alias) DO UPDATE SET
				equipment_id = EXCLUDED.equipment_id,
				source_doc = EXCLUDED.source_doc,
				confidence = EXCLUDED.confidence
			WHERE EXCLUDED.confidence >= equipment_aliases.confidence`,
			a.EquipmentID, set.Project, a.Alias, a.SourceDoc, a.Confidence, a.CreatedAt)
	}

	for _, e := range set.Edges {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("marshal edge attrs: %w", err)
		}
		b.Queue(`INSERT INTO equipment_relationships (id, project, source_id, target_id, type, category, confidence, attrs, document_id, page_number, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (project, source_id, target_id, type) DO UPDATE SET
				category = EXCLUDED.category,
				confidence = GREATEST(equipment_relationships.confidence, EXCLUDED.confidence),
				attrs = EXCLUDED.attrs,
				document_id = EXCLUDED.document_id,
				page_number = EXCLUDED.page_number,
				updated_at = EXCLUDED.updated_at
			WHERE EXCLUDED.confidence >= equipment_relationships.confidence`,
			e.ID, set.Project, e.Source, e.Target, string(e.Type), string(e.Category),
			e.Confidence, attrs, e.DocumentID, e.PageNumber, e.CreatedAt, e.UpdatedAt)
	}

	for _, f := range set.Facts {
		payload, err := json.Marshal(f.Payload)
		if err != nil {
			return fmt.Errorf("marshal fact payload: %w", err)
		}
		b.Queue(`INSERT INTO equipment_facts (id, project, equipment_id, type, payload, source_location, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			f.ID, set.Project, f.EquipmentID, string(f.Type), payload, f.SourceLocation, f.CreatedAt)
	}

	if b.Len() == 0 {
		return nil
	}
	return s.pool.SendBatch(ctx, b).Close()
}

// DeleteProject removes the archived rows of a project. Alias rows cascade
// from equipment; relationships and facts are removed explicitly.
func (s *Store) DeleteProject(ctx context.Context, project string) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM equipment_facts WHERE project = $1`, project)
	b.Queue(`DELETE FROM equipment_relationships WHERE project = $1`, project)
	b.Queue(`DELETE FROM equipment WHERE project = $1`, project)
	return s.pool.SendBatch(ctx, b).Close()
}

// Projects lists the distinct projects in the archive.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project FROM equipment ORDER BY project`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// LoadEquipment reads a project's archived equipment rows.
func (s *Store) LoadEquipment(ctx context.Context, project string) ([]domain.Equipment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, project, tag, type, description, manufacturer, model_number, created_at, updated_at
		FROM equipment WHERE project = $1 ORDER BY tag`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Equipment
	for rows.Next() {
		var eq domain.Equipment
		if err := rows.Scan(&eq.ID, &eq.Project, &eq.Tag, &eq.Type, &eq.Description,
			&eq.Manufacturer, &eq.ModelNumber, &eq.CreatedAt, &eq.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

// LoadAliases reads a project's archived aliases grouped by equipment ID.
func (s *Store) LoadAliases(ctx context.Context, project string) (map[string][]domain.Alias, error) {
	rows, err := s.pool.Query(ctx, `SELECT equipment_id, alias, source_doc, confidence, created_at
		FROM equipment_aliases WHERE project = $1 ORDER BY equipment_id, alias`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.Alias)
	for rows.Next() {
		var a domain.Alias
		if err := rows.Scan(&a.EquipmentID, &a.Alias, &a.SourceDoc, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, err
		}
		out[a.EquipmentID] = append(out[a.EquipmentID], a)
	}
	return out, rows.Err()
}

// LoadEdges reads a project's archived relationships.
func (s *Store) LoadEdges(ctx context.Context, project string) ([]domain.Edge, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, project, source_id, target_id, type, category, confidence, attrs, document_id, page_number, created_at, updated_at
		FROM equipment_relationships WHERE project = $1 ORDER BY source_id, target_id, type`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Edge
	for rows.Next() {
		var (
			e     domain.Edge
			attrs []byte
		)
		if err := rows.Scan(&e.ID, &e.Project, &e.Source, &e.Target, &e.Type, &e.Category,
			&e.Confidence, &attrs, &e.DocumentID, &e.PageNumber, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
				return nil, fmt.Errorf("unmarshal edge attrs: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts reports archived row counts for a project.
func (s *Store) Counts(ctx context.Context, project string) (equipment, edges, facts int64, err error) {
	row := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM equipment WHERE project = $1),
		(SELECT count(*) FROM equipment_relationships WHERE project = $1),
		(SELECT count(*) FROM equipment_facts WHERE project = $1)`, project)
	err = row.Scan(&equipment, &edges, &facts)
	return
}

var _ ingest.Archiver = (*Store)(nil)
