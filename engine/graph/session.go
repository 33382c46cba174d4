// Package graph mirrors the engine's canonical state into Neo4j so that
// drawing-aware query tooling can run Cypher over the equipment graph. The
// in-memory engine remains the source of truth; the mirror is write-behind.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CypherResult is the subset of the driver result used by this package.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs statements inside a transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is the subset of a Neo4j session the store needs. Tests
// substitute mocks; production wraps a real driver session.
type CypherSession interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener creates sessions on demand.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// driverOpener adapts a real Neo4j driver to SessionOpener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o driverOpener) OpenSession(ctx context.Context) CypherSession {
	return driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return driverResult{res: res}, nil
}

func (s driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx: tx})
	})
}

func (s driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return driverResult{res: res}, nil
}

type driverResult struct {
	res neo4j.ResultWithContext
}

func (r driverResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r driverResult) Record() *neo4j.Record         { return r.res.Record() }
func (r driverResult) Err() error                    { return r.res.Err() }
