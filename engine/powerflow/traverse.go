// Package powerflow answers supply-chain questions over the relationship
// store: what feeds a piece of equipment, what it feeds in turn, and the
// single dominant power chain through it. Traversal is breadth-first,
// depth-bounded and cycle-safe.
package powerflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
)

// DefaultMaxDepth bounds traversal cost on dense graphs.
const DefaultMaxDepth = 10

// Node is one discovered equipment in a traversal tree, reported once at its
// minimum discovery depth with the attributes of the edge that reached it.
type Node struct {
	EquipmentID string          `json:"equipment_id"`
	Tag         string          `json:"tag"`
	Type        string          `json:"type,omitempty"`
	Depth       int             `json:"depth"`
	Via         domain.EdgeType `json:"via"`
	Confidence  float64         `json:"confidence"`
	Voltage     string          `json:"voltage,omitempty"`
	Breaker     string          `json:"breaker,omitempty"`
	WireSize    string          `json:"wire_size,omitempty"`
	Load        string          `json:"load,omitempty"`
}

// Result is a full bidirectional power-flow answer for one equipment.
type Result struct {
	EquipmentID     string `json:"equipment_id"`
	Tag             string `json:"tag"`
	Upstream        []Node `json:"upstream_tree"`
	Downstream      []Node `json:"downstream_tree"`
	TotalUpstream   int    `json:"total_upstream"`
	TotalDownstream int    `json:"total_downstream"`
	MaxDepth        int    `json:"max_depth"`
}

// downstreamOut edge types carry supply away from the source when stored in
// the outgoing direction; downstreamIn are their stored inverses.
var (
	downstreamOut = map[domain.EdgeType]bool{
		domain.EdgeFeeds: true, domain.EdgeControls: true, domain.EdgeDrives: true,
	}
	downstreamIn = map[domain.EdgeType]bool{
		domain.EdgeFedBy: true, domain.EdgeControlledBy: true, domain.EdgeDrivenBy: true,
	}
)

// Engine walks the relationship store outward from a resolved equipment.
type Engine struct {
	reg   *registry.Registry
	res   *resolver.Resolver
	edges *relation.Store
}

func New(reg *registry.Registry, res *resolver.Resolver, edges *relation.Store) *Engine {
	return &Engine{reg: reg, res: res, edges: edges}
}

// PowerFlow traverses upstream and downstream from the equipment named by
// tag. maxDepth <= 0 selects DefaultMaxDepth. The start tag must resolve to
// known equipment; an unknown tag is an error, not an empty tree.
func (e *Engine) PowerFlow(ctx context.Context, project, tag string, maxDepth int) (Result, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	id, ok := e.res.Lookup(project, tag)
	if !ok {
		return Result{}, fmt.Errorf("power flow for %q: %w", tag, domain.ErrUnknownEquipment)
	}
	eq, err := e.reg.Get(project, id)
	if err != nil {
		return Result{}, err
	}

	// One snapshot serves both directions so the answer reflects a single
	// consistent graph state.
	snap := e.edges.Snapshot(project)

	down, err := e.walk(ctx, project, id, snap, maxDepth, false)
	if err != nil {
		return Result{}, err
	}
	up, err := e.walk(ctx, project, id, snap, maxDepth, true)
	if err != nil {
		return Result{}, err
	}

	return Result{
		EquipmentID:     id,
		Tag:             eq.Tag,
		Upstream:        up,
		Downstream:      down,
		TotalUpstream:   len(up),
		TotalDownstream: len(down),
		MaxDepth:        maxDepth,
	}, nil
}

// step is one frontier entry during BFS.
type step struct {
	id   string
	edge domain.Edge
}

// walk runs a breadth-first expansion in one direction. Each node is visited
// once at its minimum depth; among equal-depth discoveries the
// highest-confidence edge supplies the attributes. Cancellation is honoured
// between depth levels and discards the partial tree.
func (e *Engine) walk(ctx context.Context, project, start string, snap relation.Snapshot, maxDepth int, upstream bool) ([]Node, error) {
	visited := map[string]bool{start: true}
	nodes := make([]Node, 0)
	frontier := []string{start}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Collect the best discovery edge per newly seen neighbor.
		discovered := make(map[string]domain.Edge)
		for _, id := range frontier {
			for _, st := range neighbors(snap, id, upstream) {
				if visited[st.id] {
					continue
				}
				cur, ok := discovered[st.id]
				if !ok || st.edge.Confidence > cur.Confidence {
					discovered[st.id] = st.edge
				}
			}
		}

		level := make([]Node, 0, len(discovered))
		next := make([]string, 0, len(discovered))
		for id, edge := range discovered {
			visited[id] = true
			next = append(next, id)
			n := Node{
				EquipmentID: id,
				Depth:       depth,
				Via:         edge.Type,
				Confidence:  edge.Confidence,
				Voltage:     edge.Attrs.Voltage,
				Breaker:     edge.Attrs.Breaker,
				WireSize:    edge.Attrs.WireSize,
				Load:        edge.Attrs.Load,
			}
			if eq, err := e.reg.Get(project, id); err == nil {
				n.Tag = eq.Tag
				n.Type = eq.Type
			}
			level = append(level, n)
		}
		sort.Slice(level, func(i, j int) bool {
			if level[i].Confidence != level[j].Confidence {
				return level[i].Confidence > level[j].Confidence
			}
			return level[i].Tag < level[j].Tag
		})
		nodes = append(nodes, level...)
		frontier = next
	}
	return nodes, nil
}

// neighbors lists the equipment one hop away in the requested direction.
// Both storage directions are considered: X feeds Y may be recorded as an
// outgoing feeds edge on X or an outgoing fed_by edge on Y.
func neighbors(snap relation.Snapshot, id string, upstream bool) []step {
	outClass, inClass := downstreamOut, downstreamIn
	if upstream {
		outClass, inClass = downstreamIn, downstreamOut
	}
	var steps []step
	for _, e := range snap.Out[id] {
		if outClass[e.Type] {
			steps = append(steps, step{id: e.Target, edge: e})
		}
	}
	for _, e := range snap.In[id] {
		if inClass[e.Type] {
			steps = append(steps, step{id: e.Source, edge: e})
		}
	}
	return steps
}

// ChainLink is one hop of a single power chain.
type ChainLink struct {
	EquipmentID string          `json:"equipment_id"`
	Tag         string          `json:"tag"`
	Via         domain.EdgeType `json:"via,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
	Voltage     string          `json:"voltage,omitempty"`
	Breaker     string          `json:"breaker,omitempty"`
}

// PowerChain walks the single dominant supply path from the equipment named
// by tag, following the highest-confidence edge at each hop. upstream walks
// toward the source of supply, otherwise toward the loads. The chain starts
// with the equipment itself and stops at maxDepth hops, at a dead end, or
// when the path would revisit a node.
func (e *Engine) PowerChain(ctx context.Context, project, tag string, maxDepth int, upstream bool) ([]ChainLink, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	id, ok := e.res.Lookup(project, tag)
	if !ok {
		return nil, fmt.Errorf("power chain for %q: %w", tag, domain.ErrUnknownEquipment)
	}
	eq, err := e.reg.Get(project, id)
	if err != nil {
		return nil, err
	}
	snap := e.edges.Snapshot(project)

	chain := []ChainLink{{EquipmentID: id, Tag: eq.Tag}}
	seen := map[string]bool{id: true}
	cur := id
	for hop := 0; hop < maxDepth; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var best *step
		for _, st := range neighbors(snap, cur, upstream) {
			if seen[st.id] {
				continue
			}
			if best == nil || st.edge.Confidence > best.edge.Confidence {
				s := st
				best = &s
			}
		}
		if best == nil {
			break
		}
		link := ChainLink{
			EquipmentID: best.id,
			Via:         best.edge.Type,
			Confidence:  best.edge.Confidence,
			Voltage:     best.edge.Attrs.Voltage,
			Breaker:     best.edge.Attrs.Breaker,
		}
		if neq, err := e.reg.Get(project, best.id); err == nil {
			link.Tag = neq.Tag
		}
		chain = append(chain, link)
		seen[best.id] = true
		cur = best.id
	}
	return chain, nil
}
