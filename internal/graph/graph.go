// Package graph runs tasks in dependency order on a bounded worker pool.
//
// Nodes are added with AddNode and ordered with AddEdge(from, to), meaning
// "to depends on from". A failing node skips only the nodes that depend on
// it, directly or transitively; unrelated nodes keep running.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Task is the work attached to a node
type Task func(ctx context.Context) error

// State is the lifecycle state of a node
type State int32

const (
	Pending State = iota
	Queued
	Running
	Done
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Graph is a set of nodes and their dependencies. Safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

type node struct {
	id   string
	task Task

	// deps are the nodes this one waits for, dependents wait for this one
	deps       map[string]*node
	dependents map[string]*node

	depCount atomic.Int32
	state    atomic.Int32
	err      error
	cause    string
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a node. Adding an existing id is an error.
func (g *Graph) AddNode(id string, task Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("duplicate node: %s", id)
	}

	g.nodes[id] = &node{
		id:         id,
		task:       task,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}

	return nil
}

// AddEdge makes toID depend on fromID
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	to.deps[fromID] = from
	from.dependents[toID] = to

	return nil
}

// Has reports whether id is a node of the graph
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[id]

	return ok
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// IDs returns all node ids, sorted
func (g *Graph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return sortedKeys(g.nodes)
}

// Dependencies returns the sorted ids id depends on
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted ids that depend on id
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	return sortedKeys(n.dependents), nil
}

// DetectCycles returns an error naming a node on a cycle, if there is one
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// depth-first search; temporary marks the current path
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}

		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true

		for _, id := range sortedKeys(n.dependents) {
			if err := visit(n.dependents[id]); err != nil {
				return err
			}
		}

		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	for _, id := range sortedKeys(g.nodes) {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
