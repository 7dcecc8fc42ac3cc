package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the final state of one node
type Outcome struct {
	ID    string
	State State
	Err   error

	// SkippedBy names the failed node that caused a skip
	SkippedBy string
}

// Report holds the outcome of every node after Run
type Report struct {
	Outcomes map[string]Outcome
}

// Failed returns the ids of nodes whose task failed, sorted
func (r *Report) Failed() []string {
	return r.withState(Failed)
}

// Skipped returns the ids of nodes skipped because a dependency failed, sorted
func (r *Report) Skipped() []string {
	return r.withState(Skipped)
}

// Succeeded returns the ids of nodes that completed, sorted
func (r *Report) Succeeded() []string {
	return r.withState(Done)
}

// Err joins the errors of all failed nodes in id order, or nil
func (r *Report) Err() error {
	var errs []error
	for _, id := range r.Failed() {
		errs = append(errs, r.Outcomes[id].Err)
	}

	return errors.Join(errs...)
}

func (r *Report) withState(s State) []string {
	ids := make([]string, 0)
	for id, o := range r.Outcomes {
		if o.State == s {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// Executor runs a graph on a pool of workers
type Executor struct {
	graph   *Graph
	workers int
	log     *zap.Logger

	wg sync.WaitGroup
}

// NewExecutor creates an executor. workers <= 0 uses GOMAXPROCS.
func NewExecutor(g *Graph, workers int, log *zap.Logger) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Executor{
		graph:   g,
		workers: workers,
		log:     log.Named("graph"),
	}
}

// Run executes every node once its dependencies are done. It returns an
// error only for an invalid graph or a cancelled context; task failures
// are reported per node in the Report.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	if err := e.graph.DetectCycles(); err != nil {
		return nil, err
	}

	e.graph.mu.RLock()
	nodes := make([]*node, 0, len(e.graph.nodes))
	for _, id := range sortedKeys(e.graph.nodes) {
		nodes = append(nodes, e.graph.nodes[id])
	}
	e.graph.mu.RUnlock()

	ready := make(chan *node, len(nodes))
	for _, n := range nodes {
		n.state.Store(int32(Pending))
		n.err = nil
		n.cause = ""
		n.depCount.Store(int32(len(n.deps)))
	}

	e.wg.Add(len(nodes))
	for _, n := range nodes {
		if n.depCount.Load() == 0 && n.state.CompareAndSwap(int32(Pending), int32(Queued)) {
			ready <- n
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i := range e.workers {
		eg.Go(func() error {
			e.worker(egCtx, ready, i)
			return nil
		})
	}

	e.wg.Wait()
	close(ready)
	_ = eg.Wait()

	report := &Report{Outcomes: make(map[string]Outcome, len(nodes))}
	for _, n := range nodes {
		report.Outcomes[n.id] = Outcome{
			ID:        n.id,
			State:     State(n.state.Load()),
			Err:       n.err,
			SkippedBy: n.cause,
		}
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("graph run interrupted: %w", err)
	}

	return report, nil
}

func (e *Executor) worker(ctx context.Context, ready chan *node, workerID int) {
	for n := range ready {
		log := e.log.With(zap.Int("worker", workerID), zap.String("node", n.id))

		if err := ctx.Err(); err != nil {
			n.err = err
			n.state.Store(int32(Failed))
			e.skipDependents(n, n.id)
			e.wg.Done()

			continue
		}

		n.state.Store(int32(Running))
		log.Debug("running node")

		var err error
		if n.task != nil {
			err = n.task(ctx)
		}

		if err != nil {
			log.Debug("node failed", zap.Error(err))
			n.err = err
			n.state.Store(int32(Failed))
			e.skipDependents(n, n.id)
			e.wg.Done()

			continue
		}

		n.state.Store(int32(Done))

		for _, id := range sortedKeys(n.dependents) {
			dep := n.dependents[id]
			if dep.depCount.Add(-1) == 0 && dep.state.CompareAndSwap(int32(Pending), int32(Queued)) {
				ready <- dep
			}
		}

		e.wg.Done()
	}
}

// skipDependents marks every node downstream of n as skipped
func (e *Executor) skipDependents(n *node, cause string) {
	for _, id := range sortedKeys(n.dependents) {
		dep := n.dependents[id]
		if !dep.state.CompareAndSwap(int32(Pending), int32(Skipped)) {
			continue
		}

		e.log.Debug("skipping node", zap.String("node", dep.id), zap.String("failed", cause))
		dep.cause = cause
		dep.err = fmt.Errorf("skipped due to upstream failure of '%s'", cause)
		e.wg.Done()
		e.skipDependents(dep, cause)
	}
}
