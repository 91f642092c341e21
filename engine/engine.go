// Package engine queues commands lazily and runs them against a board
// only on demand: Enqueue appends to a FIFO pending list without
// touching the board at all, and Flush (the whole queue) or FlushFor
// (everything a single droplet transitively depends on) is what
// actually calls execution.Run. Between enqueue and flush, a command's
// output droplets sit Virtual; the engine's dependency graph — an edge
// from the command that produced a droplet to every command that later
// consumes it — is what lets a partial flush run only the commands a
// particular droplet actually needs. dfs.TopologicalSort confirms the
// graph is acyclic, and the commands then run in enqueue order.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/command"
	"github.com/dmfcore/puddle/core"
	"github.com/dmfcore/puddle/dfs"
	"github.com/dmfcore/puddle/distmatrix"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/execution"
)

// ErrUnknownDroplet is returned by FlushFor when no pending command
// produces the requested droplet.
var ErrUnknownDroplet = errors.New("engine: droplet not produced by any pending command")

// FlushError wraps the command and underlying error a flush stopped on.
// Every command enqueued before the failing one has already run and
// stays run; everything from the failing command onward remains
// pending so the caller can fix the board state and retry.
type FlushError struct {
	Command command.Command
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("engine: flush stopped at %s: %v", e.Command, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// outputs extracts the droplets a command produces (or, for a Move,
// relocates) by concrete type, mirroring the type switch execution.Run
// uses to apply a command's domain-specific behavior.
func outputs(cmd command.Command) []*droplet.Droplet {
	switch c := cmd.(type) {
	case *command.Input:
		return []*droplet.Droplet{c.Output}
	case *command.Move:
		return []*droplet.Droplet{c.Droplet}
	case *command.Mix:
		return []*droplet.Droplet{c.Output}
	case *command.Split:
		return []*droplet.Droplet{c.OutputA, c.OutputB}
	default:
		return nil
	}
}

// entry tracks one pending command along with the stable node id it is
// given in the dependency graph built at Validate/Flush time.
type entry struct {
	id  string
	cmd command.Command
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger installs a structured logger an Engine reports flush
// activity to. The default, when no WithLogger option is given, is
// slog.Default() — every Engine logs something, just to the program's
// existing handler unless told otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine holds commands queued against a board but not yet executed.
// Queuing never touches the board; only Flush and FlushFor do.
type Engine struct {
	board *board.Board
	table *distmatrix.Table
	log   *slog.Logger

	pending []entry
	nextID  int

	// producedBy maps a droplet to the pending entry id of the command
	// that will produce it, so a later command's Inputs() can be traced
	// back to its dependency.
	producedBy map[droplet.ID]string
}

// New creates an Engine bound to b, using table as the router's
// distance heuristic for every command it flushes (nil falls back to
// Manhattan distance throughout, same as execution.Run).
func New(b *board.Board, table *distmatrix.Table, opts ...Option) *Engine {
	e := &Engine{
		board:      b,
		table:      table,
		log:        slog.Default(),
		producedBy: make(map[droplet.ID]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue appends cmd to the pending queue. It does not run cmd or
// touch the board; cmd's output droplets remain Virtual until a flush
// reaches them.
func (e *Engine) Enqueue(cmd command.Command) {
	id := fmt.Sprintf("c%d", e.nextID)
	e.nextID++
	e.pending = append(e.pending, entry{id: id, cmd: cmd})
	for _, d := range outputs(cmd) {
		e.producedBy[d.ID()] = id
	}
}

// Pending reports how many commands are queued but not yet run.
func (e *Engine) Pending() int { return len(e.pending) }

// dependencyGraph builds a directed core.Graph over the given entries,
// walking them in queue order: an edge to each entry from the latest
// earlier entry that produces (or, for a Move, relocates) one of its
// inputs. An input with no earlier pending producer (it already ran in
// an earlier flush, came from outside the engine entirely, or is only
// produced by a later entry) simply has no incoming edge.
func dependencyGraph(entries []entry) (*core.Graph, error) {
	g := core.NewGraph(core.WithDirected(true))
	byID := make(map[droplet.ID]string, len(entries))
	for _, en := range entries {
		if err := g.AddVertex(en.id); err != nil {
			return nil, err
		}
		for _, in := range en.cmd.Inputs() {
			producer, ok := byID[in.ID()]
			if !ok {
				continue
			}
			if !g.HasEdge(producer, en.id) {
				if _, err := g.AddEdge(producer, en.id, 0); err != nil {
					return nil, err
				}
			}
		}
		for _, d := range outputs(en.cmd) {
			byID[d.ID()] = en.id
		}
	}
	return g, nil
}

// reverseGraph returns a copy of g with every edge's direction flipped,
// used by FlushFor to walk from a droplet's producing command back
// through everything it depends on via dfs.DFS.
func reverseGraph(g *core.Graph) (*core.Graph, error) {
	rg := core.NewGraph(core.WithDirected(true))
	for _, v := range g.Vertices() {
		if err := rg.AddVertex(v); err != nil {
			return nil, err
		}
	}
	for _, v := range g.Vertices() {
		edges, err := g.Neighbors(v)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.From != v {
				continue
			}
			if rg.HasEdge(e.To, e.From) {
				continue
			}
			if _, err := rg.AddEdge(e.To, e.From, 0); err != nil {
				return nil, err
			}
		}
	}
	return rg, nil
}

// CycleError reports that the pending queue's dependency graph contains
// one or more cycles, each named by the command ids that form it.
// Validate returns this instead of the bare dfs.ErrCycleDetected so
// callers can see exactly which commands are involved.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("engine: dependency cycle detected: %v", e.Cycles)
}

func (e *CycleError) Unwrap() error { return dfs.ErrCycleDetected }

// Validate reports whether the dependency graph of the currently
// pending queue is acyclic. dependencyGraph only links a command to
// producers enqueued before it, so a queue built through Enqueue never
// contains a cycle; Validate gives callers (and tests) an explicit,
// named check rather than relying on that invariant implicitly. It does
// not report a command whose input is produced only by a later pending
// command: such an input has no dependency edge at all. Unlike Flush,
// which only needs to know whether an order exists, Validate uses
// dfs.DetectCycles so a cycle (were one ever to occur) names the
// offending commands instead of just failing to sort.
func (e *Engine) Validate() error {
	g, err := dependencyGraph(e.pending)
	if err != nil {
		return err
	}
	hasCycle, cycles, err := dfs.DetectCycles(g)
	if err != nil {
		return err
	}
	if hasCycle {
		return &CycleError{Cycles: cycles}
	}
	_, err = dfs.TopologicalSort(g)
	return err
}

// Flush runs every pending command against the bound board, in
// dependency order, and clears the queue as each one succeeds. If a
// command fails, Flush stops and returns a FlushError; commands before
// the failure keep their effects, commands from the failure onward
// remain pending.
func (e *Engine) Flush() error {
	e.log.Info("engine: flush starting", "pending", len(e.pending))
	order, err := e.topoOrder(e.pending)
	if err != nil {
		e.log.Error("engine: flush ordering failed", "error", err)
		return err
	}
	err = e.runAndRemove(order)
	if err != nil {
		e.log.Warn("engine: flush stopped early", "error", err, "remaining", len(e.pending))
		return err
	}
	e.log.Info("engine: flush complete", "ran", len(order))
	return nil
}

// FlushFor runs only the pending commands d transitively depends on —
// the command that produces d, and every command that in turn produces
// one of that command's inputs, and so on — in dependency order, and
// removes exactly those from the queue. Pending commands unrelated to
// d are left queued. Returns ErrUnknownDroplet if no pending command
// produces d (it may already be Real from an earlier flush, or belong
// to a different engine entirely).
func (e *Engine) FlushFor(d *droplet.Droplet) error {
	rootID, ok := e.producedBy[d.ID()]
	if !ok {
		return ErrUnknownDroplet
	}
	g, err := dependencyGraph(e.pending)
	if err != nil {
		return err
	}
	rg, err := reverseGraph(g)
	if err != nil {
		return err
	}

	needed := make(map[string]struct{})
	_, err = dfs.DFS(rg, rootID, dfs.WithOnVisit(func(id string) error {
		needed[id] = struct{}{}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("engine: FlushFor: collecting dependencies of %s: %w", d.ID(), err)
	}

	subset := make([]entry, 0, len(needed))
	for _, en := range e.pending {
		if _, in := needed[en.id]; in {
			subset = append(subset, en)
		}
	}

	e.log.Info("engine: flushing for droplet", "droplet", d.ID(), "commands", len(subset))
	order, err := e.topoOrder(subset)
	if err != nil {
		e.log.Error("engine: flushFor ordering failed", "droplet", d.ID(), "error", err)
		return err
	}
	if err := e.runAndRemove(order); err != nil {
		e.log.Warn("engine: flushFor stopped early", "droplet", d.ID(), "error", err)
		return err
	}
	return nil
}

// topoOrder returns the run order for entries: their enqueue order,
// once dfs.TopologicalSort has confirmed that their dependency graph is
// acyclic. dependencyGraph only links an entry to producers enqueued
// before it, so enqueue (FIFO) order is always a valid dependency order.
func (e *Engine) topoOrder(entries []entry) ([]entry, error) {
	g, err := dependencyGraph(entries)
	if err != nil {
		return nil, err
	}
	if _, err := dfs.TopologicalSort(g); err != nil {
		return nil, err
	}
	out := make([]entry, len(entries))
	copy(out, entries)
	return out, nil
}

// runAndRemove executes order's commands one at a time and drops each
// from the pending queue as it succeeds; on the first failure it stops
// and leaves the remainder (including the failing command) pending.
func (e *Engine) runAndRemove(order []entry) error {
	remove := make(map[string]struct{}, len(order))
	for _, en := range order {
		if err := execution.Run(e.board, e.table, en.cmd); err != nil {
			e.drop(remove)
			return &FlushError{Command: en.cmd, Err: err}
		}
		remove[en.id] = struct{}{}
	}
	e.drop(remove)
	return nil
}

func (e *Engine) drop(ids map[string]struct{}) {
	kept := e.pending[:0]
	for _, en := range e.pending {
		if _, gone := ids[en.id]; gone {
			continue
		}
		kept = append(kept, en)
	}
	e.pending = kept
	for d, id := range e.producedBy {
		if _, gone := ids[id]; gone {
			delete(e.producedBy, d)
		}
	}
}

// PendingIDs returns the internal node ids of the currently queued
// commands, sorted, for tests wanting a deterministic view of what
// remains after a partial flush.
func (e *Engine) PendingIDs() []string {
	out := make([]string, len(e.pending))
	for i, en := range e.pending {
		out[i] = en.id
	}
	sort.Strings(out)
	return out
}
