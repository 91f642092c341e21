// Package board owns the physical layout and live droplet registry of a
// digital microfluidics chip: a core.Graph of addressable cells, each
// cell's actuator metadata (pin id, heater presence), and the set of
// droplets currently Real on the board. It enforces the one invariant
// that makes every other package's job possible — no two droplets from
// different collision groups ever occupy cells within Chebyshev distance
// 1 of each other — and exposes a single, optional suspension point
// (Wait) that a visualizer or test harness can hook into between physical
// steps.
package board

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmfcore/puddle/core"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
)

// NodeMeta describes the fixed actuator hardware at one board cell.
type NodeMeta struct {
	// PinID is the electrode control pin driving this cell. Cells sharing
	// no electrode hardware at all (never present in the board
	// description) simply have no corresponding graph vertex.
	PinID int
	// Heater reports whether this cell has a heating element.
	Heater bool
}

// ErrUnknownCell is returned when an operation references a board
// location that has no corresponding graph vertex.
var ErrUnknownCell = errors.New("board: unknown cell")

// ErrDropletNotFound is returned when an operation references a droplet
// the board has no record of.
var ErrDropletNotFound = errors.New("board: droplet not registered")

// CollisionError reports that two droplets from different collision
// groups would end up (or already are) within Chebyshev distance 1 of
// one another, violating the board's fundamental safety invariant.
type CollisionError struct {
	A, B  droplet.ID
	CellA grid.Location
	CellB grid.Location
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("board: collision between %s at %s and %s at %s", e.A, e.CellA, e.B, e.CellB)
}

// Barrier is an optional observer hook a Board calls at every physical
// step boundary (Wait). A visualizer or a test wanting to single-step
// execution implements Barrier and installs it via SetBarrier; a Board
// with no Barrier installed runs uninterrupted.
type Barrier interface {
	Wait() error
}

// Board is the physical chip: an addressable cell graph plus the
// droplets currently occupying it.
type Board struct {
	g    *core.Graph
	meta map[grid.Location]NodeMeta

	droplets map[droplet.ID]*droplet.Droplet

	barrier Barrier
}

// New wraps an already-built cell graph (typically produced by
// boardfile.Load) and per-cell metadata into a Board.
func New(g *core.Graph, meta map[grid.Location]NodeMeta) *Board {
	if meta == nil {
		meta = make(map[grid.Location]NodeMeta)
	}
	return &Board{
		g:        g,
		meta:     meta,
		droplets: make(map[droplet.ID]*droplet.Droplet),
	}
}

// Graph returns the board's underlying cell graph, for use by placer and
// router.
func (b *Board) Graph() *core.Graph { return b.g }

// HasCell reports whether loc corresponds to a present board cell.
func (b *Board) HasCell(loc grid.Location) bool {
	return b.g.HasVertex(loc.String())
}

// Meta returns the actuator metadata for loc, and whether loc is a known
// cell at all (absent cells report ok=false).
func (b *Board) Meta(loc grid.Location) (NodeMeta, bool) {
	m, ok := b.meta[loc]
	return m, ok
}

// SetBarrier installs (or, with nil, removes) the board's step observer.
func (b *Board) SetBarrier(bar Barrier) { b.barrier = bar }

// Wait is called by Execution after every physical step (a single router
// hop, a mix-loop tick, a split-line tick). It first checks the collision
// invariant and returns any CollisionError, then calls the installed
// Barrier, if any. It is the only suspension point in the board's
// otherwise synchronous execution model.
func (b *Board) Wait() error {
	if err := b.CheckCollisions(); err != nil {
		return err
	}
	if b.barrier == nil {
		return nil
	}
	return b.barrier.Wait()
}

// Droplets returns all droplets currently registered as Real on the
// board, sorted by ID for deterministic iteration.
func (b *Board) Droplets() []*droplet.Droplet {
	out := make([]*droplet.Droplet, 0, len(b.droplets))
	for _, d := range b.droplets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetAt returns the droplets whose footprint currently covers loc.
func (b *Board) GetAt(loc grid.Location) []*droplet.Droplet {
	var out []*droplet.Droplet
	for _, d := range b.Droplets() {
		for _, c := range d.Cells() {
			if c == loc {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Add materializes d at anchor and registers it with the board. It
// re-checks the collision invariant afterward and, if violated, rolls
// the registration back and returns the CollisionError.
func (b *Board) Add(d *droplet.Droplet, anchor grid.Location) error {
	for _, cell := range d.Shape().At(anchor) {
		if !b.HasCell(cell) {
			return fmt.Errorf("%w: %s", ErrUnknownCell, cell)
		}
	}
	if err := d.Materialize(anchor); err != nil {
		return err
	}
	b.droplets[d.ID()] = d
	if err := b.CheckCollisions(); err != nil {
		delete(b.droplets, d.ID())
		return err
	}
	return nil
}

// Remove consumes d and unregisters it from the board.
func (b *Board) Remove(d *droplet.Droplet) error {
	if _, ok := b.droplets[d.ID()]; !ok {
		return ErrDropletNotFound
	}
	if err := d.Consume(); err != nil {
		return err
	}
	delete(b.droplets, d.ID())
	return nil
}

// CheckCollisions scans every pair of registered droplets and returns a
// CollisionError for the first pair found from different collision
// groups occupying cells within Chebyshev distance 1 of each other.
// Complexity: O(R^2) in the number of registered droplets, each
// comparison O(|shape A| * |shape B|).
func (b *Board) CheckCollisions() error {
	ds := b.Droplets()
	for i := 0; i < len(ds); i++ {
		for j := i + 1; j < len(ds); j++ {
			a, c := ds[i], ds[j]
			if a.Group() == c.Group() {
				continue
			}
			for _, ca := range a.Cells() {
				for _, cb := range c.Cells() {
					if ca.AdjacentOrSame(cb) {
						return &CollisionError{A: a.ID(), B: c.ID(), CellA: ca, CellB: cb}
					}
				}
			}
		}
	}
	return nil
}
