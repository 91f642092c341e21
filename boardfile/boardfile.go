// Package boardfile loads a board.Board from a plain-text description: one
// line per row, one whitespace-separated token per cell. A token is either
// a decimal pin id, the literal "a" (auto-assign the next free id), or "_"
// (no cell here — this position is not part of the chip). Short rows are
// right-padded with absent cells so the board is always rectangular.
// This is a standalone collaborator, not part of the core engine: it only
// depends on board, gridgraph, core, bfs, and dijkstra to turn text into a
// *board.Board, and never touches droplet, command, placer, router, or
// engine.
package boardfile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dmfcore/puddle/bfs"
	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/core"
	"github.com/dmfcore/puddle/dijkstra"
	"github.com/dmfcore/puddle/grid"
	"github.com/dmfcore/puddle/gridgraph"
)

const (
	autoToken   = "a"
	absentToken = "_"
)

// Sentinel errors wrapped by ArchitectureError.
var (
	// ErrEmptyBoard is returned when a description declares zero cells.
	ErrEmptyBoard = errors.New("boardfile: board has no cells")
	// ErrSparseIDs is returned when declared pin ids are not dense over
	// {0, ..., N-1}.
	ErrSparseIDs = errors.New("boardfile: pin ids are not dense")
	// ErrDuplicateID is returned when the same pin id is declared twice.
	ErrDuplicateID = errors.New("boardfile: duplicate pin id")
	// ErrDisconnectedBoard is returned when the cell graph is not a
	// single connected component.
	ErrDisconnectedBoard = errors.New("boardfile: board is not fully connected")
	// ErrInvalidToken is returned when a row contains something other
	// than a decimal id, "a", or "_".
	ErrInvalidToken = errors.New("boardfile: invalid cell token")
)

// ArchitectureError wraps one of the sentinels above with the detail that
// pinpoints the offending row, column, or id.
type ArchitectureError struct {
	Err    error
	Detail string
}

func (e *ArchitectureError) Error() string {
	return fmt.Sprintf("boardfile: %v (%s)", e.Err, e.Detail)
}

func (e *ArchitectureError) Unwrap() error { return e.Err }

// Load parses text into a *board.Board. Blank trailing newlines are
// ignored; an interior blank line is a row of entirely absent cells.
func Load(text string) (*board.Board, error) {
	rows := tokenizeRows(text)

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if len(rows) == 0 || width == 0 {
		return nil, &ArchitectureError{Err: ErrEmptyBoard, Detail: "no rows"}
	}

	values := make([][]int, len(rows))
	meta := make(map[grid.Location]board.NodeMeta)
	declared := make(map[int]grid.Location)
	nextAuto := 0
	maxID := -1

	for y, row := range rows {
		values[y] = make([]int, width)
		for x := 0; x < width; x++ {
			tok := absentToken
			if x < len(row) {
				tok = row[x]
			}

			id, isCell, err := resolveToken(tok, &nextAuto)
			if err != nil {
				return nil, &ArchitectureError{Err: err, Detail: fmt.Sprintf("row %d col %d: %q", y, x, tok)}
			}
			if !isCell {
				continue
			}
			loc := grid.Location{X: x, Y: y}
			if prev, dup := declared[id]; dup {
				return nil, &ArchitectureError{Err: ErrDuplicateID, Detail: fmt.Sprintf("pin %d at both %s and %s", id, prev, loc)}
			}
			declared[id] = loc
			if id > maxID {
				maxID = id
			}
			// Land threshold is 1; store id+1 so pin 0 still reads as land.
			values[y][x] = id + 1
			meta[loc] = board.NodeMeta{PinID: id}
		}
	}

	if len(declared) == 0 {
		return nil, &ArchitectureError{Err: ErrEmptyBoard, Detail: "no pins declared"}
	}
	for id := 0; id <= maxID; id++ {
		if _, ok := declared[id]; !ok {
			return nil, &ArchitectureError{Err: ErrSparseIDs, Detail: fmt.Sprintf("missing pin %d", id)}
		}
	}

	gg, err := gridgraph.NewGridGraph(values, gridgraph.DefaultGridOptions())
	if err != nil {
		return nil, &ArchitectureError{Err: err, Detail: "grid construction"}
	}
	g := gg.ToCoreGraph()
	removeAbsentCells(g, values, len(rows), width)

	if err := checkConnected(g, gg); err != nil {
		return nil, err
	}

	return board.New(g, meta), nil
}

// resolveToken classifies one cell token: (0, false, nil) for an absent
// cell, (id, true, nil) for a declared pin, or an error for garbage input.
// nextAuto is advanced past any id an "a" token or an explicit digit
// sequence claims, so later "a" tokens keep auto-assigning forward.
func resolveToken(tok string, nextAuto *int) (id int, isCell bool, err error) {
	switch {
	case tok == "" || tok == absentToken:
		return 0, false, nil
	case tok == autoToken:
		id = *nextAuto
		*nextAuto++
		return id, true, nil
	default:
		id, convErr := strconv.Atoi(tok)
		if convErr != nil || id < 0 {
			return 0, false, fmt.Errorf("%w: %q", ErrInvalidToken, tok)
		}
		if id >= *nextAuto {
			*nextAuto = id + 1
		}
		return id, true, nil
	}
}

// tokenizeRows splits text into whitespace-separated token rows, dropping
// all trailing newlines so a file ending in "\n" does not produce
// spurious empty final rows.
func tokenizeRows(text string) [][]string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = strings.Fields(line)
	}
	return rows
}

// removeAbsentCells deletes every vertex ToCoreGraph created for a water
// (value 0) cell: ToCoreGraph always builds one vertex per grid position
// regardless of LandThreshold, so the absent cells this loader represents
// as value 0 have to be pruned back out by hand.
func removeAbsentCells(g *core.Graph, values [][]int, height, width int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if values[y][x] == 0 {
				_ = g.RemoveVertex(grid.Location{X: x, Y: y}.String())
			}
		}
	}
}

// checkConnected verifies g is a single connected component by running
// bfs.BFS (on an unweighted view, since bfs rejects weighted graphs) from
// the lexicographically first vertex, then cross-checking the reachable
// count against dijkstra.Dijkstra run on g directly (already unit-weighted
// by ToCoreGraph), and finally against gg.ConnectedComponents() run on a
// land/water collapse of gg (every pin's distinct id+1 value folded down
// to a single land class, since ConnectedComponents groups cells by equal
// value and every pin otherwise has its own singleton value). All three
// must always agree; a disagreement between bfs and dijkstra is an
// internal invariant panic, not a user-facing error, since it would mean
// the two traversal algorithms disagree on basic reachability.
func checkConnected(g *core.Graph, gg *gridgraph.GridGraph) error {
	ids := g.Vertices()
	if len(ids) == 0 {
		return &ArchitectureError{Err: ErrEmptyBoard, Detail: "no cells survive pruning"}
	}
	start := ids[0]

	bfsResult, err := bfs.BFS(core.UnweightedView(g), start)
	if err != nil {
		return &ArchitectureError{Err: err, Detail: "bfs traversal"}
	}

	dist, _, err := dijkstra.Dijkstra(g, dijkstra.Source(start))
	if err != nil {
		return &ArchitectureError{Err: err, Detail: "dijkstra traversal"}
	}
	dijkstraReachable := 0
	for _, d := range dist {
		if d < math.MaxInt64 {
			dijkstraReachable++
		}
	}

	if len(bfsResult.Order) != dijkstraReachable {
		panic(fmt.Sprintf("boardfile: bfs and dijkstra disagree on reachability: bfs=%d dijkstra=%d", len(bfsResult.Order), dijkstraReachable))
	}

	if len(bfsResult.Order) != len(ids) {
		return &ArchitectureError{
			Err:    ErrDisconnectedBoard,
			Detail: fmt.Sprintf("%d of %d cells reachable from %s", len(bfsResult.Order), len(ids), start),
		}
	}

	ugg, islands, err := landIslands(gg)
	if err != nil {
		return &ArchitectureError{Err: err, Detail: "gridgraph land collapse"}
	}
	if len(islands) != 1 {
		cost, cErr := repairCost(ugg, islands)
		detail := fmt.Sprintf("gridgraph.ConnectedComponents found %d separate land islands", len(islands))
		if cErr == nil {
			detail = fmt.Sprintf("%s; minimum %d water cells would need to become land to join them", detail, cost)
		}
		return &ArchitectureError{Err: ErrDisconnectedBoard, Detail: detail}
	}
	return nil
}

// landIslands folds gg's per-pin cell values (each pin id maps to a
// distinct id+1 value) down to a single land class so
// gridgraph.ConnectedComponents's equal-value grouping reports connected
// regions of land as a whole, rather than one singleton component per
// pin. It returns the collapsed grid (for repairCost's later use of
// ExpandIsland) alongside the land-class component list.
func landIslands(gg *gridgraph.GridGraph) (*gridgraph.GridGraph, [][]gridgraph.Cell, error) {
	uniform := make([][]int, gg.Height)
	for y := 0; y < gg.Height; y++ {
		uniform[y] = make([]int, gg.Width)
		for x := 0; x < gg.Width; x++ {
			if gg.CellValues[y][x] >= gg.LandThreshold {
				uniform[y][x] = 1
			}
		}
	}
	ugg, err := gridgraph.NewGridGraph(uniform, gridgraph.GridOptions{Conn: gg.Conn, LandThreshold: 1})
	if err != nil {
		return nil, nil, err
	}
	return ugg, ugg.ConnectedComponents()[1], nil
}

// repairCost estimates, via repeated gg.ExpandIsland calls, the minimum
// number of water-to-land conversions that would join every island in
// islands to the largest one. It is a diagnostic only: boardfile never
// performs the repair itself, just reports how close a disconnected
// layout came to being valid.
func repairCost(gg *gridgraph.GridGraph, islands [][]gridgraph.Cell) (int, error) {
	if len(islands) < 2 {
		return 0, nil
	}
	sort.Slice(islands, func(i, j int) bool { return len(islands[i]) > len(islands[j]) })
	main := islands[0]
	total := 0
	for _, isl := range islands[1:] {
		_, cost, err := gg.ExpandIsland(main, isl)
		if err != nil {
			return 0, err
		}
		total += cost
	}
	return total, nil
}
