// Package placer finds board locations for a command's shape before
// execution can route droplets into it. It first removes, from a copy of
// the board's adjacency, every cell within Chebyshev distance 1 of a
// droplet that does not belong to the command being placed (those
// droplets are the ones whose personal space must stay clear); then it
// searches the remaining graph for a subgraph isomorphic to the
// command's shape, using a small VF2-style backtracking matcher since
// core.Graph has no built-in isomorphism support. A Move's shape never
// changes, so it is placed with a pure translation check against one
// forced anchor instead of a full search.
package placer

import (
	"fmt"
	"sort"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
)

// PlaceError reports that no valid placement could be found for a shape.
type PlaceError struct {
	Reason string
}

func (e *PlaceError) Error() string { return "placer: " + e.Reason }

// shapeGraph is the adjacency list of a command's shape, indexed the
// same way as grid.Shape.Offsets(): offset i is adjacent to offset j iff
// they differ by one orthogonal step.
type shapeGraph struct {
	offsets []grid.Location
	adj     [][]int
}

func buildShapeGraph(shape grid.Shape) shapeGraph {
	offsets := shape.Offsets()
	// The origin always leads the assignment order so that a forced
	// anchor (Move's strict translation) constrains the shape's origin,
	// not whichever offset happens to sort first.
	for i, o := range offsets {
		if o == (grid.Location{}) {
			offsets[0], offsets[i] = offsets[i], offsets[0]
			break
		}
	}
	index := make(map[grid.Location]int, len(offsets))
	for i, o := range offsets {
		index[o] = i
	}
	adj := make([][]int, len(offsets))
	for i, o := range offsets {
		for _, n := range o.Neighbors4() {
			if j, ok := index[n]; ok {
				adj[i] = append(adj[i], j)
			}
		}
	}
	return shapeGraph{offsets: offsets, adj: adj}
}

// excludedCells returns the set of board cells that must stay clear of a
// command's shape: every cell within Chebyshev distance 1 of a Real
// droplet whose collision group is not among ownGroups.
func excludedCells(b *board.Board, ownGroups map[droplet.CollisionGroup]struct{}) map[grid.Location]struct{} {
	excluded := make(map[grid.Location]struct{})
	for _, d := range b.Droplets() {
		if _, own := ownGroups[d.Group()]; own {
			continue
		}
		for _, c := range d.Cells() {
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					loc := grid.Location{X: c.X + dx, Y: c.Y + dy}
					if b.HasCell(loc) {
						excluded[loc] = struct{}{}
					}
				}
			}
		}
	}
	return excluded
}

// residualCells returns every present board cell not in excluded, sorted
// by vertex ID for deterministic search order.
func residualCells(b *board.Board, excluded map[grid.Location]struct{}) []string {
	ids := b.Graph().Vertices() // already sorted lexicographically
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		loc, err := grid.ParseLocation(id)
		if err != nil {
			continue
		}
		if _, bad := excluded[loc]; bad {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Place searches for a mapping from shape's offsets to absolute board
// locations such that the shape's internal adjacency is honored by the
// board's adjacency and none of the chosen cells fall within the
// excluded neighborhood of a foreign droplet. ownGroups lists the
// collision groups of the command's own inputs, whose current cells are
// exempt from the exclusion check. If forcedAnchor is non-nil, the
// shape's origin offset is constrained to that exact cell (a pure
// translation check, used by Move); otherwise every residual cell is
// tried as a candidate anchor. Returns the first match found, in
// residual-cell order, or a PlaceError if none exists.
func Place(b *board.Board, shape grid.Shape, ownGroups map[droplet.CollisionGroup]struct{}, forcedAnchor *grid.Location) (map[grid.Location]grid.Location, error) {
	sg := buildShapeGraph(shape)
	excluded := excludedCells(b, ownGroups)

	var rootCandidates []string
	if forcedAnchor != nil {
		id := forcedAnchor.String()
		if _, bad := excluded[*forcedAnchor]; bad || !b.HasCell(*forcedAnchor) {
			return nil, &PlaceError{Reason: fmt.Sprintf("forced anchor %s is unavailable", forcedAnchor)}
		}
		rootCandidates = []string{id}
	} else {
		rootCandidates = residualCells(b, excluded)
	}

	assignment := make([]string, len(sg.offsets))
	used := make(map[string]bool, len(sg.offsets))

	var backtrack func(i int) bool
	backtrack = func(i int) bool {
		if i == len(sg.offsets) {
			return true
		}
		var candidates []string
		if i == 0 {
			candidates = rootCandidates
		} else {
			anchorIdx := -1
			for _, nb := range sg.adj[i] {
				if nb < i {
					anchorIdx = nb
					break
				}
			}
			if anchorIdx >= 0 {
				ids, err := b.Graph().NeighborIDs(assignment[anchorIdx])
				if err != nil {
					return false
				}
				candidates = ids
			} else {
				candidates = residualCells(b, excluded)
			}
		}
		for _, cand := range candidates {
			if used[cand] {
				continue
			}
			loc, err := grid.ParseLocation(cand)
			if err != nil {
				continue
			}
			if _, bad := excluded[loc]; bad {
				continue
			}
			consistent := true
			for _, nb := range sg.adj[i] {
				if nb >= i {
					continue
				}
				if !b.Graph().HasEdge(assignment[nb], cand) && !b.Graph().HasEdge(cand, assignment[nb]) {
					consistent = false
					break
				}
			}
			if !consistent {
				continue
			}
			assignment[i] = cand
			used[cand] = true
			if backtrack(i + 1) {
				return true
			}
			used[cand] = false
		}
		return false
	}

	if !backtrack(0) {
		return nil, &PlaceError{Reason: fmt.Sprintf("no placement found for shape with %d cells", len(sg.offsets))}
	}

	mapping := make(map[grid.Location]grid.Location, len(sg.offsets))
	for i, off := range sg.offsets {
		loc, err := grid.ParseLocation(assignment[i])
		if err != nil {
			return nil, err
		}
		mapping[off] = loc
	}
	return mapping, nil
}

// sortedKeys is a small helper used by callers that want deterministic
// logging of a placement mapping.
func sortedKeys(m map[grid.Location]grid.Location) []grid.Location {
	out := make([]grid.Location, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// SortedKeys exposes sortedKeys for callers outside the package (tests,
// execution's debug logging).
func SortedKeys(m map[grid.Location]grid.Location) []grid.Location { return sortedKeys(m) }
