// Package distmatrix precomputes and caches true graph distances between
// every pair of cells on a board, so the router can look up an A*
// heuristic in O(1) instead of running a fresh BFS per droplet per node
// expansion. It builds the table with a dense Floyd–Warshall relaxation
// over a board's unit-weight adjacency — the same O(V^3) triple loop a
// generic adjacency-matrix all-pairs routine would use, specialized here
// to a single float64 matrix indexed by a board's own cell IDs instead
// of a generic Matrix interface.
package distmatrix

import (
	"math"
	"sort"

	"github.com/dmfcore/puddle/core"
)

// Table holds all-pairs shortest-path distances between a graph's
// vertices, indexed by vertex ID.
type Table struct {
	index map[string]int
	ids   []string
	dist  [][]float64
}

// Build computes the all-pairs distance table for g, treating every edge
// as unit weight regardless of g's own Weight field (board adjacency has
// no notion of cost beyond "one actuation step").
// Complexity: O(V^3) time, O(V^2) memory — acceptable for the board
// sizes (tens to low hundreds of cells) this system targets; recomputed
// once per Board, not once per route.
func Build(g *core.Graph) *Table {
	ids := g.Vertices() // sorted, per core.Graph's determinism guarantee
	n := len(ids)
	index := make(map[string]int, n)
	for i, id := range ids {
		index[id] = i
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			if i == j {
				dist[i][j] = 0
			} else {
				dist[i][j] = math.Inf(1)
			}
		}
	}

	for _, id := range ids {
		neighbors, err := g.NeighborIDs(id)
		if err != nil {
			continue
		}
		i := index[id]
		for _, nb := range neighbors {
			j, ok := index[nb]
			if !ok {
				continue
			}
			dist[i][j] = 1
			dist[j][i] = 1
		}
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if math.IsInf(dist[i][k], 1) {
				continue
			}
			for j := 0; j < n; j++ {
				if d := dist[i][k] + dist[k][j]; d < dist[i][j] {
					dist[i][j] = d
				}
			}
		}
	}

	return &Table{index: index, ids: ids, dist: dist}
}

// Distance returns the graph distance between from and to, and whether
// both are known vertices connected by some path. A false ok means
// either vertex is unknown to the table or the two are disconnected;
// callers (the router) fall back to a Manhattan estimate in that case.
func (t *Table) Distance(from, to string) (float64, bool) {
	i, ok := t.index[from]
	if !ok {
		return 0, false
	}
	j, ok := t.index[to]
	if !ok {
		return 0, false
	}
	d := t.dist[i][j]
	if math.IsInf(d, 1) {
		return 0, false
	}
	return d, true
}

// Vertices returns the table's vertex IDs in sorted order, mirroring
// core.Graph.Vertices()'s determinism guarantee.
func (t *Table) Vertices() []string {
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	sort.Strings(out)
	return out
}
