// Package router schedules droplet movement once placer has found
// destinations for a command's inputs. It routes one droplet at a time
// (sequential-priority scheduling, easiest first) over a time-expanded
// search space — nodes are (location, tick) pairs — so that a later
// droplet's search already sees every cell a previously routed droplet
// will occupy at every tick and can route around it. A retry budget with
// shuffled priority order absorbs the rare case where the easiest-first
// order itself causes a deadlock that a different order would avoid.
package router

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/distmatrix"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
)

// RouteFailure reports that no legal schedule could be found for the
// requested droplet movements within the retry budget.
type RouteFailure struct {
	Tries int
}

func (e *RouteFailure) Error() string {
	return fmt.Sprintf("router: no legal schedule found after %d tries", e.Tries)
}

// Request pairs a droplet with the destination it must reach. A
// destination equal to the droplet's current location means the droplet
// has no movement of its own this round: Route schedules it after every
// droplet that has somewhere to go, keeping its current cell as its goal
// (it may step aside and return) and staying clear of the paths already
// reserved. This is used for a Mix/Split's partner input while only one
// side is actively approaching.
type Request struct {
	Droplet     *droplet.Droplet
	Destination grid.Location
}

// DefaultMaxTries is the retry budget astar.py used: enough attempts at
// reordering to escape the rare priority-induced deadlock without
// retrying forever.
const DefaultMaxTries = 10

// Route computes, for every request, a tick-by-tick path from the
// droplet's current cell to its destination such that no two droplets
// from different collision groups are ever within Chebyshev distance 1
// of each other at the same tick, nor cross through each other between
// adjacent ticks. Returns RouteFailure if no legal schedule is found
// within maxTries attempts (0 uses DefaultMaxTries).
func Route(b *board.Board, table *distmatrix.Table, requests []Request, maxTries int) (map[droplet.ID][]grid.Location, error) {
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}

	withDest := make([]Request, 0, len(requests))
	withoutDest := make([]Request, 0, len(requests))
	for _, r := range requests {
		cur, err := r.Droplet.Location()
		if err != nil {
			return nil, err
		}
		if cur == r.Destination {
			withoutDest = append(withoutDest, r)
		} else {
			withDest = append(withDest, r)
		}
	}

	rng := rand.New(rand.NewSource(1))

	for attempt := 0; attempt < maxTries; attempt++ {
		ordered := make([]Request, len(withDest))
		copy(ordered, withDest)
		if attempt == 0 {
			sort.SliceStable(ordered, func(i, j int) bool {
				return difficulty(ordered[i]) < difficulty(ordered[j])
			})
		} else {
			rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
		}
		ordered = append(ordered, withoutDest...)

		results, ok := attemptSchedule(b, table, ordered)
		if ok {
			return results, nil
		}
	}
	return nil, &RouteFailure{Tries: maxTries}
}

func difficulty(r Request) int {
	cur, err := r.Droplet.Location()
	if err != nil {
		return 0
	}
	return cur.Manhattan(r.Destination)
}

// reservation keys a (location, tick) slot to the collision group that
// holds it; a slot held by group G is available to any request for
// group G (a droplet's own successive ticks) and unavailable to every
// other group.
type reservation struct {
	avoid       map[grid.Location]map[int]droplet.CollisionGroup
	finalPlaces map[grid.Location]int
}

func newReservation() *reservation {
	return &reservation{
		avoid:       make(map[grid.Location]map[int]droplet.CollisionGroup),
		finalPlaces: make(map[grid.Location]int),
	}
}

// effectiveTime folds any tick at or after a cell's permanent resting
// time down to that resting time, so a single finalPlaces entry blocks
// the cell for all future ticks without the caller enumerating them.
func (r *reservation) effectiveTime(pos grid.Location, t int) int {
	if final, ok := r.finalPlaces[pos]; ok && t >= final {
		return final
	}
	return t
}

func (r *reservation) isLegal(pos grid.Location, t int, group droplet.CollisionGroup) bool {
	t = r.effectiveTime(pos, t)
	byTick, ok := r.avoid[pos]
	if !ok {
		return true
	}
	holder, ok := byTick[t]
	if !ok {
		return true
	}
	return holder == group
}

func (r *reservation) reserve(pos grid.Location, t int, group droplet.CollisionGroup) {
	t = r.effectiveTime(pos, t)
	if r.avoid[pos] == nil {
		r.avoid[pos] = make(map[int]droplet.CollisionGroup)
	}
	r.avoid[pos][t] = group
}

// reservePath reserves the Chebyshev-1 neighborhood of every step on a
// droplet's path for ticks {step-1, step, step+1}, and marks the
// Chebyshev-1 neighborhood of the path's final cell permanently held
// from its arrival tick onward — not just the final cell itself, so a
// droplet scheduled after this one can never end up diagonally adjacent
// to one already parked.
func (r *reservation) reservePath(b *board.Board, path []grid.Location, group droplet.CollisionGroup) {
	for step, pos := range path {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				nb := grid.Location{X: pos.X + dx, Y: pos.Y + dy}
				if !b.HasCell(nb) {
					continue
				}
				for _, t := range []int{step - 1, step, step + 1} {
					if t < 0 {
						continue
					}
					r.reserve(nb, t, group)
				}
			}
		}
	}
	last := path[len(path)-1]
	final := len(path) - 1
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			nb := grid.Location{X: last.X + dx, Y: last.Y + dy}
			if !b.HasCell(nb) {
				continue
			}
			r.finalPlaces[nb] = final
		}
	}
}

func attemptSchedule(b *board.Board, table *distmatrix.Table, ordered []Request) (map[droplet.ID][]grid.Location, bool) {
	res := newReservation()
	results := make(map[droplet.ID][]grid.Location, len(ordered))
	goalTime := 0

	for _, req := range ordered {
		start, err := req.Droplet.Location()
		if err != nil {
			return nil, false
		}
		path, ok := aStar(b, table, res, req.Droplet.Group(), start, req.Destination, goalTime)
		if !ok {
			return nil, false
		}
		results[req.Droplet.ID()] = path
		if l := len(path) - 1; l > goalTime {
			goalTime = l
		}
		res.reservePath(b, path, req.Droplet.Group())
	}
	return results, true
}

// searchNode is a (location, tick) point in the time-expanded graph.
type searchNode struct {
	loc grid.Location
	t   int
}

type pqItem struct {
	node  searchNode
	g     int
	f     float64
	index int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i]; pq[i].index, pq[j].index = i, j }
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// heuristic estimates remaining distance from loc to dest, preferring
// the precomputed true graph distance and falling back to Manhattan
// distance when the table has no entry (e.g. disconnected regions).
func heuristic(table *distmatrix.Table, loc, dest grid.Location) float64 {
	if table != nil {
		if d, ok := table.Distance(loc.String(), dest.String()); ok {
			return d
		}
	}
	return float64(loc.Manhattan(dest))
}

// aStar finds the shortest tick-by-tick path from start to dest that
// respects res's reservations for the given collision group. Waiting in
// place is a legal move (cost 1) only while t <= goalTime, matching the
// watermark astar.py used to force droplets to eventually stop waiting
// and commit to a route once every already-scheduled droplet has
// finished moving.
func aStar(b *board.Board, table *distmatrix.Table, res *reservation, group droplet.CollisionGroup, start, dest grid.Location, goalTime int) ([]grid.Location, bool) {
	startNode := searchNode{loc: start, t: 0}
	gScore := map[searchNode]int{startNode: 0}
	cameFrom := map[searchNode]searchNode{}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{node: startNode, g: 0, f: heuristic(table, start, dest)})

	maxTicks := b.Graph().VertexCount() + goalTime + 2

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if cur.node.loc == dest && cur.node.t >= goalTime {
			return reconstruct(cameFrom, cur.node), true
		}
		if cur.node.t > maxTicks {
			continue
		}
		if g, ok := gScore[cur.node]; ok && cur.g > g {
			continue
		}

		candidates := []grid.Location{cur.node.loc}
		neighborIDs, err := b.Graph().NeighborIDs(cur.node.loc.String())
		if err == nil {
			for _, id := range neighborIDs {
				if loc, err := grid.ParseLocation(id); err == nil {
					candidates = append(candidates, loc)
				}
			}
		}

		for _, next := range candidates {
			if next == cur.node.loc && cur.node.t > goalTime {
				continue // no more waiting once the watermark has passed
			}
			nextNode := searchNode{loc: next, t: cur.node.t + 1}
			if !res.isLegal(next, nextNode.t, group) {
				continue
			}
			tentative := cur.g + 1
			if g, ok := gScore[nextNode]; ok && tentative >= g {
				continue
			}
			gScore[nextNode] = tentative
			cameFrom[nextNode] = cur.node
			heap.Push(pq, &pqItem{
				node: nextNode,
				g:    tentative,
				f:    float64(tentative) + heuristic(table, next, dest),
			})
		}
	}
	return nil, false
}

func reconstruct(cameFrom map[searchNode]searchNode, goal searchNode) []grid.Location {
	path := []grid.Location{goal.loc}
	cur := goal
	for {
		prev, ok := cameFrom[cur]
		if !ok {
			break
		}
		path = append(path, prev.loc)
		cur = prev
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
