// Package grid defines the coordinate system shared by boards, command
// shapes, and the router's time-expanded search space: a Location on an
// integer (x,y) plane, and a Shape built from a set of Locations.
//
// Locations convert to core.Graph vertex IDs with the same "x,y" string
// convention gridgraph uses, so a grid.Location and a board cell ID are
// always interchangeable.
package grid

import (
	"errors"
	"fmt"
	"sort"
)

// Location identifies a single cell on a board or within a command shape.
type Location struct {
	X, Y int
}

// String renders the location using the "x,y" convention shared with
// gridgraph-derived core.Graph vertex IDs.
func (l Location) String() string {
	return fmt.Sprintf("%d,%d", l.X, l.Y)
}

// ParseLocation parses the "x,y" convention produced by String back into
// a Location. It is the inverse used when a core.Graph vertex ID (a
// board cell or a placement candidate) needs to become a Location again.
func ParseLocation(s string) (Location, error) {
	var l Location
	if _, err := fmt.Sscanf(s, "%d,%d", &l.X, &l.Y); err != nil {
		return Location{}, fmt.Errorf("grid: invalid location %q: %w", s, err)
	}
	return l, nil
}

// Add returns l translated by the given offset.
func (l Location) Add(off Location) Location {
	return Location{X: l.X + off.X, Y: l.Y + off.Y}
}

// Sub returns the offset from other to l (l - other).
func (l Location) Sub(other Location) Location {
	return Location{X: l.X - other.X, Y: l.Y - other.Y}
}

// Manhattan returns the L1 (taxicab) distance between l and other.
// The router uses this as a cheap admissible fallback heuristic when no
// precomputed graph distance is available between the two locations.
func (l Location) Manhattan(other Location) int {
	return absInt(l.X-other.X) + absInt(l.Y-other.Y)
}

// Chebyshev returns the L∞ (king-move) distance between l and other.
// A Chebyshev distance of 0 or 1 means the two locations are the same
// cell or 8-adjacent, the unit used by board collision checks and the
// router's reservation neighborhood.
func (l Location) Chebyshev(other Location) int {
	dx, dy := absInt(l.X-other.X), absInt(l.Y-other.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// AdjacentOrSame reports whether other lies within Chebyshev distance 1
// of l, i.e. l == other or the two locations are 8-adjacent.
func (l Location) AdjacentOrSame(other Location) bool {
	return l.Chebyshev(other) <= 1
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Offsets4 are the four orthogonal unit moves, in a fixed deterministic
// order: up, right, down, left.
var Offsets4 = []Location{
	{X: 0, Y: -1},
	{X: 1, Y: 0},
	{X: 0, Y: 1},
	{X: -1, Y: 0},
}

// Neighbors4 returns the four orthogonal neighbors of l.
func (l Location) Neighbors4() []Location {
	out := make([]Location, len(Offsets4))
	for i, off := range Offsets4 {
		out[i] = l.Add(off)
	}
	return out
}

// ErrEmptyShape is returned when a Shape is built from zero locations.
var ErrEmptyShape = errors.New("grid: shape has no locations")

// ErrShapeMissingOrigin is returned when a Shape's location set does not
// include the (0,0) origin, which every command shape is defined relative to.
var ErrShapeMissingOrigin = errors.New("grid: shape must include the origin")

// ErrShapeDisconnected is returned when a Shape's locations do not form a
// single 4-connected region.
var ErrShapeDisconnected = errors.New("grid: shape is not 4-connected")

// Shape is an immutable, 4-connected set of offsets relative to an origin
// at (0,0). Command shapes (Mix's 2x3 block, Split's 1x5 line) and
// multi-cell droplet footprints are both represented as Shapes.
type Shape struct {
	locs map[Location]struct{}
}

// NewShape validates and builds a Shape from a set of offsets. The offsets
// must include the origin and must form one 4-connected region; otherwise
// NewShape returns ErrShapeMissingOrigin or ErrShapeDisconnected.
func NewShape(offsets ...Location) (Shape, error) {
	if len(offsets) == 0 {
		return Shape{}, ErrEmptyShape
	}
	locs := make(map[Location]struct{}, len(offsets))
	for _, o := range offsets {
		locs[o] = struct{}{}
	}
	if _, ok := locs[Location{}]; !ok {
		return Shape{}, ErrShapeMissingOrigin
	}
	if !isConnected(locs) {
		return Shape{}, ErrShapeDisconnected
	}
	return Shape{locs: locs}, nil
}

// MustShape is like NewShape but panics on error; used for shapes that are
// fixed constants (Mix, Split) and can never fail validation at runtime.
func MustShape(offsets ...Location) Shape {
	s, err := NewShape(offsets...)
	if err != nil {
		panic(err)
	}
	return s
}

func isConnected(locs map[Location]struct{}) bool {
	if len(locs) == 0 {
		return false
	}
	var start Location
	for l := range locs {
		start = l
		break
	}
	seen := map[Location]struct{}{start: {}}
	queue := []Location{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range cur.Neighbors4() {
			if _, in := locs[n]; !in {
				continue
			}
			if _, visited := seen[n]; visited {
				continue
			}
			seen[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return len(seen) == len(locs)
}

// Len returns the number of cells the shape covers.
func (s Shape) Len() int { return len(s.locs) }

// Contains reports whether off (relative to the shape's origin) is part
// of the shape.
func (s Shape) Contains(off Location) bool {
	_, ok := s.locs[off]
	return ok
}

// Offsets returns the shape's offsets in deterministic (y, then x)
// ascending order.
func (s Shape) Offsets() []Location {
	out := make([]Location, 0, len(s.locs))
	for l := range s.locs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// At translates the shape's offsets by anchor, returning the absolute
// locations it occupies when its origin sits at anchor.
func (s Shape) At(anchor Location) []Location {
	offs := s.Offsets()
	out := make([]Location, len(offs))
	for i, o := range offs {
		out[i] = anchor.Add(o)
	}
	return out
}
