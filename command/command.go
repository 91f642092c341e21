// Package command defines the operations an Engine can queue and an
// Execution can run: Input materializes a new droplet, Move translates one,
// Mix merges two droplets along a fixed six-cell loop, and Split divides
// one droplet along a fixed five-cell line. Every command exposes the
// Shape the placer must find room for and declares whether the placer
// must preserve its inputs' current locations (a Move) or may search
// freely for an isomorphic spot (Mix, Split).
package command

import (
	"fmt"

	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
)

// Command is the common surface the placer and engine need from every
// queued operation. Execution itself type-switches on the concrete
// command to run its specific apply-time stepping.
type Command interface {
	// Shape is the footprint the placer must find (or confirm, for a
	// strict Move) room for on the board before this command can run.
	Shape() grid.Shape

	// Inputs are the existing droplets this command acts on (a Move
	// relocates its input; Mix and Split consume theirs). Where each
	// input is routed within the placed shape is fixed per command type:
	// Mix.InputOffsets, Split.InputOffset, and a Move's Target.
	Inputs() []*droplet.Droplet

	// Strict reports whether the placer must search only for a pure
	// translation of Inputs' current locations (true, used by Move and by
	// an Input with a forced Location) rather than a free subgraph match
	// (false, used by an unpinned Input, Mix and Split).
	Strict() bool

	// String names the command for logs and errors.
	fmt.Stringer
}

// cellShape is the single-cell shape shared by Input and (single-cell)
// Move commands.
var cellShape = grid.MustShape(grid.Location{})

// Input materializes a brand-new droplet at a board cell chosen by the
// placer (or, if Location is set, forced to that exact cell).
type Input struct {
	Output   *droplet.Droplet
	Location *grid.Location // nil: placer chooses; non-nil: forced cell
}

// NewInput queues the materialization of a freshly created droplet with
// the given physical properties.
func NewInput(volume float64, info string, concentration float64) *Input {
	return &Input{Output: droplet.New(cellShape, volume, info, concentration)}
}

func (c *Input) Shape() grid.Shape         { return cellShape }
func (c *Input) Inputs() []*droplet.Droplet { return nil }
func (c *Input) Strict() bool              { return c.Location != nil }
func (c *Input) String() string            { return fmt.Sprintf("Input(%s)", c.Output.ID()) }

// Move relocates an existing droplet to a caller-specified target cell.
// Because the droplet's shape never changes, the placer only has to
// confirm the target is free — a strict translation, not a search.
type Move struct {
	Droplet *droplet.Droplet
	Target  grid.Location
}

// NewMove queues a relocation of d to target.
func NewMove(d *droplet.Droplet, target grid.Location) *Move {
	return &Move{Droplet: d, Target: target}
}

func (c *Move) Shape() grid.Shape          { return c.Droplet.Shape() }
func (c *Move) Inputs() []*droplet.Droplet { return []*droplet.Droplet{c.Droplet} }
func (c *Move) Strict() bool               { return true }
func (c *Move) String() string             { return fmt.Sprintf("Move(%s -> %s)", c.Droplet.ID(), c.Target) }

// mixOffsetOrder is the fixed six-cell loop a Mix command steps its two
// inputs around until they meet: a 2x3 block visited
// (0,0)->(1,0)->(1,1)->(1,2)->(0,2)->(0,1)->(0,0). The offsets are stored
// as (X=col, Y=row) locations.
var mixOffsetOrder = []grid.Location{
	{X: 0, Y: 0},
	{X: 0, Y: 1},
	{X: 1, Y: 1},
	{X: 2, Y: 1},
	{X: 2, Y: 0},
	{X: 1, Y: 0},
}

// MixShape is the 2x3 block the placer must find room for before a Mix
// can run.
var MixShape = grid.MustShape(mixOffsetOrder...)

// Mix merges two droplets. The inputs start at opposite ends of the loop
// (three steps apart) and are stepped toward each other, one cell per
// tick, until they occupy the same cell and combine.
type Mix struct {
	A, B   *droplet.Droplet
	Output *droplet.Droplet

	// NMixLoops is how many full trips the combined droplet takes around
	// Loop() after the inputs meet, for extra stirring. NewMix sets it to
	// the default of 1; callers wanting more thorough mixing can raise it
	// before enqueuing the command.
	NMixLoops int
}

// NewMix queues a mix of a and b. The combined output's physical
// properties (volume, info, concentration) are not known until the
// command actually runs, since droplet.Mix reads a and b's Real-state
// properties.
func NewMix(a, b *droplet.Droplet) *Mix {
	return &Mix{
		A:         a,
		B:         b,
		Output:    droplet.New(cellShape, 0, "", 0),
		NMixLoops: 1,
	}
}

func (c *Mix) Shape() grid.Shape          { return MixShape }
func (c *Mix) Inputs() []*droplet.Droplet { return []*droplet.Droplet{c.A, c.B} }
func (c *Mix) Strict() bool               { return false }
func (c *Mix) String() string             { return fmt.Sprintf("Mix(%s, %s)", c.A.ID(), c.B.ID()) }

// Loop returns the six-cell loop offsets in traversal order.
func (c *Mix) Loop() []grid.Location { return mixOffsetOrder }

// InputOffsets returns the loop offsets A and B each start at: opposite
// ends of the loop, three steps apart, so they approach each other from
// both directions and meet partway around.
func (c *Mix) InputOffsets() (a, b grid.Location) {
	return mixOffsetOrder[0], mixOffsetOrder[3]
}

// ApproachOffsets returns the tick-by-tick offset sequence (including
// the starting offset) each input follows after reaching the loop: A
// advances forward from index 0, B advances backward from index 3, and
// both sequences end at index 2 — the cell where they combine.
func (c *Mix) ApproachOffsets() (a, b []grid.Location) {
	n := len(mixOffsetOrder)
	a = []grid.Location{mixOffsetOrder[0], mixOffsetOrder[1], mixOffsetOrder[2]}
	b = []grid.Location{mixOffsetOrder[3], mixOffsetOrder[2%n]}
	return a, b
}

// MeetOffset returns the loop offset where A and B combine.
func (c *Mix) MeetOffset() grid.Location { return mixOffsetOrder[2] }

// splitOffsetOrder is the fixed five-cell line a Split command stages its
// input along before dividing it: a 1x5 row, left to right.
var splitOffsetOrder = []grid.Location{
	{X: 0, Y: 0},
	{X: 1, Y: 0},
	{X: 2, Y: 0},
	{X: 3, Y: 0},
	{X: 4, Y: 0},
}

// SplitShape is the 1x5 line the placer must find room for before a
// Split can run.
var SplitShape = grid.MustShape(splitOffsetOrder...)

// Split divides one droplet into two. The input starts at the line's
// center cell; the two halves are stepped outward one cell at a time
// (center-1 -> end, center+1 -> end) until they occupy the line's two
// ends.
type Split struct {
	Source  *droplet.Droplet
	OutputA *droplet.Droplet // settles at the line's left end
	OutputB *droplet.Droplet // settles at the line's right end
}

// NewSplit queues a split of src into two equal-volume halves.
func NewSplit(src *droplet.Droplet) *Split {
	return &Split{
		Source:  src,
		OutputA: droplet.New(cellShape, 0, "", 0),
		OutputB: droplet.New(cellShape, 0, "", 0),
	}
}

func (c *Split) Shape() grid.Shape          { return SplitShape }
func (c *Split) Inputs() []*droplet.Droplet { return []*droplet.Droplet{c.Source} }
func (c *Split) Strict() bool               { return false }
func (c *Split) String() string             { return fmt.Sprintf("Split(%s)", c.Source.ID()) }

// Line returns the five-cell line offsets, left to right.
func (c *Split) Line() []grid.Location { return splitOffsetOrder }

// InputOffset returns the line offset the source droplet starts at: the
// center cell.
func (c *Split) InputOffset() grid.Location { return splitOffsetOrder[2] }

// OutputSteps returns the two-step outward offset path each half takes
// from the center toward its resting end: OutputA moves center-1 -> end,
// OutputB moves center+1 -> end.
func (c *Split) OutputSteps() (a, b []grid.Location) {
	a = []grid.Location{splitOffsetOrder[1], splitOffsetOrder[0]}
	b = []grid.Location{splitOffsetOrder[3], splitOffsetOrder[4]}
	return a, b
}
