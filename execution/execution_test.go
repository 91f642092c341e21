package execution_test

import (
	"testing"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/command"
	"github.com/dmfcore/puddle/core"
	"github.com/dmfcore/puddle/distmatrix"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/execution"
	"github.com/dmfcore/puddle/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBoard builds a fully-connected w x h 4-neighbor board, large
// enough to fit Mix's 2x3 shape and Split's 1x5 shape with room to
// spare, matching the 5x9 boards spec scenarios exercise.
func newTestBoard(t *testing.T, w, h int) *board.Board {
	t.Helper()
	g := core.NewGraph()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			require.NoError(t, g.AddVertex(grid.Location{X: x, Y: y}.String()))
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			here := grid.Location{X: x, Y: y}
			for _, n := range here.Neighbors4() {
				if n.X < 0 || n.X >= w || n.Y < 0 || n.Y >= h {
					continue
				}
				if !g.HasEdge(here.String(), n.String()) {
					_, err := g.AddEdge(here.String(), n.String(), 0)
					require.NoError(t, err)
				}
			}
		}
	}
	return board.New(g, nil)
}

func TestRun_InputMaterializesDroplet(t *testing.T) {
	droplet.ResetIDs()
	b := newTestBoard(t, 9, 5)
	table := distmatrix.Build(b.Graph())

	in := command.NewInput(1.0, "reagent", 0.5)
	require.NoError(t, execution.Run(b, table, in))

	assert.Equal(t, droplet.Real, in.Output.State())
	loc, err := in.Output.Location()
	require.NoError(t, err)
	assert.True(t, b.HasCell(loc))
}

func TestRun_MoveRelocatesDroplet(t *testing.T) {
	droplet.ResetIDs()
	b := newTestBoard(t, 9, 5)
	table := distmatrix.Build(b.Graph())

	in := command.NewInput(1.0, "a", 1.0)
	require.NoError(t, execution.Run(b, table, in))

	target := grid.Location{X: 6, Y: 3}
	mv := command.NewMove(in.Output, target)
	require.NoError(t, execution.Run(b, table, mv))

	loc, err := in.Output.Location()
	require.NoError(t, err)
	assert.Equal(t, target, loc)
}

func TestRun_MixCombinesDroplets(t *testing.T) {
	droplet.ResetIDs()
	b := newTestBoard(t, 9, 5)
	table := distmatrix.Build(b.Graph())

	a := command.NewInput(2.0, "a", 1.0)
	require.NoError(t, execution.Run(b, table, a))
	bb := command.NewInput(1.0, "b", 0.0)
	require.NoError(t, execution.Run(b, table, bb))

	mix := command.NewMix(a.Output, bb.Output)
	require.NoError(t, execution.Run(b, table, mix))

	assert.Equal(t, droplet.Consumed, a.Output.State())
	assert.Equal(t, droplet.Consumed, bb.Output.State())
	assert.Equal(t, droplet.Real, mix.Output.State())

	volume, err := mix.Output.Volume()
	require.NoError(t, err)
	assert.Equal(t, 3.0, volume)
}

func TestRun_SplitHalvesDroplet(t *testing.T) {
	droplet.ResetIDs()
	b := newTestBoard(t, 9, 5)
	table := distmatrix.Build(b.Graph())

	in := command.NewInput(4.0, "x", 0.25)
	require.NoError(t, execution.Run(b, table, in))

	split := command.NewSplit(in.Output)
	require.NoError(t, execution.Run(b, table, split))

	assert.Equal(t, droplet.Consumed, in.Output.State())
	va, err := split.OutputA.Volume()
	require.NoError(t, err)
	vb, err := split.OutputB.Volume()
	require.NoError(t, err)
	assert.Equal(t, 2.0, va)
	assert.Equal(t, 2.0, vb)

	locA, _ := split.OutputA.Location()
	locB, _ := split.OutputB.Location()
	assert.False(t, locA.AdjacentOrSame(locB))
}
