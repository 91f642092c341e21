package droplet_test

import (
	"testing"

	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleCell(t *testing.T) grid.Shape {
	t.Helper()
	s, err := grid.NewShape(grid.Location{})
	require.NoError(t, err)
	return s
}

func TestDroplet_LifecycleHappyPath(t *testing.T) {
	d := droplet.New(singleCell(t), 1.0, "reagent-a", 0.5)
	assert.Equal(t, droplet.Virtual, d.State())

	_, err := d.Volume()
	var se *droplet.StateError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, droplet.ErrWrongState)

	require.NoError(t, d.Materialize(grid.Location{X: 2, Y: 3}))
	assert.Equal(t, droplet.Real, d.State())

	loc, err := d.Location()
	require.NoError(t, err)
	assert.Equal(t, grid.Location{X: 2, Y: 3}, loc)

	require.NoError(t, d.MoveTo(grid.Location{X: 2, Y: 4}))
	loc, _ = d.Location()
	assert.Equal(t, grid.Location{X: 2, Y: 4}, loc)

	require.NoError(t, d.Consume())
	assert.Equal(t, droplet.Consumed, d.State())
	_, err = d.Location()
	require.Error(t, err)
}

func TestDroplet_MaterializeTwiceFails(t *testing.T) {
	d := droplet.New(singleCell(t), 1.0, "x", 1.0)
	require.NoError(t, d.Materialize(grid.Location{}))
	err := d.Materialize(grid.Location{X: 1})
	require.Error(t, err)
}

func TestMix_ConservesVolumeAndWeightsConcentration(t *testing.T) {
	a := droplet.New(singleCell(t), 2.0, "a", 1.0)
	b := droplet.New(singleCell(t), 1.0, "b", 0.0)
	require.NoError(t, a.Materialize(grid.Location{}))
	require.NoError(t, b.Materialize(grid.Location{X: 1}))

	volume, info, concentration := droplet.Mix(a, b)
	assert.Equal(t, 3.0, volume)
	assert.Equal(t, "(a, b)", info)
	assert.InDelta(t, 2.0/3.0, concentration, 1e-9)
}

func TestSplit_HalvesVolumePreservesConcentration(t *testing.T) {
	src := droplet.New(singleCell(t), 4.0, "x", 0.25)
	require.NoError(t, src.Materialize(grid.Location{}))

	volume, info, concentration := droplet.Split(src)
	assert.Equal(t, 2.0, volume)
	assert.Equal(t, "x", info)
	assert.Equal(t, 0.25, concentration)
}

func TestNextID_Monotonic(t *testing.T) {
	droplet.ResetIDs()
	a := droplet.NextID()
	b := droplet.NextID()
	assert.Less(t, uint64(a), uint64(b))
}
