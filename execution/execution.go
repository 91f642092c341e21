// Package execution runs one queued command at a time: it asks placer
// for room on the board, asks router for a tick-by-tick schedule into
// that room, then replays the schedule one physical step at a time,
// calling board.Board.Wait after every step so an observer can follow
// along. Each command type's internal stepping (Mix's loop approach,
// Split's outward spread) is handled here by concrete type switch,
// mirroring how placer and router stay generic over any Command.
package execution

import (
	"fmt"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/command"
	"github.com/dmfcore/puddle/distmatrix"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/grid"
	"github.com/dmfcore/puddle/placer"
	"github.com/dmfcore/puddle/router"
)

// Failure wraps whatever placer or router error stopped a command from
// running, annotated with the command that failed.
type Failure struct {
	Command command.Command
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("execution: %s failed: %v", f.Command, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Run places, routes, and steps cmd to completion against b, using table
// as the router's distance heuristic (pass nil to fall back to Manhattan
// distance throughout).
func Run(b *board.Board, table *distmatrix.Table, cmd command.Command) error {
	switch c := cmd.(type) {
	case *command.Input:
		return runInput(b, c)
	case *command.Move:
		return runMove(b, table, c)
	case *command.Mix:
		return runMix(b, table, c)
	case *command.Split:
		return runSplit(b, table, c)
	default:
		return fmt.Errorf("execution: unknown command type %T", cmd)
	}
}

func runInput(b *board.Board, c *command.Input) error {
	mapping, err := placer.Place(b, c.Shape(), nil, c.Location)
	if err != nil {
		return &Failure{Command: c, Err: err}
	}
	loc := mapping[grid.Location{}]
	if err := b.Add(c.Output, loc); err != nil {
		return &Failure{Command: c, Err: err}
	}
	return b.Wait()
}

func ownGroups(ds ...*droplet.Droplet) map[droplet.CollisionGroup]struct{} {
	out := make(map[droplet.CollisionGroup]struct{}, len(ds))
	for _, d := range ds {
		out[d.Group()] = struct{}{}
	}
	return out
}

func runMove(b *board.Board, table *distmatrix.Table, c *command.Move) error {
	groups := ownGroups(c.Droplet)
	if _, err := placer.Place(b, c.Shape(), groups, &c.Target); err != nil {
		return &Failure{Command: c, Err: err}
	}
	results, err := router.Route(b, table, []router.Request{{Droplet: c.Droplet, Destination: c.Target}}, 0)
	if err != nil {
		return &Failure{Command: c, Err: err}
	}
	return stepPath(b, c.Droplet, results[c.Droplet.ID()])
}

// stepPath replays path (including its current starting cell) one hop at
// a time, checking the board collision invariant and waiting after every
// physical move.
func stepPath(b *board.Board, d *droplet.Droplet, path []grid.Location) error {
	for _, step := range path[1:] {
		if err := d.MoveTo(step); err != nil {
			return err
		}
		if err := b.CheckCollisions(); err != nil {
			return err
		}
		if err := b.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// stepPathsTogether advances several droplets' paths in lockstep, one
// tick per call to board.Wait, so two droplets approaching each other
// (a Mix) or separating (a Split) move as a single physical phase rather
// than one fully completing before the next starts.
func stepPathsTogether(b *board.Board, paths map[*droplet.Droplet][]grid.Location) error {
	maxLen := 0
	for _, p := range paths {
		if len(p) > maxLen {
			maxLen = len(p)
		}
	}
	for tick := 1; tick < maxLen; tick++ {
		for d, p := range paths {
			if tick >= len(p) {
				continue // this droplet's path already finished; holds position
			}
			if err := d.MoveTo(p[tick]); err != nil {
				return err
			}
		}
		if err := b.CheckCollisions(); err != nil {
			return err
		}
		if err := b.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func runMix(b *board.Board, table *distmatrix.Table, c *command.Mix) error {
	groups := ownGroups(c.A, c.B)
	mapping, err := placer.Place(b, c.Shape(), groups, nil)
	if err != nil {
		return &Failure{Command: c, Err: err}
	}

	offA, offB := c.InputOffsets()
	destA, destB := mapping[offA], mapping[offB]

	originalBGroup := c.B.Group()
	c.B.SetGroup(c.A.Group()) // the two inputs may approach each other freely

	results, err := router.Route(b, table, []router.Request{
		{Droplet: c.A, Destination: destA},
		{Droplet: c.B, Destination: destB},
	}, 0)
	if err != nil {
		c.B.SetGroup(originalBGroup)
		return &Failure{Command: c, Err: err}
	}
	if err := stepPathsTogether(b, map[*droplet.Droplet][]grid.Location{
		c.A: results[c.A.ID()],
		c.B: results[c.B.ID()],
	}); err != nil {
		return err
	}

	stepsA, stepsB := c.ApproachOffsets()
	absA := translateOffsets(mapping, stepsA)
	absB := translateOffsets(mapping, stepsB)
	if err := stepPathsTogether(b, map[*droplet.Droplet][]grid.Location{
		c.A: absA,
		c.B: absB,
	}); err != nil {
		return err
	}

	volume, info, concentration := droplet.Mix(c.A, c.B)
	meetLoc := mapping[c.MeetOffset()]

	if err := b.Remove(c.A); err != nil {
		return err
	}
	if err := b.Remove(c.B); err != nil {
		return err
	}
	c.Output.SetProperties(volume, info, concentration)
	if err := b.Add(c.Output, meetLoc); err != nil {
		return &Failure{Command: c, Err: err}
	}
	if err := b.Wait(); err != nil {
		return err
	}

	return stirMix(b, mapping, c)
}

// stirMix walks c.Output around the Mix shape's loop cells, starting and
// ending at the cell the two inputs combined at, calling board.Wait after
// every step. It repeats the full loop c.NMixLoops times, extra agitation
// beyond the single meeting that produced the output.
func stirMix(b *board.Board, mapping map[grid.Location]grid.Location, c *command.Mix) error {
	loop := c.Loop()
	meet := c.MeetOffset()
	meetIdx := 0
	for i, off := range loop {
		if off == meet {
			meetIdx = i
			break
		}
	}
	absLoop := translateOffsets(mapping, loop)
	n := len(absLoop)

	for i := 0; i < c.NMixLoops; i++ {
		for step := 1; step <= n; step++ {
			loc := absLoop[(meetIdx+step)%n]
			if err := c.Output.MoveTo(loc); err != nil {
				return err
			}
			if err := b.CheckCollisions(); err != nil {
				return err
			}
			if err := b.Wait(); err != nil {
				return err
			}
		}
	}
	return nil
}

func translateOffsets(mapping map[grid.Location]grid.Location, offsets []grid.Location) []grid.Location {
	out := make([]grid.Location, len(offsets))
	for i, off := range offsets {
		out[i] = mapping[off]
	}
	return out
}

func runSplit(b *board.Board, table *distmatrix.Table, c *command.Split) error {
	groups := ownGroups(c.Source)
	mapping, err := placer.Place(b, c.Shape(), groups, nil)
	if err != nil {
		return &Failure{Command: c, Err: err}
	}

	center := mapping[c.InputOffset()]
	results, err := router.Route(b, table, []router.Request{
		{Droplet: c.Source, Destination: center},
	}, 0)
	if err != nil {
		return &Failure{Command: c, Err: err}
	}
	if err := stepPath(b, c.Source, results[c.Source.ID()]); err != nil {
		return err
	}

	volume, info, concentration := droplet.Split(c.Source)
	stepsA, stepsB := c.OutputSteps()
	absA := translateOffsets(mapping, stepsA)
	absB := translateOffsets(mapping, stepsB)

	if err := b.Remove(c.Source); err != nil {
		return err
	}

	c.OutputA.SetProperties(volume, info, concentration)
	c.OutputB.SetProperties(volume, info, concentration)
	c.OutputA.SetGroup(c.Source.Group())
	c.OutputB.SetGroup(c.Source.Group())

	if err := b.Add(c.OutputA, absA[0]); err != nil {
		return &Failure{Command: c, Err: err}
	}
	if err := b.Add(c.OutputB, absB[0]); err != nil {
		return &Failure{Command: c, Err: err}
	}
	if err := stepPathsTogether(b, map[*droplet.Droplet][]grid.Location{
		c.OutputA: absA,
		c.OutputB: absB,
	}); err != nil {
		return err
	}

	// the two halves separate into independent collision groups once
	// they have settled at the line's ends
	c.OutputA.SetGroup(droplet.NextCollisionGroup())
	c.OutputB.SetGroup(droplet.NextCollisionGroup())
	return b.CheckCollisions()
}
