// Package client implements the programmer-facing surface: input, move,
// mix, split, and flush, plus property accessors on the virtual droplet
// handles those operations return. It is a thin wrapper over
// engine.Engine — every operation here either enqueues a command or asks
// the engine to flush — with two added responsibilities the engine itself
// doesn't need: choosing how eagerly a property read realizes its
// droplet, and refusing to bind the same droplet as a consuming input
// twice.
package client

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmfcore/puddle/board"
	"github.com/dmfcore/puddle/command"
	"github.com/dmfcore/puddle/distmatrix"
	"github.com/dmfcore/puddle/droplet"
	"github.com/dmfcore/puddle/engine"
	"github.com/dmfcore/puddle/grid"
)

type mode int

const (
	modeEager mode = iota
	modeStrict
)

// Option configures a Session at construction time.
type Option func(*Session)

// EagerOnRead makes a property read on a non-Real droplet flush its
// dependencies first rather than fail. This is the default; passing it
// explicitly only documents the choice at the call site.
func EagerOnRead() Option { return func(s *Session) { s.mode = modeEager } }

// StrictLifecycle makes a property read on a non-Real droplet fail
// immediately with droplet.ErrNotRealized instead of flushing.
func StrictLifecycle() Option { return func(s *Session) { s.mode = modeStrict } }

// WithLogger forwards l to the underlying engine, which logs flush
// activity through it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.engineOpts = append(s.engineOpts, engine.WithLogger(l)) }
}

// ErrAlreadyBound is returned by Mix and Split when a droplet has already
// been bound as the consuming input of an earlier queued Mix or Split —
// a droplet may be consumed at most once, even before either command has
// actually run.
var ErrAlreadyBound = errors.New("client: droplet already bound to a consuming command")

// Session is one client's view of a board: a queue of not-yet-run
// commands plus the droplet handles they produced.
type Session struct {
	board  *board.Board
	engine *engine.Engine
	mode   mode

	engineOpts []engine.Option
	bound      map[droplet.ID]struct{}
}

// NewSession starts a session against b, using table as the router's
// distance heuristic for every command it eventually flushes (nil falls
// back to Manhattan distance).
func NewSession(b *board.Board, table *distmatrix.Table, opts ...Option) *Session {
	s := &Session{
		board: b,
		bound: make(map[droplet.ID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = engine.New(b, table, s.engineOpts...)
	return s
}

// Board returns the board this session operates against.
func (s *Session) Board() *board.Board { return s.board }

// Input enqueues the creation of a new droplet at a cell the placer
// chooses, returning its virtual handle.
func (s *Session) Input(volume float64, info string, concentration float64) *Droplet {
	cmd := command.NewInput(volume, info, concentration)
	s.engine.Enqueue(cmd)
	return s.wrap(cmd.Output)
}

// InputAt enqueues the creation of a new droplet pinned to loc; the
// command fails at flush time if loc is occupied rather than searching
// elsewhere.
func (s *Session) InputAt(loc grid.Location, volume float64, info string, concentration float64) *Droplet {
	cmd := command.NewInput(volume, info, concentration)
	cmd.Location = &loc
	s.engine.Enqueue(cmd)
	return s.wrap(cmd.Output)
}

// Move enqueues a relocation of d to loc. d's handle is unchanged; the
// underlying droplet's location updates in place once the move flushes.
func (s *Session) Move(d *Droplet, loc grid.Location) *Droplet {
	s.engine.Enqueue(command.NewMove(d.d, loc))
	return d
}

// Mix enqueues a merge of a and b, returning the combined output's
// handle. Fails with ErrAlreadyBound if a or b is already queued as the
// consuming input of an earlier Mix or Split.
func (s *Session) Mix(a, b *Droplet) (*Droplet, error) {
	if err := s.bind(a.d.ID(), b.d.ID()); err != nil {
		return nil, err
	}
	cmd := command.NewMix(a.d, b.d)
	s.engine.Enqueue(cmd)
	return s.wrap(cmd.Output), nil
}

// Split enqueues a division of d into two equal halves, returning both
// output handles. Fails with ErrAlreadyBound if d is already queued as
// the consuming input of an earlier Mix or Split.
func (s *Session) Split(d *Droplet) (*Droplet, *Droplet, error) {
	if err := s.bind(d.d.ID()); err != nil {
		return nil, nil, err
	}
	cmd := command.NewSplit(d.d)
	s.engine.Enqueue(cmd)
	return s.wrap(cmd.OutputA), s.wrap(cmd.OutputB), nil
}

func (s *Session) bind(ids ...droplet.ID) error {
	for _, id := range ids {
		if _, already := s.bound[id]; already {
			return fmt.Errorf("%w: %s", ErrAlreadyBound, id)
		}
	}
	for _, id := range ids {
		s.bound[id] = struct{}{}
	}
	return nil
}

// Flush runs every queued command, in dependency order. An empty queue
// is a no-op.
func (s *Session) Flush() error { return s.engine.Flush() }

// FlushOne runs only what d's producing command transitively depends on.
// Calling it on a droplet that is already Real or Consumed is a no-op.
func (s *Session) FlushOne(d *Droplet) error {
	switch d.d.State() {
	case droplet.Real, droplet.Consumed:
		return nil
	default:
		return s.engine.FlushFor(d.d)
	}
}

func (s *Session) wrap(d *droplet.Droplet) *Droplet {
	return &Droplet{d: d, session: s}
}

// Droplet is a client handle onto an underlying droplet. Its property
// reads honor the owning Session's lifecycle mode: EagerOnRead flushes
// the droplet's dependencies first; StrictLifecycle fails immediately on
// a non-Real droplet.
type Droplet struct {
	d       *droplet.Droplet
	session *Session
}

// ID returns the droplet's identity, valid in any lifecycle state.
func (d *Droplet) ID() droplet.ID { return d.d.ID() }

// State returns the droplet's current lifecycle state.
func (d *Droplet) State() droplet.State { return d.d.State() }

// realize makes d.d readable: Real droplets are already readable,
// Consumed droplets never are again, and Virtual droplets are flushed
// (EagerOnRead) or rejected (StrictLifecycle).
func (d *Droplet) realize() error {
	switch d.d.State() {
	case droplet.Real:
		return nil
	case droplet.Consumed:
		return &droplet.StateError{ID: d.d.ID(), Have: droplet.Consumed, Want: droplet.Real, Op: "read"}
	}
	if d.session.mode == modeStrict {
		return fmt.Errorf("%w: %s", droplet.ErrNotRealized, d.d.ID())
	}
	return d.session.engine.FlushFor(d.d)
}

// Location returns the droplet's current anchor cell.
func (d *Droplet) Location() (grid.Location, error) {
	if err := d.realize(); err != nil {
		return grid.Location{}, err
	}
	return d.d.Location()
}

// Volume returns the droplet's volume.
func (d *Droplet) Volume() (float64, error) {
	if err := d.realize(); err != nil {
		return 0, err
	}
	return d.d.Volume()
}

// Info returns the droplet's free-form descriptive tag.
func (d *Droplet) Info() (string, error) {
	if err := d.realize(); err != nil {
		return "", err
	}
	return d.d.Info()
}

// Concentration returns the droplet's reagent concentration.
func (d *Droplet) Concentration() (float64, error) {
	if err := d.realize(); err != nil {
		return 0, err
	}
	return d.d.Concentration()
}
