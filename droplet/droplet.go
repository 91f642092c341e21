// Package droplet implements the droplet lifecycle state machine: every
// droplet is born Virtual (the output of a not-yet-executed command), is
// promoted to Real once its producing command has physically run on the
// board, and is finally marked Consumed once some later command has taken
// it as an input. Accessing a droplet's physical properties outside the
// Real state is a programming error the caller can choose to tolerate
// (client.EagerOnRead) or forbid (client.StrictLifecycle); droplet itself
// always reports the violation via StateError and lets the caller decide.
package droplet

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dmfcore/puddle/grid"
)

// State is the droplet's position in its Virtual -> Real -> Consumed
// lifecycle.
type State int

const (
	// Virtual droplets are the declared output of a queued command that
	// has not yet been executed; they have no board location.
	Virtual State = iota
	// Real droplets occupy a board location and carry physical properties.
	Real
	// Consumed droplets have been taken as input by a later command and
	// no longer occupy the board.
	Consumed
)

// String implements fmt.Stringer for readable error messages and logs.
func (s State) String() string {
	switch s {
	case Virtual:
		return "virtual"
	case Real:
		return "real"
	case Consumed:
		return "consumed"
	default:
		return fmt.Sprintf("droplet.State(%d)", int(s))
	}
}

// ErrWrongState is the sentinel wrapped by every StateError.
var ErrWrongState = errors.New("droplet: operation not valid in current state")

// ErrNotRealized is the same sentinel as ErrWrongState, named for the
// specific case client.StrictLifecycle callers check: a property read on
// a droplet that has not yet been flushed to Real.
var ErrNotRealized = ErrWrongState

// StateError reports that an operation was attempted on a droplet that is
// not in the state the operation requires.
type StateError struct {
	ID   ID
	Have State
	Want State
	Op   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("droplet: %s on %s requires state %s, have %s", e.Op, e.ID, e.Want, e.Have)
}

func (e *StateError) Unwrap() error { return ErrWrongState }

// ID uniquely identifies a droplet for the lifetime of an Engine. IDs are
// assigned in allocation order and never reused.
type ID uint64

// String renders the ID the way board cell neighbors and logs reference it.
func (id ID) String() string { return fmt.Sprintf("d%d", uint64(id)) }

// idCounter hands out monotonically increasing droplet IDs from one
// package-level atomic counter, the same atomic-increment style
// core.Graph uses for its per-graph edge IDs (nextEdgeID); tests that
// need a clean slate use ResetIDs.
var idCounter uint64

// NextID allocates a fresh, never-before-used droplet ID.
func NextID() ID {
	return ID(atomic.AddUint64(&idCounter, 1))
}

// ResetIDs resets the package-level ID counter to zero. It exists solely so
// tests can produce deterministic, reproducible IDs; production code never
// calls it.
func ResetIDs() {
	atomic.StoreUint64(&idCounter, 0)
}

// CollisionGroup identifies droplets that are permitted to touch without
// triggering a board collision error — siblings mid-split, or the two
// inputs of a mix while they are still approaching each other.
type CollisionGroup uint64

var groupCounter uint64

// NextCollisionGroup allocates a fresh collision group id.
func NextCollisionGroup() CollisionGroup {
	return CollisionGroup(atomic.AddUint64(&groupCounter, 1))
}

// ResetCollisionGroups resets the package-level collision-group counter;
// test-only, mirrors ResetIDs.
func ResetCollisionGroups() {
	atomic.StoreUint64(&groupCounter, 0)
}

// Droplet is a quantity of fluid tracked through its Virtual -> Real ->
// Consumed lifecycle. Volume, Info, and Concentration are physical
// properties only meaningful once the droplet is Real; Location is the
// anchor cell of its Shape footprint on the board.
type Droplet struct {
	id    ID
	state State

	shape    grid.Shape
	location grid.Location
	group    CollisionGroup

	volume        float64
	info          string
	concentration float64
}

// New constructs a Virtual droplet with the given footprint, physical
// properties, and a freshly allocated ID and collision group. It has no
// board location until a command places and executes it.
func New(shape grid.Shape, volume float64, info string, concentration float64) *Droplet {
	return &Droplet{
		id:            NextID(),
		state:         Virtual,
		shape:         shape,
		group:         NextCollisionGroup(),
		volume:        volume,
		info:          info,
		concentration: concentration,
	}
}

// ID returns the droplet's identity. Valid in any state.
func (d *Droplet) ID() ID { return d.id }

// State returns the droplet's current lifecycle state.
func (d *Droplet) State() State { return d.state }

// Shape returns the droplet's footprint, defined relative to its anchor
// Location. A single-cell droplet has a Shape containing only the origin.
func (d *Droplet) Shape() grid.Shape { return d.shape }

// Group returns the droplet's current collision group.
func (d *Droplet) Group() CollisionGroup { return d.group }

// SetGroup reassigns the droplet's collision group; execution uses this to
// temporarily merge two droplets' groups while they approach each other for
// a mix, and to give split siblings a shared group until they separate.
func (d *Droplet) SetGroup(g CollisionGroup) { d.group = g }

// Cells returns the absolute board locations the droplet currently
// occupies, computed from its Shape and anchor Location. Only valid when
// Real; returns nil otherwise.
func (d *Droplet) Cells() []grid.Location {
	if d.state != Real {
		return nil
	}
	return d.shape.At(d.location)
}

// Location returns the droplet's anchor cell. Returns a StateError if the
// droplet is not Real.
func (d *Droplet) Location() (grid.Location, error) {
	if d.state != Real {
		return grid.Location{}, &StateError{ID: d.id, Have: d.state, Want: Real, Op: "Location"}
	}
	return d.location, nil
}

// Volume returns the droplet's volume. Returns a StateError if the droplet
// is not Real.
func (d *Droplet) Volume() (float64, error) {
	if d.state != Real {
		return 0, &StateError{ID: d.id, Have: d.state, Want: Real, Op: "Volume"}
	}
	return d.volume, nil
}

// Info returns the droplet's free-form descriptive tag. Returns a
// StateError if the droplet is not Real.
func (d *Droplet) Info() (string, error) {
	if d.state != Real {
		return "", &StateError{ID: d.id, Have: d.state, Want: Real, Op: "Info"}
	}
	return d.info, nil
}

// Concentration returns the droplet's reagent concentration. Returns a
// StateError if the droplet is not Real.
func (d *Droplet) Concentration() (float64, error) {
	if d.state != Real {
		return 0, &StateError{ID: d.id, Have: d.state, Want: Real, Op: "Concentration"}
	}
	return d.concentration, nil
}

// SetProperties overwrites the droplet's physical properties. Mix and
// Split outputs are allocated before their producing command runs, when
// their combined/halved properties are not yet known; execution calls
// SetProperties once those values are computed, before the droplet is
// materialized onto the board.
func (d *Droplet) SetProperties(volume float64, info string, concentration float64) {
	d.volume = volume
	d.info = info
	d.concentration = concentration
}

// Materialize promotes a Virtual droplet to Real at loc, once its
// producing command has actually run on the board. Returns a StateError if
// the droplet is not Virtual.
func (d *Droplet) Materialize(loc grid.Location) error {
	if d.state != Virtual {
		return &StateError{ID: d.id, Have: d.state, Want: Virtual, Op: "Materialize"}
	}
	d.location = loc
	d.state = Real
	return nil
}

// MoveTo relocates a Real droplet to a new anchor cell, one router step at
// a time. Returns a StateError if the droplet is not Real.
func (d *Droplet) MoveTo(loc grid.Location) error {
	if d.state != Real {
		return &StateError{ID: d.id, Have: d.state, Want: Real, Op: "MoveTo"}
	}
	d.location = loc
	return nil
}

// Consume marks a Real droplet Consumed, once a later command has taken it
// as input. Returns a StateError if the droplet is not Real.
func (d *Droplet) Consume() error {
	if d.state != Real {
		return &StateError{ID: d.id, Have: d.state, Want: Real, Op: "Consume"}
	}
	d.state = Consumed
	return nil
}

// Mix combines a and b's physical properties into a single result:
// volumes sum, concentration is volume-weighted, and info records both
// inputs. It does not mutate a or b; the caller (command.Mix) is
// responsible for retiring the inputs via Consume.
func Mix(a, b *Droplet) (volume float64, info string, concentration float64) {
	volume = a.volume + b.volume
	info = fmt.Sprintf("(%s, %s)", a.info, b.info)
	if volume == 0 {
		return volume, info, 0
	}
	concentration = (a.concentration*a.volume + b.concentration*b.volume) / volume
	return volume, info, concentration
}

// Split computes the physical properties of the two equal halves produced
// by splitting src: volume is halved, concentration is preserved, info
// keeps the parent's tag.
func Split(src *Droplet) (volume float64, info string, concentration float64) {
	return src.volume / 2, src.info, src.concentration
}
