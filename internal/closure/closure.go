// Package closure implements the wasm-bindgen closure protocol: records the
// host holds for guest closures, reference counted across nested calls and
// destroyed through the guest's function table exactly once.
package closure

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wasmkey/internal/errs"
)

// Guest is the part of an instantiated module the trampoline needs.
type Guest interface {
	// Call invokes an exported function.
	Call(ctx context.Context, export string, params ...uint64) ([]uint64, error)
	// CallTable invokes entry idx of the guest's function table with (a, b).
	CallTable(ctx context.Context, idx, a, b uint32) error
}

// Record is the host's view of one guest closure.
type Record struct {
	ID     int
	A      uint32
	B      uint32
	Count  int
	Dtor   uint32
	Target string

	destroyed bool
}

// Invocable marks a Record as callable from the emulated environment.
func (r *Record) Invocable() {}

// Destroyed reports whether the destructor has run.
func (r *Record) Destroyed() bool { return r.destroyed }

func (r *Record) String() string {
	return fmt.Sprintf("closure#%d(%s a=%d b=%d cnt=%d)", r.ID, r.Target, r.A, r.B, r.Count)
}

// Trampoline creates, invokes and destroys records for one guest.
type Trampoline struct {
	guest  Guest
	log    *zap.Logger
	nextID int
	live   int
}

// New returns a trampoline. Bind must be called before any record is invoked.
func New(log *zap.Logger) *Trampoline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trampoline{log: log}
}

// Bind attaches the instantiated guest.
func (t *Trampoline) Bind(g Guest) {
	t.guest = g
}

// Live returns the number of records not yet destroyed.
func (t *Trampoline) Live() int { return t.live }

// Wrap registers a guest closure whose calls go to target with (a, b, ...).
func (t *Trampoline) Wrap(a, b, dtor uint32, target string) *Record {
	t.nextID++
	t.live++
	rec := &Record{ID: t.nextID, A: a, B: b, Count: 1, Dtor: dtor, Target: target}
	t.log.Debug("closure created", zap.Stringer("closure", rec))
	return rec
}

// Invoke calls the record's target with (A, B, args...). The record is held
// for the duration of the call, so a drop issued by the guest meanwhile does
// not destroy it until the call returns.
func (t *Trampoline) Invoke(ctx context.Context, rec *Record, args ...uint64) ([]uint64, error) {
	if rec.destroyed {
		return nil, errs.Module(nil, "invoking destroyed %s", rec)
	}
	if t.guest == nil {
		return nil, errs.Module(nil, "closure trampoline used before the guest was bound")
	}

	rec.Count++
	params := append([]uint64{uint64(rec.A), uint64(rec.B)}, args...)
	res, callErr := t.guest.Call(ctx, rec.Target, params...)
	rec.Count--

	if rec.Count == 0 {
		if err := t.destroy(ctx, rec); err != nil && callErr == nil {
			return nil, err
		}
	}
	if callErr != nil {
		return nil, fmt.Errorf("calling %s: %w", rec.Target, callErr)
	}
	return res, nil
}

// Drop releases the guest's reference. The destructor runs when the count
// reaches zero.
func (t *Trampoline) Drop(ctx context.Context, rec *Record) error {
	if rec.destroyed || rec.Count <= 0 {
		return errs.Module(nil, "untracked drop of %s", rec)
	}
	rec.Count--
	if rec.Count == 0 {
		return t.destroy(ctx, rec)
	}
	return nil
}

func (t *Trampoline) destroy(ctx context.Context, rec *Record) error {
	if rec.destroyed {
		return nil
	}
	rec.destroyed = true
	t.live--
	a := rec.A
	rec.A = 0

	if t.guest == nil {
		return errs.Module(nil, "no guest bound to destroy %s", rec)
	}
	if err := t.guest.CallTable(ctx, rec.Dtor, a, rec.B); err != nil {
		return errs.Module(err, "destructor %d for closure#%d", rec.Dtor, rec.ID)
	}
	t.log.Debug("closure destroyed", zap.Int("id", rec.ID), zap.Uint32("dtor", rec.Dtor))
	return nil
}
