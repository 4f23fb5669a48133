// Package runner drives one guest module from download to token.
//
// Every Run gets its own wazero runtime, object table, memory bridge, closure
// trampoline and window. Only compiled code may be shared between runs,
// through Options.Cache.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"wasmkey/internal/closure"
	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
	"wasmkey/internal/host"
	"wasmkey/internal/wasmbin"
)

// Default guest entry names.
const (
	DefaultEntrypoint = "groot"
	DefaultInstall    = "jwt_plugin"
	DefaultNavigate   = "navigate"

	guestModuleName = "guest"
	dtorModuleName  = "wbg_dtor"
)

// Options configures a Driver.
type Options struct {
	Logger *zap.Logger

	Entrypoint string
	Install    string
	Navigate   string

	// StrictEval fails the step in which the guest evaluated a source the
	// host does not recognize.
	StrictEval bool

	AllocExport string
	Cache       wazero.CompilationCache

	// Observe, if set, is called after every step.
	Observe func(Transition)
}

// Token is the material harvested from a successful run.
type Token struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	PID      string `json:"pid" yaml:"pid"`
	KVersion string `json:"kversion" yaml:"kversion"`
	KID      string `json:"kid" yaml:"kid"`
	Payload  []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Driver runs guest modules. It holds no per-run state and is safe for
// concurrent use.
type Driver struct {
	opts Options
	log  *zap.Logger
}

// New returns a Driver with defaults filled in.
func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Entrypoint == "" {
		opts.Entrypoint = DefaultEntrypoint
	}
	if opts.Install == "" {
		opts.Install = DefaultInstall
	}
	if opts.Navigate == "" {
		opts.Navigate = DefaultNavigate
	}
	return &Driver{opts: opts, log: opts.Logger}
}

// run is the state of a single Run call.
type run struct {
	d      *Driver
	id     string
	state  State
	log    *zap.Logger
	env    *host.Env
	guest  api.Module
	module []byte
	evals  int
}

// Run fetches the module, instantiates it against a fresh environment built
// from page, installs the plugin, navigates and harvests the token.
func (d *Driver) Run(ctx context.Context, src ModuleSource, page dom.Page) (*Token, error) {
	id := uuid.NewString()
	r := &run{
		d:     d,
		id:    id,
		state: Idle,
		log:   d.log.With(zap.String("run_id", id)),
	}
	start := time.Now()
	r.log.Info("run started", zap.Stringer("source", src), zap.String("xrax", page.Xrax))

	cfg := wazero.NewRuntimeConfig()
	if d.opts.Cache != nil {
		cfg = cfg.WithCompilationCache(d.opts.Cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer rt.Close(ctx)

	if err := r.step(errs.StepFetch, Fetched, func() error { return r.fetch(ctx, src) }); err != nil {
		return nil, err
	}
	if err := r.step(errs.StepInstantiate, Instantiated, func() error { return r.instantiate(ctx, rt, page) }); err != nil {
		return nil, err
	}
	if err := r.step(errs.StepInstall, PluginInstalled, func() error { return r.install(ctx) }); err != nil {
		return nil, err
	}

	var payload []byte
	if err := r.step(errs.StepNavigate, PluginInstalled, func() (err error) {
		payload, err = r.navigate(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	var tok *Token
	if err := r.step(errs.StepHarvest, TokenReady, func() (err error) {
		tok, err = r.harvest()
		return err
	}); err != nil {
		return nil, err
	}
	tok.RunID = id
	tok.Payload = payload

	r.log.Info("run finished",
		zap.String("pid", tok.PID),
		zap.String("kversion", tok.KVersion),
		zap.Duration("elapsed", time.Since(start)),
	)
	return tok, nil
}

// step runs fn and moves to next on success or Failed otherwise. The guest's
// recorded fault takes precedence over the error fn returned, and in strict
// mode an unrecognized eval during the step fails it.
func (r *run) step(s errs.Step, next State, fn func() error) error {
	start := time.Now()
	from := r.state

	err := fn()
	if r.env != nil {
		if fault := r.env.Fault(); fault != nil && err != nil {
			err = fault
		}
		if err == nil && r.d.opts.StrictEval {
			if seen := r.env.Unrecognized(); len(seen) > r.evals {
				err = errs.Module(nil, "unrecognized eval source %q", seen[r.evals])
			}
		}
		r.evals = len(r.env.Unrecognized())
	}

	if err != nil {
		r.state = Failed
		err = errs.At(s, err)
		r.log.Warn("step failed", zap.String("step", string(s)), zap.Error(err))
	} else {
		r.state = next
		r.log.Debug("step done",
			zap.String("step", string(s)),
			zap.Stringer("state", next),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	if obs := r.d.opts.Observe; obs != nil {
		obs(Transition{RunID: r.id, From: from, To: r.state, Step: s, Elapsed: time.Since(start), Err: err})
	}
	return err
}

func (r *run) fetch(ctx context.Context, src ModuleSource) error {
	data, err := src.Load(ctx)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return err
		}
		return errs.Fetch(err, "loading module from %s", src)
	}
	r.module = data
	return nil
}

func (r *run) instantiate(ctx context.Context, rt wazero.Runtime, page dom.Page) error {
	compiled, err := rt.CompileModule(ctx, r.module)
	if err != nil {
		return errs.Module(err, "compiling module")
	}
	missing, err := host.Missing(compiled, r.module)
	if err != nil {
		return errs.Module(err, "checking imports")
	}
	if len(missing) > 0 {
		return errs.MissingImports(missing)
	}

	r.env = host.NewEnv(page, host.Options{
		Logger:      r.log.Named("host"),
		AllocExport: r.d.opts.AllocExport,
	})
	r.env.Window().Bytes = r.module

	if _, err := host.Register(ctx, rt, r.env); err != nil {
		return errs.Module(err, "registering imports")
	}

	guest, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(guestModuleName))
	if err != nil {
		return errs.Module(err, "instantiating module")
	}
	r.guest = guest
	r.env.Memory.Bind(guest)

	var dtorMod api.Module
	if guest.ExportedFunction(host.ReturningClosure) != nil || guest.ExportedFunction(host.ArgumentClosure) != nil {
		dtorMod, err = rt.InstantiateWithConfig(ctx,
			wasmbin.DestructorTrampoline(guestModuleName, host.DtorTableExport),
			wazero.NewModuleConfig().WithName(dtorModuleName))
		if err != nil {
			r.log.Debug("no destructor table; closures cannot be destroyed", zap.Error(err))
			dtorMod = nil
		}
	}
	r.env.Closures.Bind(closure.NewModuleGuest(guest, dtorMod))

	if guest.ExportedFunction(r.d.opts.Entrypoint) == nil {
		return errs.Module(nil, "guest does not export entrypoint %q", r.d.opts.Entrypoint)
	}
	return nil
}

// install runs the guest entrypoint, then hands the module bytes to the
// plugin installer. Faults raised by either are install failures.
func (r *run) install(ctx context.Context) error {
	if _, err := r.guest.ExportedFunction(r.d.opts.Entrypoint).Call(ctx); err != nil {
		return errs.Module(err, "calling %s", r.d.opts.Entrypoint)
	}
	arg := uint64(r.env.Table.Put(host.NewUint8Array(r.module)))
	_, err := r.callGuest(ctx, r.d.opts.Install, arg)
	return err
}

func (r *run) navigate(ctx context.Context) ([]byte, error) {
	res, err := r.callGuest(ctx, r.d.opts.Navigate)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errs.Module(nil, "%s returned nothing", r.d.opts.Navigate)
	}
	h := api.DecodeU32(res[0])
	v, err := r.env.Table.Take(h)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	payload, ok := host.BytesOf(v)
	if !ok {
		return nil, errs.Module(nil, "%s returned %T, want bytes", r.d.opts.Navigate, v)
	}
	return payload, nil
}

// callGuest calls name as a closure the guest attached to window, or failing
// that as a guest export.
func (r *run) callGuest(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	if fn, ok := r.env.Window().Callback(name); ok {
		rec, ok := fn.(*closure.Record)
		if !ok {
			return nil, errs.Module(nil, "window.%s is not a guest closure", name)
		}
		r.log.Debug("invoking window closure", zap.String("name", name), zap.Stringer("closure", rec))
		return r.env.Closures.Invoke(ctx, rec, args...)
	}

	fn := r.guest.ExportedFunction(name)
	if fn == nil {
		return nil, errs.Module(nil, "guest registered no %q closure and exports no such function", name)
	}
	// Match the export's arity: extra arguments are dropped, missing ones zeroed.
	params := make([]uint64, len(fn.Definition().ParamTypes()))
	copy(params, args)
	args = params
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("calling export %s: %w", name, err)
	}
	return res, nil
}

func (r *run) harvest() (*Token, error) {
	win := r.env.Window()
	tok := &Token{PID: win.PID}
	if tok.PID == "" {
		return nil, errs.MissingField("pid")
	}

	var ok bool
	if tok.KVersion, ok = win.LocalStorage.Item("kversion"); !ok || tok.KVersion == "" {
		return nil, errs.MissingField("kversion")
	}
	if tok.KID, ok = win.LocalStorage.Item("kid"); !ok || tok.KID == "" {
		return nil, errs.MissingField("kid")
	}
	return tok, nil
}
