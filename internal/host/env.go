// Package host implements the "wbg" import namespace a wasm-bindgen guest
// expects from its JavaScript glue, backed by the emulated objects in dom.
//
// Host functions cannot return errors to the guest. A protocol violation is
// recorded as the Env's fault and the host function panics with it; wazero
// turns the panic into a failed guest call and the caller reads Fault to get
// the typed error back.
package host

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"wasmkey/internal/closure"
	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
	"wasmkey/internal/handle"
	"wasmkey/internal/memory"
)

// Options configures an Env.
type Options struct {
	Logger      *zap.Logger
	AllocExport string
}

// Env is the per-attempt state behind the import namespace.
type Env struct {
	Table    *handle.Table
	Memory   *memory.Bridge
	Closures *closure.Trampoline
	DOM      *dom.Env

	log          *zap.Logger
	fault        error
	unrecognized []string
}

// NewEnv builds a fresh environment for one page. Nothing is shared between
// environments.
func NewEnv(page dom.Page, opts Options) *Env {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Env{
		Table:    handle.New(),
		Memory:   memory.New(opts.AllocExport),
		Closures: closure.New(log.Named("closure")),
		DOM:      dom.NewEnv(page),
		log:      log,
	}
}

// Window is shorthand for the emulated global object.
func (e *Env) Window() *dom.Window { return e.DOM.Window }

// Fault returns the first protocol violation raised by a host function.
func (e *Env) Fault() error { return e.fault }

// Unrecognized lists eval sources that matched no known form, in call order.
func (e *Env) Unrecognized() []string {
	return append([]string(nil), e.unrecognized...)
}

// fail records err and aborts the current guest call.
func (e *Env) fail(err error) {
	if e.fault == nil {
		e.fault = err
	}
	e.log.Warn("host call aborted", zap.Error(err))
	panic(err)
}

func (e *Env) bind(mod api.Module) {
	if !e.Memory.Bound() {
		e.Memory.Bind(mod)
	}
}

// get dereferences an i32 handle from the stack.
func (e *Env) get(raw uint64) any {
	v, err := e.Table.Get(api.DecodeU32(raw))
	if err != nil {
		e.fail(err)
	}
	return v
}

// put stores v and returns its handle encoded for the stack. The undefined
// and null sentinels map to their reserved slots.
func (e *Env) put(v any) uint64 {
	switch v {
	case nil, dom.Undefined:
		return api.EncodeU32(handle.Undefined)
	case dom.Null:
		return api.EncodeU32(handle.Null)
	}
	return api.EncodeU32(e.Table.Put(v))
}

func (e *Env) object(raw uint64) dom.Object {
	v := e.get(raw)
	o, ok := v.(dom.Object)
	if !ok {
		e.fail(errs.InvalidHandle(api.DecodeU32(raw), "not an object"))
	}
	return o
}

// prop reads name from the object at raw and stores the result.
func (e *Env) prop(raw uint64, name string) uint64 {
	v, _ := e.object(raw).Get(name)
	return e.put(v)
}

func (e *Env) readString(ptr, n uint64) string {
	s, err := e.Memory.ReadString(api.DecodeU32(ptr), api.DecodeU32(n))
	if err != nil {
		e.fail(err)
	}
	return s
}

// writeString passes s to the guest and stores the (ptr, len) pair at out.
func (e *Env) writeString(ctx context.Context, out uint64, s string) {
	ptr, n, err := e.Memory.PassString(ctx, s)
	if err != nil {
		e.fail(err)
	}
	e.writePair(out, ptr, n)
}

func (e *Env) writeBytes(ctx context.Context, out uint64, b []byte) {
	ptr, n, err := e.Memory.PassBytes(ctx, b)
	if err != nil {
		e.fail(err)
	}
	e.writePair(out, ptr, n)
}

func (e *Env) writePair(out uint64, ptr, n uint32) {
	if err := e.Memory.WriteOutPair(api.DecodeU32(out), ptr, n); err != nil {
		e.fail(err)
	}
}

func boolResult(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func numberU32(v any) uint64 {
	n, _ := dom.Number(v)
	if n < 0 {
		return 0
	}
	return api.EncodeU32(uint32(n))
}
