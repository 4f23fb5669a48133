package closure

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/errs"
	"wasmkey/internal/wasmbin"
)

// ModuleGuest adapts an instantiated guest and its linked destructor
// trampoline module to Guest.
type ModuleGuest struct {
	mod  api.Module
	dtor api.Function
}

// NewModuleGuest wraps mod. dtorMod is the instance of
// wasmbin.DestructorTrampoline linked against mod's table; it may be nil when
// the guest exports no table, in which case destroying a closure fails.
func NewModuleGuest(mod, dtorMod api.Module) *ModuleGuest {
	g := &ModuleGuest{mod: mod}
	if dtorMod != nil {
		g.dtor = dtorMod.ExportedFunction(wasmbin.CallDtorExport)
	}
	return g
}

// Call invokes the named export.
func (g *ModuleGuest) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	fn := g.mod.ExportedFunction(export)
	if fn == nil {
		return nil, errs.Module(nil, "guest does not export %q", export)
	}
	return fn.Call(ctx, params...)
}

// CallTable calls table[idx](a, b) through the trampoline.
func (g *ModuleGuest) CallTable(ctx context.Context, idx, a, b uint32) error {
	if g.dtor == nil {
		return errs.Module(nil, "guest exports no destructor table")
	}
	_, err := g.dtor.Call(ctx, api.EncodeU32(idx), api.EncodeU32(a), api.EncodeU32(b))
	return err
}
