package host

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/wasmbin"
)

// Register instantiates the import namespace in r, backed by e.
func Register(ctx context.Context, r wazero.Runtime, e *Env) (api.Module, error) {
	b := r.NewHostModuleBuilder(Namespace)
	for _, f := range imports {
		fn := f.fn
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				e.bind(mod)
				fn(ctx, e, stack)
			}), f.sig.params, f.sig.results).
			WithName(f.name).
			Export(f.name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s imports: %w", Namespace, err)
	}
	return mod, nil
}

// Missing lists the imports of compiled that the catalogue cannot satisfy,
// as "namespace#name". An import whose name is known but whose signature
// differs is reported too. The catalogue provides only functions, so every
// memory, table and global import is missing. wazero does not expose table or
// global imports, so those are read from module, the bytes compiled came from.
func Missing(compiled wazero.CompiledModule, module []byte) ([]string, error) {
	known := make(map[string]signature, len(imports))
	for _, f := range imports {
		known[f.name] = f.sig
	}

	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		ns, name, _ := def.Import()
		s, ok := known[name]
		if ns != Namespace || !ok ||
			!slices.Equal(s.params, def.ParamTypes()) ||
			!slices.Equal(s.results, def.ResultTypes()) {
			missing = append(missing, ns+"#"+name)
		}
	}
	for _, def := range compiled.ImportedMemories() {
		ns, name, _ := def.Import()
		missing = append(missing, ns+"#"+name)
	}

	decls, err := wasmbin.Imports(module)
	if err != nil {
		return nil, fmt.Errorf("reading import section: %w", err)
	}
	for _, imp := range decls {
		if imp.Kind == wasmbin.KindTable || imp.Kind == wasmbin.KindGlobal {
			missing = append(missing, imp.Module+"#"+imp.Name)
		}
	}
	slices.Sort(missing)
	return missing, nil
}
