package closure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/errs"
	"wasmkey/internal/wasmbin"
)

type dtorCall struct{ idx, a, b uint32 }

type fakeGuest struct {
	calls   [][]uint64
	dtors   []dtorCall
	during  func()
	callErr error
}

func (g *fakeGuest) Call(_ context.Context, export string, params ...uint64) ([]uint64, error) {
	g.calls = append(g.calls, params)
	if g.during != nil {
		g.during()
	}
	if g.callErr != nil {
		return nil, g.callErr
	}
	return []uint64{uint64(len(params))}, nil
}

func (g *fakeGuest) CallTable(_ context.Context, idx, a, b uint32) error {
	g.dtors = append(g.dtors, dtorCall{idx, a, b})
	return nil
}

func newTrampoline() (*Trampoline, *fakeGuest) {
	g := &fakeGuest{}
	tr := New(nil)
	tr.Bind(g)
	return tr, g
}

func TestWrapStartsWithOneReference(t *testing.T) {
	tr, _ := newTrampoline()
	rec := tr.Wrap(10, 20, 2, "__wbindgen_export_3")

	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, uint32(10), rec.A)
	assert.Equal(t, 1, tr.Live())
	assert.False(t, rec.Destroyed())
}

func TestInvokeForwardsEnvironmentPointers(t *testing.T) {
	tr, g := newTrampoline()
	rec := tr.Wrap(10, 20, 2, "__wbindgen_export_4")

	res, err := tr.Invoke(context.Background(), rec, 133)
	require.NoError(t, err)

	assert.Equal(t, []uint64{3}, res)
	require.Len(t, g.calls, 1)
	assert.Equal(t, []uint64{10, 20, 133}, g.calls[0])
	assert.Equal(t, 1, rec.Count, "count restored after the call")
	assert.Empty(t, g.dtors)
}

func TestDropDestroysExactlyOnce(t *testing.T) {
	tr, g := newTrampoline()
	ctx := context.Background()
	rec := tr.Wrap(10, 20, 2, "target")

	require.NoError(t, tr.Drop(ctx, rec))
	assert.True(t, rec.Destroyed())
	assert.Zero(t, rec.A)
	assert.Equal(t, []dtorCall{{2, 10, 20}}, g.dtors)
	assert.Zero(t, tr.Live())

	err := tr.Drop(ctx, rec)
	assert.ErrorIs(t, err, errs.ErrModule)
	assert.Len(t, g.dtors, 1)
}

func TestInvokeAfterDestroyFails(t *testing.T) {
	tr, g := newTrampoline()
	ctx := context.Background()
	rec := tr.Wrap(10, 20, 2, "target")
	require.NoError(t, tr.Drop(ctx, rec))

	_, err := tr.Invoke(ctx, rec)
	assert.ErrorIs(t, err, errs.ErrModule)
	assert.Empty(t, g.calls)
}

func TestDropDuringInvokeDefersDestructor(t *testing.T) {
	tr, g := newTrampoline()
	ctx := context.Background()
	rec := tr.Wrap(10, 20, 2, "target")

	g.during = func() {
		assert.Equal(t, 2, rec.Count)
		require.NoError(t, tr.Drop(ctx, rec))
		assert.Empty(t, g.dtors, "destructor must not run while the call is in flight")
	}

	_, err := tr.Invoke(ctx, rec)
	require.NoError(t, err)

	assert.True(t, rec.Destroyed())
	assert.Equal(t, []dtorCall{{2, 10, 20}}, g.dtors)
}

func TestNestedInvokeKeepsRecordAlive(t *testing.T) {
	tr, g := newTrampoline()
	ctx := context.Background()
	rec := tr.Wrap(1, 2, 3, "target")

	depth := 0
	g.during = func() {
		if depth == 0 {
			depth++
			_, err := tr.Invoke(ctx, rec)
			require.NoError(t, err)
			assert.Equal(t, 2, rec.Count)
		}
	}

	_, err := tr.Invoke(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Len(t, g.calls, 2)
	assert.Empty(t, g.dtors)
}

func TestInvokeErrorStillReleasesCall(t *testing.T) {
	tr, g := newTrampoline()
	rec := tr.Wrap(1, 2, 3, "target")
	g.callErr = errors.New("trap")

	_, err := tr.Invoke(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, 1, rec.Count)
}

func TestUnboundTrampoline(t *testing.T) {
	tr := New(nil)
	rec := tr.Wrap(1, 2, 3, "target")

	_, err := tr.Invoke(context.Background(), rec)
	assert.ErrorIs(t, err, errs.ErrModule)
}

// TestModuleGuestRunsTableDestructor links a real trampoline module against a
// guest table and checks the destructor sees (a, b).
func TestModuleGuestRunsTableDestructor(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	i32 := api.ValueTypeI32
	m := wasmbin.New()
	lastA := m.Global(i32, true, 0)
	lastB := m.Global(i32, true, 0)
	noop := m.Func(wasmbin.Sig([]api.ValueType{i32, i32}), nil)
	dtor := m.Func(wasmbin.Sig([]api.ValueType{i32, i32}), nil,
		wasmbin.LocalGet(0), wasmbin.GlobalSet(lastA),
		wasmbin.LocalGet(1), wasmbin.GlobalSet(lastB),
	)
	target := m.Func(wasmbin.Sig([]api.ValueType{i32, i32}, i32), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Add(),
	)
	m.Table(noop, noop, dtor)
	m.Export("__wbindgen_export_2", wasmbin.KindTable, 0)
	m.Export("target", wasmbin.KindFunc, target)
	m.Export("last_a", wasmbin.KindGlobal, lastA)
	m.Export("last_b", wasmbin.KindGlobal, lastB)

	guest, err := r.InstantiateWithConfig(ctx, m.Encode(), wazero.NewModuleConfig().WithName("guest"))
	require.NoError(t, err)
	dtorMod, err := r.InstantiateWithConfig(ctx,
		wasmbin.DestructorTrampoline("guest", "__wbindgen_export_2"),
		wazero.NewModuleConfig().WithName("dtor"))
	require.NoError(t, err)

	tr := New(nil)
	tr.Bind(NewModuleGuest(guest, dtorMod))
	rec := tr.Wrap(40, 2, 2, "target")

	res, err := tr.Invoke(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[0])

	require.NoError(t, tr.Drop(ctx, rec))
	assert.Equal(t, uint64(40), guest.ExportedGlobal("last_a").Get())
	assert.Equal(t, uint64(2), guest.ExportedGlobal("last_b").Get())
}

func TestModuleGuestMissingExport(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, wasmbin.New().Encode())
	require.NoError(t, err)

	g := NewModuleGuest(mod, nil)
	_, err = g.Call(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrModule)
	assert.ErrorIs(t, g.CallTable(ctx, 0, 0, 0), errs.ErrModule)
}
