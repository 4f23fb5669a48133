package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
	"wasmkey/internal/httputil"
	w "wasmkey/internal/wasmbin"
)

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

func ints(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// Scripted guest memory layout.
const (
	outMeta   = 16
	outPixels = 24

	strContent  = 256
	strEval     = 300
	strKVKey    = 420
	strKVValue  = 440
	strKIDKey   = 460
	strNavigate = 480
	strInstall  = 500
	strPayload  = 520

	guestHeap = 4096
	pixelLen  = dom.ImageWidth * dom.ImageHeight * 4
)

type guestShape struct {
	eval     string
	closures bool // register navigate/jwt_plugin on window; otherwise export them
	setKID   bool
	badDrop  bool
}

func defaultShape() guestShape {
	return guestShape{eval: "window.pid = 'abc123'", closures: true, setKID: true}
}

// buildGuest assembles a module that behaves like the provider's: it reads
// the meta content into localStorage.kid, checks the decoy pixels, evals the
// pid assignment, stores kversion and registers its closures on window.
func buildGuest(s guestShape) []byte {
	m := w.New()

	querySelector := m.ImportFunc("wbg", "__wbg_querySelector_118a0639aa1f51cd", w.Sig(ints(3), i32))
	getAttribute := m.ImportFunc("wbg", "__wbg_getAttribute_706ae88bd37410fa", w.Sig(ints(4)))
	getImageData := m.ImportFunc("wbg", "__wbg_getImageData_66269d289f37d3c7", w.Sig([]api.ValueType{i32, f64, f64, f64, f64}, i32))
	data := m.ImportFunc("wbg", "__wbg_data_d34dc554f90b8652", w.Sig(ints(2)))
	eval := m.ImportFunc("wbg", "__wbg_eval_c824e170787ad184", w.Sig(ints(2), i32))
	self := m.ImportFunc("wbg", "__wbg_self_05040bd9523805b9", w.Sig(nil, i32))
	localStorage := m.ImportFunc("wbg", "__wbg_localStorage_3d538af21ea07fcc", w.Sig(ints(1), i32))
	stringNew := m.ImportFunc("wbg", "__wbindgen_string_new", w.Sig(ints(2), i32))
	set := m.ImportFunc("wbg", "__wbg_set_961700853a212a39", w.Sig(ints(3), i32))
	dropRef := m.ImportFunc("wbg", "__wbindgen_object_drop_ref", w.Sig(ints(1)))
	wrap117 := m.ImportFunc("wbg", "__wbindgen_closure_wrapper117", w.Sig(ints(3), i32))
	wrap119 := m.ImportFunc("wbg", "__wbindgen_closure_wrapper119", w.Sig(ints(3), i32))
	throw := m.ImportFunc("wbg", "__wbindgen_throw", w.Sig(ints(2)))

	m.Memory(1)
	m.Data(strContent, []byte("content"))
	m.Data(strEval, []byte(s.eval))
	m.Data(strKVKey, []byte("kversion"))
	m.Data(strKVValue, []byte("1337"))
	m.Data(strKIDKey, []byte("kid"))
	m.Data(strNavigate, []byte("navigate"))
	m.Data(strInstall, []byte("jwt_plugin"))
	m.Data(strPayload, []byte("PAYLOAD"))

	alloc, _ := m.BumpAllocator(guestHeap)

	const win, store, h = 0, 1, 2
	str := func(ptr, n int32) []byte {
		return w.Seq(w.I32Const(ptr), w.I32Const(n), w.Call(stringNew))
	}
	fail := w.Seq(w.If(), w.I32Const(strContent), w.I32Const(7), w.Call(throw), w.End())

	body := [][]byte{
		w.Call(self), w.LocalSet(win),
		w.LocalGet(win), w.Call(localStorage), w.LocalSet(store),

		// meta content
		w.I32Const(0), w.I32Const(0), w.I32Const(0), w.Call(querySelector), w.LocalSet(h),
		w.I32Const(outMeta), w.LocalGet(h), w.I32Const(strContent), w.I32Const(7), w.Call(getAttribute),
	}
	if s.setKID {
		body = append(body,
			w.LocalGet(store),
			str(strKIDKey, 3),
			w.I32Const(outMeta), w.I32Load(0),
			w.I32Const(outMeta), w.I32Load(4),
			w.Call(stringNew),
			w.Call(set), w.Drop(),
		)
	}
	body = append(body,
		// decoy pixels
		w.I32Const(0), w.F64Const(0), w.F64Const(0), w.F64Const(0), w.F64Const(0), w.Call(getImageData), w.LocalSet(h),
		w.I32Const(outPixels), w.LocalGet(h), w.Call(data),
		w.I32Const(outPixels), w.I32Load(4), w.I32Const(pixelLen), w.I32Ne(), fail,
		w.I32Const(outPixels), w.I32Load(0), w.I32Load8U(0), w.I32Const(7), w.I32Ne(), fail,

		// eval
		w.I32Const(strEval), w.I32Const(int32(len(s.eval))), w.Call(eval), w.Call(dropRef),

		// kversion
		w.LocalGet(store), str(strKVKey, 8), str(strKVValue, 4), w.Call(set), w.Drop(),
	)
	if s.closures {
		body = append(body,
			w.LocalGet(win), str(strNavigate, 8),
			w.I32Const(10), w.I32Const(20), w.I32Const(0), w.Call(wrap117),
			w.Call(set), w.Drop(),
			w.LocalGet(win), str(strInstall, 10),
			w.I32Const(11), w.I32Const(21), w.I32Const(0), w.Call(wrap119),
			w.Call(set), w.Drop(),
		)
	}
	if s.badDrop {
		body = append(body, w.I32Const(900), w.Call(dropRef))
	}
	groot := m.Func(w.Sig(nil), []api.ValueType{i32, i32, i32}, body...)

	// navigate target: (a, b) -> payload handle
	navigate := m.Func(w.Sig(ints(2), i32), nil,
		w.LocalGet(0), w.I32Const(10), w.I32Ne(), w.If(), w.Unreachable(), w.End(),
		str(strPayload, 7),
	)
	// install target: (a, b, bytes)
	install := m.Func(w.Sig(ints(3)), nil,
		w.LocalGet(0), w.I32Const(11), w.I32Ne(), w.If(), w.Unreachable(), w.End(),
		w.LocalGet(2), w.Call(dropRef),
	)
	noop := m.Func(w.Sig(ints(2)), nil)

	m.Table(noop, noop, noop)
	m.Export("memory", w.KindMemory, 0)
	m.Export("__wbindgen_export_0", w.KindFunc, alloc)
	m.Export("__wbindgen_export_2", w.KindTable, 0)
	m.Export("groot", w.KindFunc, groot)
	if s.closures {
		m.Export("__wbindgen_export_3", w.KindFunc, navigate)
		m.Export("__wbindgen_export_4", w.KindFunc, install)
	} else {
		exportNavigate := m.Func(w.Sig(nil, i32), nil, str(strPayload, 7))
		exportInstall := m.Func(w.Sig(ints(1)), nil, w.LocalGet(0), w.Call(dropRef))
		m.Export("navigate", w.KindFunc, exportNavigate)
		m.Export("jwt_plugin", w.KindFunc, exportInstall)
	}
	return m.Encode()
}

func testPage(meta string) dom.Page {
	pixels := make([]byte, pixelLen)
	pixels[0] = 7
	return dom.Page{
		EmbedURL:       "https://megacloud.blog/embed-2/v2/e-1/abc?k=1",
		Origin:         "https://megacloud.blog",
		Xrax:           "abc",
		Meta:           meta,
		Pixels:         pixels,
		BrowserVersion: 1878522368,
	}
}

func TestRunEndToEnd(t *testing.T) {
	var transitions []Transition
	d := New(Options{
		StrictEval: true,
		Observe:    func(tr Transition) { transitions = append(transitions, tr) },
	})

	tok, err := d.Run(context.Background(), BytesSource(buildGuest(defaultShape())), testPage("c2VjcmV0=="))
	require.NoError(t, err)

	assert.Equal(t, "abc123", tok.PID)
	assert.Equal(t, "1337", tok.KVersion)
	assert.Equal(t, "c2VjcmV0==", tok.KID)
	assert.Equal(t, []byte("PAYLOAD"), tok.Payload)
	assert.NotEmpty(t, tok.RunID)

	var states []State
	for _, tr := range transitions {
		require.NoError(t, tr.Err)
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{Fetched, Instantiated, PluginInstalled, PluginInstalled, TokenReady}, states)
}

func TestRunExportFallback(t *testing.T) {
	shape := defaultShape()
	shape.closures = false

	tok, err := New(Options{}).Run(context.Background(), BytesSource(buildGuest(shape)), testPage("bWV0YQ=="))
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok.PID)
	assert.Equal(t, []byte("PAYLOAD"), tok.Payload)
}

func TestRunMissingImports(t *testing.T) {
	m := w.New()
	m.ImportFunc("wbg", "__wbg_not_provided_0123", w.Sig(nil))
	m.ImportFunc("wbg", "__wbindgen_string_new", w.Sig(ints(2), i32))

	var steps []errs.Step
	d := New(Options{Observe: func(tr Transition) { steps = append(steps, tr.Step) }})
	_, err := d.Run(context.Background(), BytesSource(m.Encode()), testPage("x"))

	require.ErrorIs(t, err, errs.ErrModule)
	assert.Equal(t, errs.StepInstantiate, errs.StepOf(err))

	var missing *errs.MissingImportsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"wbg#__wbg_not_provided_0123"}, missing.Imports)
	assert.Equal(t, []errs.Step{errs.StepFetch, errs.StepInstantiate}, steps)
}

func TestRunFailures(t *testing.T) {
	strictBad := defaultShape()
	strictBad.eval = "fetch('https://evil.example')"

	noKID := defaultShape()
	noKID.setKID = false

	badDrop := defaultShape()
	badDrop.badDrop = true

	tests := []struct {
		name   string
		src    ModuleSource
		strict bool
		kind   error
		step   errs.Step
	}{
		{"missing file", FileSource(filepath.Join(t.TempDir(), "nope.wasm")), true, errs.ErrFetch, errs.StepFetch},
		{"not wasm", BytesSource("<html>"), true, errs.ErrModule, errs.StepInstantiate},
		{"unrecognized eval strict", BytesSource(buildGuest(strictBad)), true, errs.ErrModule, errs.StepInstall},
		{"unrecognized eval lenient", BytesSource(buildGuest(strictBad)), false, errs.ErrMissingField, errs.StepHarvest},
		{"kid never set", BytesSource(buildGuest(noKID)), true, errs.ErrMissingField, errs.StepHarvest},
		{"untracked drop", BytesSource(buildGuest(badDrop)), true, errs.ErrInvalidHandle, errs.StepInstall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{StrictEval: tt.strict})
			tok, err := d.Run(context.Background(), tt.src, testPage("c2VjcmV0=="))

			assert.Nil(t, tok)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.step, errs.StepOf(err))
		})
	}
}

func TestEntrypointFaultFailsInstall(t *testing.T) {
	shape := defaultShape()
	shape.badDrop = true

	var transitions []Transition
	d := New(Options{
		StrictEval: true,
		Observe:    func(tr Transition) { transitions = append(transitions, tr) },
	})
	_, err := d.Run(context.Background(), BytesSource(buildGuest(shape)), testPage("c2VjcmV0=="))
	require.ErrorIs(t, err, errs.ErrInvalidHandle)

	require.Len(t, transitions, 3)
	assert.Equal(t, Transition{From: Idle, To: Fetched, Step: errs.StepFetch},
		Transition{From: transitions[0].From, To: transitions[0].To, Step: transitions[0].Step})
	assert.Equal(t, Transition{From: Fetched, To: Instantiated, Step: errs.StepInstantiate},
		Transition{From: transitions[1].From, To: transitions[1].To, Step: transitions[1].Step})
	assert.NoError(t, transitions[1].Err)

	last := transitions[2]
	assert.Equal(t, Instantiated, last.From)
	assert.Equal(t, Failed, last.To)
	assert.Equal(t, errs.StepInstall, last.Step)
	assert.ErrorIs(t, last.Err, errs.ErrInvalidHandle)
}

func TestRunGuestThrow(t *testing.T) {
	page := testPage("c2VjcmV0==")
	page.Pixels = make([]byte, pixelLen) // first byte is not 7

	_, err := New(Options{}).Run(context.Background(), BytesSource(buildGuest(defaultShape())), page)
	require.ErrorIs(t, err, errs.ErrModule)
	assert.Contains(t, err.Error(), "guest threw: content")
}

func TestParallelRunsAreIsolated(t *testing.T) {
	cache := wazero.NewCompilationCache()
	defer cache.Close(context.Background())

	d := New(Options{StrictEval: true, Cache: cache})
	module := buildGuest(defaultShape())

	const n = 8
	var wg sync.WaitGroup
	kids := make([]string, n)
	runErrs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := d.Run(context.Background(), BytesSource(module), testPage(fmt.Sprintf("meta%d==", i)))
			runErrs[i] = err
			if err == nil {
				kids[i] = tok.KID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, runErrs[i])
		assert.Equal(t, fmt.Sprintf("meta%d==", i), kids[i])
	}
}

func TestURLSource(t *testing.T) {
	module := buildGuest(defaultShape())
	var gotHost, gotReferer, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotReferer = r.Header.Get("Referer")
		gotVersion = r.URL.Query().Get("v")
		rw.Write(module)
	}))
	defer srv.Close()

	src := URLSource{
		Client:  httputil.NewClient(httputil.Options{AllowPlainHTTP: true}),
		URL:     srv.URL + "/images/loading.png",
		Referer: "https://megacloud.blog/embed-2/v2/e-1/abc?k=1",
		Host:    "megacloud.tv",
		Version: "0.0.9",
	}
	tok, err := New(Options{}).Run(context.Background(), src, testPage("c2VjcmV0=="))
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok.PID)

	assert.Equal(t, "megacloud.tv", gotHost)
	assert.Equal(t, src.Referer, gotReferer)
	assert.Equal(t, "0.0.9", gotVersion)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loading.wasm")
	require.NoError(t, os.WriteFile(path, buildGuest(defaultShape()), 0o600))

	tok, err := New(Options{}).Run(context.Background(), FileSource(path), testPage("c2VjcmV0=="))
	require.NoError(t, err)
	assert.Equal(t, "1337", tok.KVersion)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "plugin_installed", PluginInstalled.String())
	assert.Equal(t, "unknown", State(42).String())
}
