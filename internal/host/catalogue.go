package host

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/closure"
	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
	"wasmkey/internal/handle"
)

// Namespace is the import module name wasm-bindgen emits.
const Namespace = "wbg"

// Guest exports the closure wrappers route through.
const (
	DtorTableExport  = "__wbindgen_export_2"
	ReturningClosure = "__wbindgen_export_3"
	ArgumentClosure  = "__wbindgen_export_4"

	closureDtorIndex = 2
	setTimeoutHandle = 7
	storageString    = "[object Storage]"
)

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

type signature struct {
	params, results []api.ValueType
}

func sig(params []api.ValueType, results ...api.ValueType) signature {
	return signature{params: params, results: results}
}

func is(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

var (
	sI_I     = sig(is(1), i32)
	sII_I    = sig(is(2), i32)
	sIII_I   = sig(is(3), i32)
	s_I      = sig(nil, i32)
	sI       = sig(is(1))
	sII      = sig(is(2))
	sIII     = sig(is(3))
	sIIII    = sig(is(4))
	sIIIII   = sig(is(5))
	sIF      = sig([]api.ValueType{i32, f64})
	sIIFF    = sig([]api.ValueType{i32, i32, f64, f64})
	sIFFFF   = sig([]api.ValueType{i32, f64, f64, f64, f64})
	sIFFFF_I = sig([]api.ValueType{i32, f64, f64, f64, f64}, i32)
	sIIIFF   = sig([]api.ValueType{i32, i32, i32, f64, f64})
	sI_F     = sig(is(1), f64)
)

type hostFunc func(ctx context.Context, e *Env, stack []uint64)

type importFunc struct {
	name string
	sig  signature
	fn   hostFunc
}

func noop(context.Context, *Env, []uint64) {}

func returns(v uint64) hostFunc {
	return func(_ context.Context, _ *Env, stack []uint64) { stack[0] = v }
}

// putsWindow returns the global object.
func putsWindow(_ context.Context, e *Env, stack []uint64) {
	stack[0] = e.put(e.Window())
}

// putsProp returns property name of the object at stack[0].
func putsProp(name string) hostFunc {
	return func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.prop(stack[0], name)
	}
}

// putsNumber returns property name of the object at stack[0] as an integer.
func putsNumber(name string) hostFunc {
	return func(_ context.Context, e *Env, stack []uint64) {
		v, _ := e.object(stack[0]).Get(name)
		stack[0] = numberU32(v)
	}
}

// writesString stores string property name of the object at stack[1] into
// the out pair at stack[0].
func writesString(name string) hostFunc {
	return func(ctx context.Context, e *Env, stack []uint64) {
		v, _ := e.object(stack[1]).Get(name)
		s, _ := dom.String(v)
		e.writeString(ctx, stack[0], s)
	}
}

func setsNumber(name string) hostFunc {
	return func(_ context.Context, e *Env, stack []uint64) {
		e.object(stack[0]).Set(name, float64(api.DecodeU32(stack[1])))
	}
}

func clones(_ context.Context, e *Env, stack []uint64) {
	stack[0] = e.put(e.get(stack[0]))
}

func wrapsClosure(target string) hostFunc {
	return func(_ context.Context, e *Env, stack []uint64) {
		rec := e.Closures.Wrap(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), closureDtorIndex, target)
		stack[0] = e.put(rec)
	}
}

func typeOf[T any](_ context.Context, e *Env, stack []uint64) {
	_, ok := e.get(stack[0]).(T)
	stack[0] = boolResult(ok)
}

var imports = []importFunc{
	// wasm-bindgen intrinsics
	{"__wbindgen_is_undefined", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = boolResult(dom.IsUndefined(e.get(stack[0])))
	}},
	{"__wbindgen_is_null", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = boolResult(e.get(stack[0]) == dom.Null)
	}},
	{"__wbindgen_is_object", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = boolResult(dom.IsObject(e.get(stack[0])))
	}},
	{"__wbindgen_is_string", sI_I, typeOf[string]},
	{"__wbindgen_is_function", sI_I, typeOf[dom.Function]},
	{"__wbindgen_string_get", sII, func(ctx context.Context, e *Env, stack []uint64) {
		s, ok := e.get(stack[1]).(string)
		if !ok {
			e.writePair(stack[0], 0, 0)
			return
		}
		e.writeString(ctx, stack[0], s)
	}},
	{"__wbindgen_string_new", sII_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.readString(stack[0], stack[1]))
	}},
	{"__wbindgen_boolean_get", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		b, ok := e.get(stack[0]).(bool)
		if !ok {
			stack[0] = 2
			return
		}
		stack[0] = boolResult(b)
	}},
	{"__wbindgen_number_get", sII, func(_ context.Context, e *Env, stack []uint64) {
		n, ok := dom.Number(e.get(stack[1]))
		out := api.DecodeU32(stack[0])
		if err := e.Memory.WriteF64LE(out+8, n); err != nil {
			e.fail(err)
		}
		if err := e.Memory.WriteU32LE(out, uint32(boolResult(ok))); err != nil {
			e.fail(err)
		}
	}},
	{"__wbindgen_object_clone_ref", sI_I, clones},
	{"__wbindgen_object_drop_ref", sI, func(_ context.Context, e *Env, stack []uint64) {
		if err := e.Table.Release(api.DecodeU32(stack[0])); err != nil {
			e.fail(err)
		}
	}},
	{"__wbindgen_cb_drop", sI_I, func(ctx context.Context, e *Env, stack []uint64) {
		h := api.DecodeU32(stack[0])
		v, err := e.Table.Take(h)
		if err != nil {
			e.fail(err)
		}
		rec, ok := v.(*closure.Record)
		if !ok {
			e.fail(errs.InvalidHandle(h, "not a closure"))
		}
		if err := e.Closures.Drop(ctx, rec); err != nil {
			e.fail(err)
		}
		// The host ran the destructor itself; the guest must not free again.
		stack[0] = 0
	}},
	{"__wbindgen_throw", sII, func(_ context.Context, e *Env, stack []uint64) {
		e.fail(errs.Module(nil, "guest threw: %s", e.readString(stack[0], stack[1])))
	}},
	{"__wbindgen_memory", s_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(&WasmMemory{bridge: e.Memory})
	}},
	{"__wbindgen_closure_wrapper117", sIII_I, wrapsClosure(ReturningClosure)},
	{"__wbindgen_closure_wrapper119", sIII_I, wrapsClosure(ArgumentClosure)},
	{"__wbindgen_closure_wrapper121", sIII_I, returns(0)},
	{"__wbindgen_closure_wrapper123", sIII_I, returns(0)},

	// canvas 2d context; drawing is not rendered
	{"__wbg_instanceof_CanvasRenderingContext2d_4ec30ddd3f29f8f9", sI_I, returns(1)},
	{"__wbg_setfillStyle_59f426135f52910f", sII, noop},
	{"__wbg_setshadowBlur_229c56539d02f401", sIF, noop},
	{"__wbg_setshadowColor_340d5290cdc4ae9d", sIII, noop},
	{"__wbg_setfont_16d6e31e06a420a5", sIII, noop},
	{"__wbg_settextBaseline_c3266d3bd4a6695c", sIII, noop},
	{"__wbg_drawImage_cb13768a1bdc04bd", sIIFF, noop},
	{"__wbg_getImageData_66269d289f37d3c7", sIFFFF_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.DOM.ImageData)
	}},
	{"__wbg_rect_2fa1df87ef638738", sIFFFF, noop},
	{"__wbg_fillRect_4dd28e628381d240", sIFFFF, noop},
	{"__wbg_fillText_07e5da9e41652f20", sIIIFF, noop},

	// document and elements
	{"__wbg_setProperty_5144ddce66bbde41", sIIIII, noop},
	{"__wbg_createElement_03cf347ddad1c8c0", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.DOM.Canvas)
	}},
	{"__wbg_querySelector_118a0639aa1f51cd", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.DOM.Meta)
	}},
	{"__wbg_querySelectorAll_50c79cd4f7573825", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.DOM.NodeList)
	}},
	{"__wbg_getAttribute_706ae88bd37410fa", sIIII, func(ctx context.Context, e *Env, stack []uint64) {
		name := e.readString(stack[2], stack[3])
		meta, ok := e.get(stack[1]).(*dom.Meta)
		if !ok {
			e.writePair(stack[0], 0, 0)
			return
		}
		content, ok := meta.Attribute(name)
		if !ok {
			e.writePair(stack[0], 0, 0)
			return
		}
		e.writeString(ctx, stack[0], content)
	}},
	{"__wbg_target_6795373f170fd786", sI_I, clones},
	{"__wbg_addEventListener_f984e99465a6a7f4", sIIII, noop},
	{"__wbg_instanceof_HtmlCanvasElement_1e81f71f630e46bc", sI_I, returns(1)},
	{"__wbg_setwidth_233645b297bb3318", sII, setsNumber("width")},
	{"__wbg_setheight_fcb491cf54e3527c", sII, setsNumber("height")},
	// The canvas doubles as its own 2d context.
	{"__wbg_getContext_dfc91ab0837db1d1", sIII_I, clones},
	{"__wbg_toDataURL_97b108dd1a4b7454", sII, func(ctx context.Context, e *Env, stack []uint64) {
		c, ok := e.get(stack[1]).(*dom.Canvas)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[1]), "not a canvas"))
		}
		e.writeString(ctx, stack[0], c.DataURL)
	}},
	{"__wbg_style_ca229e3326b3c3fb", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		if c, ok := e.get(stack[0]).(*dom.Canvas); ok {
			stack[0] = e.put(c.Style)
			return
		}
		stack[0] = e.put(e.get(stack[0]))
	}},
	{"__wbg_instanceof_HtmlImageElement_9c82d4e3651a8533", sI_I, returns(1)},
	{"__wbg_src_87a0e38af6229364", sII, writesString("src")},
	{"__wbg_width_e1a38bdd483e1283", sI_I, putsNumber("width")},
	{"__wbg_height_e4cc2294187313c9", sI_I, putsNumber("height")},
	{"__wbg_complete_1162c2697406af11", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		v, _ := e.object(stack[0]).Get("complete")
		b, _ := v.(bool)
		stack[0] = boolResult(b)
	}},
	{"__wbg_data_d34dc554f90b8652", sII, func(ctx context.Context, e *Env, stack []uint64) {
		d, ok := e.get(stack[1]).(*dom.ImageData)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[1]), "not image data"))
		}
		e.writeBytes(ctx, stack[0], d.Data)
	}},
	{"__wbg_origin_305402044aa148ce", sII, writesString("origin")},
	{"__wbg_length_8a9352f7b7360c37", sI_I, putsNumber("length")},
	{"__wbg_get_c30ae0782d86747f", sII_I, func(_ context.Context, e *Env, stack []uint64) {
		nl, ok := e.get(stack[0]).(*dom.NodeList)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[0]), "not a node list"))
		}
		stack[0] = e.put(nl.Item(api.DecodeU32(stack[1])))
	}},

	// window
	{"__wbg_timeOrigin_f462952854d802ec", sI_F, func(_ context.Context, e *Env, stack []uint64) {
		v, _ := e.object(stack[0]).Get("timeOrigin")
		n, _ := dom.Number(v)
		stack[0] = api.EncodeF64(n)
	}},
	{"__wbg_instanceof_Window_cee7a886d55e7df5", sI_I, returns(1)},
	{"__wbg_document_eb7fd66bde3ee213", sI_I, putsProp("document")},
	{"__wbg_location_b17760ac7977a47a", sI_I, putsProp("location")},
	{"__wbg_localStorage_3d538af21ea07fcc", sI_I, putsProp("localStorage")},
	{"__wbg_performance_4ca1873776fdb3d2", sI_I, putsProp("performance")},
	{"__wbg_origin_e1f8acdeb3a39a2b", sII, writesString("origin")},
	{"__wbg_get_8986951b1ee310e0", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		key := e.readString(stack[1], stack[2])
		v, ok := e.object(stack[0]).Get(key)
		if !ok {
			stack[0] = api.EncodeU32(handle.Undefined)
			return
		}
		stack[0] = e.put(v)
	}},
	{"__wbg_set_961700853a212a39", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		obj := e.object(stack[0])
		key, ok := dom.String(e.get(stack[1]))
		if !ok {
			stack[0] = 0
			return
		}
		stack[0] = boolResult(obj.Set(key, e.get(stack[2])))
	}},
	{"__wbg_setTimeout_6ed7182ebad5d297", sIII_I, returns(setTimeoutHandle)},
	{"__wbg_crypto_1d1f22824a6a080c", sI_I, putsProp("crypto")},
	{"__wbg_msCrypto_eb05e62b530a1508", sI_I, putsProp("msCrypto")},
	{"__wbg_self_05040bd9523805b9", s_I, putsWindow},
	{"__wbg_window_adc720039f2cb14f", s_I, putsWindow},
	{"__wbg_globalThis_622105db80c1457d", s_I, putsWindow},
	{"__wbg_global_f56b013ed9bcf359", s_I, putsWindow},
	{"__wbg_eval_c824e170787ad184", sII_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(e.Eval(e.readString(stack[0], stack[1])))
	}},
	{"__wbg_toString_6eb7c1f755c00453", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(storageString)
	}},
	{"__wbg_toString_139023ab33acec36", sI_I, clones},

	// node.js probes; the guest must conclude it runs in a browser
	{"__wbg_process_4a72847cc503995b", sI_I, returns(api.EncodeU32(handle.Undefined))},
	{"__wbg_versions_f686565e586dd935", sI_I, returns(api.EncodeU32(handle.Undefined))},
	{"__wbg_node_104a2ff8d6ea03a2", sI_I, returns(api.EncodeU32(handle.Undefined))},
	{"__wbg_require_cca90b1a94a0255b", s_I, returns(0)},
	{"__wbg_randomFillSync_5c9c955aa56b6049", sII, noop},
	{"__wbg_getRandomValues_3aa56aa6edec874c", sII, noop},
	{"__wbg_newnoargs_cfecb3965268594c", sII_I, returns(0)},
	{"__wbg_call_3f093dd26d5569f8", sII_I, returns(0)},
	{"__wbg_call_67f2111acd2dfdb6", sIII_I, returns(0)},

	// typed arrays
	{"__wbg_buffer_b914fb8b50ebbc3e", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		m, ok := e.get(stack[0]).(*WasmMemory)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[0]), "not a memory"))
		}
		if !m.bridge.Bound() {
			e.fail(errs.Module(nil, "memory.buffer read before the guest was bound"))
		}
		stack[0] = e.put(&ArrayBuffer{live: m.bridge})
	}},
	{"__wbg_newwithbyteoffsetandlength_0de9ee56e9f6ee6e", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		buf, ok := e.get(stack[0]).(*ArrayBuffer)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[0]), "not an array buffer"))
		}
		off, n := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
		size, err := buf.Len()
		if err != nil {
			e.fail(err)
		}
		if uint64(off)+uint64(n) > uint64(size) {
			e.fail(errs.OutOfBounds(uint64(off), uint64(n), size))
		}
		stack[0] = e.put(&Uint8Array{buf: buf, off: off, n: n})
	}},
	{"__wbg_new_b1f2d6842d615181", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		v := e.get(stack[0])
		if buf, ok := v.(*ArrayBuffer); ok {
			n, err := buf.Len()
			if err != nil {
				e.fail(err)
			}
			stack[0] = e.put(&Uint8Array{buf: buf, n: n})
			return
		}
		data, ok := BytesOf(v)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[0]), "not binary data"))
		}
		stack[0] = e.put(NewUint8Array(data))
	}},
	{"__wbg_newwithlength_0d03cef43b68a530", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		stack[0] = e.put(NewUint8Array(make([]byte, api.DecodeU32(stack[0]))))
	}},
	{"__wbg_buffer_67e624f5a0ab2319", sI_I, putsProp("buffer")},
	{"__wbg_subarray_adc418253d76e2f1", sIII_I, func(_ context.Context, e *Env, stack []uint64) {
		arr := e.uint8Array(stack[0])
		stack[0] = e.put(arr.Subarray(api.DecodeU32(stack[1]), api.DecodeU32(stack[2])))
	}},
	{"__wbg_length_21c4b0ae73cba59d", sI_I, func(_ context.Context, e *Env, stack []uint64) {
		v := e.get(stack[0])
		if arr, ok := v.(*Uint8Array); ok {
			stack[0] = api.EncodeU32(arr.Len())
			return
		}
		data, ok := BytesOf(v)
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[0]), "not binary data"))
		}
		stack[0] = api.EncodeU32(uint32(len(data)))
	}},
	{"__wbg_set_7d988c98e6ced92d", sIII, func(_ context.Context, e *Env, stack []uint64) {
		dst := e.uint8Array(stack[0])
		src, ok := BytesOf(e.get(stack[1]))
		if !ok {
			e.fail(errs.InvalidHandle(api.DecodeU32(stack[1]), "not binary data"))
		}
		if err := dst.SetAt(api.DecodeU32(stack[2]), src); err != nil {
			e.fail(err)
		}
	}},
}

func (e *Env) uint8Array(raw uint64) *Uint8Array {
	arr, ok := e.get(raw).(*Uint8Array)
	if !ok {
		e.fail(errs.InvalidHandle(api.DecodeU32(raw), "not a Uint8Array"))
	}
	return arr
}

// Catalogue returns the import names the host provides, sorted.
func Catalogue() []string {
	names := make([]string, 0, len(imports))
	for _, f := range imports {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}
