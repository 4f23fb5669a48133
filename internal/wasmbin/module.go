// Package wasmbin assembles small WebAssembly 1.0 binaries: the destructor
// trampoline the runner links against a guest's function table, and the
// scripted guests used in tests.
package wasmbin

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Section ids.
const (
	secType   = 0x01
	secImport = 0x02
	secFunc   = 0x03
	secTable  = 0x04
	secMemory = 0x05
	secGlobal = 0x06
	secExport = 0x07
	secElem   = 0x09
	secCode   = 0x0a
	secData   = 0x0b
)

// External kinds used by imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

const funcref = 0x70

// FuncType is a function signature.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Sig is shorthand for a FuncType.
func Sig(params []api.ValueType, results ...api.ValueType) FuncType {
	return FuncType{Params: params, Results: results}
}

func (t FuncType) key() string {
	return fmt.Sprintf("%x:%x", t.Params, t.Results)
}

type funcImport struct {
	module, name string
	typeIdx      uint32
}

// otherImport is a table, memory or global import with its encoded type.
type otherImport struct {
	module, name string
	kind         byte
	desc         []byte
}

type function struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type global struct {
	typ     api.ValueType
	mutable bool
	init    int64
}

type segment struct {
	offset uint32
	data   []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

// Module accumulates definitions and encodes them in section order.
// Function imports must be declared before any local function.
type Module struct {
	types     []FuncType
	typeIndex map[string]uint32

	funcImports  []funcImport
	otherImports []otherImport

	funcs   []function
	table   []uint32
	hasTab  bool
	memory  uint32
	hasMem  bool
	globals []global
	exports []export
	data    []segment
}

// New returns an empty module.
func New() *Module {
	return &Module{typeIndex: make(map[string]uint32)}
}

// Type interns t and returns its index.
func (m *Module) Type(t FuncType) uint32 {
	k := t.key()
	if idx, ok := m.typeIndex[k]; ok {
		return idx
	}
	idx := uint32(len(m.types))
	m.types = append(m.types, t)
	m.typeIndex[k] = idx
	return idx
}

// ImportFunc declares a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, t FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: function import declared after local functions")
	}
	m.funcImports = append(m.funcImports, funcImport{module: module, name: name, typeIdx: m.Type(t)})
	return uint32(len(m.funcImports) - 1)
}

// ImportTable declares a funcref table import as table 0.
func (m *Module) ImportTable(module, name string, min uint32) {
	desc := append([]byte{funcref, 0x00}, uleb(min)...)
	m.otherImports = append(m.otherImports, otherImport{module: module, name: name, kind: KindTable, desc: desc})
}

// ImportMemory declares a memory import as memory 0.
func (m *Module) ImportMemory(module, name string, minPages uint32) {
	desc := append([]byte{0x00}, uleb(minPages)...)
	m.otherImports = append(m.otherImports, otherImport{module: module, name: name, kind: KindMemory, desc: desc})
}

// ImportGlobal declares an immutable global import.
func (m *Module) ImportGlobal(module, name string, t api.ValueType) {
	m.otherImports = append(m.otherImports, otherImport{module: module, name: name, kind: KindGlobal, desc: []byte{byte(t), 0x00}})
}

// Func defines a function and returns its index. body must not include the
// trailing end opcode.
func (m *Module) Func(t FuncType, locals []api.ValueType, body ...[]byte) uint32 {
	var code []byte
	for _, b := range body {
		code = append(code, b...)
	}
	code = append(code, opEnd)
	m.funcs = append(m.funcs, function{typeIdx: m.Type(t), locals: locals, body: code})
	return uint32(len(m.funcImports) + len(m.funcs) - 1)
}

// Table defines table 0 holding elems at offsets 0..len-1.
func (m *Module) Table(elems ...uint32) {
	m.table = elems
	m.hasTab = true
}

// Memory defines memory 0 with min pages.
func (m *Module) Memory(minPages uint32) {
	m.memory = minPages
	m.hasMem = true
}

// Data places bytes in memory 0 at offset on instantiation.
func (m *Module) Data(offset uint32, data []byte) {
	m.data = append(m.data, segment{offset: offset, data: data})
}

// Global defines an i32 or i64 global and returns its index.
func (m *Module) Global(t api.ValueType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{typ: t, mutable: mutable, init: init})
	imported := 0
	for _, imp := range m.otherImports {
		if imp.kind == KindGlobal {
			imported++
		}
	}
	return uint32(imported + len(m.globals) - 1)
}

// Export exports an item by kind and index.
func (m *Module) Export(name string, kind byte, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kind, idx: idx})
}

// Encode returns the binary module.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.types)))...)
		for _, t := range m.types {
			s = append(s, 0x60)
			s = append(s, valTypes(t.Params)...)
			s = append(s, valTypes(t.Results)...)
		}
		out = appendSection(out, secType, s)
	}

	if n := len(m.funcImports) + len(m.otherImports); n > 0 {
		var s []byte
		s = append(s, uleb(uint32(n))...)
		for _, imp := range m.funcImports {
			s = append(s, name(imp.module)...)
			s = append(s, name(imp.name)...)
			s = append(s, KindFunc)
			s = append(s, uleb(imp.typeIdx)...)
		}
		for _, imp := range m.otherImports {
			s = append(s, name(imp.module)...)
			s = append(s, name(imp.name)...)
			s = append(s, imp.kind)
			s = append(s, imp.desc...)
		}
		out = appendSection(out, secImport, s)
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.funcs)))...)
		for _, f := range m.funcs {
			s = append(s, uleb(f.typeIdx)...)
		}
		out = appendSection(out, secFunc, s)
	}

	if m.hasTab {
		s := []byte{0x01, funcref, 0x00}
		s = append(s, uleb(uint32(len(m.table)))...)
		out = appendSection(out, secTable, s)
	}

	if m.hasMem {
		s := []byte{0x01, 0x00}
		s = append(s, uleb(m.memory)...)
		out = appendSection(out, secMemory, s)
	}

	if len(m.globals) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.globals)))...)
		for _, g := range m.globals {
			s = append(s, byte(g.typ))
			if g.mutable {
				s = append(s, 0x01)
			} else {
				s = append(s, 0x00)
			}
			switch g.typ {
			case api.ValueTypeI64:
				s = append(s, opI64Const)
				s = append(s, sleb(g.init)...)
			default:
				s = append(s, opI32Const)
				s = append(s, sleb(g.init)...)
			}
			s = append(s, opEnd)
		}
		out = appendSection(out, secGlobal, s)
	}

	if len(m.exports) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.exports)))...)
		for _, e := range m.exports {
			s = append(s, name(e.name)...)
			s = append(s, e.kind)
			s = append(s, uleb(e.idx)...)
		}
		out = appendSection(out, secExport, s)
	}

	if m.hasTab && len(m.table) > 0 {
		s := []byte{0x01, 0x00, opI32Const, 0x00, opEnd}
		s = append(s, uleb(uint32(len(m.table)))...)
		for _, idx := range m.table {
			s = append(s, uleb(idx)...)
		}
		out = appendSection(out, secElem, s)
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.funcs)))...)
		for _, f := range m.funcs {
			var body []byte
			body = append(body, uleb(uint32(len(f.locals)))...)
			for _, l := range f.locals {
				body = append(body, 0x01, byte(l))
			}
			body = append(body, f.body...)
			s = append(s, uleb(uint32(len(body)))...)
			s = append(s, body...)
		}
		out = appendSection(out, secCode, s)
	}

	if len(m.data) > 0 {
		var s []byte
		s = append(s, uleb(uint32(len(m.data)))...)
		for _, d := range m.data {
			s = append(s, 0x00, opI32Const)
			s = append(s, sleb(int64(int32(d.offset)))...)
			s = append(s, opEnd)
			s = append(s, uleb(uint32(len(d.data)))...)
			s = append(s, d.data...)
		}
		out = appendSection(out, secData, s)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func valTypes(ts []api.ValueType) []byte {
	out := uleb(uint32(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// BumpAllocator defines a never-freeing allocator with the wasm-bindgen
// malloc signature (len, align) -> ptr, starting at heapStart. It returns the
// function index and the heap pointer global.
func (m *Module) BumpAllocator(heapStart int32) (fn, heap uint32) {
	heap = m.Global(api.ValueTypeI32, true, int64(heapStart))
	fn = m.Func(Sig([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, api.ValueTypeI32), nil,
		GlobalGet(heap),
		GlobalGet(heap),
		LocalGet(0),
		I32Add(),
		GlobalSet(heap),
	)
	return fn, heap
}
