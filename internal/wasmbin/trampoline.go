package wasmbin

import "github.com/tetratelabs/wazero/api"

// CallDtorExport is the function exported by DestructorTrampoline.
const CallDtorExport = "call_dtor"

var i32 = api.ValueTypeI32

// DestructorTrampoline builds a module that imports the funcref table
// exported as tableExport by module and exports call_dtor(index, a, b),
// which calls table[index](a, b).
//
// wazero has no host API for calling table entries; linking this module
// against the guest is how the host reaches a closure destructor.
func DestructorTrampoline(module, tableExport string) []byte {
	m := New()
	m.ImportTable(module, tableExport, 0)

	dtorType := m.Type(Sig([]api.ValueType{i32, i32}))
	fn := m.Func(Sig([]api.ValueType{i32, i32, i32}), nil,
		LocalGet(1),
		LocalGet(2),
		LocalGet(0),
		CallIndirect(dtorType),
	)
	m.Export(CallDtorExport, KindFunc, fn)
	return m.Encode()
}
