package wasmbin

import (
	"encoding/binary"
	"math"
)

const (
	opUnreachable  = 0x00
	opBlock        = 0x02
	opIf           = 0x04
	opElse         = 0x05
	opEnd          = 0x0b
	opBr           = 0x0c
	opBrIf         = 0x0d
	opReturn       = 0x0f
	opCall         = 0x10
	opCallIndirect = 0x11
	opDrop         = 0x1a
	opLocalGet     = 0x20
	opLocalSet     = 0x21
	opLocalTee     = 0x22
	opGlobalGet    = 0x23
	opGlobalSet    = 0x24
	opI32Load      = 0x28
	opF64Load      = 0x2b
	opI32Load8U    = 0x2d
	opI32Store     = 0x36
	opI32Store8    = 0x3a
	opMemorySize   = 0x3f
	opMemoryGrow   = 0x40
	opI32Const     = 0x41
	opI64Const     = 0x42
	opF64Const     = 0x44
	opI32Eqz       = 0x45
	opI32Eq        = 0x46
	opI32Ne        = 0x47
	opI32Add       = 0x6a
	opI32Sub       = 0x6b
	opI32Mul       = 0x6c
	opI32TruncF64U = 0xab

	blockEmpty = 0x40
	blockI32   = 0x7f
)

func Unreachable() []byte       { return []byte{opUnreachable} }
func Return() []byte            { return []byte{opReturn} }
func Drop() []byte              { return []byte{opDrop} }
func Else() []byte              { return []byte{opElse} }
func End() []byte               { return []byte{opEnd} }
func I32Eqz() []byte            { return []byte{opI32Eqz} }
func I32Eq() []byte             { return []byte{opI32Eq} }
func I32Ne() []byte             { return []byte{opI32Ne} }
func I32Add() []byte            { return []byte{opI32Add} }
func I32Sub() []byte            { return []byte{opI32Sub} }
func I32Mul() []byte            { return []byte{opI32Mul} }
func I32TruncF64U() []byte      { return []byte{opI32TruncF64U} }
func Call(fn uint32) []byte     { return append([]byte{opCall}, uleb(fn)...) }
func LocalGet(i uint32) []byte  { return append([]byte{opLocalGet}, uleb(i)...) }
func LocalSet(i uint32) []byte  { return append([]byte{opLocalSet}, uleb(i)...) }
func LocalTee(i uint32) []byte  { return append([]byte{opLocalTee}, uleb(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{opGlobalGet}, uleb(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{opGlobalSet}, uleb(i)...) }
func Br(depth uint32) []byte    { return append([]byte{opBr}, uleb(depth)...) }
func BrIf(depth uint32) []byte  { return append([]byte{opBrIf}, uleb(depth)...) }

// Block opens a block with no result.
func Block() []byte { return []byte{opBlock, blockEmpty} }

// If opens an if with no result.
func If() []byte { return []byte{opIf, blockEmpty} }

// IfI32 opens an if producing an i32.
func IfI32() []byte { return []byte{opIf, blockI32} }

// CallIndirect calls through table 0 with the given type index.
func CallIndirect(typeIdx uint32) []byte {
	return append(append([]byte{opCallIndirect}, uleb(typeIdx)...), 0x00)
}

// I32Const pushes v.
func I32Const(v int32) []byte {
	return append([]byte{opI32Const}, sleb(int64(v))...)
}

// F64Const pushes v.
func F64Const(v float64) []byte {
	out := make([]byte, 9)
	out[0] = opF64Const
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func memarg(op byte, align, offset uint32) []byte {
	return append(append([]byte{op}, uleb(align)...), uleb(offset)...)
}

// I32Load loads an aligned i32 at address+offset.
func I32Load(offset uint32) []byte { return memarg(opI32Load, 2, offset) }

// F64Load loads an aligned f64 at address+offset.
func F64Load(offset uint32) []byte { return memarg(opF64Load, 3, offset) }

// I32Load8U loads one byte at address+offset.
func I32Load8U(offset uint32) []byte { return memarg(opI32Load8U, 0, offset) }

// I32Store stores an i32 at address+offset.
func I32Store(offset uint32) []byte { return memarg(opI32Store, 2, offset) }

// I32Store8 stores the low byte of an i32 at address+offset.
func I32Store8(offset uint32) []byte { return memarg(opI32Store8, 0, offset) }

// MemorySize pushes the memory size in pages.
func MemorySize() []byte { return []byte{opMemorySize, 0x00} }

// MemoryGrow grows memory by the popped page count and pushes the old size.
func MemoryGrow() []byte { return []byte{opMemoryGrow, 0x00} }

// Seq concatenates instruction sequences.
func Seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
