// Package memory is the host's window onto the guest's linear memory.
//
// The bridge never caches a view: every operation resolves the guest memory
// again, since the guest may grow it between calls. Allocation is delegated
// to the guest's exported allocator; the bridge is a tenant of the guest
// heap, not its owner.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"wasmkey/internal/errs"
)

// DefaultAllocExport is the wasm-bindgen malloc export.
const DefaultAllocExport = "__wbindgen_export_0"

// Bridge reads and writes one guest module's memory.
type Bridge struct {
	allocName string
	mod       api.Module
	alloc     api.Function
}

// New returns an unbound bridge that allocates through allocExport.
func New(allocExport string) *Bridge {
	if allocExport == "" {
		allocExport = DefaultAllocExport
	}
	return &Bridge{allocName: allocExport}
}

// Bind attaches the bridge to an instantiated guest.
func (b *Bridge) Bind(mod api.Module) {
	b.mod = mod
	b.alloc = mod.ExportedFunction(b.allocName)
}

// Bound reports whether Bind has been called.
func (b *Bridge) Bound() bool {
	return b.mod != nil
}

func (b *Bridge) memory() (api.Memory, error) {
	if b.mod == nil {
		return nil, errs.Module(nil, "memory bridge used before the guest was bound")
	}
	mem := b.mod.Memory()
	if mem == nil {
		return nil, errs.Module(nil, "guest exports no memory")
	}
	return mem, nil
}

// Size returns the current memory size in bytes. It fails on an unbound
// bridge rather than reporting an empty memory.
func (b *Bridge) Size() (uint32, error) {
	mem, err := b.memory()
	if err != nil {
		return 0, err
	}
	return mem.Size(), nil
}

func (b *Bridge) view(offset, length uint32) ([]byte, error) {
	mem, err := b.memory()
	if err != nil {
		return nil, err
	}
	size := mem.Size()
	if uint64(offset)+uint64(length) > uint64(size) {
		return nil, errs.OutOfBounds(uint64(offset), uint64(length), size)
	}
	buf, ok := mem.Read(offset, length)
	if !ok {
		return nil, errs.OutOfBounds(uint64(offset), uint64(length), size)
	}
	return buf, nil
}

// ReadAll returns a fresh copy of the whole memory.
func (b *Bridge) ReadAll() ([]byte, error) {
	mem, err := b.memory()
	if err != nil {
		return nil, err
	}
	return b.Read(0, mem.Size())
}

// Read returns a copy of length bytes at offset.
func (b *Bridge) Read(offset, length uint32) ([]byte, error) {
	buf, err := b.view(offset, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

// ReadString decodes length bytes at offset as UTF-8. Invalid sequences
// become U+FFFD, as TextDecoder does.
func (b *Bridge) ReadString(offset, length uint32) (string, error) {
	buf, err := b.view(offset, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return string([]rune(string(buf))), nil
	}
	return string(buf), nil
}

// Write copies data into memory at offset. The whole range is checked before
// any byte is written.
func (b *Bridge) Write(offset uint32, data []byte) error {
	dst, err := b.view(offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// WriteU32LE writes v little-endian at offset.
func (b *Bridge) WriteU32LE(offset, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return b.Write(offset, buf[:])
}

// WriteF64LE writes v little-endian at offset.
func (b *Bridge) WriteF64LE(offset uint32, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return b.Write(offset, buf[:])
}

// WriteOutPair writes an out-parameter pair: ptr at offset, length at offset+4.
func (b *Bridge) WriteOutPair(offset, ptr, length uint32) error {
	if err := b.WriteU32LE(offset+4, length); err != nil {
		return err
	}
	return b.WriteU32LE(offset, ptr)
}

// Alloc reserves length bytes in the guest heap.
func (b *Bridge) Alloc(ctx context.Context, length, align uint32) (uint32, error) {
	if _, err := b.memory(); err != nil {
		return 0, err
	}
	if b.alloc == nil {
		return 0, errs.Module(nil, "guest does not export allocator %q", b.allocName)
	}
	stack := []uint64{api.EncodeU32(length), api.EncodeU32(align)}
	if err := b.alloc.CallWithStack(ctx, stack); err != nil {
		return 0, errs.Module(err, "allocating %d bytes", length)
	}
	return api.DecodeU32(stack[0]), nil
}

// PassString copies s into a fresh guest allocation of len(s) bytes. Only the
// prefix before the first byte >= 0x80 is written, and its length returned.
func (b *Bridge) PassString(ctx context.Context, s string) (ptr, n uint32, err error) {
	ptr, err = b.Alloc(ctx, uint32(len(s)), 1)
	if err != nil {
		return 0, 0, err
	}
	prefix := asciiPrefix(s)
	if err := b.Write(ptr, []byte(prefix)); err != nil {
		return 0, 0, fmt.Errorf("writing string: %w", err)
	}
	return ptr, uint32(len(prefix)), nil
}

// PassBytes copies data into a fresh guest allocation.
func (b *Bridge) PassBytes(ctx context.Context, data []byte) (ptr, n uint32, err error) {
	ptr, err = b.Alloc(ctx, uint32(len(data)), 1)
	if err != nil {
		return 0, 0, err
	}
	if err := b.Write(ptr, data); err != nil {
		return 0, 0, fmt.Errorf("writing bytes: %w", err)
	}
	return ptr, uint32(len(data)), nil
}

func asciiPrefix(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return s[:i]
		}
	}
	return s
}
