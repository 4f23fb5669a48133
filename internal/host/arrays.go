package host

import (
	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
	"wasmkey/internal/memory"
)

// WasmMemory is the value behind the handle returned by __wbindgen_memory.
type WasmMemory struct {
	bridge *memory.Bridge
}

func (m *WasmMemory) Class() string { return "WebAssembly.Memory" }

func (m *WasmMemory) Get(name string) (any, bool) {
	if name == "buffer" {
		return &ArrayBuffer{live: m.bridge}, true
	}
	return dom.Undefined, false
}

func (m *WasmMemory) Set(string, any) bool { return false }

// ArrayBuffer either aliases live guest memory or owns a host byte slice.
type ArrayBuffer struct {
	live *memory.Bridge
	data []byte
}

func (b *ArrayBuffer) Class() string { return "ArrayBuffer" }

func (b *ArrayBuffer) Get(name string) (any, bool) {
	if name == "byteLength" {
		n, err := b.Len()
		if err != nil {
			return dom.Undefined, false
		}
		return float64(n), true
	}
	return dom.Undefined, false
}

func (b *ArrayBuffer) Set(string, any) bool { return false }

// Len returns the buffer size. A live buffer reports the current memory size
// and fails while the guest memory is unbound.
func (b *ArrayBuffer) Len() (uint32, error) {
	if b.live != nil {
		return b.live.Size()
	}
	return uint32(len(b.data)), nil
}

func (b *ArrayBuffer) read(off, n uint32) ([]byte, error) {
	if b.live != nil {
		return b.live.Read(off, n)
	}
	if uint64(off)+uint64(n) > uint64(len(b.data)) {
		return nil, errs.OutOfBounds(uint64(off), uint64(n), uint32(len(b.data)))
	}
	return append([]byte(nil), b.data[off:off+n]...), nil
}

func (b *ArrayBuffer) write(off uint32, p []byte) error {
	if b.live != nil {
		return b.live.Write(off, p)
	}
	if uint64(off)+uint64(len(p)) > uint64(len(b.data)) {
		return errs.OutOfBounds(uint64(off), uint64(len(p)), uint32(len(b.data)))
	}
	copy(b.data[off:], p)
	return nil
}

// Uint8Array is a view of n bytes at off within an ArrayBuffer.
type Uint8Array struct {
	buf *ArrayBuffer
	off uint32
	n   uint32
}

// NewUint8Array returns an array owning a copy of data.
func NewUint8Array(data []byte) *Uint8Array {
	return &Uint8Array{buf: &ArrayBuffer{data: append([]byte(nil), data...)}, n: uint32(len(data))}
}

func (a *Uint8Array) Class() string { return "Uint8Array" }

func (a *Uint8Array) Get(name string) (any, bool) {
	switch name {
	case "length", "byteLength":
		return float64(a.n), true
	case "byteOffset":
		return float64(a.off), true
	case "buffer":
		return a.buf, true
	}
	return dom.Undefined, false
}

func (a *Uint8Array) Set(string, any) bool { return false }

// Len returns the element count.
func (a *Uint8Array) Len() uint32 { return a.n }

// Bytes returns a copy of the viewed bytes.
func (a *Uint8Array) Bytes() ([]byte, error) {
	return a.buf.read(a.off, a.n)
}

// SetAt copies src into the array starting at index off.
func (a *Uint8Array) SetAt(off uint32, src []byte) error {
	if uint64(off)+uint64(len(src)) > uint64(a.n) {
		return errs.OutOfBounds(uint64(off), uint64(len(src)), a.n)
	}
	return a.buf.write(a.off+off, src)
}

// Subarray returns a view sharing the buffer, with begin and end clamped to
// the array bounds.
func (a *Uint8Array) Subarray(begin, end uint32) *Uint8Array {
	if end > a.n {
		end = a.n
	}
	if begin > end {
		begin = end
	}
	return &Uint8Array{buf: a.buf, off: a.off + begin, n: end - begin}
}

// BytesOf extracts raw bytes from a host value that holds binary data.
func BytesOf(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), true
	case *Uint8Array:
		out, err := b.Bytes()
		return out, err == nil
	case *ArrayBuffer:
		n, err := b.Len()
		if err != nil {
			return nil, false
		}
		out, err := b.read(0, n)
		return out, err == nil
	}
	return nil, false
}
