package wasmbin

import (
	"bytes"
	"errors"
	"fmt"
)

// Import is one entry of a module's import section.
type Import struct {
	Module string
	Name   string
	Kind   byte
}

var errTruncated = errors.New("wasmbin: truncated module")

// Imports lists the import section of bin in declaration order. Modules
// without an import section yield nil.
func Imports(bin []byte) ([]Import, error) {
	if len(bin) < 8 || !bytes.Equal(bin[:4], []byte{0x00, 0x61, 0x73, 0x6d}) {
		return nil, errors.New("wasmbin: not a wasm binary")
	}
	r := &reader{b: bin[8:]}
	for r.more() {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb()
		if err != nil {
			return nil, err
		}
		payload, err := r.take(size)
		if err != nil {
			return nil, err
		}
		if id == secImport {
			return readImports(&reader{b: payload})
		}
	}
	return nil, nil
}

func readImports(r *reader) ([]Import, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	out := make([]Import, 0, n)
	for range n {
		var imp Import
		if imp.Module, err = r.name(); err != nil {
			return nil, err
		}
		if imp.Name, err = r.name(); err != nil {
			return nil, err
		}
		if imp.Kind, err = r.readByte(); err != nil {
			return nil, err
		}
		if err := r.skipDesc(imp.Kind); err != nil {
			return nil, fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
		out = append(out, imp)
	}
	return out, nil
}

type reader struct {
	b []byte
}

func (r *reader) more() bool { return len(r.b) > 0 }

func (r *reader) readByte() (byte, error) {
	if len(r.b) == 0 {
		return 0, errTruncated
	}
	c := r.b[0]
	r.b = r.b[1:]
	return c, nil
}

func (r *reader) take(n uint32) ([]byte, error) {
	if uint64(n) > uint64(len(r.b)) {
		return nil, errTruncated
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out, nil
}

func (r *reader) uleb() (uint32, error) {
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		c, err := r.readByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("wasmbin: uleb128 overflows u32")
}

func (r *reader) name() (string, error) {
	n, err := r.uleb()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	return string(b), err
}

func (r *reader) limits() error {
	flags, err := r.uleb()
	if err != nil {
		return err
	}
	if _, err := r.uleb(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, err = r.uleb()
	}
	return err
}

func (r *reader) skipDesc(kind byte) error {
	switch kind {
	case KindFunc:
		_, err := r.uleb()
		return err
	case KindTable:
		if _, err := r.readByte(); err != nil {
			return err
		}
		return r.limits()
	case KindMemory:
		return r.limits()
	case KindGlobal:
		_, err := r.take(2)
		return err
	}
	return fmt.Errorf("wasmbin: unknown import kind 0x%02x", kind)
}
