// Package dom holds the emulated browser objects the guest module reads and
// mutates: window and its sub-objects, the canvas/image pair carrying the
// decoy pixels, and the scraped meta tag.
//
// Property access by name goes through an explicit map of typed accessors per
// object kind. Unknown names resolve to Undefined.
package dom

import (
	"strconv"
)

// Sentinel is a JavaScript primitive with no Go counterpart.
type Sentinel string

const (
	Undefined Sentinel = "undefined"
	Null      Sentinel = "null"
)

func (s Sentinel) String() string { return string(s) }

// Object is an emulated host object with named properties.
type Object interface {
	Class() string
	Get(name string) (any, bool)
	Set(name string, v any) bool
}

// Function marks values the guest or host can call back into.
type Function interface {
	Invocable()
}

// IsUndefined reports whether v is undefined or a Go nil.
func IsUndefined(v any) bool {
	return v == nil || v == Undefined
}

// IsObject mirrors typeof v === "object" && v !== null.
func IsObject(v any) bool {
	switch v.(type) {
	case nil, Sentinel, string, bool, float64, Function:
		return false
	}
	return true
}

// Number converts v to a JS number, reporting whether it is one.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// String converts a primitive to its JS string form.
func String(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case Sentinel:
		return string(s), true
	}
	if n, ok := Number(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return "", false
}

type prop[T any] struct {
	get func(o *T) any
	set func(o *T, v any) bool
}

type props[T any] map[string]prop[T]

func (m props[T]) get(o *T, name string) (any, bool) {
	p, ok := m[name]
	if !ok || p.get == nil {
		return Undefined, false
	}
	return p.get(o), true
}

func (m props[T]) set(o *T, name string, v any) bool {
	p, ok := m[name]
	if !ok || p.set == nil {
		return false
	}
	return p.set(o, v)
}

func readOnly[T any](get func(o *T) any) prop[T] {
	return prop[T]{get: get}
}

func stringField[T any](field func(o *T) *string) prop[T] {
	return prop[T]{
		get: func(o *T) any { return *field(o) },
		set: func(o *T, v any) bool {
			s, ok := String(v)
			if ok {
				*field(o) = s
			}
			return ok
		},
	}
}

func numberField[T any](field func(o *T) *float64) prop[T] {
	return prop[T]{
		get: func(o *T) any { return *field(o) },
		set: func(o *T, v any) bool {
			n, ok := Number(v)
			if ok {
				*field(o) = n
			}
			return ok
		},
	}
}

func boolField[T any](field func(o *T) *bool) prop[T] {
	return prop[T]{
		get: func(o *T) any { return *field(o) },
		set: func(o *T, v any) bool {
			b, ok := v.(bool)
			if ok {
				*field(o) = b
			}
			return ok
		},
	}
}
