package dom

import "sort"

// Window is the emulated global object.
type Window struct {
	Navigator    *Navigator
	Document     *Document
	Location     *Location
	Performance  *Performance
	LocalStorage *Storage
	Crypto       *Crypto
	MSCrypto     *Crypto

	Origin         string
	Xrax           string
	G              string
	PID            string
	Error          bool
	C              bool
	Length         float64
	BrowserVersion float64
	Bytes          []byte

	// callbacks holds functions the guest attached with Reflect.set.
	callbacks map[string]Function
}

var windowProps = props[Window]{
	"navigator":       readOnly(func(w *Window) any { return w.Navigator }),
	"document":        readOnly(func(w *Window) any { return w.Document }),
	"location":        readOnly(func(w *Window) any { return w.Location }),
	"performance":     readOnly(func(w *Window) any { return w.Performance }),
	"localStorage":    readOnly(func(w *Window) any { return w.LocalStorage }),
	"crypto":          readOnly(func(w *Window) any { return w.Crypto }),
	"msCrypto":        readOnly(func(w *Window) any { return w.MSCrypto }),
	"origin":          stringField(func(w *Window) *string { return &w.Origin }),
	"xrax":            stringField(func(w *Window) *string { return &w.Xrax }),
	"G":               stringField(func(w *Window) *string { return &w.G }),
	"pid":             stringField(func(w *Window) *string { return &w.PID }),
	"error":           boolField(func(w *Window) *bool { return &w.Error }),
	"c":               boolField(func(w *Window) *bool { return &w.C }),
	"length":          numberField(func(w *Window) *float64 { return &w.Length }),
	"browser_version": numberField(func(w *Window) *float64 { return &w.BrowserVersion }),
	"bytes": {
		get: func(w *Window) any {
			if w.Bytes == nil {
				return Undefined
			}
			return w.Bytes
		},
		set: func(w *Window, v any) bool {
			b, ok := v.([]byte)
			if ok {
				w.Bytes = b
			}
			return ok
		},
	},
}

func (w *Window) Class() string { return "Window" }

// Get reads a window property. Typed properties take precedence over
// attached callbacks.
func (w *Window) Get(name string) (any, bool) {
	if v, ok := windowProps.get(w, name); ok {
		return v, true
	}
	if fn, ok := w.callbacks[name]; ok {
		return fn, true
	}
	return Undefined, false
}

// Set writes a typed property, or attaches a function under any other name.
func (w *Window) Set(name string, v any) bool {
	if _, typed := windowProps[name]; typed {
		return windowProps.set(w, name, v)
	}
	fn, ok := v.(Function)
	if !ok {
		return false
	}
	if w.callbacks == nil {
		w.callbacks = make(map[string]Function)
	}
	w.callbacks[name] = fn
	return true
}

// Callback returns the function attached under name.
func (w *Window) Callback(name string) (Function, bool) {
	fn, ok := w.callbacks[name]
	return fn, ok
}

// Callbacks lists the attached callback names.
func (w *Window) Callbacks() []string {
	names := make([]string, 0, len(w.callbacks))
	for name := range w.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Navigator is window.navigator.
type Navigator struct {
	Webdriver bool
	UserAgent string
}

var navigatorProps = props[Navigator]{
	"webdriver": readOnly(func(n *Navigator) any { return n.Webdriver }),
	"userAgent": readOnly(func(n *Navigator) any { return n.UserAgent }),
}

func (n *Navigator) Class() string               { return "Navigator" }
func (n *Navigator) Get(name string) (any, bool) { return navigatorProps.get(n, name) }
func (n *Navigator) Set(name string, v any) bool { return navigatorProps.set(n, name, v) }

// Document is window.document.
type Document struct {
	Cookie string
}

var documentProps = props[Document]{
	"cookie": stringField(func(d *Document) *string { return &d.Cookie }),
}

func (d *Document) Class() string               { return "HTMLDocument" }
func (d *Document) Get(name string) (any, bool) { return documentProps.get(d, name) }
func (d *Document) Set(name string, v any) bool { return documentProps.set(d, name, v) }

// Location is window.location.
type Location struct {
	Href   string
	Origin string
}

var locationProps = props[Location]{
	"href":   stringField(func(l *Location) *string { return &l.Href }),
	"origin": readOnly(func(l *Location) any { return l.Origin }),
}

func (l *Location) Class() string               { return "Location" }
func (l *Location) Get(name string) (any, bool) { return locationProps.get(l, name) }
func (l *Location) Set(name string, v any) bool { return locationProps.set(l, name, v) }

// Performance is window.performance.
type Performance struct {
	TimeOrigin float64 // milliseconds since the Unix epoch
}

var performanceProps = props[Performance]{
	"timeOrigin": readOnly(func(p *Performance) any { return p.TimeOrigin }),
}

func (p *Performance) Class() string               { return "Performance" }
func (p *Performance) Get(name string) (any, bool) { return performanceProps.get(p, name) }
func (p *Performance) Set(name string, v any) bool { return performanceProps.set(p, name, v) }

// Crypto stands in for window.crypto and window.msCrypto. It has no
// properties; the guest only probes for its presence.
type Crypto struct{}

func (c *Crypto) Class() string          { return "Crypto" }
func (c *Crypto) Get(string) (any, bool) { return Undefined, false }
func (c *Crypto) Set(string, any) bool   { return false }

// Storage is window.localStorage. Any key may be stored; values are kept in
// their string form like the browser does.
type Storage struct {
	items map[string]string
}

// NewStorage returns an empty storage.
func NewStorage() *Storage {
	return &Storage{items: make(map[string]string)}
}

func (s *Storage) Class() string { return "Storage" }

func (s *Storage) Get(name string) (any, bool) {
	if v, ok := s.items[name]; ok {
		return v, true
	}
	return Undefined, false
}

func (s *Storage) Set(name string, v any) bool {
	str, ok := String(v)
	if !ok {
		return false
	}
	s.SetItem(name, str)
	return true
}

// SetItem stores value under key.
func (s *Storage) SetItem(key, value string) {
	s.items[key] = value
}

// Item returns the value stored under key.
func (s *Storage) Item(key string) (string, bool) {
	v, ok := s.items[key]
	return v, ok
}

// Len reports the number of stored items.
func (s *Storage) Len() int {
	return len(s.items)
}
