package host

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"wasmkey/internal/dom"
)

// The guest's eval calls are matched against these forms only. Nothing is
// ever executed.
var (
	evalAssign = regexp.MustCompile(`^window\.([A-Za-z_$][\w$]*)\s*=\s*(?:'([^'\\]*)'|"([^"\\]*)")\s*;?$`)
	evalRead   = regexp.MustCompile(`^window\.([A-Za-z_$][\w$]*)\s*;?$`)
)

// Eval interprets src against the window. It recognizes a string literal
// assigned to a window field and a bare window field read. Any other source
// yields undefined and is recorded.
func (e *Env) Eval(src string) any {
	code := strings.TrimSpace(src)

	if m := evalAssign.FindStringSubmatch(code); m != nil {
		field, value := m[1], m[2]
		if value == "" {
			value = m[3]
		}
		if e.Window().Set(field, value) {
			e.log.Debug("eval assignment", zap.String("field", field))
			return value
		}
	} else if m := evalRead.FindStringSubmatch(code); m != nil {
		v, _ := e.Window().Get(m[1])
		return v
	}

	e.unrecognized = append(e.unrecognized, src)
	e.log.Warn("unrecognized eval form", zap.String("source", truncate(src, 120)))
	return dom.Undefined
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
