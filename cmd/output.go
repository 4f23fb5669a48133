package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

// writeStructured prints v as JSON or YAML per --output. It reports false
// for text output so the caller can render its own view.
func writeStructured(w io.Writer, v any) (bool, error) {
	return encode(w, flagOutput, v)
}

func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("encoding yaml: %w", err)
		}
		_, err = w.Write(data)
		return true, err
	}
	return false, nil
}
