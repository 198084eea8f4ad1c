package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintJSONCompact writes data as one line of JSON.
func PrintJSONCompact(w io.Writer, data any) error {
	return json.NewEncoder(w).Encode(data)
}

// PrintYAML writes data as YAML.
func PrintYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}
