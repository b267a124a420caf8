package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Remarshal converts v1 into v2 through its JSON representation.
func Remarshal(v1, v2 any) error {
	b1, err := json.Marshal(v1)
	if err != nil {
		return fmt.Errorf("marshal v1: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b1))
	if err := dec.Decode(v2); err != nil {
		return fmt.Errorf("unmarshal v2: %w", err)
	}
	return nil
}

// MarshalIndentString encodes v as 2-space indented JSON without HTML escaping.
func MarshalIndentString(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
