package ve

import "encoding/json"

// CanonicalJSON serializes v to JSON with lexicographically sorted object
// keys, 2-space indentation, and a trailing newline, the wire format
// required for persisted artifacts (apply metadata, correction artifacts,
// session records). encoding/json already marshals Go maps with their keys
// sorted; round-tripping a struct through map[string]any before the final
// marshal makes the sort apply regardless of the struct's field
// declaration order. Floats are written with Go's shortest round-trip
// representation.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, '\n')
	return out, nil
}
