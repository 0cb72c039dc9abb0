package table

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes numbers as JSON numbers, strings as JSON strings and
// missing values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Number:
		return json.Marshal(v.Num)
	case String:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = NA()
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("table: decode value %s: %w", data, err)
		}
		*v = Num(f)
	}
	return nil
}
