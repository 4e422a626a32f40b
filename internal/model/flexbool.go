package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexBool decodes from a JSON boolean or its string spelling. Anything
// other than true / "true" decodes as false.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*b = true
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = FlexBool(strings.EqualFold(strings.TrimSpace(s), "true"))
	default:
		*b = false
	}
	return nil
}

// MarshalJSON always writes a real boolean.
func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
