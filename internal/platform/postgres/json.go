package postgres

import "encoding/json"

// encodeFlags serializes feature flags to JSONB. A nil slice encodes as
// an empty array so the column is never NULL.
func encodeFlags(flags []string) []byte {
	if flags == nil {
		flags = []string{}
	}
	b, err := json.Marshal(flags)
	if err != nil {
		// A []string cannot fail to marshal.
		return []byte("[]")
	}
	return b
}

// decodeFlags deserializes feature flags from JSONB.
func decodeFlags(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var flags []string
	if err := json.Unmarshal(b, &flags); err != nil {
		return nil
	}
	return flags
}
