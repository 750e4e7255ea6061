// Package canonical produces deterministic encodings of option trees so that
// equal trees always hash to the same fingerprint.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// JSON converts a value to deterministic JSON by recursively sorting map keys.
// Maps keyed by types other than string are rejected.
func JSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func write(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := write(buf, val[k]); err != nil {
				return fmt.Errorf("at %s: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, item); err != nil {
				return fmt.Errorf("at [%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Structs and typed maps go through encoding/json, which already
		// emits map keys in sorted order.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		buf.Write(data)
		return nil
	}
}

// Fingerprint returns "sha256:<hex>" over the canonical JSON of every part,
// separated by newlines.
func Fingerprint(parts ...any) (string, error) {
	h := sha256.New()
	for i, p := range parts {
		data, err := JSON(p)
		if err != nil {
			return "", fmt.Errorf("failed to canonicalize part %d: %w", i, err)
		}
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write(data)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Short returns the first n hex characters of a fingerprint.
func Short(fp string, n int) string {
	const prefix = "sha256:"
	if len(fp) >= len(prefix) && fp[:len(prefix)] == prefix {
		fp = fp[len(prefix):]
	}
	if len(fp) < n {
		return fp
	}
	return fp[:n]
}
