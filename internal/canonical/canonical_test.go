package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSortsNestedKeys(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": []any{map[string]any{"d": 1, "c": 2}}},
	}

	data, err := JSON(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":[{"c":2,"d":1}],"z":true},"b":1}`, string(data))
}

func TestFingerprintStableAcrossConstructionOrder(t *testing.T) {
	a := map[string]any{}
	a["x"] = "1"
	a["y"] = []any{"p", "q"}

	b := map[string]any{}
	b["y"] = []any{"p", "q"}
	b["x"] = "1"

	fa, err := Fingerprint(a, "ctx")
	require.NoError(t, err)
	fb, err := Fingerprint(b, "ctx")
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	fc, err := Fingerprint(b, "other")
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}

func TestFingerprintArraysAreOrdered(t *testing.T) {
	fa, _ := Fingerprint([]any{"a", "b"})
	fb, _ := Fingerprint([]any{"b", "a"})
	assert.NotEqual(t, fa, fb)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abcdef", Short("sha256:abcdef0123", 6))
	assert.Equal(t, "ab", Short("ab", 6))
}
