package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDetectsChangesAdditionsRemovals(t *testing.T) {
	t.Parallel()

	base := map[string]interface{}{"keep": 1, "change": "old", "drop": true}
	current := map[string]interface{}{"keep": 1, "change": "new", "add": 3.5}

	d := Compute(base, current)
	require.Equal(t, "new", d["change"])
	require.Equal(t, 3.5, d["add"])
	require.Equal(t, Tombstone, d["drop"])
	require.NotContains(t, d, "keep")
}

func TestApplyComputeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		base, current map[string]interface{}
	}{
		{"empty to empty", map[string]interface{}{}, map[string]interface{}{}},
		{"growth", map[string]interface{}{}, map[string]interface{}{"a": 1}},
		{"shrink", map[string]interface{}{"a": 1}, map[string]interface{}{}},
		{"nested", map[string]interface{}{"m": map[string]interface{}{"x": 1}},
			map[string]interface{}{"m": map[string]interface{}{"x": 2}}},
		{"identical", map[string]interface{}{"a": []interface{}{1, 2}},
			map[string]interface{}{"a": []interface{}{1, 2}}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.current, Apply(tc.base, Compute(tc.base, tc.current)))
		})
	}
}

func TestIdenticalMapsProduceEmptyDelta(t *testing.T) {
	t.Parallel()

	m := map[string]interface{}{"a": 1, "b": "two"}
	require.Empty(t, Compute(m, m))
}
