// Package delta provides shallow JSON-map delta compression used to report
// context growth without shipping whole payloads.
package delta

import "reflect"

// Tombstone marks a key removed from the base map.
const Tombstone = "__deleted__"

// Compute returns the minimal shallow delta that transforms base into
// current. Changed and added keys carry the new value; removed keys carry
// the tombstone marker.
func Compute(base, current map[string]interface{}) map[string]interface{} {
	delta := make(map[string]interface{})

	for key, value := range current {
		prev, existed := base[key]
		if !existed || !reflect.DeepEqual(prev, value) {
			delta[key] = value
		}
	}
	for key := range base {
		if _, kept := current[key]; !kept {
			delta[key] = Tombstone
		}
	}
	return delta
}

// Apply replays a delta over base and returns the reconstructed map. The
// invariant Apply(base, Compute(base, current)) == current holds for any
// pair of maps that do not use the tombstone marker as a value.
func Apply(base, delta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(delta))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range delta {
		if s, ok := value.(string); ok && s == Tombstone {
			delete(out, key)
			continue
		}
		out[key] = value
	}
	return out
}
