package stage

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// PayloadHash computes a stable fingerprint of an output data map. The map
// is serialized with canonical key ordering (encoding/json sorts map keys)
// and hashed with FNV-1a. Hash equality is the guard-retry stagnation
// signal.
func PayloadHash(data map[string]interface{}) string {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", data))
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return fmt.Sprintf("%016x", h.Sum64())
}
