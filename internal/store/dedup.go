package store

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// canonicalizeExtras serializes an assignment's free-form extras map with
// the JSON Canonicalization Scheme (RFC 8785) and decodes the result back
// into a map. Callers then encode that map with encoding/json, so the
// stored bytes are encoding/json's output, not the JCS serialization. On
// any error the input map is returned unchanged.
func canonicalizeExtras(extras map[string]any) map[string]any {
	if len(extras) == 0 {
		return extras
	}
	canonical, err := jcs.Marshal(extras)
	if err != nil {
		return extras
	}
	var out map[string]any
	if err := json.Unmarshal(canonical, &out); err != nil {
		return extras
	}
	return out
}
