package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractDottedPath walks a decoded JSON document along a dotted key path
// (e.g. "Power.Total") and returns the leaf as a float64. No third-party
// JSON-path library surfaced anywhere in the retrieved corpus; a three-line
// map walk over the standard library's own decoded `any` tree is the right
// size for this, not a dependency.
func extractDottedPath(body []byte, path string) (float64, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, err
	}

	cur := doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("jsonpath: %q: expected object, got %T", path, cur)
		}
		v, ok := m[key]
		if !ok {
			return 0, fmt.Errorf("jsonpath: %q: key %q not found", path, key)
		}
		cur = v
	}

	switch v := cur.(type) {
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("jsonpath: %q: leaf is not numeric (%T)", path, cur)
	}
}
