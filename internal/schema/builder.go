package schema

import (
	"sort"
	"strings"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Payload is the nested form of FlatData: every dotted path segment becomes
// one level of map.
type Payload map[string]any

// BuildPayload converts dotted-path data into a nested payload, creating
// intermediate levels on demand. It does no validation. When a path runs
// through a key that already holds a leaf value, the leaf is replaced by a
// map.
func BuildPayload(flat types.FlatData) Payload {
	payload := make(Payload)

	// Sorted so that colliding paths resolve the same way on every run.
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		setPath(payload, strings.Split(p, "."), flat[p])
	}
	return payload
}

func setPath(obj map[string]any, path []string, value any) {
	key := path[0]
	if len(path) == 1 {
		obj[key] = value
		return
	}

	next, ok := obj[key].(map[string]any)
	if !ok {
		if p, isPayload := obj[key].(Payload); isPayload {
			next = p
		} else {
			next = make(map[string]any)
			obj[key] = next
		}
	}
	setPath(next, path[1:], value)
}

// Flatten is the inverse of BuildPayload: nested maps are joined back into
// dotted paths. Image descriptors and other leaf maps are only preserved
// when they are stored at a leaf by the caller, so Flatten is meant for
// payloads produced from scalar FlatData.
func Flatten(payload Payload) types.FlatData {
	flat := make(types.FlatData)
	flattenInto(flat, "", payload)
	return flat
}

func flattenInto(flat types.FlatData, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flattenInto(flat, key, child)
		case Payload:
			flattenInto(flat, key, child)
		default:
			flat[key] = v
		}
	}
}

// BuildSchemaXMLFields lists the root field ids touched by flat, sorted and
// de-duplicated, joined by ",". The publish API needs it as schemaXmlFields.
func BuildSchemaXMLFields(flat types.FlatData) string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for p := range flat {
		root, _, _ := strings.Cut(p, ".")
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		ids = append(ids, root)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
