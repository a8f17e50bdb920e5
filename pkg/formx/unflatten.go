// Package formx turns bracket-notation form fields such as customer[email]
// or order[items][0][id] into nested maps.
package formx

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Unflatten nests url.Values by bracket segments. The first value of each
// key wins. A key that is both a leaf and a parent keeps the parent map.
func Unflatten(values url.Values) map[string]interface{} {
	out := make(map[string]interface{})
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		path := splitKey(key)
		if len(path) == 0 {
			continue
		}
		insert(out, path, vals[0])
	}
	return out
}

func insert(m map[string]interface{}, path []string, value string) {
	for i, seg := range path {
		if i == len(path)-1 {
			if _, isMap := m[seg].(map[string]interface{}); !isMap {
				m[seg] = value
			}
			return
		}
		next, ok := m[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[seg] = next
		}
		m = next
	}
}

// splitKey("a[b][c]") -> [a b c]; "a[]" keeps an empty final segment.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		if key == "" {
			return nil
		}
		return []string{key}
	}
	parts := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			// unbalanced: treat the remainder literally
			parts[len(parts)-1] += rest
			break
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts
}

// Lookup walks a nested map by path and returns the leaf as a string.
// Numbers decoded from JSON are formatted without exponent; anything else
// that is not a scalar yields "".
func Lookup(m map[string]interface{}, path ...string) string {
	var cur interface{} = m
	for _, seg := range path {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = node[seg]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}
