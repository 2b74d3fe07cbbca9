package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile(`{(\$[^}]*)}`)

// Interpolate replaces {$.path} tokens in s with values looked up in data.
// Tokens that do not resolve become empty strings.
func Interpolate(s string, data map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil || value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}

// Lookup resolves a single jsonpath expression, reporting whether it found a value.
func Lookup(data map[string]any, path string) (any, bool) {
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// ResolveParams walks params and interpolates every string it finds.
// A string that is exactly one token keeps the looked-up value's type.
func ResolveParams(params map[string]any, data map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, data)
	}
	return out
}

func resolveValue(v any, data map[string]any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(val, data)
	case []any:
		list := make([]any, 0, len(val))
		for _, item := range val {
			list = append(list, resolveValue(item, data))
		}
		return list
	case string:
		if m := tokenPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			if found, ok := Lookup(data, m[1]); ok {
				return found
			}
			return nil
		}
		return Interpolate(val, data)
	default:
		return v
	}
}
