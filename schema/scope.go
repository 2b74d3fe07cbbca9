package schema

import (
	"strings"

	"github.com/mohitkumar/actionrouter/model"
)

// Scope is what conditions, validation and interpolation see: the item's
// context plus the live form state. Form values shadow context values.
type Scope struct {
	Context map[string]any
	Form    map[string]any
}

func NewScope(item model.ContentItem, form map[string]any) Scope {
	if form == nil {
		form = map[string]any{}
	}
	return Scope{Context: item.Values(), Form: form}
}

// Lookup accepts a bare key or one qualified with "context." or "form.".
func (s Scope) Lookup(key string) (any, bool) {
	if k, ok := strings.CutPrefix(key, "form."); ok {
		v, found := s.Form[k]
		return v, found
	}
	if k, ok := strings.CutPrefix(key, "context."); ok {
		v, found := s.Context[k]
		return v, found
	}
	if v, ok := s.Form[key]; ok {
		return v, true
	}
	v, ok := s.Context[key]
	return v, ok
}

// Data is the document {$.context.x} and {$.form.y} placeholders resolve against.
func (s Scope) Data() map[string]any {
	return map[string]any{"context": s.Context, "form": s.Form}
}

// merged flattens context and form for script evaluation, keeping both namespaces.
func (s Scope) merged() map[string]any {
	out := make(map[string]any, len(s.Context)+len(s.Form)+2)
	for k, v := range s.Context {
		out[k] = v
	}
	for k, v := range s.Form {
		out[k] = v
	}
	out["context"] = s.Context
	out["form"] = s.Form
	return out
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	}
	return true
}
