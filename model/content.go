package model

import (
	"encoding/json"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type ValueType string

const TYPE_STRING ValueType = "string"
const TYPE_NUMBER ValueType = "number"
const TYPE_BOOL ValueType = "bool"
const TYPE_DATE ValueType = "date"
const TYPE_URL ValueType = "url"
const TYPE_EMAIL ValueType = "email"

func (t ValueType) Valid() bool {
	switch t {
	case TYPE_STRING, TYPE_NUMBER, TYPE_BOOL, TYPE_DATE, TYPE_URL, TYPE_EMAIL:
		return true
	}
	return false
}

// ContextValue is one extracted datum. Type is what the extractor declared;
// compatibility is always decided on the value itself.
type ContextValue struct {
	Type  ValueType `json:"type,omitempty"`
	Value any       `json:"value"`
}

// UnmarshalJSON accepts both {"type":..,"value":..} and a bare scalar.
func (v *ContextValue) UnmarshalJSON(data []byte) error {
	type typed ContextValue
	var t typed
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &t); err == nil && t.Value != nil {
			*v = ContextValue(t)
			return nil
		}
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Value = raw
	v.Type = inferType(raw)
	return nil
}

func inferType(raw any) ValueType {
	switch raw.(type) {
	case float64, int, int64:
		return TYPE_NUMBER
	case bool:
		return TYPE_BOOL
	}
	return TYPE_STRING
}

func Str(s string) ContextValue             { return ContextValue{Type: TYPE_STRING, Value: s} }
func Num(n float64) ContextValue            { return ContextValue{Type: TYPE_NUMBER, Value: n} }
func Bool(b bool) ContextValue              { return ContextValue{Type: TYPE_BOOL, Value: b} }
func Date(t time.Time) ContextValue         { return ContextValue{Type: TYPE_DATE, Value: t} }
func Typed(t ValueType, v any) ContextValue { return ContextValue{Type: t, Value: v} }

// Present is false for nil values and blank strings.
func (v ContextValue) Present() bool {
	switch val := v.Value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	}
	return true
}

// Compatible reports whether the value is present and usable as t.
func (v ContextValue) Compatible(t ValueType) bool {
	if !v.Present() {
		return false
	}
	switch t {
	case TYPE_NUMBER:
		_, ok := v.Float()
		return ok
	case TYPE_BOOL:
		switch val := v.Value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(strings.TrimSpace(val))
			return err == nil
		}
		return false
	case TYPE_DATE:
		switch val := v.Value.(type) {
		case time.Time:
			return !val.IsZero()
		case string:
			_, ok := ParseDate(val)
			return ok
		}
		return false
	case TYPE_URL:
		s, ok := v.Value.(string)
		if !ok {
			return false
		}
		u, err := url.Parse(strings.TrimSpace(s))
		return err == nil && u.Scheme != "" && u.Host != ""
	case TYPE_EMAIL:
		s, ok := v.Value.(string)
		if !ok {
			return false
		}
		_, err := mail.ParseAddress(strings.TrimSpace(s))
		return err == nil
	default:
		switch v.Value.(type) {
		case string, float64, float32, int, int64, int32, bool, json.Number:
			return true
		}
		return false
	}
}

func (v ContextValue) Float() (float64, bool) {
	switch val := v.Value.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type ContentItem struct {
	Id      string                  `json:"id"`
	Mode    Mode                    `json:"mode"`
	Context map[string]ContextValue `json:"context"`
}

func (c ContentItem) Lookup(key string) (ContextValue, bool) {
	v, ok := c.Context[key]
	return v, ok
}

// Values flattens the context bag into plain values for interpolation and conditions.
func (c ContentItem) Values() map[string]any {
	out := make(map[string]any, len(c.Context))
	for k, v := range c.Context {
		out[k] = v.Value
	}
	return out
}
