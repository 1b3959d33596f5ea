package model

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DateLayout is the textual form of calendar dates in parameters.
const DateLayout = "2006-01-02"

// Params holds a node's loosely typed parameters as read from a definition.
// Keys are matched case-insensitively.
type Params map[string]any

// Clone deep-copies nested maps and slices.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case Params:
		return x.Clone()
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Decode fills the struct pointed to by out from the parameters. Fields are
// matched through `mapstructure` tags; numbers and strings convert weakly and
// dates accept either time values or "2006-01-02" strings. A parameter no
// field consumes is an error.
func (p Params) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			dateHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("model: decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("model: decode params: %w", err)
	}
	return nil
}

func dateHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
}

// Get returns the value at a dotted key, descending into nested maps.
func (p Params) Get(key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = map[string]any(p)
	for _, part := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		k, found := lookupKey(m, part)
		if !found {
			return nil, false
		}
		cur = m[k]
	}
	return cur, true
}

// Set stores v at a dotted key, creating intermediate maps as needed. An
// existing key with different case is overwritten rather than duplicated.
func (p Params) Set(key string, v any) error {
	if key == "" {
		return fmt.Errorf("model: empty parameter key")
	}
	parts := strings.Split(key, ".")
	m := map[string]any(p)
	for _, part := range parts[:len(parts)-1] {
		k, found := lookupKey(m, part)
		if !found {
			next := map[string]any{}
			m[part] = next
			m = next
			continue
		}
		next, ok := asMap(m[k])
		if !ok {
			return fmt.Errorf("model: parameter %q is not a map", part)
		}
		m[k] = next
		m = next
	}
	last := parts[len(parts)-1]
	if k, found := lookupKey(m, last); found {
		last = k
	}
	m[last] = v
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Params:
		return map[string]any(m), true
	}
	return nil, false
}

func lookupKey(m map[string]any, key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	for k := range m {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}
