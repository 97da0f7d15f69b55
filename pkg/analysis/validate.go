package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errEmptyOutput = errors.New("empty output")
	errNotArray    = errors.New("output is not a JSON array of objects")
)

// Parse validates raw model output against the task's schema. Any violation
// fails the whole task; there is no partial section.
func (t Task) Parse(raw string) (Output, error) {
	body := stripFence(raw)
	if body == "" {
		return Output{}, errEmptyOutput
	}

	if len(t.Fields) == 0 {
		return Output{Summary: body}, nil
	}

	items, err := decodeItems(body, string(t.Kind))
	if err != nil {
		return Output{}, err
	}

	normalized := make([]map[string]any, 0, len(items))
	for i, item := range items {
		n, err := t.normalizeItem(item)
		if err != nil {
			return Output{}, fmt.Errorf("item %d: %w", i, err)
		}
		normalized = append(normalized, n)
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return Output{}, fmt.Errorf("re-encode items: %w", err)
	}

	var out Output
	switch t.Kind {
	case KindDecisions:
		out.Decisions = make([]Decision, 0, len(normalized))
		err = json.Unmarshal(data, &out.Decisions)
	case KindActionItems:
		out.ActionItems = make([]ActionItem, 0, len(normalized))
		err = json.Unmarshal(data, &out.ActionItems)
	case KindFollowUps:
		out.FollowUps = make([]FollowUp, 0, len(normalized))
		err = json.Unmarshal(data, &out.FollowUps)
	default:
		err = fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if err != nil {
		return Output{}, err
	}
	return out, nil
}

// stripFence trims whitespace and an enclosing markdown code fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decodeItems accepts a bare array, or an object wrapping the array under the
// section key or as its only array-valued member.
func decodeItems(body, key string) ([]map[string]json.RawMessage, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err == nil && items != nil {
		return items, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return nil, errNotArray
	}

	if inner, ok := wrapper[key]; ok {
		if err := json.Unmarshal(inner, &items); err == nil && items != nil {
			return items, nil
		}
		return nil, errNotArray
	}

	var found []map[string]json.RawMessage
	matches := 0
	for _, inner := range wrapper {
		var candidate []map[string]json.RawMessage
		if err := json.Unmarshal(inner, &candidate); err == nil && candidate != nil {
			found = candidate
			matches++
		}
	}
	if matches == 1 {
		return found, nil
	}
	return nil, errNotArray
}

func (t Task) normalizeItem(item map[string]json.RawMessage) (map[string]any, error) {
	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		raw, ok := item[f.Name]
		if !ok || isNull(raw) {
			if f.Required {
				return nil, fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}

		if f.List {
			list, err := toStringList(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			if len(list) == 0 {
				if f.Required {
					return nil, fmt.Errorf("required field %q is empty", f.Name)
				}
				continue
			}
			out[f.Name] = list
			continue
		}

		s, err := toText(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if s == "" {
			if f.Required {
				return nil, fmt.Errorf("required field %q is empty", f.Name)
			}
			continue
		}
		out[f.Name] = s
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// toText accepts a string, number, bool or list of those (joined with ", ").
func toText(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := scalarString(e)
			if !ok {
				return "", errors.New("expected text")
			}
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), nil
	default:
		s, ok := scalarString(x)
		if !ok {
			return "", errors.New("expected text")
		}
		return s, nil
	}
}

// toStringList accepts a list of scalars or a single scalar.
func toStringList(raw json.RawMessage) ([]string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var elems []any
	switch x := v.(type) {
	case []any:
		elems = x
	default:
		elems = []any{x}
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		s, ok := scalarString(e)
		if !ok {
			return nil, errors.New("expected list of strings")
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case nil:
		return "", true
	default:
		return "", false
	}
}
