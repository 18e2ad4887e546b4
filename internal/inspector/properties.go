package inspector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CoerceProperty converts a raw JSON value into the Go value sent as an
// application property: strings stay strings, integral numbers become
// int32 or int64 when they fit, other numbers float64, booleans bool and
// null nil. Objects and arrays are sent as their compact JSON text.
func CoerceProperty(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid property value: %w", err)
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case json.Number:
		return coerceNumber(t)
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, fmt.Errorf("invalid property value: %w", err)
		}
		return buf.String(), nil
	}
}

func coerceNumber(n json.Number) (any, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), nil
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %q out of range", s)
	}
	return f, nil
}

// CoerceProperties applies CoerceProperty to every entry, skipping empty
// keys. The result is never nil.
func CoerceProperties(in map[string]json.RawMessage) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, raw := range in {
		if k == "" {
			continue
		}
		v, err := CoerceProperty(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
