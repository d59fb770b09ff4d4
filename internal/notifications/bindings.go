package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/shopspring/decimal"
)

// Bindings is the variable environment handed to the template renderer.
type Bindings map[string]any

// Binding keys populated by BuildBindings.
const (
	bindingMain    = "main"
	bindingDetails = "details"
	bindingLines   = "lines"
)

// BuildBindings converts the body and detail payloads of an item into template bindings.
//
// Body fields are available at the top level and under "main". A detail array is
// exposed as "details" and "lines"; a detail object is merged into the top level and,
// when exactly one of its fields is an array, that array is also exposed as
// "details" and "lines".
func BuildBindings(bodyJSON, detailJSON []byte) (Bindings, error) {
	bindings := Bindings{}

	body, present, err := decodeJSON("body", bodyJSON)
	if err != nil {
		return nil, err
	}
	if present {
		obj, ok := body.(map[string]any)
		if !ok {
			return nil, &TemplateDataError{Field: "body", Reason: fmt.Sprintf("must be an object, got %s", jsonKind(body))}
		}
		main := mapObject(obj)
		for k, v := range main {
			bindings[k] = v
		}
		bindings[bindingMain] = main
	}

	detail, present, err := decodeJSON("detail", detailJSON)
	if err != nil {
		return nil, err
	}
	if !present {
		return bindings, nil
	}

	switch d := detail.(type) {
	case []any:
		lines := mapArray(d)
		bindings[bindingDetails] = lines
		bindings[bindingLines] = lines
	case map[string]any:
		fields := mapObject(d)
		var arrays [][]any
		for k, v := range fields {
			bindings[k] = v
			if arr, ok := v.([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		if len(arrays) == 1 {
			bindings[bindingDetails] = arrays[0]
			bindings[bindingLines] = arrays[0]
		}
	default:
		return nil, &TemplateDataError{Field: "detail", Reason: fmt.Sprintf("must be an array or object, got %s", jsonKind(detail))}
	}

	return bindings, nil
}

// decodeJSON parses raw into a generic value. Empty input and a literal null are
// reported as not present.
func decodeJSON(field string, raw []byte) (any, bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false, &TemplateDataError{Field: field, Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false, &TemplateDataError{Field: field, Reason: "trailing data after JSON value"}
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func mapValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return mapObject(val)
	case []any:
		return mapArray(val)
	case json.Number:
		return mapNumber(val)
	default:
		// bool, string and nil map to themselves
		return val
	}
}

func mapObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = mapValue(v)
	}
	return out
}

func mapArray(arr []any) []any {
	out := make([]any, len(arr))
	for i, v := range arr {
		out[i] = mapValue(v)
	}
	return out
}

// mapNumber prefers int64 for integral values and falls back to an exact decimal.
func mapNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}

	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return n.String()
	}
	if d.IsInteger() && d.Cmp(decimal.NewFromInt(math.MaxInt64)) <= 0 && d.Cmp(decimal.NewFromInt(math.MinInt64)) >= 0 {
		return d.IntPart()
	}
	return d
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}
