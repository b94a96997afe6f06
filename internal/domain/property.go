package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// FunctionProperty is the parsed Values of a DeviceFunction. The same
// value can be read as an integer range, an enum range or, for composite
// functions such as colour_data, as a set of nested integer ranges.
type FunctionProperty struct {
	fields map[string]json.RawMessage
}

type IntegerProperty struct {
	Min   float64
	Max   float64
	Scale float64
	Step  float64
}

type EnumProperty struct {
	Range []string
}

func (p EnumProperty) Includes(value string) bool {
	return slices.Contains(p.Range, value)
}

// ParseFunctionProperty decodes a Values string. Only JSON objects are accepted.
func ParseFunctionProperty(values string) (FunctionProperty, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(values), &fields); err != nil {
		return FunctionProperty{}, fmt.Errorf("parsing function values: %w", err)
	}
	if fields == nil {
		return FunctionProperty{}, fmt.Errorf("parsing function values: not an object")
	}
	return FunctionProperty{fields: fields}, nil
}

// Integer reads the property as {min,max,scale?,step?}. Both min and max
// must be present.
func (p FunctionProperty) Integer() (IntegerProperty, bool) {
	return decodeInteger(p.fields)
}

// Enum reads the property as {range:[...]}.
func (p FunctionProperty) Enum() (EnumProperty, bool) {
	raw, ok := p.fields["range"]
	if !ok {
		return EnumProperty{}, false
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return EnumProperty{}, false
	}
	return EnumProperty{Range: values}, true
}

// Sub reads a nested integer range, e.g. the "h" entry of a colour_data definition.
func (p FunctionProperty) Sub(key string) (IntegerProperty, bool) {
	raw, ok := p.fields[key]
	if !ok {
		return IntegerProperty{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return IntegerProperty{}, false
	}
	return decodeInteger(fields)
}

func decodeInteger(fields map[string]json.RawMessage) (IntegerProperty, bool) {
	var prop IntegerProperty
	if !decodeNumber(fields, "min", &prop.Min) || !decodeNumber(fields, "max", &prop.Max) {
		return IntegerProperty{}, false
	}
	decodeNumber(fields, "scale", &prop.Scale)
	decodeNumber(fields, "step", &prop.Step)
	return prop, true
}

func decodeNumber(fields map[string]json.RawMessage, key string, dst *float64) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
