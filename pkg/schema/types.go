package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Type checks attribute values and parses them from text.
type Type interface {
	// Name returns the type as written in a metamodel ("int", "[string]").
	Name() string
	// Check reports whether value conforms to the type.
	Check(value any) error
	// Parse converts a textual value, as given on a command line.
	Parse(text string) (any, error)
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Check(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

func (stringType) Parse(text string) (any, error) { return text, nil }

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Check(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return nil
	case float64:
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got fractional %v", v)
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

func (intType) Parse(text string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("expected int, got %q", text)
	}
	return n, nil
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Check(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

func (floatType) Parse(text string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return nil, fmt.Errorf("expected float, got %q", text)
	}
	return f, nil
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Check(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

func (boolType) Parse(text string) (any, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("expected bool, got %q", text)
	}
	return b, nil
}

type listType struct {
	elem Type
}

func (t listType) Name() string { return "[" + t.elem.Name() + "]" }

func (t listType) Check(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := range rv.Len() {
		if err := t.elem.Check(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Parse splits text on commas. An empty text is an empty list.
func (t listType) Parse(text string) (any, error) {
	out := []any{}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	for i, part := range strings.Split(text, ",") {
		v, err := t.elem.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// String is the string type.
func String() Type { return stringType{} }

// Int is the integer type.
func Int() Type { return intType{} }

// Float is the floating point type. Integers are accepted too.
func Float() Type { return floatType{} }

// Bool is the boolean type.
func Bool() Type { return boolType{} }

// List is a list of elem.
func List(elem Type) Type { return listType{elem: elem} }

// ParseType resolves a type name such as "int" or "[string]".
func ParseType(name string) (Type, error) {
	if len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']' {
		elem, err := ParseType(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}

	switch name {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %q", name)
	}
}
