package schema

import (
	"errors"
	"fmt"

	"github.com/aretw0/remodel/pkg/domain"
)

// ValidationError reports an attribute value that does not fit its type.
// It matches domain.ErrInvalidFeature with errors.Is.
type ValidationError struct {
	Feature string
	Value   any
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attribute %q: %v", e.Feature, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{domain.ErrInvalidFeature, e.Err}
}

// Of returns the type of an attribute feature. ok is false for references
// and untyped attributes.
func Of(f *domain.Feature) (t Type, ok bool, err error) {
	if f.IsReference() || f.Type == "" {
		return nil, false, nil
	}
	t, err = ParseType(f.Type)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", f.Name, err)
	}
	return t, true, nil
}

// CheckValue validates a value for an attribute feature. Nil unsets the
// attribute and is always accepted.
func CheckValue(f *domain.Feature, value any) error {
	if value == nil {
		return nil
	}
	t, ok, err := Of(f)
	if err != nil || !ok {
		return err
	}
	if err := t.Check(value); err != nil {
		return &ValidationError{Feature: f.Name, Value: value, Err: err}
	}
	return nil
}

// ParseValue converts text for an attribute feature. Untyped attributes
// keep the text as is.
func ParseValue(f *domain.Feature, text string) (any, error) {
	t, ok, err := Of(f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return text, nil
	}
	v, err := t.Parse(text)
	if err != nil {
		return nil, &ValidationError{Feature: f.Name, Value: text, Err: err}
	}
	return v, nil
}

// Attributes maps attribute names to their types.
type Attributes map[string]Type

// ForFeatures collects the typed attributes among features. An unknown
// type name is an error, so a metamodel can be checked before use.
func ForFeatures(features []*domain.Feature) (Attributes, error) {
	out := make(Attributes)
	for _, f := range features {
		t, ok, err := Of(f)
		if err != nil {
			return nil, err
		}
		if ok {
			out[f.Name] = t
		}
	}
	return out, nil
}

// Check validates every present value. Missing attributes are fine since
// attributes are optional. All failures are joined.
func (a Attributes) Check(values map[string]any) error {
	var errs []error
	for name, t := range a {
		v, ok := values[name]
		if !ok || v == nil {
			continue
		}
		if err := t.Check(v); err != nil {
			errs = append(errs, &ValidationError{Feature: name, Value: v, Err: err})
		}
	}
	return errors.Join(errs...)
}
