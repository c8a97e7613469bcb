package operator

import (
	"fmt"
	"math"
	"reflect"
)

// Wrappable is a plain routine that can be exposed as an Operator without
// implementing the full interface. Its exported struct fields become the
// operator's parameters; a field tagged `op:"-"` is skipped.
type Wrappable interface {
	Command() string
	Calculate() (any, error)
}

// Documented lets a Wrappable supply a title and category path.
type Documented interface {
	Title() string
	CategoryList() []string
}

// Wrapper adapts a Wrappable to the Operator interface.
type Wrapper struct {
	w      Wrappable
	val    reflect.Value // addressable struct value behind w, if any
	fields []int
}

// Wrap builds an Operator around w. Parameters are only exposed when w is a
// pointer to a struct.
func Wrap(w Wrappable) *Wrapper {
	wr := &Wrapper{w: w}
	rv := reflect.ValueOf(w)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return wr
	}
	wr.val = rv.Elem()
	t := wr.val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("op") == "-" {
			continue
		}
		wr.fields = append(wr.fields, i)
	}
	return wr
}

// Unwrap returns the wrapped routine.
func (wr *Wrapper) Unwrap() Wrappable { return wr.w }

func (wr *Wrapper) Command() string { return wr.w.Command() }

func (wr *Wrapper) Title() string {
	if d, ok := wr.w.(Documented); ok && d.Title() != "" {
		return d.Title()
	}
	return wr.w.Command()
}

func (wr *Wrapper) CategoryList() []string {
	if d, ok := wr.w.(Documented); ok {
		return d.CategoryList()
	}
	return Categories(ScopeGeneric, "Wrapped")
}

func (wr *Wrapper) NumParameters() int { return len(wr.fields) }

func (wr *Wrapper) Parameter(i int) (Parameter, error) {
	if i < 0 || i >= len(wr.fields) {
		return Parameter{}, fmt.Errorf("%w: %d of %d", ErrParameterIndex, i, len(wr.fields))
	}
	idx := wr.fields[i]
	name := wr.val.Type().Field(idx).Name
	if tag := wr.val.Type().Field(idx).Tag.Get("op"); tag != "" {
		name = tag
	}
	return Parameter{Name: name, Value: wr.val.Field(idx).Interface()}, nil
}

func (wr *Wrapper) SetParameter(i int, value any) error {
	if i < 0 || i >= len(wr.fields) {
		return fmt.Errorf("%w: %d of %d", ErrParameterIndex, i, len(wr.fields))
	}
	field := wr.val.Field(wr.fields[i])
	v := reflect.ValueOf(value)
	switch {
	case !v.IsValid():
		field.Set(reflect.Zero(field.Type()))
	case v.Type().AssignableTo(field.Type()):
		field.Set(v)
	case v.Kind() == field.Kind() && v.Type().ConvertibleTo(field.Type()):
		field.Set(v.Convert(field.Type()))
	case isNumeric(v.Kind()) && isNumeric(field.Kind()):
		if isFloat(v.Kind()) && !isFloat(field.Kind()) && v.Float() != math.Trunc(v.Float()) {
			return fmt.Errorf("parameter %d: %v is not a whole number", i, value)
		}
		field.Set(v.Convert(field.Type()))
	default:
		return fmt.Errorf("parameter %d: cannot use %T as %s", i, value, field.Type())
	}
	return nil
}

func isFloat(k reflect.Kind) bool { return k == reflect.Float32 || k == reflect.Float64 }

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (wr *Wrapper) Result() (any, error) { return wr.w.Calculate() }

// IsHidden forwards the wrapped routine's Hidden, if it implements it.
func (wr *Wrapper) IsHidden() bool {
	h, ok := wr.w.(Hidden)
	return ok && h.IsHidden()
}

// Scope forwards the wrapped routine's scope, if it declares one.
func (wr *Wrapper) Scope() Scope {
	if s, ok := wr.w.(Scoped); ok {
		return s.Scope()
	}
	return ScopeGeneric
}
