// Package operator defines the capability every discoverable operator
// implements, plus the type registry compiled operators are resolved from.
package operator

import (
	"errors"
	"fmt"
)

// Root categories. Every category list starts with RootCategory followed by
// the scope category; consumers skip both.
const (
	RootCategory    = "Operator"
	GenericCategory = "Generic"
	DataSetCategory = "DataSet"
)

var (
	ErrParameterIndex = errors.New("parameter index out of range")
	ErrDuplicateType  = errors.New("operator type already registered")
	ErrUnknownType    = errors.New("operator type not registered")
)

// Operator is a unit of discoverable, invokable functionality.
type Operator interface {
	Command() string
	Title() string
	// CategoryList returns the hierarchical placement; the first two entries
	// are the root categories.
	CategoryList() []string
	NumParameters() int
	Parameter(i int) (Parameter, error)
	SetParameter(i int, value any) error
	Result() (any, error)
}

// Hidden is implemented by operators that should be registered but kept out
// of menus.
type Hidden interface {
	IsHidden() bool
}

// Scope separates generic operators from operators that act on a data set.
type Scope int

const (
	ScopeGeneric Scope = iota
	ScopeDataSet
)

func (s Scope) String() string {
	if s == ScopeDataSet {
		return DataSetCategory
	}
	return GenericCategory
}

// Scoped is implemented by operators that are not generic.
type Scoped interface {
	Scope() Scope
}

// ScopeOf reports the scope of op; operators that do not implement Scoped are
// generic.
func ScopeOf(op Operator) Scope {
	if s, ok := op.(Scoped); ok {
		return s.Scope()
	}
	return ScopeGeneric
}

// IsHidden reports whether op asks to be hidden.
func IsHidden(op Operator) bool {
	h, ok := op.(Hidden)
	return ok && h.IsHidden()
}

// Parameter is one named argument of an operator.
type Parameter struct {
	Name  string
	Value any
}

// Base carries the descriptive fields most operators share. Embed it and
// implement Result.
type Base struct {
	Cmd        string
	Name       string
	Categories []string
	Params     []Parameter
}

func (b *Base) Command() string { return b.Cmd }

func (b *Base) Title() string {
	if b.Name == "" {
		return b.Cmd
	}
	return b.Name
}

func (b *Base) CategoryList() []string {
	out := make([]string, len(b.Categories))
	copy(out, b.Categories)
	return out
}

func (b *Base) NumParameters() int { return len(b.Params) }

func (b *Base) Parameter(i int) (Parameter, error) {
	if i < 0 || i >= len(b.Params) {
		return Parameter{}, fmt.Errorf("%w: %d of %d", ErrParameterIndex, i, len(b.Params))
	}
	return b.Params[i], nil
}

func (b *Base) SetParameter(i int, value any) error {
	if i < 0 || i >= len(b.Params) {
		return fmt.Errorf("%w: %d of %d", ErrParameterIndex, i, len(b.Params))
	}
	b.Params[i].Value = value
	return nil
}

// Categories builds a category list rooted at the root and scope categories.
func Categories(scope Scope, path ...string) []string {
	out := make([]string, 0, len(path)+2)
	out = append(out, RootCategory, scope.String())
	return append(out, path...)
}
