// Package loader turns artifact candidates into live operators. Each artifact
// kind has its own strategy; a failure of any kind means "not an operator"
// and never escapes the package as an error.
package loader

import (
	"errors"
	"fmt"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"

	"github.com/rs/zerolog"
)

// Rejection reasons. Strategies wrap these so debug traces say why a
// candidate was skipped.
var (
	ErrNoStrategy     = errors.New("no loader for artifact kind")
	ErrNotInClassPath = errors.New("artifact is not under any class path entry")
	ErrTypeNotFound   = errors.New("no registered type for artifact")
	ErrNotConcrete    = errors.New("type is abstract or an interface")
	ErrNotOperator    = errors.New("type is neither an operator nor wrappable")
	ErrWrongScope     = errors.New("operator scope does not match artifact")
	ErrParse          = errors.New("script has parse errors")
	ErrNotInstallable = errors.New("script is not an installable operator")
	ErrInvalidOp      = errors.New("operator reports an empty command")
)

// Strategy loads one artifact kind. The returned locator may be enriched,
// for example with the resolved type name of a compiled operator.
type Strategy interface {
	Load(a artifact.Artifact) (operator.Operator, artifact.Locator, error)
}

// Loaded is an accepted artifact.
type Loaded struct {
	Operator operator.Operator
	Locator  artifact.Locator
}

// Loader dispatches artifacts to the strategy registered for their kind.
type Loader struct {
	strategies map[artifact.Kind]Strategy
	logger     zerolog.Logger
	debug      bool

	types       *operator.TypeRegistry
	classPath   []string
	interpreter bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithTypes sets the registry compiled artifacts are resolved against.
func WithTypes(types *operator.TypeRegistry) Option {
	return func(l *Loader) { l.types = types }
}

// WithClassPath sets the roots stripped from compiled artifact paths.
func WithClassPath(paths []string) Option {
	return func(l *Loader) { l.classPath = paths }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithDebug logs every rejection at info level instead of debug.
func WithDebug(debug bool) Option {
	return func(l *Loader) { l.debug = debug }
}

// WithoutInterpreter disables the Lua backend; interpreted artifacts are
// then rejected.
func WithoutInterpreter() Option {
	return func(l *Loader) { l.interpreter = false }
}

// WithStrategy overrides the strategy for kind.
func WithStrategy(kind artifact.Kind, s Strategy) Option {
	return func(l *Loader) { l.strategies[kind] = s }
}

// New creates a Loader with the compiled, declarative and interpreted
// strategies installed.
func New(opts ...Option) *Loader {
	l := &Loader{
		strategies:  make(map[artifact.Kind]Strategy),
		logger:      internal.GetLogger(),
		types:       operator.DefaultTypes(),
		interpreter: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if _, ok := l.strategies[artifact.KindCompiled]; !ok {
		l.strategies[artifact.KindCompiled] = NewCompiled(l.types, l.classPath)
	}
	if _, ok := l.strategies[artifact.KindDeclarative]; !ok {
		l.strategies[artifact.KindDeclarative] = NewDeclarative()
	}
	if _, ok := l.strategies[artifact.KindInterpreted]; !ok && l.interpreter {
		l.strategies[artifact.KindInterpreted] = NewInterpreted()
	}
	return l
}

// Load attempts to produce an operator for a. The boolean is false when the
// artifact does not qualify, for whatever reason.
func (l *Loader) Load(a artifact.Artifact) (Loaded, bool) {
	res, err := l.load(a)
	if err != nil {
		ev := l.logger.Debug()
		if l.debug {
			ev = l.logger.Info()
		}
		ev.Err(err).Str("artifact", a.Key()).Str("kind", a.Kind.String()).Msg("Not an operator")
		return Loaded{}, false
	}
	if l.debug {
		l.logger.Info().Str("artifact", a.Key()).Str("command", res.Operator.Command()).Msg("Operator loaded")
	}
	return res, true
}

// Materialize rebuilds the operator a locator was recorded from.
func (l *Loader) Materialize(loc artifact.Locator, dataSet bool) (operator.Operator, bool) {
	res, ok := l.Load(artifact.Artifact{Locator: loc, DataSet: dataSet})
	return res.Operator, ok
}

func (l *Loader) load(a artifact.Artifact) (res Loaded, err error) {
	s, ok := l.strategies[a.Kind]
	if !ok {
		return Loaded{}, fmt.Errorf("%w: %s", ErrNoStrategy, a.Kind)
	}
	// Factories and interpreters run foreign code; a panic is a rejection.
	defer func() {
		if r := recover(); r != nil {
			res, err = Loaded{}, fmt.Errorf("loader panic: %v", r)
		}
	}()
	op, loc, err := s.Load(a)
	if err != nil {
		return Loaded{}, err
	}
	if op == nil || op.Command() == "" {
		return Loaded{}, ErrInvalidOp
	}
	return Loaded{Operator: op, Locator: loc}, nil
}
