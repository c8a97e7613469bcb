// Package service is the consumer-facing handle on the operator registry. It
// restores the cached registry or scans the configured roots on first use and
// answers lookups from the result.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/cache"
	"github.com/ZanzyTHEbar/operator-registry/opreg/config"
	"github.com/ZanzyTHEbar/operator-registry/opreg/loader"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"
	"github.com/ZanzyTHEbar/operator-registry/opreg/registry"
	"github.com/ZanzyTHEbar/operator-registry/opreg/scanner"

	"github.com/rs/zerolog"
)

// ShowMode selects the order of Show's listing.
type ShowMode int

const (
	ShowByCommand ShowMode = iota
	ShowByFile
)

// Info describes an operator without instantiating it.
type Info struct {
	Command    string
	Title      string
	Categories []string
	NumArgs    int
	Locator    artifact.Locator
	Hidden     bool
	DataSet    bool
}

// Service owns one registry. Create it with New and share the handle.
type Service struct {
	cfg        config.RegistryConfig
	types      *operator.TypeRegistry
	store      *cache.Store
	useCache   bool
	buildStamp int64
	noInterp   bool
	logger     zerolog.Logger

	loader  *loader.Loader
	scanner *scanner.Scanner

	mu       sync.Mutex
	done     bool
	reg      *registry.Registry
	roots    []scanner.Root
	restored bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger passed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTypes sets the registry compiled operators resolve against.
func WithTypes(types *operator.TypeRegistry) Option {
	return func(s *Service) { s.types = types }
}

// WithStore overrides the snapshot store derived from the configuration.
func WithStore(store *cache.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithoutCache always scans and never writes a snapshot.
func WithoutCache() Option {
	return func(s *Service) { s.useCache = false }
}

// WithBuildStamp overrides the build timestamp recorded in the fingerprint.
func WithBuildStamp(stamp int64) Option {
	return func(s *Service) { s.buildStamp = stamp }
}

// WithoutInterpreter disables Lua script operators.
func WithoutInterpreter() Option {
	return func(s *Service) { s.noInterp = true }
}

// New creates a service for cfg. Nothing is scanned until first use.
func New(cfg config.RegistryConfig, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		types:      operator.DefaultTypes(),
		useCache:   true,
		buildStamp: cfg.BuildStamp,
		logger:     internal.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.buildStamp == 0 {
		s.buildStamp = internal.BuildStamp()
	}
	if s.store == nil {
		s.store = cache.NewStore(cfg.CacheFile, cache.WithLogger(s.logger))
	}

	loaderOpts := []loader.Option{
		loader.WithTypes(s.types),
		loader.WithClassPath(cfg.EffectiveClassPath()),
		loader.WithLogger(s.logger),
		loader.WithDebug(cfg.LoadDebug),
	}
	if s.noInterp {
		loaderOpts = append(loaderOpts, loader.WithoutInterpreter())
	}
	s.loader = loader.New(loaderOpts...)

	workers := cfg.Workers
	if workers <= 0 {
		workers = internal.DefaultWorkers
	}
	s.scanner = scanner.New(
		scanner.WithWorkers(workers),
		scanner.WithIgnoreFile(cfg.IgnoreFile),
		scanner.WithLogger(s.logger),
	)
	return s
}

// Init restores or builds the registry if that has not happened yet. Every
// other method calls it implicitly; concurrent callers block until the first
// one finishes.
func (s *Service) Init(ctx context.Context) error {
	_, err := s.registry(ctx)
	return err
}

func (s *Service) registry(ctx context.Context) (*registry.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.reg, nil
	}
	if err := s.initLocked(ctx); err != nil {
		return nil, err
	}
	s.done = true
	return s.reg, nil
}

func (s *Service) initLocked(ctx context.Context) error {
	start := time.Now()
	s.roots = s.resolveRoots()
	fp := cache.FingerprintOf(s.cfg, s.buildStamp)

	if s.useCache {
		reg, err := s.store.Restore(fp, cache.LiveValidator{Materializer: s.loader}, s.registryOptions()...)
		switch {
		case err == nil:
			s.reg, s.restored = reg, true
			s.logger.Info().
				Int("operators", reg.Len()).
				Int("data_set_operators", reg.NumDataSetOperators()).
				Dur("elapsed", time.Since(start)).
				Msg("Operator registry restored from cache")
			return nil
		case errors.Is(err, cache.ErrNoSnapshot):
			s.logger.Debug().Str("path", s.store.Path()).Msg("No operator cache")
		default:
			s.logger.Info().Err(err).Str("path", s.store.Path()).Msg("Discarding operator cache")
		}
	}

	reg, err := s.populate(ctx, s.roots)
	if err != nil {
		return err
	}
	s.reg, s.restored = reg, false
	s.logger.Info().
		Int("roots", len(s.roots)).
		Int("operators", reg.Len()).
		Int("data_set_operators", reg.NumDataSetOperators()).
		Dur("elapsed", time.Since(start)).
		Msg("Operator registry built")

	if s.useCache {
		if err := s.store.Save(fp, reg); err != nil {
			s.logger.Warn().Err(err).Str("path", s.store.Path()).Msg("Failed to save operator cache")
		}
	}
	return nil
}

// resolveRoots lists the install's own operator locations followed by the
// configured homes, without duplicates.
func (s *Service) resolveRoots() []scanner.Root {
	roots := scanner.ResolveInstallRoots(s.cfg.InstallDir)
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		seen[r.Path] = true
	}
	for _, r := range scanner.ResolveRoots(scanner.RootConfigFrom(s.cfg)) {
		if !seen[r.Path] {
			seen[r.Path] = true
			roots = append(roots, r)
		}
	}
	return roots
}

func (s *Service) registryOptions() []registry.Option {
	return []registry.Option{
		registry.WithMaterializer(s.loader),
		registry.WithReload(s.cfg.ReloadScripts),
		registry.WithLogger(s.logger),
	}
}

// populate scans roots and loads every candidate. An artifact already
// registered under the same key is processed once. Data-set operators go to
// the separate data-set table.
func (s *Service) populate(ctx context.Context, roots []scanner.Root) (*registry.Registry, error) {
	artifacts := s.scanner.Scan(ctx, roots)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}

	reg := registry.New(s.registryOptions()...)
	var dataSet []*registry.Record
	seenDataSet := make(map[string]bool)
	for _, a := range artifacts {
		key := a.Key()
		if seenDataSet[key] || reg.ContainsFile(key) {
			s.logger.Debug().Str("artifact", key).Msg("Skipping duplicate artifact")
			continue
		}
		loaded, ok := s.loader.Load(a)
		if !ok {
			continue
		}
		rec := registry.NewRecord(loaded.Operator, loaded.Locator, a.ModTime)
		if rec.DataSet {
			seenDataSet[key] = true
			dataSet = append(dataSet, rec)
			continue
		}
		if _, err := reg.Add(rec); err != nil {
			s.logger.Debug().Err(err).Str("artifact", key).Msg("Rejected operator record")
		}
	}
	if err := reg.SetDataSetOperators(dataSet); err != nil {
		return nil, err
	}
	return reg, nil
}

// Rehash discards the registry and the cache and rebuilds from a fresh scan.
func (s *Service) Rehash(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear operator cache")
	}
	s.done, s.reg, s.restored = false, nil, false
	if err := s.initLocked(ctx); err != nil {
		return err
	}
	s.done = true
	return nil
}

// ClearCache deletes the snapshot file. The in-memory registry is kept.
func (s *Service) ClearCache() error {
	return s.store.Clear()
}

// Restored reports whether the registry came from the cache.
func (s *Service) Restored() bool {
	if s.ensure() == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// Roots returns the scan roots in effect.
func (s *Service) Roots() []scanner.Root {
	if s.ensure() == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scanner.Root(nil), s.roots...)
}

// Registry returns the underlying registry, initializing it if needed.
func (s *Service) Registry(ctx context.Context) (*registry.Registry, error) {
	return s.registry(ctx)
}

// ensure initializes without a deadline. Failures are logged and yield nil.
func (s *Service) ensure() *registry.Registry {
	reg, err := s.registry(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Operator registry initialization failed")
		return nil
	}
	return reg
}

// Count returns the number of operators in the main list.
func (s *Service) Count() int {
	if reg := s.ensure(); reg != nil {
		return reg.Len()
	}
	return 0
}

// Operator returns the operator at position i in command order.
func (s *Service) Operator(i int) (operator.Operator, error) {
	reg := s.ensure()
	if reg == nil {
		return nil, registry.ErrIndexRange
	}
	return reg.Operator(i)
}

// Command returns the command of operator i, or "" when i is out of range.
func (s *Service) Command(i int) string {
	info, err := s.Info(i)
	if err != nil {
		return ""
	}
	return info.Command
}

// NumParameters returns the parameter count of operator i, or 0.
func (s *Service) NumParameters(i int) int {
	info, err := s.Info(i)
	if err != nil {
		return 0
	}
	return info.NumArgs
}

// Parameter returns the value of parameter p of operator i.
func (s *Service) Parameter(i, p int) (any, error) {
	op, err := s.Operator(i)
	if err != nil {
		return nil, err
	}
	param, err := op.Parameter(p)
	if err != nil {
		return nil, err
	}
	return param.Value, nil
}

// Info returns the recorded description of operator i.
func (s *Service) Info(i int) (Info, error) {
	reg := s.ensure()
	if reg == nil {
		return Info{}, registry.ErrIndexRange
	}
	rec, err := reg.At(i)
	if err != nil {
		return Info{}, err
	}
	return infoOf(rec), nil
}

func infoOf(rec *registry.Record) Info {
	return Info{
		Command:    rec.Command,
		Title:      rec.Title,
		Categories: append([]string(nil), rec.Categories...),
		NumArgs:    rec.NumArgs,
		Locator:    rec.Locator,
		Hidden:     rec.Hidden,
		DataSet:    rec.DataSet,
	}
}

// FindFirstByCommand returns the position of the first-found operator named
// name, or -1.
func (s *Service) FindFirstByCommand(name string) int {
	if reg := s.ensure(); reg != nil {
		return reg.FirstByCommand(name)
	}
	return -1
}

// FindByCommandArgs returns the position of the first-found operator named
// name that takes nargs parameters, or -1.
func (s *Service) FindByCommandArgs(name string, nargs int) int {
	if reg := s.ensure(); reg != nil {
		return reg.FirstByCommandArgs(name, nargs)
	}
	return -1
}

// OperatorByCommand returns the first-found operator named name.
func (s *Service) OperatorByCommand(name string) (operator.Operator, error) {
	i := s.FindFirstByCommand(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return s.Operator(i)
}

// ErrUnknownCommand is returned when no operator has the requested command.
var ErrUnknownCommand = errors.New("no operator with command")

// ByCategory returns the positions of operators filed below prefix.
func (s *Service) ByCategory(prefix string) []int {
	if reg := s.ensure(); reg != nil {
		return reg.ByCategory(prefix)
	}
	return nil
}

// Categories lists the category paths in use.
func (s *Service) Categories() []string {
	if reg := s.ensure(); reg != nil {
		return reg.Categories()
	}
	return nil
}

// Visible returns the positions of operators that are not hidden.
func (s *Service) Visible() []int {
	if reg := s.ensure(); reg != nil {
		return reg.Visible()
	}
	return nil
}

// OfKind returns the positions of operators loaded from the given kinds.
func (s *Service) OfKind(kinds ...artifact.Kind) []int {
	if reg := s.ensure(); reg != nil {
		return reg.OfKind(kinds...)
	}
	return nil
}

// NumDataSetOperators returns the size of the data-set table.
func (s *Service) NumDataSetOperators() int {
	if reg := s.ensure(); reg != nil {
		return reg.NumDataSetOperators()
	}
	return 0
}

// DataSetOperator returns the i-th data-set operator, in command order.
func (s *Service) DataSetOperator(i int) (operator.Operator, error) {
	reg := s.ensure()
	if reg == nil {
		return nil, registry.ErrIndexRange
	}
	return reg.DataSetOperator(i)
}

// DataSetInfo returns the recorded description of data-set operator i.
func (s *Service) DataSetInfo(i int) (Info, error) {
	reg := s.ensure()
	if reg == nil {
		return Info{}, registry.ErrIndexRange
	}
	recs := reg.DataSetRecords()
	if i < 0 || i >= len(recs) {
		return Info{}, fmt.Errorf("%w: %d of %d", registry.ErrIndexRange, i, len(recs))
	}
	return infoOf(recs[i]), nil
}

// Show writes one line per operator to w. Script operators include their file.
func (s *Service) Show(w io.Writer, mode ShowMode) error {
	reg := s.ensure()
	if reg == nil {
		return nil
	}
	for _, line := range reg.Show(mode == ShowByFile) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
