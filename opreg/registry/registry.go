// Package registry holds the discovered operators and the sorted indices used
// to look them up by command and by file.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"

	"github.com/rs/zerolog"
)

var (
	ErrIndexRange    = errors.New("operator index out of range")
	ErrDataSetSealed = errors.New("data-set operators already set")
	ErrNotMaterial   = errors.New("operator could not be materialized")
	ErrEmptyCommand  = errors.New("record has an empty command")
)

// Materializer rebuilds an operator from where it was found.
type Materializer interface {
	Materialize(loc artifact.Locator, dataSet bool) (operator.Operator, bool)
}

// Registry is the set of discovered operators. Records are kept in insertion
// order; byCommand and byFile are permutations of record positions kept
// sorted on every insert.
//
// Positions passed to At, Operator and the other accessors are positions in
// command order, which is what consumers list and iterate.
type Registry struct {
	mu        sync.RWMutex
	records   []*Record
	byCommand []int
	byFile    []int

	dataSet       []*Record
	dataSetSealed bool

	categories *CategoryIndex
	attrs      *AttributeBitmaps

	materializer Materializer
	reload       bool
	logger       zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaterializer sets how missing instances are rebuilt.
func WithMaterializer(m Materializer) Option {
	return func(r *Registry) { r.materializer = m }
}

// WithReload makes every Operator call re-parse script operators so callers
// get fresh parameter state. Compiled instances are always reused.
func WithReload(reload bool) Option {
	return func(r *Registry) { r.reload = reload }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		categories: NewCategoryIndex(),
		attrs:      NewAttributeBitmaps(),
		logger:     internal.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add appends rec and inserts its position into both indices. It returns the
// record's insertion position.
func (r *Registry) Add(rec *Record) (int, error) {
	if rec == nil || rec.Command == "" {
		return -1, ErrEmptyCommand
	}
	if rec.Title == "" {
		rec.Title = rec.Command
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := len(r.records)
	r.records = append(r.records, rec)

	pos := r.find(rec.Command, r.byCommand, r.commandKey, true)
	r.byCommand = insertAt(r.byCommand, pos, i)

	pos = r.find(rec.Locator.Key(), r.byFile, r.fileKey, true)
	r.byFile = insertAt(r.byFile, pos, i)

	r.categories.Insert(rec.CategoryPath(), i)
	r.attrs.Add(i, rec)
	return i, nil
}

// find is a binary search over index by key. With upper false it returns
// the first position whose key is >= key; with upper true the first whose
// key is > key, so equal keys keep insertion order.
func (r *Registry) find(key string, index []int, keyOf func(int) string, upper bool) int {
	return sort.Search(len(index), func(p int) bool {
		k := keyOf(index[p])
		if upper {
			return k > key
		}
		return k >= key
	})
}

func (r *Registry) commandKey(i int) string { return r.records[i].Command }

func (r *Registry) fileKey(i int) string { return r.records[i].Locator.Key() }

func insertAt(index []int, pos, v int) []int {
	index = append(index, 0)
	copy(index[pos+1:], index[pos:])
	index[pos] = v
	return index
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Records returns the records in insertion order.
func (r *Registry) Records() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Record(nil), r.records...)
}

// CommandIndex returns a copy of the command-sorted permutation.
func (r *Registry) CommandIndex() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.byCommand...)
}

// FileIndex returns a copy of the file-sorted permutation.
func (r *Registry) FileIndex() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.byFile...)
}

// At returns the record at position pos in command order.
func (r *Registry) At(pos int) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pos < 0 || pos >= len(r.byCommand) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, pos, len(r.byCommand))
	}
	return r.records[r.byCommand[pos]], nil
}

// ContainsFile reports whether an artifact with the given locator key is
// already registered.
func (r *Registry) ContainsFile(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos := r.find(key, r.byFile, r.fileKey, false)
	return pos < len(r.byFile) && r.fileKey(r.byFile[pos]) == key
}

// FirstByCommand returns the command-order position of the first-inserted
// record named name, or -1.
func (r *Registry) FirstByCommand(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos := r.find(name, r.byCommand, r.commandKey, false)
	if pos >= len(r.byCommand) || r.commandKey(r.byCommand[pos]) != name {
		return -1
	}
	for pos > 0 && r.commandKey(r.byCommand[pos-1]) == name {
		pos--
	}
	return pos
}

// FirstByCommandArgs is FirstByCommand restricted to records taking nargs
// arguments. A negative nargs matches any count.
func (r *Registry) FirstByCommandArgs(name string, nargs int) int {
	first := r.FirstByCommand(name)
	if first < 0 || nargs < 0 {
		return first
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pos := first; pos < len(r.byCommand); pos++ {
		rec := r.records[r.byCommand[pos]]
		if rec.Command != name {
			break
		}
		if rec.NumArgs == nargs {
			return pos
		}
	}
	return -1
}

// Operator returns the operator at command-order position pos, materializing
// it if needed. In reload mode script operators are rebuilt on every call.
func (r *Registry) Operator(pos int) (operator.Operator, error) {
	rec, err := r.At(pos)
	if err != nil {
		return nil, err
	}
	return r.instance(rec)
}

func (r *Registry) instance(rec *Record) (operator.Operator, error) {
	if r.reload && rec.Locator.Kind.IsScript() {
		return r.materialize(rec)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.instance != nil {
		return rec.instance, nil
	}
	op, err := r.materialize(rec)
	if err != nil {
		return nil, err
	}
	rec.instance = op
	return op, nil
}

func (r *Registry) materialize(rec *Record) (operator.Operator, error) {
	if r.materializer == nil {
		return nil, fmt.Errorf("%w: %s: no materializer", ErrNotMaterial, rec.Locator)
	}
	op, ok := r.materializer.Materialize(rec.Locator, rec.DataSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMaterial, rec.Locator)
	}
	return op, nil
}

// SetDataSetOperators installs the data-set table, sorted by command. It can
// only be called once.
func (r *Registry) SetDataSetOperators(recs []*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dataSetSealed {
		return ErrDataSetSealed
	}
	table := append([]*Record(nil), recs...)
	sort.SliceStable(table, func(a, b int) bool { return table[a].Command < table[b].Command })
	r.dataSet = table
	r.dataSetSealed = true
	return nil
}

// DataSetRecords returns the data-set table.
func (r *Registry) DataSetRecords() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Record(nil), r.dataSet...)
}

// NumDataSetOperators returns the size of the data-set table.
func (r *Registry) NumDataSetOperators() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dataSet)
}

// DataSetOperator returns the i-th data-set operator.
func (r *Registry) DataSetOperator(i int) (operator.Operator, error) {
	r.mu.RLock()
	if i < 0 || i >= len(r.dataSet) {
		n := len(r.dataSet)
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, n)
	}
	rec := r.dataSet[i]
	r.mu.RUnlock()
	return r.instance(rec)
}

// ByCategory returns the command-order positions of records whose category
// path starts with prefix, a slash-separated path below the root categories.
func (r *Registry) ByCategory(prefix string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toCommandOrder(r.categories.Prefix(prefix))
}

// Categories returns every category path below the root categories.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.categories.Paths()
}

// Visible returns the command-order positions of records that are not hidden.
func (r *Registry) Visible() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toCommandOrder(r.attrs.Visible(len(r.records)))
}

// OfKind returns the command-order positions of records of the given kinds.
func (r *Registry) OfKind(kinds ...artifact.Kind) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toCommandOrder(r.attrs.OrKinds(kinds...))
}

// toCommandOrder maps record positions to sorted command-order positions.
// Called with mu held.
func (r *Registry) toCommandOrder(recs []uint32) []int {
	if len(recs) == 0 {
		return nil
	}
	want := make(map[int]bool, len(recs))
	for _, i := range recs {
		want[int(i)] = true
	}
	out := make([]int, 0, len(recs))
	for pos, i := range r.byCommand {
		if want[i] {
			out = append(out, pos)
		}
	}
	return out
}

// Verify checks that both indices are permutations of the records sorted by
// their keys and that the derived indices agree with the records.
func (r *Registry) Verify() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	n := len(r.records)
	check := func(name string, index []int, keyOf func(int) string) {
		if len(index) != n {
			errs = append(errs, fmt.Errorf("%s_length_mismatch: %d entries for %d records", name, len(index), n))
			return
		}
		seen := make([]bool, n)
		for p, i := range index {
			if i < 0 || i >= n || seen[i] {
				errs = append(errs, fmt.Errorf("%s_not_permutation: position %d holds %d", name, p, i))
				return
			}
			seen[i] = true
			if p == 0 {
				continue
			}
			prev, cur := keyOf(index[p-1]), keyOf(i)
			if prev > cur || (prev == cur && index[p-1] > i) {
				errs = append(errs, fmt.Errorf("%s_unsorted: %q before %q at %d", name, prev, cur, p))
			}
		}
	}
	check("by_command", r.byCommand, r.commandKey)
	check("by_file", r.byFile, r.fileKey)

	for p := 1; p < len(r.dataSet); p++ {
		if r.dataSet[p-1].Command > r.dataSet[p].Command {
			errs = append(errs, fmt.Errorf("data_set_unsorted: %q before %q", r.dataSet[p-1].Command, r.dataSet[p].Command))
		}
	}
	if c := r.categories.Len(); c != n {
		errs = append(errs, fmt.Errorf("category_count_mismatch: %d indexed for %d records", c, n))
	}
	for i, rec := range r.records {
		if rec.Command == "" || rec.Title == "" {
			errs = append(errs, fmt.Errorf("empty_name: record %d", i))
		}
	}

	if len(errs) > 0 {
		r.logger.Warn().Int("error_count", len(errs)).Msg("Registry validation found issues")
	} else {
		r.logger.Debug().Int("records", n).Msg("Registry validation passed")
	}
	return errs
}

// Show writes one line per operator, in command order or file order.
func (r *Registry) Show(byFile bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index := r.byCommand
	if byFile {
		index = r.byFile
	}
	lines := make([]string, 0, len(index))
	for _, i := range index {
		rec := r.records[i]
		var b strings.Builder
		b.WriteString(rec.Command)
		if rec.Locator.Kind.IsScript() {
			b.WriteString("  File=")
			b.WriteString(rec.Locator.Key())
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Restore rebuilds a registry from persisted records, indices and data-set
// table, checking the indices before accepting them. Records are cloned
// without instances.
func Restore(records []*Record, byCommand, byFile []int, dataSet []*Record, opts ...Option) (*Registry, error) {
	r := New(opts...)
	for i, rec := range records {
		c := rec.clone()
		r.records = append(r.records, c)
		r.categories.Insert(c.CategoryPath(), i)
		r.attrs.Add(i, c)
	}
	r.byCommand = append([]int(nil), byCommand...)
	r.byFile = append([]int(nil), byFile...)
	if errs := r.Verify(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	table := make([]*Record, 0, len(dataSet))
	for _, rec := range dataSet {
		table = append(table, rec.clone())
	}
	if err := r.SetDataSetOperators(table); err != nil {
		return nil, err
	}
	return r, nil
}
