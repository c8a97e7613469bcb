package registry

import (
	"sync"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"
)

// Record is one discovered operator. Everything except the instance is
// fixed once the record is added.
type Record struct {
	Command    string
	Title      string
	Categories []string
	NumArgs    int
	Locator    artifact.Locator
	// LastModified is the artifact's mtime, or its archive's, in unix
	// nanoseconds as observed at scan time.
	LastModified int64
	Hidden       bool
	DataSet      bool

	mu       sync.Mutex
	instance operator.Operator
}

// NewRecord describes op. Compiled operators keep op as their instance;
// script operators start without one and are materialized on first use.
func NewRecord(op operator.Operator, loc artifact.Locator, modTime int64) *Record {
	rec := &Record{
		Command:      op.Command(),
		Title:        op.Title(),
		Categories:   op.CategoryList(),
		NumArgs:      op.NumParameters(),
		Locator:      loc,
		LastModified: modTime,
		Hidden:       operator.IsHidden(op),
		DataSet:      operator.ScopeOf(op) == operator.ScopeDataSet,
	}
	if rec.Title == "" {
		rec.Title = rec.Command
	}
	if !loc.Kind.IsScript() {
		rec.instance = op
	}
	return rec
}

// CategoryPath returns the categories below the two root entries.
func (r *Record) CategoryPath() []string {
	if len(r.Categories) <= 2 {
		return nil
	}
	return r.Categories[2:]
}

// Materialized reports whether the record currently holds an instance.
func (r *Record) Materialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instance != nil
}

// Drop releases the cached instance; the next access rebuilds it.
func (r *Record) Drop() {
	r.mu.Lock()
	r.instance = nil
	r.mu.Unlock()
}

// clone copies the descriptive fields without the instance.
func (r *Record) clone() *Record {
	c := &Record{
		Command:      r.Command,
		Title:        r.Title,
		Categories:   append([]string(nil), r.Categories...),
		NumArgs:      r.NumArgs,
		Locator:      r.Locator,
		LastModified: r.LastModified,
		Hidden:       r.Hidden,
		DataSet:      r.DataSet,
	}
	return c
}
