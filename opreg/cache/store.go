// Package cache persists a registry snapshot between runs and validates it
// against the live configuration and filesystem before reuse.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/registry"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshot file format (little-endian):
//
//	[magic 'OPSN'] [str schema version] [16B snapshot id] [i64 created]
//	[fingerprint] [data-set records] [records] [byFile] [byCommand]
const (
	magic         = "OPSN"
	SchemaVersion = "1.0.0"
)

// compatibleSchemas accepts any snapshot written by the same major version
// that is not newer than this build understands.
var compatibleSchemas = mustConstraint(">= 1.0.0, <= " + SchemaVersion)

var (
	ErrNoSnapshot          = errors.New("no snapshot")
	ErrBadMagic            = errors.New("not a snapshot file")
	ErrSchemaVersion       = errors.New("unsupported snapshot schema version")
	ErrFingerprintMismatch = errors.New("snapshot fingerprint mismatch")
	ErrStale               = errors.New("snapshot is stale")
)

// Header identifies one written snapshot.
type Header struct {
	Version *semver.Version
	ID      uuid.UUID
	Created time.Time
}

// Snapshot is the decoded content of a snapshot file.
type Snapshot struct {
	Header      Header
	Fingerprint Fingerprint
	DataSet     []*registry.Record
	Records     []*registry.Record
	ByFile      []int
	ByCommand   []int
}

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store for the snapshot at path. An empty path selects
// the per-user default location.
func NewStore(path string, opts ...Option) *Store {
	if path == "" {
		path = internal.DefaultSnapshotFile
	}
	s := &Store{path: path, logger: internal.GetLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Save writes a snapshot of reg. The file is written to a temporary sibling
// and renamed into place. On failure no snapshot remains on disk, so the next
// run starts cold.
func (s *Store) Save(fp Fingerprint, reg *registry.Registry) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.discard()
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		s.discard()
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			s.discard()
		}
	}()

	id := uuid.New()
	e := newEncoder(tmp)
	e.raw([]byte(magic))
	e.str(SchemaVersion)
	e.raw(id[:])
	e.i64(time.Now().UnixNano())
	e.fingerprint(fp)
	e.records(reg.DataSetRecords())
	e.records(reg.Records())
	e.ints(reg.FileIndex())
	e.ints(reg.CommandIndex())
	if err = e.flush(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}

	s.logger.Debug().
		Str("path", s.path).
		Str("id", id.String()).
		Int("records", reg.Len()).
		Int("data_set", reg.NumDataSetOperators()).
		Msg("Snapshot saved")
	return nil
}

// Load decodes the snapshot file without validating it.
func (s *Store) Load() (*Snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	d := newDecoder(f)
	if m := d.raw(len(magic)); d.err != nil || string(m) != magic {
		return nil, ErrBadMagic
	}
	snap := &Snapshot{}
	version, err := semver.StrictNewVersion(d.str())
	if d.err != nil {
		return nil, d.err
	}
	if err != nil || !compatibleSchemas.Check(version) {
		return nil, fmt.Errorf("%w: %v", ErrSchemaVersion, version)
	}
	snap.Header.Version = version
	if id, err := uuid.FromBytes(d.raw(16)); err == nil {
		snap.Header.ID = id
	}
	snap.Header.Created = time.Unix(0, d.i64())
	snap.Fingerprint = d.fingerprint()
	snap.DataSet = d.records()
	snap.Records = d.records()
	snap.ByFile = d.ints()
	snap.ByCommand = d.ints()
	if err := d.end(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore loads the snapshot and accepts it only if fp matches and every
// record passes validate. Any failure deletes the snapshot file, except when
// there was none to begin with.
func (s *Store) Restore(fp Fingerprint, validate Validator, opts ...registry.Option) (*registry.Registry, error) {
	reg, err := s.restore(fp, validate, opts...)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.discard()
		}
		return nil, err
	}
	return reg, nil
}

func (s *Store) restore(fp Fingerprint, validate Validator, opts ...registry.Option) (*registry.Registry, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	if field := snap.Fingerprint.Mismatch(fp); field != "" {
		return nil, fmt.Errorf("%w: %s changed", ErrFingerprintMismatch, field)
	}
	if validate != nil {
		for _, rec := range slices.Concat(snap.Records, snap.DataSet) {
			if err := validate.Validate(rec); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrStale, rec.Locator.Key(), err)
			}
		}
	}
	reg, err := registry.Restore(snap.Records, snap.ByCommand, snap.ByFile, snap.DataSet, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	s.logger.Debug().
		Str("path", s.path).
		Str("id", snap.Header.ID.String()).
		Time("created", snap.Header.Created).
		Int("records", len(snap.Records)).
		Msg("Snapshot restored")
	return reg, nil
}

// Clear deletes the snapshot file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

func (s *Store) discard() {
	if err := s.Clear(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to delete snapshot")
	}
}

func (e *encoder) records(recs []*registry.Record) {
	e.u32(uint32(len(recs)))
	for _, r := range recs {
		e.str(r.Command)
		e.str(r.Title)
		e.strs(r.Categories)
		e.u32(uint32(r.NumArgs))
		e.u8(uint8(r.Locator.Kind))
		e.str(r.Locator.Path)
		e.str(r.Locator.Entry)
		e.str(r.Locator.TypeName)
		e.i64(r.LastModified)
		e.bool(r.Hidden)
		e.bool(r.DataSet)
	}
}

func (d *decoder) records() []*registry.Record {
	n := d.count()
	out := make([]*registry.Record, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		r := &registry.Record{}
		r.Command = d.str()
		r.Title = d.str()
		r.Categories = d.strs()
		r.NumArgs = int(d.u32())
		r.Locator.Kind = artifact.Kind(d.u8())
		r.Locator.Path = d.str()
		r.Locator.Entry = d.str()
		r.Locator.TypeName = d.str()
		r.LastModified = d.i64()
		r.Hidden = d.bool()
		r.DataSet = d.bool()
		out = append(out, r)
	}
	return out
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}
