// Package scanner resolves scan roots and enumerates the operator artifacts
// under them. It classifies files but never instantiates anything.
package scanner

import (
	"archive/zip"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/iter"
)

// Archive entry prefixes compiled operators must live under.
const (
	OperatorPrefix        = "Operators/"
	InstallGenericPrefix  = "DataSetTools/operator/Generic/"
	InstallDataSetPrefix  = "DataSetTools/operator/DataSet/"
	maxWorkersUpperBound  = 32
	defaultWorkerPoolSize = 4
)

// Stats tracks scan counters.
type Stats struct {
	Roots       int64
	Dirs        int64
	Archives    int64
	Candidates  int64
	Ignored     int64
	Errors      int64
	StartedAt   time.Time
	CompletedAt time.Time
}

// Scanner walks scan roots and yields artifact candidates.
type Scanner struct {
	maxWorkers int
	ignoreFile string
	logger     zerolog.Logger
	stats      Stats
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers bounds the number of roots scanned concurrently.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxWorkers = min(n, maxWorkersUpperBound)
		}
	}
}

// WithIgnoreFile sets the gitignore-style file consulted at each root.
// An empty name disables ignore handling.
func WithIgnoreFile(name string) Option {
	return func(s *Scanner) { s.ignoreFile = name }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		maxWorkers: defaultWorkerPoolSize,
		ignoreFile: internal.DefaultIgnoreFile,
		logger:     internal.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns a copy of the counters of the last Scan.
func (s *Scanner) Stats() Stats {
	return Stats{
		Roots:       atomic.LoadInt64(&s.stats.Roots),
		Dirs:        atomic.LoadInt64(&s.stats.Dirs),
		Archives:    atomic.LoadInt64(&s.stats.Archives),
		Candidates:  atomic.LoadInt64(&s.stats.Candidates),
		Ignored:     atomic.LoadInt64(&s.stats.Ignored),
		Errors:      atomic.LoadInt64(&s.stats.Errors),
		StartedAt:   s.stats.StartedAt,
		CompletedAt: s.stats.CompletedAt,
	}
}

// Scan enumerates the candidates of every root. Roots are walked
// concurrently, but the result keeps root order and, within a root, lexical
// depth-first order, so repeated scans of an unchanged tree agree.
func (s *Scanner) Scan(ctx context.Context, roots []Root) []artifact.Artifact {
	s.stats = Stats{StartedAt: time.Now()}

	mapper := iter.Mapper[Root, []artifact.Artifact]{MaxGoroutines: s.maxWorkers}
	perRoot := mapper.Map(roots, func(r *Root) []artifact.Artifact {
		atomic.AddInt64(&s.stats.Roots, 1)
		return s.ScanRoot(ctx, *r)
	})

	var out []artifact.Artifact
	for _, batch := range perRoot {
		out = append(out, batch...)
	}

	s.stats.CompletedAt = time.Now()
	s.logger.Debug().
		Int64("roots", s.stats.Roots).
		Int64("dirs", s.stats.Dirs).
		Int64("archives", s.stats.Archives).
		Int64("candidates", s.stats.Candidates).
		Int64("ignored", s.stats.Ignored).
		Int64("errors", s.stats.Errors).
		Dur("elapsed", s.stats.CompletedAt.Sub(s.stats.StartedAt)).
		Msg("Scan completed")
	return out
}

// ScanRoot enumerates a single root.
func (s *Scanner) ScanRoot(ctx context.Context, root Root) []artifact.Artifact {
	if root.Archive {
		return s.scanArchive(root.Path, root.Install, root.DataSet)
	}
	var ignored *ignore.GitIgnore
	if s.ignoreFile != "" {
		ignorePath := filepath.Join(root.Path, s.ignoreFile)
		if _, err := os.Stat(ignorePath); err == nil {
			ignored, err = ignore.CompileIgnoreFile(ignorePath)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", ignorePath).Msg("Failed to compile ignore file")
				ignored = nil
			}
		}
	}
	var out []artifact.Artifact
	s.walkDir(ctx, root, root.Path, ignored, make(map[string]bool), &out)
	return out
}

// walkDir follows symbolic links. Each resolved directory is listed at most
// once per root, which also breaks link cycles.
func (s *Scanner) walkDir(ctx context.Context, root Root, dir string, ignored *ignore.GitIgnore, seen map[string]bool, out *[]artifact.Artifact) {
	if ctx.Err() != nil {
		return
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		if seen[resolved] {
			s.logger.Debug().Str("path", dir).Str("target", resolved).Msg("Directory already scanned, skipping")
			return
		}
		seen[resolved] = true
	}
	atomic.AddInt64(&s.stats.Dirs, 1)

	// os.ReadDir returns entries sorted by file name.
	entries, err := os.ReadDir(dir)
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		s.logger.Warn().Err(err).Str("path", dir).Msg("Failed to list directory, skipping subtree")
		return
	}

	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())
		isDir := entry.IsDir()
		var info fs.FileInfo
		if entry.Type()&fs.ModeSymlink != 0 {
			if info, err = os.Stat(childPath); err != nil {
				s.logger.Debug().Err(err).Str("path", childPath).Msg("Skipping dangling link")
				continue
			}
			isDir = info.IsDir()
		}

		if ignored != nil && s.isIgnored(ignored, root.Path, childPath, isDir) {
			atomic.AddInt64(&s.stats.Ignored, 1)
			s.logger.Debug().Str("path", childPath).Msg("Ignoring path")
			continue
		}

		if isDir {
			s.walkDir(ctx, root, childPath, ignored, seen, out)
			continue
		}

		kind := artifact.Classify(entry.Name())
		if kind == artifact.KindUnknown {
			continue
		}
		if info == nil {
			if info, err = entry.Info(); err != nil {
				atomic.AddInt64(&s.stats.Errors, 1)
				s.logger.Warn().Err(err).Str("path", childPath).Msg("Failed to stat candidate")
				continue
			}
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if kind == artifact.KindArchive {
			*out = append(*out, s.scanArchive(childPath, false, root.DataSet)...)
			continue
		}
		atomic.AddInt64(&s.stats.Candidates, 1)
		*out = append(*out, artifact.Artifact{
			Locator: artifact.Locator{Kind: kind, Path: childPath},
			DataSet: root.DataSet,
			ModTime: info.ModTime().UnixNano(),
		})
	}
}

func (s *Scanner) isIgnored(ignored *ignore.GitIgnore, rootPath, p string, isDir bool) bool {
	rel, err := filepath.Rel(rootPath, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if ignored.MatchesPath(rel) {
		return true
	}
	return isDir && ignored.MatchesPath(rel+"/")
}

// scanArchive lists the qualifying entries of a zip-format archive. Compiled
// entries must sit under the operator package prefix; scripts may live
// anywhere. Nested archives are not opened.
func (s *Scanner) scanArchive(archivePath string, install, dataSet bool) []artifact.Artifact {
	atomic.AddInt64(&s.stats.Archives, 1)

	info, err := os.Stat(archivePath)
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to stat archive")
		return nil
	}
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to open archive, skipping")
		return nil
	}
	defer zr.Close()

	modTime := info.ModTime().UnixNano()
	var out []artifact.Artifact
	for _, f := range zr.File {
		name := strings.TrimPrefix(path.Clean(strings.ReplaceAll(f.Name, "\\", "/")), "/")
		if f.FileInfo().IsDir() {
			continue
		}
		kind := artifact.Classify(name)
		switch kind {
		case artifact.KindUnknown, artifact.KindArchive:
			continue
		}

		entryDataSet := dataSet
		if kind == artifact.KindCompiled {
			var ok bool
			ok, entryDataSet = compiledEntryQualifies(name, install, dataSet)
			if !ok {
				continue
			}
		}

		atomic.AddInt64(&s.stats.Candidates, 1)
		out = append(out, artifact.Artifact{
			Locator: artifact.Locator{Kind: kind, Path: archivePath, Entry: name},
			DataSet: entryDataSet,
			ModTime: modTime,
		})
	}
	return out
}

// compiledEntryQualifies applies the archive prefix rules and reports whether
// the entry belongs in the data-set table.
func compiledEntryQualifies(name string, install, dataSet bool) (bool, bool) {
	if install {
		switch {
		case strings.HasPrefix(name, InstallDataSetPrefix):
			return true, true
		case strings.HasPrefix(name, InstallGenericPrefix):
			return true, false
		default:
			return false, false
		}
	}
	if strings.HasPrefix(name, OperatorPrefix) || strings.Contains(name, "/"+OperatorPrefix) {
		return true, dataSet
	}
	return false, false
}
