// Package artifact describes the files and archive entries that may hold an
// operator.
package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Kind tags how an artifact is turned into an operator.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCompiled
	KindDeclarative
	KindInterpreted
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindCompiled:
		return "compiled"
	case KindDeclarative:
		return "declarative"
	case KindInterpreted:
		return "interpreted"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// IsScript reports whether the kind is re-parsed from source on reload.
func (k Kind) IsScript() bool {
	return k == KindDeclarative || k == KindInterpreted
}

// Recognized extensions, compared case-insensitively.
const (
	ExtCompiled    = ".class"
	ExtDeclarative = ".iss"
	ExtInterpreted = ".lua"
	ExtJar         = ".jar"
	ExtZip         = ".zip"
)

// Classify maps a file name to its kind by extension.
func Classify(name string) Kind {
	switch strings.ToLower(path.Ext(filepath.ToSlash(name))) {
	case ExtCompiled:
		return KindCompiled
	case ExtDeclarative:
		return KindDeclarative
	case ExtInterpreted:
		return KindInterpreted
	case ExtJar, ExtZip:
		return KindArchive
	default:
		return KindUnknown
	}
}

// IsArchiveFile reports whether p names an existing regular file with an
// archive extension.
func IsArchiveFile(p string) bool {
	if Classify(p) != KindArchive {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Locator identifies where an operator came from and how to rebuild it.
type Locator struct {
	Kind Kind
	// Path is the file on disk. For archive entries it is the archive path.
	Path string
	// Entry is the slash-separated name inside the archive, if any.
	Entry string
	// TypeName is the resolved registered type of a compiled operator.
	TypeName string
}

// InArchive reports whether the artifact lives inside an archive.
func (l Locator) InArchive() bool { return l.Entry != "" }

// Key is the unique file identity used by the file index.
func (l Locator) Key() string {
	if l.Entry != "" {
		return l.Path + "!/" + l.Entry
	}
	return l.Path
}

// Name is the artifact's own name: the archive entry or the file path.
func (l Locator) Name() string {
	if l.Entry != "" {
		return l.Entry
	}
	return l.Path
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%s", l.Kind, l.Key())
}

// Open returns the artifact's content.
func (l Locator) Open() (io.ReadCloser, error) {
	if l.Entry == "" {
		return os.Open(l.Path)
	}
	zr, err := zip.OpenReader(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", l.Path, err)
	}
	f, err := zr.Open(l.Entry)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("open entry %s: %w", l.Key(), err)
	}
	return &entryReader{ReadCloser: f, zr: zr}, nil
}

// ReadAll returns the whole content of the artifact.
func (l Locator) ReadAll() ([]byte, error) {
	rc, err := l.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ModTime returns the current modification time of the artifact's file, or
// of its archive, in unix nanoseconds.
func (l Locator) ModTime() (int64, error) {
	info, err := os.Stat(l.Path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

type entryReader struct {
	io.ReadCloser
	zr *zip.ReadCloser
}

func (e *entryReader) Close() error {
	err := e.ReadCloser.Close()
	if cerr := e.zr.Close(); err == nil {
		err = cerr
	}
	return err
}

// Artifact is one scan candidate.
type Artifact struct {
	Locator
	// DataSet marks artifacts found under the data-set operator prefix; they
	// feed the separate data-set table.
	DataSet bool
	// ModTime is the observed modification time of Locator.Path in unix
	// nanoseconds.
	ModTime int64
}
