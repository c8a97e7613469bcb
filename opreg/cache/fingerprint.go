package cache

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/operator-registry/opreg/config"
)

// Fingerprint is the configuration and build signature a snapshot was taken
// under. A snapshot is only valid for an identical fingerprint.
type Fingerprint struct {
	HomeDir    string
	GroupHomes []string
	InstallDir string
	ClassPath  string
	BuildStamp int64
}

// FingerprintOf derives the fingerprint of a registry configuration.
func FingerprintOf(rc config.RegistryConfig, buildStamp int64) Fingerprint {
	return Fingerprint{
		HomeDir:    rc.HomeDir,
		GroupHomes: append([]string(nil), rc.GroupHomes...),
		InstallDir: rc.InstallDir,
		ClassPath:  strings.Join(rc.EffectiveClassPath(), ";"),
		BuildStamp: buildStamp,
	}
}

// Mismatch names the first field that differs from other, or returns "".
func (f Fingerprint) Mismatch(other Fingerprint) string {
	switch {
	case f.HomeDir != other.HomeDir:
		return "home directory"
	case !slices.Equal(f.GroupHomes, other.GroupHomes):
		return "group directories"
	case f.InstallDir != other.InstallDir:
		return "install directory"
	case f.BuildStamp != other.BuildStamp:
		return "build stamp"
	case f.ClassPath != other.ClassPath:
		return "class path"
	}
	return ""
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("home=%q groups=%q install=%q build=%d", f.HomeDir, f.GroupHomes, f.InstallDir, f.BuildStamp)
}

func (e *encoder) fingerprint(f Fingerprint) {
	e.str(f.HomeDir)
	e.strs(f.GroupHomes)
	e.str(f.InstallDir)
	e.i64(f.BuildStamp)
	e.str(f.ClassPath)
}

func (d *decoder) fingerprint() Fingerprint {
	var f Fingerprint
	f.HomeDir = d.str()
	f.GroupHomes = d.strs()
	f.InstallDir = d.str()
	f.BuildStamp = d.i64()
	f.ClassPath = d.str()
	return f
}
