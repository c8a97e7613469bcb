package scanner

import (
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/config"
)

// minDirNameLength rejects configured paths too short to be meaningful, such
// as "/" or "C:".
const minDirNameLength = 3

// Install-tree layout of the program's own operators.
var (
	InstallGenericDir = filepath.Join("DataSetTools", "operator", "Generic")
	InstallDataSetDir = filepath.Join("DataSetTools", "operator", "DataSet")
)

// Root is one directory or archive to scan.
type Root struct {
	Path    string
	Archive bool
	// DataSet roots feed the data-set operator table.
	DataSet bool
	// Install roots belong to the running program and use the install
	// archive prefixes.
	Install bool
}

// RootConfig is the subset of configuration the resolver needs.
type RootConfig struct {
	HomeDir    string
	GroupHomes []string
	InstallDir string
}

// RootConfigFrom extracts the resolver inputs from the registry config.
func RootConfigFrom(rc config.RegistryConfig) RootConfig {
	return RootConfig{HomeDir: rc.HomeDir, GroupHomes: rc.GroupHomes, InstallDir: rc.InstallDir}
}

// ResolveRoots turns the configured homes into an ordered, duplicate-free list
// of scan roots. For each directory its Operators and Scripts subdirectories
// are added when they exist; an archive file is added as is. Missing paths are
// skipped silently.
func ResolveRoots(cfg RootConfig) []Root {
	var candidates []Root
	candidates = appendHome(candidates, cfg.HomeDir)
	for _, group := range cfg.GroupHomes {
		candidates = appendHome(candidates, group)
	}
	candidates = appendHome(candidates, cfg.InstallDir)
	return dedupRoots(candidates)
}

// ResolveInstallRoots returns the locations of the program's own operators:
// the install archive itself, or the generic and data-set package directories
// of an unpacked install.
func ResolveInstallRoots(installDir string) []Root {
	installDir = strings.TrimSpace(installDir)
	if len(installDir) <= minDirNameLength {
		return nil
	}
	installDir = filepath.Clean(installDir)
	if artifact.IsArchiveFile(installDir) {
		return []Root{{Path: installDir, Archive: true, Install: true}}
	}
	var roots []Root
	if dir := filepath.Join(installDir, InstallDataSetDir); isDir(dir) {
		roots = append(roots, Root{Path: dir, DataSet: true, Install: true})
	}
	if dir := filepath.Join(installDir, InstallGenericDir); isDir(dir) {
		roots = append(roots, Root{Path: dir, Install: true})
	}
	return roots
}

func appendHome(roots []Root, list string) []Root {
	for _, dir := range config.SplitPathList(list) {
		if len(dir) <= minDirNameLength {
			continue
		}
		dir = filepath.Clean(dir)
		if artifact.IsArchiveFile(dir) {
			roots = append(roots, Root{Path: dir, Archive: true})
			continue
		}
		if !isDir(dir) {
			continue
		}
		for _, sub := range []string{internal.DefaultOperatorsDir, internal.DefaultScriptsDir} {
			if p := filepath.Join(dir, sub); isDir(p) {
				roots = append(roots, Root{Path: p})
			}
		}
	}
	return roots
}

// dedupRoots removes exact duplicate paths, keeping the first occurrence.
func dedupRoots(roots []Root) []Root {
	seen := make(map[string]bool, len(roots))
	out := roots[:0]
	for _, r := range roots {
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		out = append(out, r)
	}
	return out
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
