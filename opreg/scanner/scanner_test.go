package scanner

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, nil, 0o644))
}

func writeZip(t *testing.T, p string, entries ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		_, err := zw.Create(e)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func keys(arts []artifact.Artifact, base string) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		k := a.Key()
		if rel, err := filepath.Rel(base, a.Path); err == nil && !a.InArchive() {
			k = filepath.ToSlash(rel)
		} else if err == nil {
			k = filepath.ToSlash(rel) + "!/" + a.Entry
		}
		out = append(out, k)
	}
	return out
}

func TestResolveRoots(t *testing.T) {
	base := t.TempDir()
	home := filepath.Join(base, "home")
	groupA := filepath.Join(base, "groupA")
	groupB := filepath.Join(base, "groupB")
	require.NoError(t, os.MkdirAll(filepath.Join(home, "Operators"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "Scripts"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(groupA, "Scripts"), 0o755))
	require.NoError(t, os.MkdirAll(groupB, 0o755))
	jar := filepath.Join(base, "shared.jar")
	writeZip(t, jar, "Operators/X.class")

	roots := ResolveRoots(RootConfig{
		HomeDir: home,
		GroupHomes: []string{
			groupA + ";" + filepath.Join(base, "missing"),
			groupB,
			jar,
			home,
			"/",
		},
	})

	var got []string
	for _, r := range roots {
		rel, err := filepath.Rel(base, r.Path)
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"home/Operators", "home/Scripts", "groupA/Scripts", "shared.jar"}, got)
	assert.True(t, roots[3].Archive)
	assert.False(t, roots[0].Archive)
}

func TestResolveInstallRoots(t *testing.T) {
	install := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(install, InstallGenericDir), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(install, InstallDataSetDir), 0o755))

	roots := ResolveInstallRoots(install)
	require.Len(t, roots, 2)
	assert.True(t, roots[0].DataSet)
	assert.True(t, roots[0].Install)
	assert.False(t, roots[1].DataSet)

	jar := filepath.Join(install, "isaw.jar")
	writeZip(t, jar)
	roots = ResolveInstallRoots(jar)
	require.Len(t, roots, 1)
	assert.True(t, roots[0].Archive)
	assert.True(t, roots[0].Install)

	assert.Empty(t, ResolveInstallRoots(""))
	assert.Empty(t, ResolveInstallRoots(filepath.Join(install, "missing")))
}

func TestScanDirectory(t *testing.T) {
	base := t.TempDir()
	ops := filepath.Join(base, "Operators")
	touch(t, filepath.Join(ops, "b", "Two.class"))
	touch(t, filepath.Join(ops, "a", "One.CLASS"))
	touch(t, filepath.Join(ops, "script.iss"))
	touch(t, filepath.Join(ops, "run.lua"))
	touch(t, filepath.Join(ops, "readme.txt"))
	writeZip(t, filepath.Join(ops, "z", "lib.jar"), "Operators/Three.class", "other/Four.class", "x/five.iss", "nested.jar")

	s := New(WithLogger(zerolog.Nop()))
	arts := s.Scan(context.Background(), []Root{{Path: ops}})

	assert.Equal(t, []string{
		"Operators/a/One.CLASS",
		"Operators/b/Two.class",
		"Operators/run.lua",
		"Operators/script.iss",
		"Operators/z/lib.jar!/Operators/Three.class",
		"Operators/z/lib.jar!/x/five.iss",
	}, keys(arts, base))

	kinds := map[string]artifact.Kind{}
	for _, a := range arts {
		kinds[filepath.Base(a.Name())] = a.Kind
		assert.NotZero(t, a.ModTime)
	}
	assert.Equal(t, artifact.KindCompiled, kinds["One.CLASS"])
	assert.Equal(t, artifact.KindInterpreted, kinds["run.lua"])
	assert.Equal(t, artifact.KindDeclarative, kinds["five.iss"])

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Roots)
	assert.Equal(t, int64(1), stats.Archives)
	assert.Equal(t, int64(6), stats.Candidates)
}

func TestScanKeepsRootOrder(t *testing.T) {
	base := t.TempDir()
	var roots []Root
	for _, name := range []string{"r3", "r1", "r2"} {
		touch(t, filepath.Join(base, name, name+".iss"))
		roots = append(roots, Root{Path: filepath.Join(base, name)})
	}
	arts := New(WithWorkers(3), WithLogger(zerolog.Nop())).Scan(context.Background(), roots)
	assert.Equal(t, []string{"r3/r3.iss", "r1/r1.iss", "r2/r2.iss"}, keys(arts, base))
}

func TestScanInstallArchive(t *testing.T) {
	base := t.TempDir()
	jar := filepath.Join(base, "isaw.jar")
	writeZip(t, jar,
		"DataSetTools/operator/Generic/Convert/ToQ.class",
		"DataSetTools/operator/DataSet/Math/Scale.class",
		"DataSetTools/util/Helper.class",
		"Operators/Elsewhere.class",
	)

	arts := New(WithLogger(zerolog.Nop())).Scan(context.Background(), []Root{{Path: jar, Archive: true, Install: true}})
	require.Len(t, arts, 2)
	assert.Equal(t, "DataSetTools/operator/Generic/Convert/ToQ.class", arts[0].Entry)
	assert.False(t, arts[0].DataSet)
	assert.Equal(t, "DataSetTools/operator/DataSet/Math/Scale.class", arts[1].Entry)
	assert.True(t, arts[1].DataSet)
}

func TestScanIgnoreFile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep.iss"))
	touch(t, filepath.Join(root, "drop.iss"))
	touch(t, filepath.Join(root, "old", "Legacy.class"))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".opregignore"), []byte("drop.iss\nold/\n"), 0o644))

	s := New(WithLogger(zerolog.Nop()))
	arts := s.Scan(context.Background(), []Root{{Path: root}})
	assert.Equal(t, []string{"keep.iss"}, keys(arts, root))
	assert.Equal(t, int64(2), s.Stats().Ignored)

	arts = New(WithIgnoreFile(""), WithLogger(zerolog.Nop())).Scan(context.Background(), []Root{{Path: root}})
	assert.Len(t, arts, 3)
}

func TestScanSkipsUnreadableSubtree(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.iss"))
	locked := filepath.Join(root, "locked")
	touch(t, filepath.Join(locked, "b.iss"))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	s := New(WithLogger(zerolog.Nop()))
	arts := s.Scan(context.Background(), []Root{{Path: root}, {Path: filepath.Join(root, "missing")}})
	assert.Equal(t, []string{"a.iss"}, keys(arts, root))
	assert.Equal(t, int64(2), s.Stats().Errors)
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.iss"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, New(WithLogger(zerolog.Nop())).Scan(ctx, []Root{{Path: root}}))
}

func TestScanFollowsLinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges")
	}
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	touch(t, filepath.Join(root, "b.lua"))
	touch(t, filepath.Join(outside, "a.lua"))
	touch(t, filepath.Join(outside, "lib", "c.iss"))
	require.NoError(t, os.Symlink(filepath.Join(outside, "a.lua"), filepath.Join(root, "a.lua")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "lib"), filepath.Join(root, "lib")))
	require.NoError(t, os.Symlink(root, filepath.Join(outside, "lib", "back")))
	require.NoError(t, os.Symlink(filepath.Join(base, "gone.iss"), filepath.Join(root, "dangling.iss")))

	s := New(WithLogger(zerolog.Nop()))
	arts := s.Scan(context.Background(), []Root{{Path: root}})
	assert.Equal(t, []string{"a.lua", "b.lua", "lib/c.iss"}, keys(arts, root))
	assert.Equal(t, int64(2), s.Stats().Dirs, "the link back to the root is not listed again")
}
