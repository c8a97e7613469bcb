package artifact

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"Op.class":        KindCompiled,
		"dir/Op.CLASS":    KindCompiled,
		"script.iss":      KindDeclarative,
		"script.Lua":      KindInterpreted,
		"lib.jar":         KindArchive,
		"lib.ZIP":         KindArchive,
		"readme.txt":      KindUnknown,
		"noext":           KindUnknown,
		`C:\ops\Op.class`: KindCompiled,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(name), name)
	}
	assert.True(t, KindDeclarative.IsScript())
	assert.True(t, KindInterpreted.IsScript())
	assert.False(t, KindCompiled.IsScript())
	assert.Equal(t, "interpreted", KindInterpreted.String())
}

func TestLocatorOpen(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "a.iss")
	require.NoError(t, os.WriteFile(plain, []byte("command: A\n"), 0o644))

	jar := filepath.Join(dir, "ops.jar")
	f, err := os.Create(jar)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("Scripts/b.iss")
	require.NoError(t, err)
	_, err = w.Write([]byte("command: B\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := Locator{Path: plain}.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "command: A\n", string(data))

	inJar := Locator{Kind: KindDeclarative, Path: jar, Entry: "Scripts/b.iss"}
	data, err = inJar.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "command: B\n", string(data))
	assert.True(t, inJar.InArchive())
	assert.Equal(t, jar+"!/Scripts/b.iss", inJar.Key())
	assert.Equal(t, "Scripts/b.iss", inJar.Name())
	assert.Equal(t, "declarative:"+jar+"!/Scripts/b.iss", inJar.String())

	_, err = Locator{Path: jar, Entry: "missing.iss"}.ReadAll()
	assert.Error(t, err)

	info, err := os.Stat(jar)
	require.NoError(t, err)
	mtime, err := inJar.ModTime()
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano(), mtime)

	assert.True(t, IsArchiveFile(jar))
	assert.False(t, IsArchiveFile(plain))
	assert.False(t, IsArchiveFile(filepath.Join(dir, "gone.jar")))
}
