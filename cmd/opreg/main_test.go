package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/operator-registry/opreg/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sumScript = `
command: Sum
title: Sum two values
categories: [Math]
parameters:
  - {name: a, type: number, default: 1}
  - {name: b, type: number, default: 2}
result: "${a}+${b}"
`

const normalizeScript = `
command: Normalize
scope: dataset
parameters:
  - {name: factor, type: number, default: 1}
`

const avgScript = `
operator = {
  command = "Avg",
  categories = {"Stats"},
  parameters = { {name = "a", value = 1}, {name = "b", value = 3} },
  result = function(a, b) return (a + b) / 2 end,
}
`

func setupHome(t *testing.T) (cfgFile, cacheFile string) {
	t.Helper()
	root := t.TempDir()
	home := filepath.Join(root, "home")
	install := filepath.Join(root, "install")
	scripts := filepath.Join(home, "Scripts")
	require.NoError(t, os.MkdirAll(scripts, 0o755))
	require.NoError(t, os.MkdirAll(install, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "sum.iss"), []byte(sumScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "normalize.iss"), []byte(normalizeScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "avg.lua"), []byte(avgScript), 0o644))

	cacheFile = filepath.Join(root, "cache", "operators.snap")
	cfgFile = filepath.Join(root, "config.yaml")
	content := fmt.Sprintf("registry:\n  homeDir: %s\n  installDir: %s\n  cacheFile: %s\n  buildStamp: 1\n",
		home, install, cacheFile)
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))
	return cfgFile, cacheFile
}

func run(t *testing.T, cfgFile string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	cfgFile, cacheFile := setupHome(t)

	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "list hides data-set operators",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "list")
				require.NoError(t, err)
				assert.Contains(t, out, "Sum")
				assert.Contains(t, out, "Avg")
				assert.NotContains(t, out, "Normalize")
			},
		},
		{
			name: "list filters by kind",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "list", "--kind", "interpreted")
				require.NoError(t, err)
				assert.Contains(t, out, "Avg")
				assert.NotContains(t, out, "Sum")

				_, err = run(t, cfgFile, "list", "--kind", "bogus")
				assert.Error(t, err)
			},
		},
		{
			name: "list filters by category",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "list", "--category", "Stats")
				require.NoError(t, err)
				assert.Contains(t, out, "Avg")
				assert.NotContains(t, out, "Sum")
			},
		},
		{
			name: "categories",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "categories")
				require.NoError(t, err)
				assert.Equal(t, "Math\nStats\n", out)
			},
		},
		{
			name: "datasets",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "datasets")
				require.NoError(t, err)
				assert.Contains(t, out, "Normalize")
				assert.NotContains(t, out, "Sum")
			},
		},
		{
			name: "find",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "find", "Sum")
				require.NoError(t, err)
				assert.Contains(t, out, "arguments:  2")
				assert.Contains(t, out, "title:      Sum two values")

				_, err = run(t, cfgFile, "find", "Sum", "--args", "5")
				assert.ErrorIs(t, err, service.ErrUnknownCommand)
				_, err = run(t, cfgFile, "find", "Nope")
				assert.ErrorIs(t, err, service.ErrUnknownCommand)
			},
		},
		{
			name: "show by file names scripts",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "show", "--by-file")
				require.NoError(t, err)
				assert.Contains(t, out, "Avg  File=")
				assert.Contains(t, out, "sum.iss")
			},
		},
		{
			name: "rehash and clear-cache",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "rehash")
				require.NoError(t, err)
				assert.Equal(t, "2 operators, 1 data-set operators\n", out)
				assert.FileExists(t, cacheFile)

				_, err = run(t, cfgFile, "clear-cache")
				require.NoError(t, err)
				assert.NoFileExists(t, cacheFile)
			},
		},
		{
			name: "roots",
			test: func(t *testing.T) {
				out, err := run(t, cfgFile, "roots")
				require.NoError(t, err)
				assert.Contains(t, out, filepath.Join("home", "Scripts"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestMissingConfigFails(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "absent.yaml"), "list")
	assert.Error(t, err)
}
