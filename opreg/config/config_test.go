package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	rc := cfg.Registry
	assert.Equal(suite.T(), filepath.Join(internal.DefaultUserHomeDir, "ISAW"), rc.HomeDir)
	assert.Equal(suite.T(), internal.DefaultInstallDir, rc.InstallDir)
	assert.Equal(suite.T(), internal.DefaultSnapshotFile, rc.CacheFile)
	assert.Equal(suite.T(), internal.DefaultIgnoreFile, rc.IgnoreFile)
	assert.Equal(suite.T(), internal.DefaultWorkers, rc.Workers)
	assert.True(suite.T(), rc.ReloadScripts)
	assert.False(suite.T(), rc.LoadDebug)
	assert.Empty(suite.T(), rc.GroupHomes)
	assert.Zero(suite.T(), rc.BuildStamp)
	assert.Equal(suite.T(), internal.DefaultWatchDelay, rc.WatchDelay)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
registry:
  homeDir: /data/isaw
  groupHomes:
    - /groups/one
    - /groups/two;/groups/three
  installDir: /opt/isaw
  classPath: [/opt/extra]
  cacheFile: ./test-cache/ops.snap
  reloadScripts: false
  loadDebug: true
  workers: 7
  buildStamp: 1234
  watchDelay: 2s
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	rc := cfg.Registry
	assert.Equal(suite.T(), "/data/isaw", rc.HomeDir)
	assert.Equal(suite.T(), []string{"/groups/one", "/groups/two;/groups/three"}, rc.GroupHomes)
	assert.Equal(suite.T(), "/opt/isaw", rc.InstallDir)
	assert.Equal(suite.T(), []string{"/opt/extra"}, rc.ClassPath)
	assert.Equal(suite.T(), "./test-cache/ops.snap", rc.CacheFile)
	assert.False(suite.T(), rc.ReloadScripts)
	assert.True(suite.T(), rc.LoadDebug)
	assert.Equal(suite.T(), 7, rc.Workers)
	assert.Equal(suite.T(), int64(1234), rc.BuildStamp)
	assert.Equal(suite.T(), 2*time.Second, rc.WatchDelay)
	assert.Equal(suite.T(), internal.DefaultIgnoreFile, rc.IgnoreFile, "unset keys keep defaults")
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("OPREG_REGISTRY_HOMEDIR", "/env/home")
	suite.T().Setenv("OPREG_REGISTRY_WORKERS", "9")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "/env/home", cfg.Registry.HomeDir)
	assert.Equal(suite.T(), 9, cfg.Registry.Workers)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error.
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
registry:
  homeDir: /data
  groupHomes: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformedContent), 0o644))

	cfg, err := LoadConfig(configFile)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func TestDefaultMatchesLoadDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, internal.DefaultWorkers, d.Registry.Workers)
	assert.Equal(t, internal.DefaultSnapshotFile, d.Registry.CacheFile)
	assert.True(t, d.Registry.ReloadScripts)
}

func TestEffectiveClassPath(t *testing.T) {
	rc := RegistryConfig{
		ClassPath:  []string{"/opt/extra/", " ", "/data/isaw"},
		HomeDir:    "/data/isaw",
		GroupHomes: []string{"/groups/a;/groups/b", "/groups/a"},
		InstallDir: "/opt/isaw",
	}
	assert.Equal(t, []string{"/opt/extra", "/data/isaw", "/groups/a", "/groups/b", "/opt/isaw"}, rc.EffectiveClassPath())
}

func TestSplitPathList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"/a", []string{"/a"}},
		{"/a;/b", []string{"/a", "/b"}},
		{"/a" + string(filepath.ListSeparator) + "/b; ;", []string{"/a", "/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SplitPathList(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
