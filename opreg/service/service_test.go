package service

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/config"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator/generic"
	"github.com/ZanzyTHEbar/operator-registry/opreg/scanner"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type namedOp struct{ operator.Base }

func (n *namedOp) Result() (any, error) { return n.Cmd, nil }

func constOp(cmd string, nargs int) operator.Factory {
	return func() any {
		op := &namedOp{operator.Base{Cmd: cmd, Categories: operator.Categories(operator.ScopeGeneric, "Test")}}
		for i := 0; i < nargs; i++ {
			op.Params = append(op.Params, operator.Parameter{Name: "arg", Value: float64(i)})
		}
		return op
	}
}

// doubler is a plain routine exposed through the wrapper.
type doubler struct {
	X float64
}

func (d *doubler) Command() string          { return "Double" }
func (d *doubler) Calculate() (any, error) { return 2 * d.X, nil }

const sumScript = `
command: Sum
title: Sum two values
categories: [Math]
parameters:
  - {name: a, type: number, default: 1}
  - {name: b, type: number, default: 2}
result: "${a}+${b}"
`

const dataSetScript = `
command: Normalize
scope: dataset
parameters:
  - {name: factor, type: number, default: 1}
`

const badScript = `
title: no command here
`

const avgScript = `
operator = {
  command = "Avg",
  title = "Average",
  categories = {"Math"},
  parameters = { {name = "a", value = 1}, {name = "b", value = 3} },
  result = function(a, b) return (a + b) / 2 end,
}
`

const disabledScript = `
operator = {
  command = "Off",
  installable = false,
  result = function() return 0 end,
}
`

type ServiceTestSuite struct {
	suite.Suite
	home    string
	install string
	cfg     config.RegistryConfig
	types   *operator.TypeRegistry
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	root := s.T().TempDir()
	s.home = filepath.Join(root, "home")
	s.install = filepath.Join(root, "install")
	require.NoError(s.T(), os.MkdirAll(filepath.Join(s.home, "Operators"), 0o755))
	require.NoError(s.T(), os.MkdirAll(s.install, 0o755))

	s.cfg = config.RegistryConfig{
		HomeDir:       s.home,
		InstallDir:    s.install,
		CacheFile:     filepath.Join(root, "cache", "operators.snap"),
		ReloadScripts: true,
		Workers:       2,
		IgnoreFile:    ".opregignore",
	}

	s.types = operator.NewTypeRegistry()
	for name, f := range map[string]operator.Factory{
		"Alpha":   constOp("b-cmd", 0),
		"Beta":    constOp("a-cmd", 1),
		"Gamma":   constOp("c-cmd", 2),
		"Delta":   constOp("d-cmd", 0),
		"Doubler": func() any { return &doubler{X: 1} },
		generic.DataSetPackage + ".Math.Scale": func() any { return generic.NewScale() },
	} {
		require.NoError(s.T(), s.types.Add(operator.TypeInfo{Name: name, New: f}))
	}
	require.NoError(s.T(), s.types.Add(operator.TypeInfo{Name: generic.GenericPackage + ".Convert.Conversion", Abstract: true}))
}

func (s *ServiceTestSuite) newService(opts ...Option) *Service {
	opts = append([]Option{
		WithTypes(s.types),
		WithBuildStamp(1),
		WithLogger(zerolog.Nop()),
	}, opts...)
	return New(s.cfg, opts...)
}

func (s *ServiceTestSuite) write(p, content string) string {
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(s.T(), os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (s *ServiceTestSuite) writeCompiled(names ...string) {
	for _, n := range names {
		s.write(filepath.Join(s.home, "Operators", n+".class"), "")
	}
}

func (s *ServiceTestSuite) writeZip(p string, entries map[string]string) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(s.T(), err)
		_, err = w.Write([]byte(content))
		require.NoError(s.T(), err)
	}
	require.NoError(s.T(), zw.Close())
	s.write(p, buf.String())
}

func (s *ServiceTestSuite) commands(svc *Service) []string {
	var out []string
	for i := 0; i < svc.Count(); i++ {
		out = append(out, svc.Command(i))
	}
	return out
}

func (s *ServiceTestSuite) TestCommandOrderAndInsertionOrder() {
	s.writeCompiled("Alpha", "Beta", "Gamma")
	svc := s.newService(WithoutCache())

	reg, err := svc.Registry(context.Background())
	require.NoError(s.T(), err)

	var inserted []string
	for _, rec := range reg.Records() {
		inserted = append(inserted, filepath.Base(rec.Locator.Path))
	}
	assert.Equal(s.T(), []string{"Alpha.class", "Beta.class", "Gamma.class"}, inserted)
	assert.Equal(s.T(), []string{"a-cmd", "b-cmd", "c-cmd"}, s.commands(svc))
	assert.Equal(s.T(), []int{1, 0, 2}, reg.CommandIndex())
	assert.Empty(s.T(), reg.Verify())

	info, err := svc.Info(svc.FindFirstByCommand("c-cmd"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Gamma", info.Locator.TypeName)
	assert.Equal(s.T(), 2, svc.NumParameters(svc.FindFirstByCommand("c-cmd")))
	assert.Equal(s.T(), -1, svc.FindFirstByCommand("nope"))
	assert.Equal(s.T(), "", svc.Command(99))
}

func (s *ServiceTestSuite) TestScriptsAndScopes() {
	scripts := filepath.Join(s.home, "Scripts")
	s.write(filepath.Join(scripts, "sum.iss"), sumScript)
	s.write(filepath.Join(scripts, "normalize.iss"), dataSetScript)
	s.write(filepath.Join(scripts, "bad.iss"), badScript)
	s.write(filepath.Join(scripts, "avg.lua"), avgScript)
	s.write(filepath.Join(scripts, "off.lua"), disabledScript)
	s.write(filepath.Join(scripts, "broken.lua"), "operator = {")
	svc := s.newService(WithoutCache())

	assert.Equal(s.T(), []string{"Avg", "Sum"}, s.commands(svc))

	sum, err := svc.OperatorByCommand("Sum")
	require.NoError(s.T(), err)
	res, err := sum.Result()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "1+2", res)

	avg, err := svc.OperatorByCommand("Avg")
	require.NoError(s.T(), err)
	res, err = avg.Result()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2.0, res)

	v, err := svc.Parameter(svc.FindFirstByCommand("Avg"), 1)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 3.0, v)

	require.Equal(s.T(), 1, svc.NumDataSetOperators())
	ds, err := svc.DataSetOperator(0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Normalize", ds.Command())

	// Reload mode hands out a fresh script instance per call.
	again, err := svc.OperatorByCommand("Sum")
	require.NoError(s.T(), err)
	assert.NotSame(s.T(), sum, again)

	assert.Equal(s.T(), []string{"Avg", "Sum"}, s.commandsAt(svc, svc.ByCategory("Math")))
	assert.Equal(s.T(), []string{"Avg"}, s.commandsAt(svc, svc.OfKind(artifact.KindInterpreted)))
}

func (s *ServiceTestSuite) commandsAt(svc *Service, positions []int) []string {
	var out []string
	for _, p := range positions {
		out = append(out, svc.Command(p))
	}
	return out
}

func (s *ServiceTestSuite) TestWithoutInterpreter() {
	s.write(filepath.Join(s.home, "Scripts", "avg.lua"), avgScript)
	svc := s.newService(WithoutCache(), WithoutInterpreter())
	assert.Equal(s.T(), 0, svc.Count())
}

func (s *ServiceTestSuite) TestArchivesAndWrappables() {
	s.writeZip(filepath.Join(s.home, "Operators", "extra.jar"), map[string]string{
		"Operators/Delta.class":   "",
		"Operators/Doubler.class": "",
		"misc/Alpha.class":        "",
		"Scripts/sum.iss":         sumScript,
	})
	svc := s.newService(WithoutCache())

	assert.Equal(s.T(), []string{"Double", "Sum", "d-cmd"}, s.commands(svc))

	op, err := svc.OperatorByCommand("Double")
	require.NoError(s.T(), err)
	require.IsType(s.T(), &operator.Wrapper{}, op)
	require.NoError(s.T(), op.SetParameter(0, 21.0))
	res, err := op.Result()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 42.0, res)

	info, err := svc.Info(svc.FindFirstByCommand("d-cmd"))
	require.NoError(s.T(), err)
	assert.True(s.T(), info.Locator.InArchive())
	assert.Equal(s.T(), "Operators/Delta.class", info.Locator.Entry)
}

func (s *ServiceTestSuite) TestInstallTree() {
	s.write(filepath.Join(s.install, scanner.InstallDataSetDir, "Math", "Scale.class"), "")
	s.write(filepath.Join(s.install, scanner.InstallGenericDir, "Convert", "Conversion.class"), "")
	svc := s.newService(WithoutCache())

	assert.Equal(s.T(), 0, svc.Count(), "abstract types are not operators")
	require.Equal(s.T(), 1, svc.NumDataSetOperators())
	info, err := svc.DataSetInfo(0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Scale", info.Command)
	assert.True(s.T(), info.DataSet)

	roots := svc.Roots()
	require.NotEmpty(s.T(), roots)
	assert.True(s.T(), roots[0].Install)
}

func (s *ServiceTestSuite) TestCacheLifecycle() {
	s.writeCompiled("Alpha", "Beta")
	s.write(filepath.Join(s.home, "Scripts", "sum.iss"), sumScript)

	first := s.newService()
	assert.False(s.T(), first.Restored())
	want := s.commands(first)

	second := s.newService()
	assert.True(s.T(), second.Restored())
	assert.Equal(s.T(), want, s.commands(second))
	op, err := second.OperatorByCommand("Sum")
	require.NoError(s.T(), err, "restored script records materialize on demand")
	assert.Equal(s.T(), "Sum", op.Command())

	later := time.Now().Add(time.Hour)
	require.NoError(s.T(), os.Chtimes(filepath.Join(s.home, "Scripts", "sum.iss"), later, later))
	third := s.newService()
	assert.False(s.T(), third.Restored(), "touched artifact forces a rescan")
	assert.Equal(s.T(), want, s.commands(third))

	fourth := s.newService()
	assert.True(s.T(), fourth.Restored())

	changed := s.newService(WithBuildStamp(2))
	assert.False(s.T(), changed.Restored(), "new build invalidates the cache")
}

func (s *ServiceTestSuite) TestDuplicateRootsProcessedOnce() {
	s.writeCompiled("Alpha", "Beta")
	svc := s.newService(WithoutCache())
	root := scanner.Root{Path: filepath.Join(s.home, "Operators")}

	reg, err := svc.populate(context.Background(), []scanner.Root{root, root})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, reg.Len())

	s.cfg.GroupHomes = []string{s.home + string(filepath.ListSeparator) + s.home}
	dup := s.newService(WithoutCache())
	assert.Equal(s.T(), 2, dup.Count())
}

func (s *ServiceTestSuite) TestScanIsIdempotent() {
	s.writeCompiled("Alpha", "Beta", "Gamma")
	s.write(filepath.Join(s.home, "Scripts", "sum.iss"), sumScript)
	s.write(filepath.Join(s.home, "Scripts", "avg.lua"), avgScript)

	a, err := s.newService(WithoutCache()).Registry(context.Background())
	require.NoError(s.T(), err)
	b, err := s.newService(WithoutCache()).Registry(context.Background())
	require.NoError(s.T(), err)

	require.Equal(s.T(), a.Len(), b.Len())
	for i, rec := range a.Records() {
		other := b.Records()[i]
		assert.Equal(s.T(), rec.Command, other.Command)
		assert.Equal(s.T(), rec.Locator, other.Locator)
		assert.Equal(s.T(), rec.LastModified, other.LastModified)
	}
	assert.Equal(s.T(), a.CommandIndex(), b.CommandIndex())
	assert.Equal(s.T(), a.FileIndex(), b.FileIndex())
}

func (s *ServiceTestSuite) TestIgnoreFile() {
	s.writeCompiled("Alpha", "Beta")
	s.write(filepath.Join(s.home, "Operators", ".opregignore"), "Beta.class\n")
	svc := s.newService(WithoutCache())
	assert.Equal(s.T(), []string{"b-cmd"}, s.commands(svc))
}

func (s *ServiceTestSuite) TestArgumentCountLookup() {
	s.types = operator.NewTypeRegistry()
	require.NoError(s.T(), s.types.Add(operator.TypeInfo{Name: "Load1", New: constOp("Load", 1)}))
	require.NoError(s.T(), s.types.Add(operator.TypeInfo{Name: "Load2", New: constOp("Load", 2)}))
	s.writeCompiled("Load1", "Load2")
	svc := s.newService(WithoutCache())

	assert.Equal(s.T(), 1, svc.NumParameters(svc.FindFirstByCommand("Load")))
	assert.Equal(s.T(), 2, svc.NumParameters(svc.FindByCommandArgs("Load", 2)))
	assert.Equal(s.T(), -1, svc.FindByCommandArgs("Load", 5))
}

func (s *ServiceTestSuite) TestRehash() {
	s.writeCompiled("Alpha")
	svc := s.newService()
	assert.Equal(s.T(), 1, svc.Count())

	s.writeCompiled("Gamma")
	assert.Equal(s.T(), 1, svc.Count(), "registry is fixed until rehashed")

	require.NoError(s.T(), svc.Rehash(context.Background()))
	assert.Equal(s.T(), []string{"b-cmd", "c-cmd"}, s.commands(svc))
	assert.False(s.T(), svc.Restored())
	assert.FileExists(s.T(), s.cfg.CacheFile)

	require.NoError(s.T(), svc.ClearCache())
	assert.NoFileExists(s.T(), s.cfg.CacheFile)
}

func (s *ServiceTestSuite) TestShow() {
	s.writeCompiled("Alpha")
	s.write(filepath.Join(s.home, "Scripts", "sum.iss"), sumScript)
	svc := s.newService(WithoutCache())

	var buf bytes.Buffer
	require.NoError(s.T(), svc.Show(&buf, ShowByCommand))
	sumFile := filepath.Join(s.home, "Scripts", "sum.iss")
	assert.Equal(s.T(), "Sum  File="+sumFile+"\nb-cmd\n", buf.String())
}

func (s *ServiceTestSuite) TestCancelledInit() {
	s.writeCompiled("Alpha")
	svc := s.newService(WithoutCache())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(s.T(), svc.Init(ctx), context.Canceled)
	assert.Equal(s.T(), 1, svc.Count(), "a later call retries initialization")
}

func TestInfoOutOfRange(t *testing.T) {
	svc := New(config.RegistryConfig{HomeDir: t.TempDir()}, WithoutCache(), WithLogger(zerolog.Nop()), WithBuildStamp(1))
	_, err := svc.Info(0)
	assert.Error(t, err)
}
