package loader

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"
)

// Compiled resolves compiled-operator artifacts to factories in a type
// registry. The artifact's path, relative to a class path entry, names the
// type: <cp>/Operators/Convert/ToQ.class becomes "Operators.Convert.ToQ".
type Compiled struct {
	types     *operator.TypeRegistry
	classPath []string
}

// NewCompiled creates the compiled strategy.
func NewCompiled(types *operator.TypeRegistry, classPath []string) *Compiled {
	cp := make([]string, 0, len(classPath))
	for _, p := range classPath {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cp = append(cp, strings.TrimSuffix(filepath.ToSlash(filepath.Clean(p)), "/"))
	}
	return &Compiled{types: types, classPath: cp}
}

func (c *Compiled) Load(a artifact.Artifact) (operator.Operator, artifact.Locator, error) {
	loc := a.Locator
	var ti operator.TypeInfo
	var found bool
	if loc.TypeName != "" {
		ti, found = c.types.Lookup(loc.TypeName)
	} else {
		candidates := CandidateNames(loc, c.classPath)
		if len(candidates) == 0 {
			return nil, loc, fmt.Errorf("%w: %s", ErrNotInClassPath, loc.Name())
		}
		for _, name := range candidates {
			if ti, found = c.resolve(name); found {
				break
			}
		}
	}
	if !found {
		return nil, loc, fmt.Errorf("%w: %s", ErrTypeNotFound, loc.Name())
	}
	if !ti.Instantiable() {
		return nil, loc, fmt.Errorf("%w: %s", ErrNotConcrete, ti.Name)
	}
	loc.TypeName = ti.Name

	op, err := instantiate(ti)
	if err != nil {
		return nil, loc, err
	}
	isDataSet := operator.ScopeOf(op) == operator.ScopeDataSet
	if isDataSet != a.DataSet {
		return nil, loc, fmt.Errorf("%w: %s is %s", ErrWrongScope, ti.Name, operator.ScopeOf(op))
	}
	return op, loc, nil
}

// resolve looks name up, stripping one leading package segment per attempt
// when the package and directory layout disagree. The loop is bounded by the
// number of segments.
func (c *Compiled) resolve(name string) (operator.TypeInfo, bool) {
	segments := strings.Count(name, ".") + 1
	for i := 0; i < segments && name != ""; i++ {
		if ti, ok := c.types.Lookup(name); ok {
			return ti, true
		}
		dot := strings.IndexByte(name, '.')
		if dot < 0 {
			break
		}
		name = name[dot+1:]
	}
	return operator.TypeInfo{}, false
}

func instantiate(ti operator.TypeInfo) (operator.Operator, error) {
	v := ti.New()
	switch val := v.(type) {
	case operator.Operator:
		return val, nil
	case operator.Wrappable:
		return operator.Wrap(val), nil
	default:
		return nil, fmt.Errorf("%w: %s (%T)", ErrNotOperator, ti.Name, v)
	}
}

// CandidateNames derives the fully qualified type names an artifact may
// stand for, most specific first. Archive entries map directly from their
// entry path; files are tried against every class path entry they sit under.
func CandidateNames(loc artifact.Locator, classPath []string) []string {
	if loc.InArchive() {
		return []string{dotted(strings.TrimSuffix(loc.Entry, path.Ext(loc.Entry)))}
	}

	p := filepath.ToSlash(filepath.Clean(loc.Path))
	dir, file := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	class := strings.TrimSuffix(file, path.Ext(file))
	if class == "" {
		return nil
	}

	// A relative path is already package-shaped.
	if !path.IsAbs(dir) && !strings.Contains(dir, ":") {
		if dir == "" || dir == "." {
			return []string{class}
		}
		return []string{dotted(dir) + "." + class}
	}

	var out []string
	seen := make(map[string]bool)
	for _, cp := range classPath {
		var name string
		switch {
		case dir == cp:
			name = class
		case strings.HasPrefix(dir, cp+"/"):
			name = dotted(dir[len(cp)+1:]) + "." + class
		default:
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func dotted(p string) string {
	return strings.ReplaceAll(strings.Trim(p, "/"), "/", ".")
}
