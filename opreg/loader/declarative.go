package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"gopkg.in/yaml.v3"
)

//go:embed schema/declarative.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("declarative.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("declarative.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// scriptDoc is the YAML layout of a declarative script.
type scriptDoc struct {
	Command    string        `yaml:"command"`
	Title      string        `yaml:"title"`
	Scope      string        `yaml:"scope"`
	Hidden     bool          `yaml:"hidden"`
	Categories []string      `yaml:"categories"`
	Parameters []scriptParam `yaml:"parameters"`
	Result     string        `yaml:"result"`
}

type scriptParam struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`
}

// ScriptOperator is a self-contained declarative script. Its result is the
// result template with ${name} references replaced by parameter values, or
// the parameter map when no template is given.
type ScriptOperator struct {
	operator.Base
	fileName string
	scope    operator.Scope
	hidden   bool
	template string
}

// FileName returns the script's artifact key.
func (s *ScriptOperator) FileName() string { return s.fileName }

func (s *ScriptOperator) Scope() operator.Scope { return s.scope }

func (s *ScriptOperator) IsHidden() bool { return s.hidden }

func (s *ScriptOperator) Result() (any, error) {
	if s.template == "" {
		out := make(map[string]any, len(s.Params))
		for _, p := range s.Params {
			out[p.Name] = p.Value
		}
		return out, nil
	}
	return os.Expand(s.template, func(name string) string {
		for _, p := range s.Params {
			if p.Name == name {
				return formatValue(p.Value)
			}
		}
		return ""
	}), nil
}

// formatValue renders numbers with grouping and without exponents.
func formatValue(v any) string {
	switch v.(type) {
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return printer.Sprint(number.Decimal(v, number.MaxFractionDigits(15)))
	}
	return fmt.Sprint(v)
}

// Declarative loads YAML script operators.
type Declarative struct{}

// NewDeclarative creates the declarative strategy.
func NewDeclarative() *Declarative { return &Declarative{} }

func (d *Declarative) Load(a artifact.Artifact) (operator.Operator, artifact.Locator, error) {
	data, err := a.ReadAll()
	if err != nil {
		return nil, a.Locator, err
	}
	op, issues := ParseScript(data, a.Key())
	if len(issues) > 0 {
		return nil, a.Locator, fmt.Errorf("%w: %s", ErrParse, strings.Join(issues, "; "))
	}
	return op, a.Locator, nil
}

// ParseScript parses and validates a declarative script. The operator is
// only usable when no issues are returned.
func ParseScript(data []byte, fileName string) (*ScriptOperator, []string) {
	schema, err := getSchema()
	if err != nil {
		return nil, []string{err.Error()}
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, []string{fmt.Sprintf("parsing YAML: %v", err)}
	}
	if raw == nil {
		return nil, []string{"empty script"}
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, []string{fmt.Sprintf("converting to JSON: %v", err)}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, []string{fmt.Sprintf("preparing JSON for validation: %v", err)}
	}
	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, []string{err.Error()}
		}
		return nil, validationIssues(ve)
	}

	var doc scriptDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []string{fmt.Sprintf("decoding script: %v", err)}
	}

	scope := operator.ScopeGeneric
	if doc.Scope == "dataset" {
		scope = operator.ScopeDataSet
	}
	op := &ScriptOperator{
		Base: operator.Base{
			Cmd:        doc.Command,
			Name:       doc.Title,
			Categories: operator.Categories(scope, doc.Categories...),
		},
		fileName: fileName,
		scope:    scope,
		hidden:   doc.Hidden,
		template: doc.Result,
	}
	for _, p := range doc.Parameters {
		op.Params = append(op.Params, operator.Parameter{Name: p.Name, Value: coerce(p.Type, p.Default)})
	}
	return op, nil
}

// coerce converts a YAML default to the declared parameter type.
func coerce(typ string, v any) any {
	switch typ {
	case "number":
		switch n := v.(type) {
		case int:
			return float64(n)
		case nil:
			return 0.0
		}
	case "integer":
		switch n := v.(type) {
		case float64:
			return int(n)
		case nil:
			return 0
		}
	case "boolean":
		if v == nil {
			return false
		}
	case "string":
		if v == nil {
			return ""
		}
	case "list":
		if v == nil {
			return []any{}
		}
	}
	return v
}

// validationIssues flattens the validation error tree into leaf messages.
func validationIssues(ve *jsonschema.ValidationError) []string {
	var issues []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		loc := "/" + strings.Join(e.InstanceLocation, "/")
		msg := e.Error()
		if e.ErrorKind != nil {
			msg = e.ErrorKind.LocalizedString(printer)
		}
		issues = append(issues, loc+": "+msg)
	}
	walk(ve)
	if len(issues) == 0 {
		issues = append(issues, ve.Error())
	}
	sort.Strings(issues)
	return issues
}
