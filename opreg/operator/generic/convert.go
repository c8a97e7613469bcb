// Package generic holds the compiled operators shipped with the install.
// Each registers its type name in init, so an artifact whose path resolves to
// that name can be instantiated by the loader.
package generic

import (
	"fmt"
	"math"

	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"

	"gonum.org/v1/gonum/floats"
)

// Package prefix that install-tree artifacts resolve to.
const (
	GenericPackage = "DataSetTools.operator.Generic"
	DataSetPackage = "DataSetTools.operator.DataSet"
)

// tofToWavelength converts microseconds per metre of flight path to Angstrom.
const tofToWavelength = 0.0039560

func init() {
	operator.Register(GenericPackage+".Convert.ToWavelength", func() any { return NewToWavelength() })
	operator.Register(GenericPackage+".Convert.ToDSpacing", func() any { return NewToDSpacing() })
	operator.Register(GenericPackage+".Convert.ToQ", func() any { return NewToQ() })
	operator.RegisterAbstract(GenericPackage + ".Convert.Conversion")
	operator.Register(DataSetPackage+".Math.Scale", func() any { return NewScale() })
}

// ToWavelength converts time-of-flight values to neutron wavelength.
type ToWavelength struct{ operator.Base }

func NewToWavelength() *ToWavelength {
	return &ToWavelength{operator.Base{
		Cmd:        "ToWL",
		Name:       "Time-of-flight to Wavelength",
		Categories: operator.Categories(operator.ScopeGeneric, "Convert"),
		Params: []operator.Parameter{
			{Name: "TOF (us)", Value: []float64{}},
			{Name: "Path length (m)", Value: 1.0},
		},
	}}
}

func (op *ToWavelength) Result() (any, error) {
	tof, length, err := tofAndLength(&op.Base)
	if err != nil {
		return nil, err
	}
	return wavelengths(tof, length), nil
}

// ToDSpacing converts time-of-flight values to d-spacing.
type ToDSpacing struct{ operator.Base }

func NewToDSpacing() *ToDSpacing {
	return &ToDSpacing{operator.Base{
		Cmd:        "ToD",
		Name:       "Time-of-flight to d-Spacing",
		Categories: operator.Categories(operator.ScopeGeneric, "Convert"),
		Params: []operator.Parameter{
			{Name: "TOF (us)", Value: []float64{}},
			{Name: "Path length (m)", Value: 1.0},
			{Name: "Two theta (deg)", Value: 90.0},
		},
	}}
}

func (op *ToDSpacing) Result() (any, error) {
	tof, length, err := tofAndLength(&op.Base)
	if err != nil {
		return nil, err
	}
	sin, err := sinTheta(&op.Base, 2)
	if err != nil {
		return nil, err
	}
	d := wavelengths(tof, length)
	floats.Scale(1/(2*sin), d)
	return d, nil
}

// ToQ converts time-of-flight values to momentum transfer.
type ToQ struct{ operator.Base }

func NewToQ() *ToQ {
	return &ToQ{operator.Base{
		Cmd:        "ToQ",
		Name:       "Time-of-flight to Q",
		Categories: operator.Categories(operator.ScopeGeneric, "Convert"),
		Params: []operator.Parameter{
			{Name: "TOF (us)", Value: []float64{}},
			{Name: "Path length (m)", Value: 1.0},
			{Name: "Two theta (deg)", Value: 90.0},
		},
	}}
}

func (op *ToQ) Result() (any, error) {
	tof, length, err := tofAndLength(&op.Base)
	if err != nil {
		return nil, err
	}
	sin, err := sinTheta(&op.Base, 2)
	if err != nil {
		return nil, err
	}
	q := wavelengths(tof, length)
	for i, wl := range q {
		if wl == 0 {
			q[i] = math.Inf(1)
			continue
		}
		q[i] = 4 * math.Pi * sin / wl
	}
	return q, nil
}

// Scale multiplies the values of a data set by a constant.
type Scale struct{ operator.Base }

func NewScale() *Scale {
	return &Scale{operator.Base{
		Cmd:        "Scale",
		Name:       "Scale Data Set",
		Categories: operator.Categories(operator.ScopeDataSet, "Math"),
		Params: []operator.Parameter{
			{Name: "Values", Value: []float64{}},
			{Name: "Factor", Value: 1.0},
		},
	}}
}

func (op *Scale) Scope() operator.Scope { return operator.ScopeDataSet }

func (op *Scale) Result() (any, error) {
	values, ok := op.Params[0].Value.([]float64)
	if !ok {
		return nil, fmt.Errorf("values: expected []float64, got %T", op.Params[0].Value)
	}
	factor, ok := op.Params[1].Value.(float64)
	if !ok {
		return nil, fmt.Errorf("factor: expected float64, got %T", op.Params[1].Value)
	}
	out := make([]float64, len(values))
	copy(out, values)
	floats.Scale(factor, out)
	return out, nil
}

func tofAndLength(b *operator.Base) ([]float64, float64, error) {
	tof, ok := b.Params[0].Value.([]float64)
	if !ok {
		return nil, 0, fmt.Errorf("tof: expected []float64, got %T", b.Params[0].Value)
	}
	length, ok := b.Params[1].Value.(float64)
	if !ok || length <= 0 {
		return nil, 0, fmt.Errorf("path length: expected positive float64, got %v", b.Params[1].Value)
	}
	return tof, length, nil
}

func sinTheta(b *operator.Base, i int) (float64, error) {
	twoTheta, ok := b.Params[i].Value.(float64)
	if !ok {
		return 0, fmt.Errorf("two theta: expected float64, got %T", b.Params[i].Value)
	}
	sin := math.Sin(twoTheta * math.Pi / 360)
	if sin == 0 {
		return 0, fmt.Errorf("two theta must not be zero")
	}
	return sin, nil
}

func wavelengths(tof []float64, length float64) []float64 {
	out := make([]float64, len(tof))
	copy(out, tof)
	floats.Scale(tofToWavelength/length, out)
	return out
}
