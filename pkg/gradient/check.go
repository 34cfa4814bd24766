package gradient

import (
	"fmt"
	"math"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// DefaultTolerance is the largest accepted gap between analytic and numeric gradients.
const DefaultTolerance = 1e-3

// Report compares an analytic gradient to central finite differences.
type Report struct {
	Name          string
	Parameter     string
	Values        []float64
	Analytic      []float64
	Numeric       []float64
	MaxDifference float64
	Tolerance     float64
}

// OK reports whether the gradients agree within tolerance.
func (r Report) OK() bool { return r.MaxDifference <= r.Tolerance }

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s gradient with respect to %s\n", r.Name, r.Parameter)
	fmt.Fprintf(&b, "  values:   %s\n", formatVector(r.Values))
	fmt.Fprintf(&b, "  analytic: %s\n", formatVector(r.Analytic))
	fmt.Fprintf(&b, "  numeric:  %s\n", formatVector(r.Numeric))
	status := "ok"
	if !r.OK() {
		status = "MISMATCH"
	}
	fmt.Fprintf(&b, "  max difference: %.3g (tolerance %.0e) %s\n", r.MaxDifference, r.Tolerance, status)
	return b.String()
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.6g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Numeric differentiates p's log density by central differences with a step relative
// to each coordinate. The parameter is left as it was found, also on error.
func Numeric(p Provider) ([]float64, error) {
	param := p.Parameter()
	out := make([]float64, param.Dimension())
	for i := range out {
		d, err := central(p, i)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func central(p Provider, i int) (d float64, err error) {
	param := p.Parameter()
	x := param.Value(i)
	h := 1e-6 * math.Max(1, math.Abs(x))
	defer func() {
		param.SetQuietly(i, x)
		if ferr := param.FireChanged(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	up, err := evaluateAt(p, i, x+h)
	if err != nil {
		return 0, err
	}
	down, err := evaluateAt(p, i, x-h)
	if err != nil {
		return 0, err
	}
	return (up - down) / (2 * h), nil
}

func evaluateAt(p Provider, i int, x float64) (float64, error) {
	param := p.Parameter()
	param.SetQuietly(i, x)
	if err := param.FireChanged(); err != nil {
		return 0, err
	}
	return p.LogDensity()
}

// Check builds a Report. The difference of each coordinate is scaled by the numeric
// value when that exceeds one.
func Check(p Provider, tolerance float64) (Report, error) {
	analytic, err := p.Gradient()
	if err != nil {
		return Report{}, err
	}
	analytic = append([]float64(nil), analytic...)
	numeric, err := Numeric(p)
	if err != nil {
		return Report{}, err
	}
	if len(analytic) != len(numeric) {
		return Report{}, domain.Configurationf("gradient check", "%s: analytic gradient has %d entries for %d parameters", p.Name(), len(analytic), len(numeric))
	}
	r := Report{
		Name:      p.Name(),
		Parameter: p.Parameter().Name(),
		Values:    p.Parameter().Values(),
		Analytic:  analytic,
		Numeric:   numeric,
		Tolerance: tolerance,
	}
	for i := range analytic {
		d := math.Abs(analytic[i]-numeric[i]) / math.Max(1, math.Abs(numeric[i]))
		r.MaxDifference = math.Max(r.MaxDifference, d)
	}
	return r, nil
}
