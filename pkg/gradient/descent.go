package gradient

import (
	"context"
	"log/slog"
	"math"

	"github.com/aretw0/canopy/internal/logging"
)

// DescentOptions tune Descend. Zero fields take the defaults.
type DescentOptions struct {
	Step        float64
	Tolerance   float64
	MaxSteps    int
	MaxHalvings int
	Logger      *slog.Logger
}

func (o DescentOptions) withDefaults() DescentOptions {
	if o.Step <= 0 {
		o.Step = 0.1
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 100000
	}
	if o.MaxHalvings <= 0 {
		o.MaxHalvings = 60
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// DescentResult summarises a run of Descend.
type DescentResult struct {
	Steps       int
	LogDensity  float64
	MaxGradient float64
	Converged   bool
}

// Descend climbs p's log density along its gradient until the largest gradient entry
// falls below the tolerance. A step that lowers the density is retried from the same
// point with half the step size. Each step changes the parameter quietly and fires once.
func Descend(ctx context.Context, p Provider, opts DescentOptions) (DescentResult, error) {
	opts = opts.withDefaults()
	param := p.Parameter()

	logL, err := p.LogDensity()
	if err != nil {
		return DescentResult{}, err
	}
	grad, err := p.Gradient()
	if err != nil {
		return DescentResult{}, err
	}
	res := DescentResult{LogDensity: logL, MaxGradient: absMax(grad)}
	step := opts.Step

	for res.Steps < opts.MaxSteps && res.MaxGradient > opts.Tolerance {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		origin := param.Values()
		g := append([]float64(nil), grad...)

		improved := false
		for h := 0; h <= opts.MaxHalvings; h++ {
			for i := range origin {
				param.SetQuietly(i, origin[i]+step*g[i])
			}
			if err := param.FireChanged(); err != nil {
				return res, err
			}
			next, err := p.LogDensity()
			if err != nil {
				return res, err
			}
			if next >= logL {
				logL = next
				improved = true
				break
			}
			step /= 2
		}
		if !improved {
			for i := range origin {
				param.SetQuietly(i, origin[i])
			}
			if err := param.FireChanged(); err != nil {
				return res, err
			}
			opts.Logger.Debug("gradient descent stalled", "provider", p.Name(), "steps", res.Steps)
			break
		}

		grad, err = p.Gradient()
		if err != nil {
			return res, err
		}
		res.Steps++
		res.LogDensity = logL
		res.MaxGradient = absMax(grad)
		opts.Logger.Debug("gradient descent step",
			"provider", p.Name(), "step", res.Steps, "logDensity", logL, "gradMax", res.MaxGradient, "stepSize", step)
	}
	res.Converged = res.MaxGradient <= opts.Tolerance
	return res, nil
}

func absMax(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
