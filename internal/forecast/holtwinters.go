package forecast

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

var (
	errTooShort     = errors.New("series shorter than two seasons")
	errFlatSeries   = errors.New("series has zero variance")
	errNotConverged = errors.New("smoothing parameters did not converge")
	errNonFinite    = errors.New("model produced a non-finite forecast")
)

// holtWinters is an additive-trend, additive-seasonal exponential smoothing model.
type holtWinters struct {
	period             int
	alpha, beta, gamma float64

	level, trend float64
	season       []float64
	n            int // observations consumed
}

// fitHoltWinters chooses alpha, beta and gamma by Nelder-Mead minimisation of the one-step-ahead squared
// error. Parameters are searched on the logit scale so they stay inside (0, 1).
func fitHoltWinters(y []float64, period int) (*holtWinters, error) {
	if period < 2 || len(y) < 2*period {
		return nil, errTooShort
	}
	if stat.Variance(y, nil) < 1e-12 {
		return nil, errFlatSeries
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			m := &holtWinters{period: period, alpha: sigmoid(x[0]), beta: sigmoid(x[1]), gamma: sigmoid(x[2])}
			return m.smooth(y)
		},
	}
	init := []float64{logit(0.3), logit(0.1), logit(0.1)}
	res, err := optimize.Minimize(problem, init, &optimize.Settings{FuncEvaluations: 2000}, &optimize.NelderMead{})
	if err != nil || res == nil {
		return nil, errors.Join(errNotConverged, err)
	}

	m := &holtWinters{period: period, alpha: sigmoid(res.X[0]), beta: sigmoid(res.X[1]), gamma: sigmoid(res.X[2])}
	if sse := m.smooth(y); math.IsNaN(sse) || math.IsInf(sse, 0) {
		return nil, errNonFinite
	}
	return m, nil
}

// smooth initialises the state from the first two seasons, runs the recursions over y and returns the
// sum of squared one-step errors.
func (m *holtWinters) smooth(y []float64) float64 {
	p := m.period
	first := stat.Mean(y[:p], nil)
	second := stat.Mean(y[p:2*p], nil)
	m.level = first
	m.trend = (second - first) / float64(p)
	m.season = make([]float64, p)
	for i := 0; i < p; i++ {
		m.season[i] = y[i] - first
	}

	var sse float64
	for t, obs := range y {
		s := m.season[t%p]
		pred := m.level + m.trend + s
		sse += (obs - pred) * (obs - pred)

		prevLevel := m.level
		m.level = m.alpha*(obs-s) + (1-m.alpha)*(m.level+m.trend)
		m.trend = m.beta*(m.level-prevLevel) + (1-m.beta)*m.trend
		m.season[t%p] = m.gamma*(obs-m.level) + (1-m.gamma)*s
	}
	m.n = len(y)
	return sse
}

// forecast returns the next h values after the fitted series.
func (m *holtWinters) forecast(h int) []float64 {
	out := make([]float64, h)
	for i := 1; i <= h; i++ {
		out[i-1] = m.level + float64(i)*m.trend + m.season[(m.n+i-1)%m.period]
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }
