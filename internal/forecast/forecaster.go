// Package forecast estimates near-term demand and its volatility from daily sales history.
package forecast

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
)

type Method string

const (
	MethodHoltWinters      Method = "holt-winters"
	MethodMovingAverage    Method = "moving-average"
	MethodInsufficientData Method = "insufficient-data"
)

type Config struct {
	MinHistoryDays   int // distinct sale days required before anything is forecast
	Period           int // seasonal period in days
	Horizon          int // steps generated after the last observed day
	Offset           int // step read off the horizon; the series ends at t-1, so offset 2 is t+2
	FallbackWindow   int
	VolatilityWindow int
}

func DefaultConfig() Config {
	return Config{
		MinHistoryDays:   14,
		Period:           7,
		Horizon:          3,
		Offset:           2,
		FallbackWindow:   7,
		VolatilityWindow: 30,
	}
}

type Result struct {
	Demand        float64 // kg expected two days after the as-of date
	Volatility    float64
	RecentAverage float64
	Method        Method
	Observations  int // distinct sale days used
}

type Forecaster struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Forecaster {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Horizon <= cfg.Offset {
		cfg.Horizon = cfg.Offset + 1
	}
	return &Forecaster{cfg: cfg, log: log}
}

// Forecast never fails: model problems degrade to the moving average and are only logged.
func (f *Forecaster) Forecast(ctx context.Context, history []sales.Record, asOf time.Time) Result {
	series, observed := Daily(history, asOf)
	if observed < f.cfg.MinHistoryDays {
		return Result{Method: MethodInsufficientData, Observations: observed}
	}

	res := Result{
		Volatility:    volatility(tail(series, f.cfg.VolatilityWindow)),
		RecentAverage: stat.Mean(tail(series, f.cfg.VolatilityWindow), nil),
		Observations:  observed,
		Method:        MethodHoltWinters,
	}

	demand, err := f.holtWinters(series)
	if err != nil {
		f.log.WarnContext(ctx, "forecast fallback to moving average",
			"date", days.Format(asOf), "days", len(series), "err", err)
		demand = stat.Mean(tail(series, f.cfg.FallbackWindow), nil)
		res.Method = MethodMovingAverage
	}
	res.Demand = math.Max(demand, 0)
	return res
}

func (f *Forecaster) holtWinters(series []float64) (float64, error) {
	m, err := fitHoltWinters(series, f.cfg.Period)
	if err != nil {
		return 0, err
	}
	v := m.forecast(f.cfg.Horizon)[f.cfg.Offset]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}

func volatility(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
