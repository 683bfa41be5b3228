package peaks

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a sample set and the selection drawn from it.
type Summary struct {
	Samples       int     `json:"samples"`
	Selected      int     `json:"selected"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Baseline      float64 `json:"baseline"`
	MeanMagnitude float64 `json:"mean_magnitude"`
	StdMagnitude  float64 `json:"std_magnitude"`
	MaxMagnitude  float64 `json:"max_magnitude"`
	MinSelected   float64 `json:"min_selected_magnitude"`
}

// Summarize computes magnitude statistics over samples using cfg's baseline.
// Standard deviation is the unbiased estimate and is 0 for a single sample.
// Magnitudes are scaled by their maximum before averaging so values near
// the float64 limit do not overflow; any statistic that is still not finite
// is reported as 0.
func Summarize(samples []Record, selection []Selected, cfg Config) Summary {
	sum := Summary{
		Samples:  len(samples),
		Selected: len(selection),
		Baseline: cfg.Baseline,
	}
	if len(samples) == 0 {
		return sum
	}

	mags := make([]float64, len(samples))
	times := make([]float64, len(samples))
	for i, rec := range samples {
		mags[i] = Magnitude(rec.Accel, cfg.Baseline)
		times[i] = rec.Time
	}

	sum.StartTime = floats.Min(times)
	sum.EndTime = floats.Max(times)
	sum.MaxMagnitude = floats.Max(mags)
	sum.MeanMagnitude, sum.StdMagnitude = meanStd(mags, sum.MaxMagnitude)
	sum.MaxMagnitude = finite(sum.MaxMagnitude)

	if len(selection) > 0 {
		sel := make([]float64, len(selection))
		for i, s := range selection {
			sel[i] = s.Magnitude
		}
		sum.MinSelected = finite(floats.Min(sel))
	}
	return sum
}

// meanStd returns the mean and unbiased standard deviation of mags, whose
// largest element is peak.
func meanStd(mags []float64, peak float64) (mean, std float64) {
	if len(mags) == 1 {
		return finite(mags[0]), 0
	}
	if peak == 0 || math.IsInf(peak, 0) || math.IsNaN(peak) {
		return 0, 0
	}
	scaled := make([]float64, len(mags))
	copy(scaled, mags)
	floats.Scale(1/peak, scaled)
	mean, std = stat.MeanStdDev(scaled, nil)
	return finite(mean * peak), finite(std * peak)
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
