package peaks

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioSamples is the five-row table used by the worked examples: the
// strongest peak at t=1, a second one at t=10 and weaker neighbours.
func scenarioSamples() []Record {
	return []Record{
		{Time: 0, X: 0.1, Y: 1.1, Speed: 3.0, Accel: 1},
		{Time: 1, X: 0.2, Y: 1.2, Speed: 3.1, Accel: 9},
		{Time: 2, X: 0.3, Y: 1.3, Speed: 3.2, Accel: 3},
		{Time: 10, X: 0.4, Y: 1.4, Speed: 3.3, Accel: 8},
		{Time: 11, X: 0.5, Y: 1.5, Speed: 3.4, Accel: 2},
	}
}

func times(sel []Selected) []float64 {
	out := make([]float64, len(sel))
	for i, s := range sel {
		out[i] = s.Time
	}
	return out
}

func TestSelect_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		targetCount int
		minGap      float64
		want        []Selected
	}{
		{
			name:        "two peaks five apart",
			targetCount: 2,
			minGap:      5,
			want: []Selected{
				{Time: 1, Y: 1.2, X: 0.2, Speed: 3.1, Magnitude: 9},
				{Time: 10, Y: 1.4, X: 0.4, Speed: 3.3, Magnitude: 8},
			},
		},
		{
			name:        "gap wider than the series",
			targetCount: 2,
			minGap:      20,
			want: []Selected{
				{Time: 1, Y: 1.2, X: 0.2, Speed: 3.1, Magnitude: 9},
			},
		},
		{
			name:        "single pick",
			targetCount: 1,
			minGap:      0,
			want: []Selected{
				{Time: 1, Y: 1.2, X: 0.2, Speed: 3.1, Magnitude: 9},
			},
		},
		{
			name:        "more requested than fit",
			targetCount: 10,
			minGap:      5,
			want: []Selected{
				{Time: 1, Y: 1.2, X: 0.2, Speed: 3.1, Magnitude: 9},
				{Time: 10, Y: 1.4, X: 0.4, Speed: 3.3, Magnitude: 8},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(scenarioSamples(), tt.targetCount, tt.minGap)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelect_InvalidArguments(t *testing.T) {
	tests := []struct {
		name        string
		samples     []Record
		targetCount int
		minGap      float64
	}{
		{"empty input", nil, 2, 5},
		{"zero target count", scenarioSamples(), 0, 5},
		{"negative target count", scenarioSamples(), -3, 5},
		{"negative gap", scenarioSamples(), 2, -0.5},
		{"NaN gap", scenarioSamples(), 2, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.samples, tt.targetCount, tt.minGap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "error %v should wrap ErrInvalidArgument", err)
			assert.Nil(t, got)
		})
	}
}

func TestSelect_Baseline(t *testing.T) {
	samples := []Record{
		{Time: 0, Accel: 9.81},
		{Time: 1, Accel: 12.0},
		{Time: 2, Accel: 0.5},
		{Time: 3, Accel: 9.9},
	}

	raw, err := NewSelector(Config{}).Select(samples, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 0, 2}, times(raw))

	offset, err := NewSelector(Config{Baseline: 9.81}).Select(samples, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 3, 0}, times(offset))
	assert.InDelta(t, 9.31, offset[0].Magnitude, 1e-9)
	assert.InDelta(t, 0, offset[3].Magnitude, 1e-9)

	// Inputs are left untouched.
	assert.Equal(t, 9.81, samples[0].Accel)
}

func TestSelect_TiesKeepInputOrder(t *testing.T) {
	samples := []Record{
		{Time: 5, Accel: 4},
		{Time: 0, Accel: 4},
		{Time: 9, Accel: -4},
		{Time: 2, Accel: 1},
	}
	got, err := Select(samples, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 0, 9, 2}, times(got))
}

func TestSelect_RankSkip(t *testing.T) {
	// B is rejected against A; C is clear of A but within the gap of B.
	samples := []Record{
		{Time: 0, Accel: 10},
		{Time: 3, Accel: 9},
		{Time: 6, Accel: 8},
	}

	got, err := NewSelector(Config{}).Select(samples, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 6}, times(got))

	legacy, err := NewSelector(Config{LegacyRankSkip: true}).Select(samples, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, times(legacy))
}

func TestSelect_LegacyMatchesDefaultWhenNeighboursPicked(t *testing.T) {
	got, err := NewSelector(Config{}).Select(scenarioSamples(), 2, 5)
	require.NoError(t, err)
	legacy, err := NewSelector(Config{LegacyRankSkip: true}).Select(scenarioSamples(), 2, 5)
	require.NoError(t, err)
	if diff := cmp.Diff(got, legacy); diff != "" {
		t.Errorf("legacy mode diverged (-default +legacy):\n%s", diff)
	}
}

func TestSelect_ZeroGapReturnsEverythingRanked(t *testing.T) {
	samples := scenarioSamples()
	got, err := Select(samples, len(samples)+3, 0)
	require.NoError(t, err)
	require.Len(t, got, len(samples))
	assert.Equal(t, []float64{1, 10, 2, 11, 0}, times(got))
	if diff := cmp.Diff(NewSelector(Config{}).Rank(samples), got); diff != "" {
		t.Errorf("Select with zero gap should equal Rank (-rank +select):\n%s", diff)
	}
}

func TestSelect_UnsortedTimes(t *testing.T) {
	samples := []Record{
		{Time: 30, Accel: 2},
		{Time: 10, Accel: 7},
		{Time: 12, Accel: 6},
		{Time: 0, Accel: 5},
		{Time: 25, Accel: 4},
	}
	got, err := Select(samples, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0, 25}, times(got))
}

func randomSamples(r *rand.Rand, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			Time:  float64(i)*0.5 + r.Float64()*0.1,
			X:     r.Float64(),
			Y:     r.Float64(),
			Speed: r.Float64() * 20,
			// Coarse values so duplicate magnitudes appear.
			Accel: math.Round(r.NormFloat64()*3+9.81) / 2,
		}
	}
	return out
}

func TestSelect_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		samples := randomSamples(r, 1+r.Intn(120))
		target := 1 + r.Intn(15)
		gap := r.Float64() * 6
		cfg := Config{Baseline: []float64{0, 9.81}[iter%2], LegacyRankSkip: iter%3 == 0}
		sel := NewSelector(cfg)

		got, err := sel.Select(samples, target, gap)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(got), target)
		assert.LessOrEqual(t, len(got), len(samples))
		require.NotEmpty(t, got)

		for i := range got {
			assert.GreaterOrEqual(t, got[i].Magnitude, 0.0)
			for j := i + 1; j < len(got); j++ {
				if d := math.Abs(got[i].Time - got[j].Time); d < gap {
					t.Fatalf("iter %d: picks %d and %d are %g apart, gap %g", iter, i, j, d, gap)
				}
			}
			if i > 0 {
				assert.LessOrEqual(t, got[i].Magnitude, got[i-1].Magnitude)
			}
		}

		// The first pick is the first sample holding the maximum magnitude.
		best := 0
		for i, rec := range samples {
			if Magnitude(rec.Accel, cfg.Baseline) > Magnitude(samples[best].Accel, cfg.Baseline) {
				best = i
			}
		}
		assert.Equal(t, samples[best].Time, got[0].Time)

		again, err := sel.Select(samples, target, gap)
		require.NoError(t, err)
		if diff := cmp.Diff(got, again); diff != "" {
			t.Fatalf("iter %d: repeated call differs:\n%s", iter, diff)
		}
	}
}

func TestSelect_DefaultNeverRejectsAValidCandidate(t *testing.T) {
	// Without legacy skipping the result equals a plain greedy scan over the
	// ranked order.
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 100; iter++ {
		samples := randomSamples(r, 2+r.Intn(80))
		target := 1 + r.Intn(10)
		gap := r.Float64() * 4
		sel := NewSelector(Config{})

		var want []Selected
		for _, cand := range sel.Rank(samples) {
			if len(want) == target {
				break
			}
			ok := true
			for _, p := range want {
				if math.Abs(cand.Time-p.Time) < gap {
					ok = false
					break
				}
			}
			if ok {
				want = append(want, cand)
			}
		}

		got, err := sel.Select(samples, target, gap)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("iter %d: mismatch with greedy scan (-want +got):\n%s", iter, diff)
		}
	}
}

func TestSelectorConfig(t *testing.T) {
	cfg := Config{Baseline: 9.81, LegacyRankSkip: true}
	assert.Equal(t, cfg, NewSelector(cfg).Config())
}

func TestSelectedString(t *testing.T) {
	s := Selected{Time: 1, Y: 2, X: 3, Speed: 4, Magnitude: 5.5}
	assert.Equal(t, "time=1 y=2 x=3 speed=4 magnitude=5.5", s.String())
}

func TestSelect_MagnitudeOverflow(t *testing.T) {
	samples := []Record{{Time: 0, Accel: 1}, {Time: 1, Accel: -1.7e308}}
	got, err := NewSelector(Config{Baseline: 1.7e308}).Select(samples, 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, got)
}
