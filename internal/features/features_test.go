package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trace.report/internal/series"
)

func TestBiquad_Apply(t *testing.T) {
	t.Parallel()

	t.Run("identity starts at index two", func(t *testing.T) {
		f := Biquad{B: [3]float64{1, 0, 0}, A: [3]float64{1, 0, 0}}
		assert.Equal(t, []float64{0, 0, 3, 4, 5}, f.Apply([]float64{1, 2, 3, 4, 5}))
	})

	t.Run("recursion", func(t *testing.T) {
		f := Biquad{B: [3]float64{1, 1, 0}, A: [3]float64{1, 0.5, 0}}
		// y2 = 3 + 2 = 5, y3 = 4 + 3 - 0.5*5 = 4.5
		assert.InDeltaSlice(t, []float64{0, 0, 5, 4.5}, f.Apply([]float64{1, 2, 3, 4}), 1e-12)
	})

	t.Run("output scale", func(t *testing.T) {
		f := Biquad{B: [3]float64{1, 0, 0}, A: [3]float64{2, 0, 0}}
		assert.Equal(t, []float64{0, 0, 6}, f.Apply([]float64{1, 2, 3}))
	})

	t.Run("short input", func(t *testing.T) {
		assert.Equal(t, []float64{0, 0}, LowPassFilter.Apply([]float64{7, 8}))
		assert.Empty(t, LowPassFilter.Apply(nil))
	})

	t.Run("does not modify input", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		HighPassFilter.Apply(x)
		assert.Equal(t, []float64{1, 2, 3, 4}, x)
	})
}

func TestPresets_AreStable(t *testing.T) {
	t.Parallel()

	x := make([]float64, 20000)
	for i := range x {
		x[i] = 9.81
	}
	for name, f := range map[string]Biquad{"gravity": GravityFilter, "highpass": HighPassFilter, "lowpass": LowPassFilter} {
		y := f.Apply(x)
		for i, v := range y {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s: sample %d not finite", name, i)
			require.Less(t, math.Abs(v), 100.0, "%s: sample %d diverged", name, i)
		}
	}
}

func TestMagnitude(t *testing.T) {
	t.Parallel()

	m, err := Magnitude([]float64{3, 0}, []float64{4, 0}, []float64{0, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2}, m)

	_, err = Magnitude([]float64{1}, []float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestPreprocess(t *testing.T) {
	t.Parallel()

	signal := make([]float64, 2000)
	for i := range signal {
		signal[i] = 9.81 + math.Sin(2*math.Pi*2*float64(i)/200)
	}
	out := Preprocess(signal)
	require.Len(t, out, len(signal))
	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 0.0, out[1])
	for _, v := range out {
		require.False(t, math.IsNaN(v))
	}
	// The step-frequency oscillation survives the band-pass.
	late := out[1000:]
	assert.Greater(t, Summarize(late).StdDev, 0.0)
}

func TestSegment(t *testing.T) {
	t.Parallel()

	signal := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	cfg := WindowConfig{SampleRateHz: 1, WindowS: 4, Overlap: 0.5}

	windows, err := Segment(signal, cfg)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1, 2, 3}, {2, 3, 4, 5}, {4, 5, 6, 7}}, windows)

	// A window ending on the last sample is not emitted.
	windows, err = Segment(signal[:8], cfg)
	require.NoError(t, err)
	assert.Len(t, windows, 2)

	_, err = Segment(signal[:4], cfg)
	assert.True(t, errors.Is(err, ErrNoWindows))

	// Appending to a window must not clobber the next one.
	windows, err = Segment(signal, cfg)
	require.NoError(t, err)
	_ = append(windows[0], 99)
	assert.Equal(t, 4.0, windows[1][2])
}

func TestSegment_DefaultConfig(t *testing.T) {
	t.Parallel()

	windows, err := Segment(make([]float64, 26000), DefaultWindowConfig())
	require.NoError(t, err)
	assert.Len(t, windows, 85)
	for _, w := range windows {
		assert.Len(t, w, 600)
	}
}

func TestSegment_BadConfig(t *testing.T) {
	t.Parallel()

	for _, cfg := range []WindowConfig{
		{SampleRateHz: 0, WindowS: 3},
		{SampleRateHz: 200, WindowS: -1},
		{SampleRateHz: 200, WindowS: 3, Overlap: 1},
		{SampleRateHz: 200, WindowS: 3, Overlap: -0.1},
		{SampleRateHz: 1, WindowS: 0.1},
	} {
		_, err := Segment(make([]float64, 100), cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.StdDev, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, math.Sqrt(7.5), s.RMS, 1e-12)

	one := Summarize([]float64{5})
	assert.Equal(t, Summary{Mean: 5, Min: 5, Max: 5, RMS: 5}, one)
}

func accelTraces(t *testing.T, n int, rate float64) map[string]*series.Series {
	t.Helper()
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) / rate
	}
	out := make(map[string]*series.Series)
	for axis, key := range AccelKeys {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(axis) + math.Sin(float64(i)/10)
		}
		s, err := series.FromTimestamps(vals, ts)
		require.NoError(t, err)
		out[key] = s
	}
	return out
}

func TestExtract(t *testing.T) {
	t.Parallel()

	traces := accelTraces(t, 2000, 200)
	summaries, err := Extract(traces, DefaultWindowConfig())
	require.NoError(t, err)
	require.Len(t, summaries, 5)
	for i, s := range summaries {
		assert.InDelta(t, 1.5*float64(i), s.StartS, 1e-9)
		assert.LessOrEqual(t, s.Min, s.Mean)
		assert.GreaterOrEqual(t, s.Max, s.Mean)
	}
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()

	traces := accelTraces(t, 2000, 200)
	delete(traces, "az")
	_, err := Extract(traces, DefaultWindowConfig())
	assert.Error(t, err)

	short := accelTraces(t, 400, 200)
	_, err = Extract(short, DefaultWindowConfig())
	assert.True(t, errors.Is(err, ErrNoWindows))

	mismatched := accelTraces(t, 2000, 200)
	mismatched["ay"] = accelTraces(t, 1000, 200)["ay"]
	_, err = Extract(mismatched, DefaultWindowConfig())
	assert.Error(t, err)
}
