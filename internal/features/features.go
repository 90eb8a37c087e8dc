// Package features cuts reconstructed accelerometer series into overlapping
// windows and summarises each one.
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trace.report/internal/series"
)

// ErrNoWindows is returned when a signal is too short for a single window.
var ErrNoWindows = errors.New("features: signal shorter than one window")

// WindowConfig sizes the windows.
type WindowConfig struct {
	SampleRateHz float64
	WindowS      float64
	// Overlap is the fraction of a window shared with the next, in [0, 1).
	Overlap float64
}

// DefaultWindowConfig returns 3 s windows at 200 Hz with 50% overlap.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{SampleRateHz: 200, WindowS: 3, Overlap: 0.5}
}

func (c WindowConfig) size() (window, hop int, err error) {
	if c.SampleRateHz <= 0 || c.WindowS <= 0 {
		return 0, 0, fmt.Errorf("window needs a positive rate and length, got %gHz and %gs", c.SampleRateHz, c.WindowS)
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return 0, 0, fmt.Errorf("overlap must be in [0, 1), got %g", c.Overlap)
	}
	window = int(math.Round(c.WindowS * c.SampleRateHz))
	hop = int(math.Round(float64(window) * (1 - c.Overlap)))
	if window < 1 || hop < 1 {
		return 0, 0, fmt.Errorf("window of %d samples with hop %d is empty", window, hop)
	}
	return window, hop, nil
}

// Segment cuts signal into windows. Windows start at 0, hop, 2*hop, ... while
// the start is below len(signal)-window, so a window ending exactly at the
// last sample is not emitted. The windows alias signal.
func Segment(signal []float64, cfg WindowConfig) ([][]float64, error) {
	window, hop, err := cfg.size()
	if err != nil {
		return nil, err
	}
	var out [][]float64
	for s := 0; s < len(signal)-window; s += hop {
		out = append(out, signal[s:s+window:s+window])
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d samples, window %d", ErrNoWindows, len(signal), window)
	}
	return out, nil
}

// Summary holds the statistics of one window.
type Summary struct {
	StartS float64 `json:"start_s"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	RMS    float64 `json:"rms"`
}

// Summarize computes the statistics of a non-empty window.
func Summarize(window []float64) Summary {
	mean, std := stat.MeanStdDev(window, nil)
	if len(window) < 2 {
		std = 0
	}
	return Summary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(window),
		Max:    floats.Max(window),
		RMS:    floats.Norm(window, 2) / math.Sqrt(float64(len(window))),
	}
}

// AccelKeys names the board accelerometer axes.
var AccelKeys = [3]string{"ax", "ay", "az"}

// Extract computes the acceleration magnitude from the three accelerometer
// series, preprocesses it, and summarises every window. Window start times
// are taken from the reconstructed timestamps of the x axis.
func Extract(traces map[string]*series.Series, cfg WindowConfig) ([]Summary, error) {
	var axes [3][]float64
	for i, key := range AccelKeys {
		s, ok := traces[key]
		if !ok {
			return nil, fmt.Errorf("features: trace %s missing", key)
		}
		axes[i] = s.Values()
	}
	mag, err := Magnitude(axes[0], axes[1], axes[2])
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}

	windows, err := Segment(Preprocess(mag), cfg)
	if err != nil {
		return nil, err
	}
	_, hop, _ := cfg.size()
	ts := traces[AccelKeys[0]].Timestamps()

	out := make([]Summary, len(windows))
	for i, w := range windows {
		out[i] = Summarize(w)
		out[i].StartS = ts[i*hop]
	}
	return out, nil
}

func norm3(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}
