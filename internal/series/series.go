// Package series reconstructs per-sensor time series from packetised
// recordings.
//
// Every packet in a recording carries one authoritative timestamp, but a
// sensor key may contribute zero, one or many samples to any given packet.
// A Series places each sample on a time axis by interpolating between packet
// anchors, and derives the "update" sub-sequence (samples whose value differs
// from the one before) used to detect stale or silent sensors.
package series

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

var (
	// ErrInsufficientAnchors is returned when the anchors cannot define a
	// recording duration (fewer than two anchors, zero elapsed time, or no
	// usable interpolation knot).
	ErrInsufficientAnchors = errors.New("series: insufficient anchors")

	// ErrEmptySeries is returned when a sensor key has no samples.
	ErrEmptySeries = errors.New("series: no values")

	// ErrAnchorsOutOfOrder is returned when anchor indices decrease.
	ErrAnchorsOutOfOrder = errors.New("series: anchor indices out of order")
)

// Anchor pairs a sample position with the timestamp of the packet that
// produced it. Index is the number of samples of the key that were seen
// before the packet arrived, so consecutive packets without data for the key
// repeat the same index.
type Anchor struct {
	Index       int     `json:"index"`
	TimestampMs float64 `json:"timestamp_ms"`
}

// CollapsePolicy selects which anchor represents a run of anchors sharing
// the same index.
type CollapsePolicy int

const (
	// CollapseFirst keeps the first anchor of each run.
	CollapseFirst CollapsePolicy = iota
	// CollapseLast keeps the last anchor of each run, i.e. the packet that
	// actually delivered the samples starting at that position.
	CollapseLast
)

// String returns the config spelling of the policy.
func (p CollapsePolicy) String() string {
	switch p {
	case CollapseFirst:
		return "first"
	case CollapseLast:
		return "last"
	default:
		return fmt.Sprintf("CollapsePolicy(%d)", int(p))
	}
}

// ParseCollapsePolicy parses "first" or "last". The empty string maps to
// CollapseFirst.
func ParseCollapsePolicy(s string) (CollapsePolicy, error) {
	switch s {
	case "", "first":
		return CollapseFirst, nil
	case "last":
		return CollapseLast, nil
	default:
		return CollapseFirst, fmt.Errorf("unknown anchor collapse policy %q (want first or last)", s)
	}
}

// Series is one sensor's reconstructed time series. It is immutable after
// construction and safe for concurrent reads; accessors return copies.
type Series struct {
	values     []float64
	anchors    []Anchor
	timestamps []float64
	totalTime  float64
	sampleRate float64

	updateIdxs       []int
	updateTimestamps []float64
	updateValues     []float64
	maxUpdateGap     float64
}

// New builds a Series from the values of one sensor key and the anchors of
// every packet in the recording.
func New(values []float64, anchors []Anchor, policy CollapsePolicy) (*Series, error) {
	if len(anchors) < 2 {
		return nil, fmt.Errorf("%w: got %d, need at least 2", ErrInsufficientAnchors, len(anchors))
	}
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	for i := 1; i < len(anchors); i++ {
		if anchors[i].Index < anchors[i-1].Index {
			return nil, fmt.Errorf("%w: index %d follows %d at anchor %d",
				ErrAnchorsOutOfOrder, anchors[i].Index, anchors[i-1].Index, i)
		}
	}

	first := anchors[0]
	last := anchors[len(anchors)-1]
	total := (last.TimestampMs - first.TimestampMs) / 1000
	if total <= 0 {
		return nil, fmt.Errorf("%w: recording spans %.3fs", ErrInsufficientAnchors, total)
	}

	s := &Series{
		values:     append([]float64(nil), values...),
		anchors:    append([]Anchor(nil), anchors...),
		totalTime:  total,
		sampleRate: float64(len(values)) / total,
	}

	ts, err := interpolate(len(values), anchors, policy)
	if err != nil {
		return nil, err
	}
	for i := range ts {
		ts[i] = (ts[i] - first.TimestampMs) / 1000
	}
	s.timestamps = ts

	s.updateIdxs = updateIndices(s.values)
	s.updateTimestamps = make([]float64, len(s.updateIdxs))
	s.updateValues = make([]float64, len(s.updateIdxs))
	for i, idx := range s.updateIdxs {
		s.updateTimestamps[i] = s.timestamps[idx]
		s.updateValues[i] = s.values[idx]
	}
	s.maxUpdateGap = maxGap(s.updateTimestamps, total)

	return s, nil
}

// FromTimestamps builds a Series from values with known per-sample offsets
// in seconds. Each sample becomes its own packet anchor.
func FromTimestamps(values, seconds []float64) (*Series, error) {
	if len(values) != len(seconds) {
		return nil, fmt.Errorf("series: %d values but %d timestamps", len(values), len(seconds))
	}
	anchors := make([]Anchor, len(seconds))
	for i, t := range seconds {
		anchors[i] = Anchor{Index: i, TimestampMs: 1000 * t}
	}
	return New(values, anchors, CollapseFirst)
}

// knots collapses the anchors into strictly increasing (index, timestamp)
// interpolation knots.
func knots(n int, anchors []Anchor, policy CollapsePolicy) (xs, ys []float64) {
	runStart := 0
	for i := 0; i+1 < len(anchors); i++ {
		if anchors[i].Index == anchors[i+1].Index {
			continue
		}
		rep := anchors[i]
		if policy == CollapseFirst {
			rep = anchors[runStart]
		}
		xs = append(xs, float64(rep.Index))
		ys = append(ys, rep.TimestampMs)
		runStart = i + 1
	}

	last := anchors[len(anchors)-1]
	if n > last.Index {
		xs = append(xs, float64(last.Index))
		ys = append(ys, last.TimestampMs)
	}
	return xs, ys
}

// interpolate returns the absolute timestamp in milliseconds of every sample
// position 0..n-1. Positions outside the knot range are extrapolated along
// the first or last segment.
func interpolate(n int, anchors []Anchor, policy CollapsePolicy) ([]float64, error) {
	xs, ys := knots(n, anchors, policy)
	out := make([]float64, n)

	switch len(xs) {
	case 0:
		return nil, fmt.Errorf("%w: no anchor precedes the %d samples", ErrInsufficientAnchors, n)
	case 1:
		for i := range out {
			out[i] = ys[0]
		}
		return out, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("series: fit anchors: %w", err)
	}

	k := len(xs) - 1
	headSlope := (ys[1] - ys[0]) / (xs[1] - xs[0])
	tailSlope := (ys[k] - ys[k-1]) / (xs[k] - xs[k-1])
	for i := range out {
		x := float64(i)
		switch {
		case x < xs[0]:
			out[i] = ys[0] + (x-xs[0])*headSlope
		case x > xs[k]:
			out[i] = ys[k] + (x-xs[k])*tailSlope
		default:
			out[i] = pl.Predict(x)
		}
	}
	return out, nil
}

// updateIndices returns the positions whose value differs from the previous
// one. Position 0 is always an update.
func updateIndices(values []float64) []int {
	idxs := []int{0}
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// maxGap returns the longest silence between updates, counting the recording
// boundaries at 0 and total. A sensor that never changed value has no
// measurable gap and reports +Inf.
func maxGap(updateTimestamps []float64, total float64) float64 {
	if len(updateTimestamps) < 2 {
		return math.Inf(1)
	}
	ts := make([]float64, 0, len(updateTimestamps)+2)
	if updateTimestamps[0] > 0 {
		ts = append(ts, 0)
	}
	ts = append(ts, updateTimestamps...)
	if updateTimestamps[len(updateTimestamps)-1] < total {
		ts = append(ts, total)
	}
	diffs := make([]float64, len(ts)-1)
	for i := range diffs {
		diffs[i] = ts[i+1] - ts[i]
	}
	return floats.Max(diffs)
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.values) }

// Values returns the raw samples in chronological order.
func (s *Series) Values() []float64 { return append([]float64(nil), s.values...) }

// Anchors returns the packet anchors the series was built from.
func (s *Series) Anchors() []Anchor { return append([]Anchor(nil), s.anchors...) }

// Timestamps returns each sample's offset in seconds since the first anchor.
func (s *Series) Timestamps() []float64 { return append([]float64(nil), s.timestamps...) }

// UniformTimestamps spreads the samples evenly over the recording duration,
// ignoring packet timing. Useful to compare against Timestamps when a sensor
// stalls mid-recording.
func (s *Series) UniformTimestamps() []float64 {
	out := make([]float64, len(s.values))
	if len(out) == 1 {
		return out
	}
	floats.Span(out, 0, s.totalTime)
	return out
}

// TotalDuration returns the seconds between the first and last raw anchor.
func (s *Series) TotalDuration() float64 { return s.totalTime }

// SampleRate returns the mean sample rate in Hz over the recording.
func (s *Series) SampleRate() float64 { return s.sampleRate }

// UpdateIndices returns the sample positions where the value changed.
func (s *Series) UpdateIndices() []int { return append([]int(nil), s.updateIdxs...) }

// UpdateTimestamps returns the timestamps of the updates, in seconds.
func (s *Series) UpdateTimestamps() []float64 {
	return append([]float64(nil), s.updateTimestamps...)
}

// UpdateValues returns the values at the updates.
func (s *Series) UpdateValues() []float64 { return append([]float64(nil), s.updateValues...) }

// MaxUpdateGap returns the longest stretch in seconds without a value change,
// including the stretches before the first and after the last update. A
// constant series reports +Inf.
func (s *Series) MaxUpdateGap() float64 { return s.maxUpdateGap }
