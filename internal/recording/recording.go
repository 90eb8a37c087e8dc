// Package recording loads trial recordings and rebuilds one time series per
// sensor key.
//
// A recording file is a JSON array of packets, or an object with "labels"
// and "data" members where data is that array. Every packet carries a
// millisecond "timestamp"; any other member is a sensor key whose value is a
// number, a boolean, a string or an array of those.
package recording

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/monitoring"
	"github.com/banshee-data/trace.report/internal/series"
)

var (
	// ErrNoPackets is returned for a recording without packets.
	ErrNoPackets = errors.New("recording has no packets")
	// ErrMissingTimestamp is returned when a packet lacks a numeric timestamp.
	ErrMissingTimestamp = errors.New("packet has no numeric timestamp")
)

// TimestampKey is the packet member holding the packet time in milliseconds.
const TimestampKey = "timestamp"

type packet map[string]interface{}

// Recording is one loaded trial.
type Recording struct {
	Path   string
	Labels *Labels
	// Keys lists every key seen in any packet, sorted.
	Keys []string
	// Series holds the keys whose series could be built.
	Series map[string]*series.Series
	// BuildErrors holds the keys whose series could not be built.
	BuildErrors map[string]error
	PacketCount int
	// Repaired is set when a truncated packet array was closed on load.
	Repaired bool

	labelCount int
}

// Load reads and parses a recording file.
func Load(path string, policy series.CollapsePolicy) (*Recording, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	rec, err := parse(data, filepath.Base(path), policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rec.Path = path
	return rec, nil
}

// Parse decodes a recording held in memory.
func Parse(data []byte, policy series.CollapsePolicy) (*Recording, error) {
	return parse(data, "recording", policy)
}

func parse(data []byte, name string, policy series.CollapsePolicy) (*Recording, error) {
	data, repaired := repairTruncated(data)
	if repaired {
		monitoring.Logf("%s: closed truncated packet array", name)
	}

	rec := &Recording{Repaired: repaired}
	var packets []packet

	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return nil, ErrNoPackets
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &packets); err != nil {
			return nil, fmt.Errorf("failed to parse packets: %w", err)
		}
	default:
		var env struct {
			Labels map[string]json.RawMessage `json:"labels"`
			Data   []packet                   `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("failed to parse recording: %w", err)
		}
		packets = env.Data
		rec.labelCount = len(env.Labels)
		if env.Labels != nil {
			raw, err := json.Marshal(env.Labels)
			if err != nil {
				return nil, err
			}
			rec.Labels = &Labels{}
			if err := json.Unmarshal(raw, rec.Labels); err != nil {
				return nil, fmt.Errorf("failed to parse labels: %w", err)
			}
		}
	}

	if len(packets) == 0 {
		return nil, ErrNoPackets
	}
	for i, p := range packets {
		if _, ok := p[TimestampKey].(float64); !ok {
			return nil, fmt.Errorf("packet %d: %w", i, ErrMissingTimestamp)
		}
	}

	rec.PacketCount = len(packets)
	rec.Keys = collectKeys(packets)
	rec.build(name, packets, policy)
	return rec, nil
}

// repairTruncated closes a packet array left open by a recorder that stopped
// mid-write. A dangling comma before the cut is dropped.
func repairTruncated(data []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' || trimmed[len(trimmed)-1] == ']' {
		return data, false
	}
	fixed := bytes.TrimRight(trimmed, ", \t\r\n")
	out := make([]byte, 0, len(fixed)+1)
	out = append(out, fixed...)
	out = append(out, ']')
	return out, true
}

func collectKeys(packets []packet) []string {
	seen := make(map[string]struct{})
	for _, p := range packets {
		for k := range p {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// build constructs every key's series concurrently and waits for all of them.
func (r *Recording) build(name string, packets []packet, policy series.CollapsePolicy) {
	type result struct {
		s   *series.Series
		err error
	}
	results := make([]result, len(r.Keys))

	var wg sync.WaitGroup
	for i, key := range r.Keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			values, anchors := extract(packets, key)
			s, err := series.New(values, anchors, policy)
			results[i] = result{s: s, err: err}
		}(i, key)
	}
	wg.Wait()

	r.Series = make(map[string]*series.Series, len(r.Keys))
	r.BuildErrors = make(map[string]error)
	for i, key := range r.Keys {
		if err := results[i].err; err != nil {
			monitoring.Logf("%s: skipping trace %s: %v", name, key, err)
			r.BuildErrors[key] = err
			continue
		}
		r.Series[key] = results[i].s
	}
}

// extract collects a key's samples across all packets. Every packet adds an
// anchor at the number of samples seen before it, whether or not it carries
// the key.
func extract(packets []packet, key string) ([]float64, []series.Anchor) {
	values := make([]float64, 0, len(packets))
	anchors := make([]series.Anchor, 0, len(packets))
	codes := make(map[string]float64)

	appendScalar := func(v interface{}) {
		switch x := v.(type) {
		case float64:
			values = append(values, x)
		case bool:
			if x {
				values = append(values, 1)
			} else {
				values = append(values, 0)
			}
		case string:
			code, ok := codes[x]
			if !ok {
				code = float64(len(codes))
				codes[x] = code
			}
			values = append(values, code)
		}
	}

	for _, p := range packets {
		anchors = append(anchors, series.Anchor{
			Index:       len(values),
			TimestampMs: p[TimestampKey].(float64),
		})
		v, ok := p[key]
		if !ok {
			continue
		}
		if arr, isArr := v.([]interface{}); isArr {
			for _, e := range arr {
				appendScalar(e)
			}
			continue
		}
		appendScalar(v)
	}
	return values, anchors
}

// LabelsPresent reports whether the file carried a non-empty labels object.
func (r *Recording) LabelsPresent() bool {
	return r.Labels != nil && r.labelCount > 0
}

// Validate runs v over the recording's series.
func (r *Recording) Validate(v *integrity.Validator) integrity.Verdict {
	return v.Validate(integrity.TracesOf(r.Series), r.LabelsPresent())
}

// SeriesStats summarises one reconstructed series.
type SeriesStats struct {
	Key           string  `json:"key"`
	Samples       int     `json:"samples"`
	Updates       int     `json:"updates"`
	SampleRateHz  float64 `json:"sample_rate_hz"`
	MaxUpdateGapS float64 `json:"max_update_gap_s"`
	DurationS     float64 `json:"duration_s"`
}

// MarshalJSON writes an infinite gap, the gap of a constant signal, as null.
func (s SeriesStats) MarshalJSON() ([]byte, error) {
	type plain SeriesStats
	out := struct {
		plain
		MaxUpdateGapS *float64 `json:"max_update_gap_s"`
	}{plain: plain(s)}
	if !math.IsInf(s.MaxUpdateGapS, 0) {
		out.MaxUpdateGapS = &s.MaxUpdateGapS
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null gap back as +Inf.
func (s *SeriesStats) UnmarshalJSON(data []byte) error {
	type plain SeriesStats
	in := struct {
		*plain
		MaxUpdateGapS *float64 `json:"max_update_gap_s"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.MaxUpdateGapS = math.Inf(1)
	if in.MaxUpdateGapS != nil {
		s.MaxUpdateGapS = *in.MaxUpdateGapS
	}
	return nil
}

// Stats returns a summary of every built series, sorted by key.
func (r *Recording) Stats() []SeriesStats {
	out := make([]SeriesStats, 0, len(r.Series))
	for _, key := range r.Keys {
		s, ok := r.Series[key]
		if !ok {
			continue
		}
		out = append(out, SeriesStats{
			Key:           key,
			Samples:       s.Len(),
			Updates:       len(s.UpdateIndices()),
			SampleRateHz:  s.SampleRate(),
			MaxUpdateGapS: s.MaxUpdateGap(),
			DurationS:     s.TotalDuration(),
		})
	}
	return out
}
