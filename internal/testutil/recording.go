package testutil

import (
	"encoding/json"
	"math"
)

// TraceFixture is one generated sensor key.
type TraceFixture struct {
	Key    string
	RateHz float64
	// Value returns sample i. Nil cycles through 0..6 so every sample is an
	// update.
	Value func(i int) float64
	// Scalar writes single samples as plain numbers instead of arrays.
	Scalar bool
}

// RecordingFixture generates recording JSON with packets at a fixed rate.
type RecordingFixture struct {
	StartMs   float64
	DurationS float64
	PacketHz  float64
	Traces    []TraceFixture
	// Labels are written in the {labels, data} envelope when non-nil.
	Labels map[string]interface{}
}

// Packets returns the generated packets.
func (f RecordingFixture) Packets() []map[string]interface{} {
	packetHz := f.PacketHz
	if packetHz <= 0 {
		packetHz = 12.5
	}
	last := int(math.Round(f.DurationS * packetHz))
	packets := make([]map[string]interface{}, 0, last+1)
	emitted := make([]int, len(f.Traces))

	for p := 0; p <= last; p++ {
		pkt := map[string]interface{}{
			"timestamp": f.StartMs + float64(p)*1000/packetHz,
		}
		for ti, tr := range f.Traces {
			due := int(math.Floor(float64(p+1) * tr.RateHz / packetHz))
			var vals []float64
			for ; emitted[ti] < due; emitted[ti]++ {
				i := emitted[ti]
				v := float64(i % 7)
				if tr.Value != nil {
					v = tr.Value(i)
				}
				vals = append(vals, v)
			}
			switch {
			case len(vals) == 0:
			case tr.Scalar && len(vals) == 1:
				pkt[tr.Key] = vals[0]
			default:
				pkt[tr.Key] = vals
			}
		}
		packets = append(packets, pkt)
	}
	return packets
}

// JSON encodes the recording as a recorder would write it.
func (f RecordingFixture) JSON() []byte {
	var v interface{} = f.Packets()
	if f.Labels != nil {
		v = map[string]interface{}{"labels": f.Labels, "data": v}
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ValidLabels returns a complete, in-range labels object.
func ValidLabels() map[string]interface{} {
	return map[string]interface{}{
		"board_loc":   1,
		"path_idx":    2,
		"activities":  []int{0, 1},
		"gender":      "n/a",
		"body_height": 175,
		"legi":        "1234567890",
	}
}

// HealthyRecording returns a labelled recording of the given length whose
// traces satisfy the default sensor rule table.
func HealthyRecording(durationS float64) RecordingFixture {
	f := RecordingFixture{
		StartMs:   1_700_000_000_000,
		DurationS: durationS,
		PacketHz:  12.5,
		Labels:    ValidLabels(),
	}
	add := func(rate float64, scalar bool, keys ...string) {
		for _, k := range keys {
			f.Traces = append(f.Traces, TraceFixture{Key: k, RateHz: rate, Scalar: scalar})
		}
	}
	add(12.5, true, "packetNumber", "mx", "my", "mz", "temperature")
	add(200, false, "ax", "ay", "az", "gx", "gy", "gz")
	add(1, true, "longitude", "latitude", "altitude", "speed", "bearing", "phone_pressure")
	add(50, false,
		"phone_ax", "phone_ay", "phone_az", "phone_gx", "phone_gy", "phone_gz",
		"phone_mx", "phone_my", "phone_mz",
		"phone_gravx", "phone_gravy", "phone_gravz",
		"phone_lax", "phone_lay", "phone_laz",
		"phone_rotx", "phone_roty", "phone_rotz", "phone_rotm",
		"phone_orientationx", "phone_orientationy", "phone_orientationz")
	return f
}

// Without returns a copy of f lacking the named traces.
func (f RecordingFixture) Without(keys ...string) RecordingFixture {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := f
	out.Traces = nil
	for _, tr := range f.Traces {
		if !drop[tr.Key] {
			out.Traces = append(out.Traces, tr)
		}
	}
	return out
}
