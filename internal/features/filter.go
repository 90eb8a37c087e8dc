package features

import "fmt"

// Biquad is a second-order IIR filter in direct form I. A[0] scales the
// output and is normally 1.
type Biquad struct {
	B [3]float64
	A [3]float64
}

// Filter presets tuned for 200 Hz accelerometer data.
var (
	// GravityFilter isolates the slowly varying gravity component.
	GravityFilter = Biquad{
		B: [3]float64{0.000086384997973502, 0.00012769995947004, 0.000086384997973502},
		A: [3]float64{1, -1.979133761292768, 0.979521463540373},
	}
	// HighPassFilter removes drift below walking cadence.
	HighPassFilter = Biquad{
		B: [3]float64{0.953986986993339, -1.907503180919730, 0.953986986993339},
		A: [3]float64{1, -1.905384612118461, 0.910092542787947},
	}
	// LowPassFilter removes sensor noise above step frequencies.
	LowPassFilter = Biquad{
		B: [3]float64{0.096665967120306, -0.172688631608676, 0.095465967120306},
		A: [3]float64{1, -1.80898117793047, 0.827224480562408},
	}
)

// Apply filters x and returns a new slice. The first two outputs are zero;
// the recursion starts at index 2 with zero history.
func (f Biquad) Apply(x []float64) []float64 {
	y := make([]float64, len(x))
	for i := 2; i < len(x); i++ {
		y[i] = f.A[0] * (x[i]*f.B[0] + x[i-1]*f.B[1] + x[i-2]*f.B[2] - y[i-1]*f.A[1] - y[i-2]*f.A[2])
	}
	return y
}

// Magnitude returns the per-sample Euclidean norm of three axes.
func Magnitude(x, y, z []float64) ([]float64, error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, fmt.Errorf("axis lengths differ: %d, %d, %d", len(x), len(y), len(z))
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = norm3(x[i], y[i], z[i])
	}
	return out, nil
}

// Preprocess turns a raw acceleration signal into a band-limited signal in
// the direction of gravity: the gravity component is estimated and removed,
// the remaining user acceleration is projected onto it, and the result is
// high-pass then low-pass filtered.
func Preprocess(signal []float64) []float64 {
	gravity := GravityFilter.Apply(signal)
	projected := make([]float64, len(signal))
	for i, v := range signal {
		projected[i] = (v - gravity[i]) * gravity[i]
	}
	return LowPassFilter.Apply(HighPassFilter.Apply(projected))
}
