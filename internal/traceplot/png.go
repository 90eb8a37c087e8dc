// Package traceplot renders reconstructed sensor series as PNG figures and
// interactive HTML charts.
package traceplot

import (
	"fmt"
	"image/color"
	"os"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trace.report/internal/security"
	"github.com/banshee-data/trace.report/internal/series"
)

// DefaultGroups are the key groups plotted for a board recording, one figure
// per group.
var DefaultGroups = [][]string{
	{"ax", "ay", "az"},
	{"gx", "gy", "gz"},
	{"mx", "my", "mz"},
	{"phone_ax", "phone_ay", "phone_az"},
	{"longitude", "latitude"},
}

// SavePNG writes one PNG per key group into dir, named after name and the
// group's keys. Keys without a series are skipped, as are groups with no
// series at all. It returns the written paths.
func SavePNG(traces map[string]*series.Series, groups [][]string, name, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	var written []string
	for _, group := range groups {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s: %s", name, strings.Join(group, ", "))
		p.X.Label.Text = "Time [s]"
		p.Y.Label.Text = "Value"

		colors := generateColors(len(group))
		lines := 0
		for i, key := range group {
			s, ok := traces[key]
			if !ok {
				continue
			}
			line, err := plotter.NewLine(xys(s))
			if err != nil {
				return written, fmt.Errorf("plot %s: %w", key, err)
			}
			line.Color = colors[i]
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(key, line)
			lines++
		}
		if lines == 0 {
			continue
		}
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10

		file, err := security.OutputPath(dir, name+"_"+strings.Join(group, "-"), ".png")
		if err != nil {
			return written, err
		}
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", file, err)
		}
		written = append(written, file)
	}
	return written, nil
}

func xys(s *series.Series) plotter.XYs {
	ts := s.Timestamps()
	vals := s.Values()
	pts := make(plotter.XYs, len(vals))
	for i := range vals {
		pts[i] = plotter.XY{X: ts[i], Y: vals[i]}
	}
	return pts
}

// generateColors creates a palette of distinct colors for the lines of one
// figure.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
