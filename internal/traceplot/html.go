package traceplot

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trace.report/internal/series"
)

// AssetsHost serves the echarts javascript for rendered pages.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ErrNoTraces is returned when none of the requested keys has a series.
var ErrNoTraces = errors.New("traceplot: no matching traces")

// RenderHTML writes an interactive line chart of the given keys. Each series
// is down-sampled by stride to at most maxPoints points.
func RenderHTML(w io.Writer, traces map[string]*series.Series, keys []string, title string, maxPoints int) error {
	if maxPoints <= 0 {
		maxPoints = 8000
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "640px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("keys=%d max_points=%d", len(keys), maxPoints)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Scale: opts.Bool(true)}),
	)

	added := 0
	for _, key := range keys {
		s, ok := traces[key]
		if !ok {
			continue
		}
		line.AddSeries(key, lineData(s, maxPoints),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		added++
	}
	if added == 0 {
		return ErrNoTraces
	}
	return line.Render(w)
}

func lineData(s *series.Series, maxPoints int) []opts.LineData {
	ts := s.Timestamps()
	vals := s.Values()

	stride := 1
	if len(vals) > maxPoints {
		stride = int(math.Ceil(float64(len(vals)) / float64(maxPoints)))
	}
	data := make([]opts.LineData, 0, len(vals)/stride+1)
	for i := 0; i < len(vals); i += stride {
		data = append(data, opts.LineData{Value: []interface{}{ts[i], vals[i]}})
	}
	return data
}
