package chart

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/peaks"
)

// AssetsHost overrides where the echarts scripts are loaded from. Empty
// keeps the go-echarts default CDN.
var AssetsHost = ""

// WriteHTML renders magnitude over time as an interactive line chart with
// the selection as a scatter overlay.
func WriteHTML(w io.Writer, samples []peaks.Record, selection []peaks.Selected, o Options) error {
	if len(samples) == 0 {
		return ErrNoData
	}

	pts := trace(samples, o.Config)
	lineData := make([]opts.LineData, len(pts))
	for i, pt := range pts {
		lineData[i] = opts.LineData{Value: []interface{}{pt.t, pt.m}}
	}

	peakData := make([]opts.ScatterData, len(selection))
	for i, s := range selection {
		peakData[i] = opts.ScatterData{
			Name:  fmt.Sprintf("#%d t=%g", i+1, s.Time),
			Value: []interface{}{s.Time, s.Magnitude, s.Speed},
		}
	}

	subtitle := o.Subtitle
	if subtitle == "" {
		subtitle = fmt.Sprintf("samples=%d selected=%d baseline=%g", len(samples), len(selection), o.Config.Baseline)
	}

	init := opts.Initialization{PageTitle: o.title(), Width: "100%", Height: "600px"}
	if AssetsHost != "" {
		init.AssetsHost = AssetsHost
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: o.title(), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Magnitude", NameLocation: "middle", NameGap: 40}),
	)
	line.AddSeries("magnitude", lineData, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	scatter := charts.NewScatter()
	scatter.AddSeries("selected", peakData,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}),
	)
	line.Overlap(scatter)

	return line.Render(w)
}

// WriteHTMLFile writes the HTML chart to name on fsys.
func WriteHTMLFile(fsys fsutil.FileSystem, name string, samples []peaks.Record, selection []peaks.Selected, o Options) error {
	return writeFile(fsys, name, func(w io.Writer) error {
		return WriteHTML(w, samples, selection, o)
	})
}
