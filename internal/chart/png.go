package chart

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/peaks"
)

var (
	traceColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	peakColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// WritePNG draws magnitude over time with the selection overlaid as red
// markers and writes the image to w.
func WritePNG(w io.Writer, samples []peaks.Record, selection []peaks.Selected, o Options) error {
	if len(samples) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = o.title()
	if o.Subtitle != "" {
		p.Title.Text += "\n" + o.Subtitle
	}
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Magnitude"
	p.Add(plotter.NewGrid())

	pts := trace(samples, o.Config)
	linePts := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		linePts[i] = plotter.XY{X: pt.t, Y: pt.m}
	}
	line, err := plotter.NewLine(linePts)
	if err != nil {
		return fmt.Errorf("magnitude line: %w", err)
	}
	line.Color = traceColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("magnitude", line)

	if len(selection) > 0 {
		peakPts := make(plotter.XYs, len(selection))
		for i, s := range selection {
			peakPts[i] = plotter.XY{X: s.Time, Y: s.Magnitude}
		}
		scatter, err := plotter.NewScatter(peakPts)
		if err != nil {
			return fmt.Errorf("peak markers: %w", err)
		}
		scatter.GlyphStyle.Color = peakColor
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("selected (%d)", len(selection)), scatter)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WritePNGFile writes the PNG to name on fsys.
func WritePNGFile(fsys fsutil.FileSystem, name string, samples []peaks.Record, selection []peaks.Selected, o Options) error {
	return writeFile(fsys, name, func(w io.Writer) error {
		return WritePNG(w, samples, selection, o)
	})
}
