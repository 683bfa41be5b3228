// Package chart renders a sample table and its selected peaks as a static
// PNG (gonum/plot) or an interactive HTML page (go-echarts).
package chart

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/peaks"
)

// ErrNoData is returned when there are no samples to draw.
var ErrNoData = errors.New("chart: no samples")

// Options controls chart labelling.
type Options struct {
	Title    string
	Subtitle string
	Config   peaks.Config // baseline used to compute the magnitude trace
}

func (o Options) title() string {
	if o.Title == "" {
		return "Acceleration magnitude"
	}
	return o.Title
}

type point struct{ t, m float64 }

// trace returns the magnitude of every sample ordered by time.
func trace(samples []peaks.Record, cfg peaks.Config) []point {
	pts := make([]point, len(samples))
	for i, s := range samples {
		pts[i] = point{t: s.Time, m: peaks.Magnitude(s.Accel, cfg.Baseline)}
	}
	sort.SliceStable(pts, func(a, b int) bool { return pts[a].t < pts[b].t })
	return pts
}

// writeFile creates name on fsys and hands the writer to render.
func writeFile(fsys fsutil.FileSystem, name string, render func(io.Writer) error) (err error) {
	f, err := fsutil.CreateAll(fsys, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", name, cerr)
		}
	}()
	return render(f)
}
