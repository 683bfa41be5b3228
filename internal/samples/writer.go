package samples

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/peaks"
	"github.com/banshee-data/peakselect/internal/units"
)

// WriteOptions controls how a selection is rendered.
type WriteOptions struct {
	Comma       rune
	Precision   int    // digits after the point; -1 for shortest round-trip
	AccelColumn string // header for the magnitude column, default "z"
	SpeedUnits  string // speed is converted from m/s; empty keeps m/s
}

// DefaultWriteOptions matches the layout of the historical output files.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Comma: ',', Precision: -1, AccelColumn: "z", SpeedUnits: units.MPS}
}

// Header returns the output column names in order.
func (o WriteOptions) Header() []string {
	accel := o.AccelColumn
	if accel == "" {
		accel = "z"
	}
	return []string{"time", "y", "x", "speed", accel}
}

func (o WriteOptions) format(v float64) string {
	if o.Precision < 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', o.Precision, 64)
}

func (o WriteOptions) row(s peaks.Selected) []string {
	return []string{
		o.format(s.Time),
		o.format(s.Y),
		o.format(s.X),
		o.format(units.ConvertSpeed(s.Speed, o.SpeedUnits)),
		o.format(s.Magnitude),
	}
}

// WriteCSV writes the selection with a header row.
func WriteCSV(w io.Writer, selection []peaks.Selected, opts WriteOptions) error {
	cw := csv.NewWriter(w)
	if opts.Comma != 0 {
		cw.Comma = opts.Comma
	}
	if err := cw.Write(opts.Header()); err != nil {
		return err
	}
	for _, s := range selection {
		if err := cw.Write(opts.row(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the selection to name on fsys, creating parent
// directories as needed.
func WriteCSVFile(fsys fsutil.FileSystem, name string, selection []peaks.Selected, opts WriteOptions) (err error) {
	f, err := fsutil.CreateAll(fsys, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", name, cerr)
		}
	}()
	if err := WriteCSV(f, selection, opts); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteTable renders the selection as right-aligned columns with a header
// and no index column.
func WriteTable(w io.Writer, selection []peaks.Selected, opts WriteOptions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	writeRow := func(cells []string) {
		for _, c := range cells {
			fmt.Fprint(tw, c, "\t")
		}
		fmt.Fprintln(tw)
	}
	writeRow(opts.Header())
	for _, s := range selection {
		writeRow(opts.row(s))
	}
	return tw.Flush()
}
