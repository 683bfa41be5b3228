// Package samples reads motion sample tables from delimited text and writes
// selections back out as CSV or as a plain-text table.
package samples

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/monitoring"
	"github.com/banshee-data/peakselect/internal/peaks"
)

var (
	// ErrIO marks failures to open or read the input.
	ErrIO = errors.New("read samples")
	// ErrParse marks malformed input: missing columns or bad values.
	ErrParse = errors.New("parse samples")
)

// AccelColumns lists the accepted names for the vertical acceleration
// column after normalization, in lookup order.
var AccelColumns = []string{"z", "accelz", "accel_z", "accel", "acceleration", "accz"}

// ParseError describes a malformed input table.
type ParseError struct {
	Line   int    // 1-based line number, 0 when not tied to a line
	Column string // normalized column name, if any
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("line %d, column %q: %v", e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	case e.Column != "":
		return fmt.Sprintf("column %q: %v", e.Column, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Table is a parsed sample set plus the header facts the writer needs.
type Table struct {
	Records     []peaks.Record
	Columns     []string // normalized header in input order
	AccelColumn string   // normalized name of the acceleration column
}

// NormalizeHeader removes every whitespace character from name and lowers
// its case, so " Speed " and "speed" address the same column.
func NormalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	var b strings.Builder
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

type columnIndex struct {
	time, x, y, speed, accel int
	accelName                string
	width                    int
}

func indexColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	idx := columnIndex{width: len(header)}
	var missing []string
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{"time", &idx.time},
		{"x", &idx.x},
		{"y", &idx.y},
		{"speed", &idx.speed},
	} {
		i, ok := pos[c.name]
		if !ok {
			missing = append(missing, c.name)
			continue
		}
		*c.dst = i
	}

	idx.accel = -1
	for _, name := range AccelColumns {
		if i, ok := pos[name]; ok {
			idx.accel, idx.accelName = i, name
			break
		}
	}
	if idx.accel < 0 {
		missing = append(missing, "z")
	}

	if len(missing) > 0 {
		return idx, &ParseError{Line: 1, Err: fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))}
	}
	return idx, nil
}

func parseValue(raw, column string, line int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ParseError{Line: line, Column: column, Err: fmt.Errorf("invalid number %q", raw)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Line: line, Column: column, Err: fmt.Errorf("non-finite value %q", raw)}
	}
	return v, nil
}

// Read parses a delimited sample table. The first row is the header. A
// header with no data rows yields an empty table and no error.
func Read(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Err: errors.New("empty input: no header row")}
	}
	if err != nil {
		return nil, wrapCSVError(err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = NormalizeHeader(h)
	}
	idx, err := indexColumns(columns)
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: columns, AccelColumn: idx.accelName}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapCSVError(err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < idx.width {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", idx.width, len(row))}
		}

		var rec peaks.Record
		for _, f := range []struct {
			col int
			dst *float64
		}{
			{idx.time, &rec.Time},
			{idx.x, &rec.X},
			{idx.y, &rec.Y},
			{idx.speed, &rec.Speed},
			{idx.accel, &rec.Accel},
		} {
			v, err := parseValue(row[f.col], columns[f.col], line)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		table.Records = append(table.Records, rec)
	}

	monitoring.Debugf("samples: read %d rows, acceleration column %q", len(table.Records), table.AccelColumn)
	return table, nil
}

func wrapCSVError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ParseError{Line: perr.Line, Err: perr.Err}
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// Reader loads sample tables from a FileSystem.
type Reader struct {
	FS    fsutil.FileSystem
	Comma rune
}

// NewReader returns a comma-delimited reader over fsys.
func NewReader(fsys fsutil.FileSystem) *Reader {
	return &Reader{FS: fsys, Comma: ','}
}

// ReadFile opens name and parses it with Read.
func (r *Reader) ReadFile(name string) (*Table, error) {
	f, err := r.FS.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	table, err := Read(f, r.Comma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return table, nil
}
