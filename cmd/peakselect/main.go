// Command peakselect picks the strongest, time-separated acceleration peaks
// from a ride recording. It also serves the same selection over HTTP and
// manages the optional run database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/peakselect/internal/api"
	"github.com/banshee-data/peakselect/internal/chart"
	"github.com/banshee-data/peakselect/internal/config"
	"github.com/banshee-data/peakselect/internal/db"
	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/monitoring"
	"github.com/banshee-data/peakselect/internal/peaks"
	"github.com/banshee-data/peakselect/internal/samples"
	"github.com/banshee-data/peakselect/internal/version"
)

const usageText = `Usage:
  peakselect [flags] <input.csv> <count> <min-gap> [output.csv]
  peakselect serve   [-listen :8080] [-db peaks.db] [-data-dir .]
  peakselect runs    [-db peaks.db] [-limit 20] [run-id]
  peakselect migrate <up|down|status|version N|force N|help> [-db peaks.db]

Without output.csv the selection is printed as a table on stdout.
`

// errUsage marks command-line mistakes; they exit 2 with the usage text.
var errUsage = errors.New("invalid arguments")

func usageError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	var err error
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			err = runServe(args[1:], stderr)
		case "runs":
			err = runRuns(args[1:], stdout, stderr)
		case "migrate":
			err = runMigrate(args[1:], stdout, stderr)
		default:
			err = runSelect(args, stdout, stderr)
		}
	} else {
		err = runSelect(args, stdout, stderr)
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage), errors.Is(err, db.ErrMigrateUsage):
		fmt.Fprintf(stderr, "error: %v\n\n%s", err, usageText)
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

// newFlagSet returns a silent flag set; parseArgs reports its errors.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	return fs
}

// parseArgs parses flags wherever they appear among the positional
// arguments, so both "migrate -db x up" and "migrate up -db x" work.
// Tokens are handed to fs one flag at a time; negative numbers and
// everything after "--" are positional. -h prints the usage and the flag
// defaults to stderr.
func parseArgs(fs *flag.FlagSet, args []string, stderr io.Writer) ([]string, error) {
	var positional []string
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if tok == "--" {
			return append(positional, args[i+1:]...), nil
		}
		if len(tok) < 2 || tok[0] != '-' || isNumber(tok) {
			positional = append(positional, tok)
			continue
		}

		chunk := []string{tok}
		if needsValue(fs, tok) && i+1 < len(args) {
			chunk = append(chunk, args[i+1])
			i++
		}
		if err := fs.Parse(chunk); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				fmt.Fprint(stderr, usageText)
				fmt.Fprintf(stderr, "\nFlags for %s:\n", fs.Name())
				fs.SetOutput(stderr)
				fs.PrintDefaults()
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	return positional, nil
}

// needsValue reports whether tok names a defined non-boolean flag without
// an inline "=value".
func needsValue(fs *flag.FlagSet, tok string) bool {
	name := strings.TrimLeft(tok, "-")
	if strings.Contains(name, "=") {
		return false
	}
	fl := fs.Lookup(name)
	if fl == nil {
		return false
	}
	if bf, ok := fl.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
		return false
	}
	return true
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// loadConfig returns the built-in defaults, overlaid with path when set.
func loadConfig(path string) (*config.SelectionConfig, error) {
	cfg := config.DefaultSelectionConfig()
	if path == "" {
		return cfg, nil
	}
	fileCfg, err := config.LoadSelectionConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Merge(fileCfg), nil
}

type selectFlags struct {
	configPath string
	baseline   float64
	gravity    bool
	legacy     bool
	delimiter  string
	precision  int
	speedUnits string
	dbPath     string
	plotPath   string
	chartPath  string
	summary    bool
	version    bool
	verbose    bool
}

func (f *selectFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "JSON or YAML file with selection defaults")
	fs.Float64Var(&f.baseline, "baseline", 0, "value subtracted from acceleration before ranking; overrides a gravity baseline from -config")
	fs.BoolVar(&f.gravity, "gravity", false, "use the gravity rest reading as baseline; cannot be combined with -baseline")
	fs.BoolVar(&f.legacy, "legacy-skip", false, "reproduce the historical rank-adjacent skip exactly")
	fs.StringVar(&f.delimiter, "delimiter", ",", "field delimiter for input and output")
	fs.IntVar(&f.precision, "precision", -1, "digits after the point in output; -1 for shortest")
	fs.StringVar(&f.speedUnits, "speed-units", "mps", "output speed units (mps, mph, kmph, kph)")
	fs.StringVar(&f.dbPath, "db", "", "store the input and the run in this sqlite database")
	fs.StringVar(&f.plotPath, "plot", "", "write a PNG chart of magnitude over time")
	fs.StringVar(&f.chartPath, "chart", "", "write an interactive HTML chart")
	fs.BoolVar(&f.summary, "summary", false, "print magnitude statistics to stderr")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
}

// overrides returns the config fields set explicitly on the command line.
func (f *selectFlags) overrides(fs *flag.FlagSet) *config.SelectionConfig {
	o := &config.SelectionConfig{}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "baseline":
			o.Baseline = &f.baseline
		case "gravity":
			o.GravityBaseline = &f.gravity
		case "legacy-skip":
			o.LegacyRankSkip = &f.legacy
		case "delimiter":
			o.Delimiter = &f.delimiter
		case "precision":
			o.Precision = &f.precision
		case "speed-units":
			o.SpeedUnits = &f.speedUnits
		}
	})
	return o
}

func runSelect(args []string, stdout, stderr io.Writer) error {
	var f selectFlags
	fs := newFlagSet("peakselect")
	f.register(fs)
	pos, err := parseArgs(fs, args, stderr)
	if err != nil {
		return err
	}
	if f.version {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	monitoring.SetVerbose(f.verbose)

	if len(pos) < 3 || len(pos) > 4 {
		return usageError("expected <input.csv> <count> <min-gap> [output.csv], got %d arguments", len(pos))
	}
	input := pos[0]
	count, err := strconv.Atoi(pos[1])
	if err != nil {
		return usageError("count %q is not an integer", pos[1])
	}
	gap, err := strconv.ParseFloat(pos[2], 64)
	if err != nil {
		return usageError("min-gap %q is not a number", pos[2])
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	override := f.overrides(fs)
	override.TargetCount = &count
	override.MinGap = &gap
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fsys := fsutil.OSFileSystem{}
	reader := &samples.Reader{FS: fsys, Comma: cfg.GetDelimiter()}
	table, err := reader.ReadFile(input)
	if err != nil {
		return err
	}

	pcfg := cfg.PeaksConfig()
	sel, err := peaks.NewSelector(pcfg).Select(table.Records, cfg.GetTargetCount(), cfg.GetMinGap())
	if err != nil {
		return err
	}
	summary := peaks.Summarize(table.Records, sel, pcfg)

	opts := samples.WriteOptions{
		Comma:       cfg.GetDelimiter(),
		Precision:   cfg.GetPrecision(),
		AccelColumn: table.AccelColumn,
		SpeedUnits:  cfg.GetSpeedUnits(),
	}
	if len(pos) == 4 {
		if err := samples.WriteCSVFile(fsys, pos[3], sel, opts); err != nil {
			return err
		}
	} else if err := samples.WriteTable(stdout, sel, opts); err != nil {
		return err
	}

	chartOpts := chart.Options{Title: filepath.Base(input), Config: pcfg}
	if f.plotPath != "" {
		if err := chart.WritePNGFile(fsys, f.plotPath, table.Records, sel, chartOpts); err != nil {
			return err
		}
	}
	if f.chartPath != "" {
		if err := chart.WriteHTMLFile(fsys, f.chartPath, table.Records, sel, chartOpts); err != nil {
			return err
		}
	}

	if f.dbPath != "" {
		runID, err := storeRun(f.dbPath, input, table, cfg, sel, &summary)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "stored run %s in %s\n", runID, f.dbPath)
	}

	if f.summary {
		writeSummary(stderr, summary)
	}
	return nil
}

func storeRun(dbPath, source string, table *samples.Table, cfg *config.SelectionConfig, sel []peaks.Selected, summary *peaks.Summary) (string, error) {
	database, err := db.NewDB(dbPath)
	if err != nil {
		return "", err
	}
	defer database.Close()

	set, err := database.SaveSampleSet(source, table.AccelColumn, table.Records)
	if err != nil {
		return "", err
	}
	run, err := database.RecordRun(db.RunParams{
		SampleSetID: set.ID,
		Source:      source,
		TargetCount: cfg.GetTargetCount(),
		MinGap:      cfg.GetMinGap(),
		Config:      cfg.PeaksConfig(),
	}, sel, summary)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func writeSummary(w io.Writer, s peaks.Summary) {
	fmt.Fprintf(w, "samples:        %d\n", s.Samples)
	fmt.Fprintf(w, "selected:       %d\n", s.Selected)
	fmt.Fprintf(w, "time range:     %g to %g\n", s.StartTime, s.EndTime)
	fmt.Fprintf(w, "baseline:       %g\n", s.Baseline)
	fmt.Fprintf(w, "magnitude mean: %g\n", s.MeanMagnitude)
	fmt.Fprintf(w, "magnitude std:  %g\n", s.StdMagnitude)
	fmt.Fprintf(w, "magnitude max:  %g\n", s.MaxMagnitude)
	fmt.Fprintf(w, "weakest pick:   %g\n", s.MinSelected)
}

func runServe(args []string, stderr io.Writer) error {
	fs := newFlagSet("serve")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	dbPath := fs.String("db", "peaks.db", "sqlite database for stored runs; empty disables storage")
	dataDir := fs.String("data-dir", ".", "directory read by /api/select/file; empty disables it")
	configPath := fs.String("config", "", "JSON or YAML file with selection defaults")
	verbose := fs.Bool("v", false, "verbose logging")
	pos, err := parseArgs(fs, args, stderr)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return usageError("serve takes no arguments, got %q", pos)
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	mux := api.NewServer(store, cfg, *dataDir).ServeMux()
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return fmt.Errorf("failed to attach admin routes: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serveHTTP(ctx, *listen, api.LoggingMiddleware(mux))
}

// serveHTTP runs an HTTP server until ctx is done, then shuts it down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	log.Println("HTTP server stopped")
	return nil
}

func runRuns(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("runs")
	dbPath := fs.String("db", "peaks.db", "sqlite database holding stored runs")
	limit := fs.Int("limit", 20, "number of runs to list; 0 lists all")
	pos, err := parseArgs(fs, args, stderr)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return usageError("runs takes at most one run id, got %d arguments", len(pos))
	}

	if _, err := os.Stat(*dbPath); err != nil {
		return fmt.Errorf("database %s: %w", *dbPath, err)
	}
	database, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if len(pos) == 1 {
		run, err := database.Run(pos[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "run %s  source=%s  count=%d  gap=%g  baseline=%g  legacy=%v\n",
			run.ID, run.Source, run.TargetCount, run.MinGap, run.Baseline, run.LegacyRankSkip)
		opts := samples.DefaultWriteOptions()
		if run.SampleSetID != "" {
			set, err := database.SampleSet(run.SampleSetID)
			if err != nil {
				return err
			}
			opts.AccelColumn = set.AccelColumn
		}
		return samples.WriteTable(stdout, run.Selection, opts)
	}

	runs, err := database.Runs(*limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tSOURCE\tCOUNT\tGAP\tBASELINE\tSELECTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%g\t%g\t%d\n",
			r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.Source,
			r.TargetCount, r.MinGap, r.Baseline, r.SelectedCount)
	}
	return tw.Flush()
}

func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate")
	dbPath := fs.String("db", "peaks.db", "sqlite database to migrate")
	pos, err := parseArgs(fs, args, stderr)
	if err != nil {
		return err
	}
	cmd := &db.MigrateCommand{DBPath: *dbPath, Out: stdout, In: os.Stdin}
	return cmd.Run(pos)
}
