// Package api serves peak selection over HTTP: ad-hoc selection of an
// uploaded or server-side table, and browsing of stored runs.
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/peakselect/internal/chart"
	"github.com/banshee-data/peakselect/internal/config"
	"github.com/banshee-data/peakselect/internal/db"
	"github.com/banshee-data/peakselect/internal/fsutil"
	"github.com/banshee-data/peakselect/internal/peaks"
	"github.com/banshee-data/peakselect/internal/samples"
	"github.com/banshee-data/peakselect/internal/security"
	"github.com/banshee-data/peakselect/internal/units"
	"github.com/banshee-data/peakselect/internal/version"
)

// DefaultMaxBodyBytes caps uploaded sample tables.
const DefaultMaxBodyBytes = 32 << 20

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

var errNoStore = fmt.Errorf("run storage is not configured: %w", db.ErrNotFound)

type Server struct {
	db      *db.DB
	cfg     *config.SelectionConfig
	dataDir string
	fs      fsutil.FileSystem

	MaxBodyBytes int64
}

// NewServer returns a server using cfg for defaults. store may be nil, in
// which case nothing is saved and the run routes answer 404. dataDir roots
// /api/select/file; empty disables that route.
func NewServer(store *db.DB, cfg *config.SelectionConfig, dataDir string) *Server {
	if cfg == nil {
		cfg = config.DefaultSelectionConfig()
	}
	return &Server{
		db:           store,
		cfg:          cfg,
		dataDir:      dataDir,
		fs:           fsutil.OSFileSystem{},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("GET /api/select/file", s.handleSelectFile)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/runs/{id}/chart", s.showRunChart)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/version", s.showVersion)
	return mux
}

type selectResponse struct {
	RunID       string           `json:"run_id,omitempty"`
	SampleSetID string           `json:"sample_set_id,omitempty"`
	AccelColumn string           `json:"accel_column"`
	SpeedUnits  string           `json:"speed_units"`
	Selection   []peaks.Selected `json:"selection"`
	Summary     peaks.Summary    `json:"summary"`
}

// selectionConfig merges the query overrides onto the server defaults.
func (s *Server) selectionConfig(q url.Values) (*config.SelectionConfig, error) {
	o := config.EmptySelectionConfig()
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: count must be an integer, got %q", errBadRequest, v)
		}
		o.TargetCount = &n
	}
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"gap", &o.MinGap},
		{"baseline", &o.Baseline},
	} {
		if v := q.Get(f.name); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a number, got %q", errBadRequest, f.name, v)
			}
			*f.dst = &x
		}
	}
	for _, f := range []struct {
		name string
		dst  **bool
	}{
		{"gravity", &o.GravityBaseline},
		{"legacy", &o.LegacyRankSkip},
	} {
		if v := q.Get(f.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a boolean, got %q", errBadRequest, f.name, v)
			}
			*f.dst = &b
		}
	}
	if v := q.Get("delimiter"); v != "" {
		o.Delimiter = &v
	}
	if v := q.Get("speed_units"); v != "" {
		o.SpeedUnits = &v
	}

	cfg := s.cfg.Merge(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return cfg, nil
}

func wantSave(q url.Values) (bool, error) {
	v := q.Get("save")
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: save must be a boolean, got %q", errBadRequest, v)
	}
	return b, nil
}

// convertSpeeds returns a copy of sel with speeds in the requested units.
func convertSpeeds(sel []peaks.Selected, speedUnits string) []peaks.Selected {
	out := make([]peaks.Selected, len(sel))
	for i, p := range sel {
		p.Speed = units.ConvertSpeed(p.Speed, speedUnits)
		out[i] = p
	}
	return out
}

// runSelection selects peaks from table, optionally stores the input and
// the run, and writes the response.
func (s *Server) runSelection(w http.ResponseWriter, q url.Values, source string, table *samples.Table, cfg *config.SelectionConfig) {
	save, err := wantSave(q)
	if err != nil {
		writeError(w, err)
		return
	}
	if save && s.db == nil {
		writeError(w, fmt.Errorf("%w: save requested but no database is configured", errBadRequest))
		return
	}

	pcfg := cfg.PeaksConfig()
	sel, err := peaks.NewSelector(pcfg).Select(table.Records, cfg.GetTargetCount(), cfg.GetMinGap())
	if err != nil {
		writeError(w, err)
		return
	}
	summary := peaks.Summarize(table.Records, sel, pcfg)

	resp := selectResponse{
		AccelColumn: table.AccelColumn,
		SpeedUnits:  cfg.GetSpeedUnits(),
		Selection:   convertSpeeds(sel, cfg.GetSpeedUnits()),
		Summary:     summary,
	}

	if save {
		set, err := s.db.SaveSampleSet(source, table.AccelColumn, table.Records)
		if err != nil {
			writeError(w, err)
			return
		}
		run, err := s.db.RecordRun(db.RunParams{
			SampleSetID: set.ID,
			Source:      source,
			TargetCount: cfg.GetTargetCount(),
			MinGap:      cfg.GetMinGap(),
			Config:      pcfg,
		}, sel, &summary)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.RunID = run.ID
		resp.SampleSetID = set.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, err := s.selectionConfig(q)
	if err != nil {
		writeError(w, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	table, err := samples.Read(body, cfg.GetDelimiter())
	if err != nil {
		writeError(w, err)
		return
	}

	source := q.Get("name")
	if source == "" {
		source = "upload"
	}
	s.runSelection(w, q, source, table, cfg)
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	if s.dataDir == "" {
		writeJSONError(w, http.StatusNotFound, "no data directory is configured")
		return
	}
	q := r.URL.Query()
	cfg, err := s.selectionConfig(q)
	if err != nil {
		writeError(w, err)
		return
	}

	name := q.Get("file")
	path, err := security.ResolveDataFile(s.dataDir, name)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	reader := &samples.Reader{FS: s.fs, Comma: cfg.GetDelimiter()}
	table, err := reader.ReadFile(path)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runSelection(w, q, name, table, cfg)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, errNoStore)
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer, got %q", errBadRequest, v))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.db.Runs(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) loadRun(id string) (*db.Run, error) {
	if s.db == nil {
		return nil, errNoStore
	}
	return s.db.Run(id)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	run.Selection = convertSpeeds(run.Selection, s.cfg.GetSpeedUnits())
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) showRunChart(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if run.SampleSetID == "" {
		writeError(w, fmt.Errorf("run %s has no stored samples: %w", run.ID, db.ErrNotFound))
		return
	}
	records, err := s.db.SampleSetRecords(run.SampleSetID)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := chart.Options{
		Title:  "Peaks in " + run.Source,
		Config: peaks.Config{Baseline: run.Baseline, LegacyRankSkip: run.LegacyRankSkip},
	}
	render, contentType, ext := chart.WriteHTML, "text/html; charset=utf-8", ".html"
	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
	case "png":
		render, contentType, ext = chart.WritePNG, "image/png", ".png"
	default:
		writeError(w, fmt.Errorf("%w: format must be html or png, got %q", errBadRequest, format))
		return
	}

	var buf bytes.Buffer
	if err := render(&buf, records, run.Selection, opts); err != nil {
		writeError(w, fmt.Errorf("render chart: %w", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", security.SanitizeFilename(run.Source+"-"+run.ID)+ext))
	_, _ = buf.WriteTo(w)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Resolved())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
