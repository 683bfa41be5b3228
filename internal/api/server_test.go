package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/peakselect/internal/config"
	"github.com/banshee-data/peakselect/internal/db"
	"github.com/banshee-data/peakselect/internal/monitoring"
	"github.com/banshee-data/peakselect/internal/peaks"
	"github.com/banshee-data/peakselect/internal/testutil"
)

func newTestServer(t *testing.T, withDB bool, dataDir string) (*Server, http.Handler) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })

	var store *db.DB
	if withDB {
		var err error
		store, err = db.NewDB(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}
	s := NewServer(store, config.DefaultSelectionConfig(), dataDir)
	return s, s.ServeMux()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(method, target, body))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func selectionTimes(sel []peaks.Selected) []float64 {
	out := make([]float64, len(sel))
	for i, s := range sel {
		out[i] = s.Time
	}
	return out
}

func TestSelect_Upload(t *testing.T) {
	_, h := newTestServer(t, false, "")

	w := do(t, h, http.MethodPost, "/api/select?count=2&gap=5", testutil.RideCSV)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[selectResponse](t, w)
	assert.Empty(t, resp.RunID)
	assert.Equal(t, "z", resp.AccelColumn)
	assert.Equal(t, []float64{1, 10}, selectionTimes(resp.Selection))
	assert.Equal(t, peaks.Selected{Time: 1, Y: 1.2, X: 0.2, Speed: 3.1, Magnitude: 9}, resp.Selection[0])
	assert.Equal(t, 5, resp.Summary.Samples)
	assert.Equal(t, 2, resp.Summary.Selected)
}

func TestSelect_Defaults(t *testing.T) {
	_, h := newTestServer(t, false, "")

	// count 5 and gap 2 come from the defaults.
	w := do(t, h, http.MethodPost, "/api/select", testutil.RideCSV)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	resp := decode[selectResponse](t, w)
	assert.Equal(t, []float64{1, 10}, selectionTimes(resp.Selection))
}

func TestSelect_Options(t *testing.T) {
	_, h := newTestServer(t, false, "")

	body := strings.ReplaceAll(testutil.RideCSV, ",", ";")
	w := do(t, h, http.MethodPost, "/api/select?count=1&gap=0&baseline=9&delimiter=%3B&speed_units=kmph", body)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	resp := decode[selectResponse](t, w)
	require.Len(t, resp.Selection, 1)
	// |1 - 9| is the largest deviation from the baseline.
	assert.Equal(t, 0.0, resp.Selection[0].Time)
	assert.Equal(t, 8.0, resp.Selection[0].Magnitude)
	assert.InDelta(t, 10.8, resp.Selection[0].Speed, 1e-9)
	assert.Equal(t, "kmph", resp.SpeedUnits)
	assert.Equal(t, 9.0, resp.Summary.Baseline)
}

func TestSelect_Legacy(t *testing.T) {
	_, h := newTestServer(t, false, "")
	body := "time,x,y,speed,z\n0,0,0,0,10\n3,0,0,0,9\n6,0,0,0,8\n"

	w := do(t, h, http.MethodPost, "/api/select?count=3&gap=5", body)
	assert.Equal(t, []float64{0, 6}, selectionTimes(decode[selectResponse](t, w).Selection))

	w = do(t, h, http.MethodPost, "/api/select?count=3&gap=5&legacy=true", body)
	assert.Equal(t, []float64{0}, selectionTimes(decode[selectResponse](t, w).Selection))
}

func TestSelect_Errors(t *testing.T) {
	_, h := newTestServer(t, false, "")

	tests := []struct {
		name     string
		target   string
		body     string
		status   int
		contains string
	}{
		{"count not a number", "/api/select?count=abc", testutil.RideCSV, http.StatusBadRequest, "count"},
		{"zero count", "/api/select?count=0", testutil.RideCSV, http.StatusBadRequest, "target_count"},
		{"negative gap", "/api/select?gap=-1", testutil.RideCSV, http.StatusBadRequest, "min_gap"},
		{"bad gap", "/api/select?gap=wide", testutil.RideCSV, http.StatusBadRequest, "gap"},
		{"bad legacy flag", "/api/select?legacy=maybe", testutil.RideCSV, http.StatusBadRequest, "legacy"},
		{"bad save flag", "/api/select?save=perhaps", testutil.RideCSV, http.StatusBadRequest, "save"},
		{"empty body", "/api/select", "", http.StatusBadRequest, "no header"},
		{"header only", "/api/select", "time,x,y,speed,z\n", http.StatusBadRequest, "invalid argument"},
		{"missing column", "/api/select", "time,x,y\n1,2,3\n", http.StatusBadRequest, "missing required columns"},
		{"bad value", "/api/select", "time,x,y,speed,z\n1,2,3,4,up\n", http.StatusBadRequest, "line 2"},
		{"save without db", "/api/select?save=1", testutil.RideCSV, http.StatusBadRequest, "no database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, tt.target, tt.body)
			testutil.AssertStatusCode(t, w.Code, tt.status)
			resp := decode[map[string]string](t, w)
			assert.Contains(t, resp["error"], tt.contains)
		})
	}
}

func TestSelect_BodyTooLarge(t *testing.T) {
	s, h := newTestServer(t, false, "")
	s.MaxBodyBytes = 16

	w := do(t, h, http.MethodPost, "/api/select", testutil.RideCSV)
	testutil.AssertStatusCode(t, w.Code, http.StatusRequestEntityTooLarge)
}

func TestSelect_MethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, false, "")
	w := do(t, h, http.MethodGet, "/api/select", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestSelectFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "rides/monday.csv", testutil.RideCSV)
	testutil.WriteFile(t, dir, "notes.txt", "hello")
	_, h := newTestServer(t, false, dir)

	w := do(t, h, http.MethodGet, "/api/select/file?file=rides/monday.csv&count=2&gap=5", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, []float64{1, 10}, selectionTimes(decode[selectResponse](t, w).Selection))

	tests := []struct {
		name   string
		file   string
		status int
	}{
		{"missing name", "", http.StatusBadRequest},
		{"traversal", "../secret.csv", http.StatusBadRequest},
		{"absolute", "/etc/passwd.csv", http.StatusBadRequest},
		{"wrong extension", "notes.txt", http.StatusBadRequest},
		{"not found", "rides/tuesday.csv", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/select/file?file="+tt.file, "")
			testutil.AssertStatusCode(t, w.Code, tt.status)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestSelectFile_NoDataDir(t *testing.T) {
	_, h := newTestServer(t, false, "")
	w := do(t, h, http.MethodGet, "/api/select/file?file=a.csv", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestRuns_SaveAndBrowse(t *testing.T) {
	_, h := newTestServer(t, true, "")

	w := do(t, h, http.MethodPost, "/api/select?count=2&gap=5&save=1&name=monday.csv", testutil.RideCSV)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	saved := decode[selectResponse](t, w)
	require.NotEmpty(t, saved.RunID)
	require.NotEmpty(t, saved.SampleSetID)

	w = do(t, h, http.MethodGet, "/api/runs", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	list := decode[struct {
		Runs []db.Run `json:"runs"`
	}](t, w)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, saved.RunID, list.Runs[0].ID)
	assert.Equal(t, "monday.csv", list.Runs[0].Source)

	w = do(t, h, http.MethodGet, "/api/runs/"+saved.RunID, "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	run := decode[db.Run](t, w)
	assert.Equal(t, saved.Selection, run.Selection)
	assert.Equal(t, 2, run.TargetCount)
	assert.Equal(t, 5.0, run.MinGap)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 5, run.Summary.Samples)

	w = do(t, h, http.MethodGet, "/api/runs/"+saved.RunID+"/chart", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Peaks in monday.csv")

	w = do(t, h, http.MethodGet, "/api/runs/"+saved.RunID+"/chart?format=png", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "monday.csv-"+saved.RunID+".png")
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	w = do(t, h, http.MethodGet, "/api/runs/"+saved.RunID+"/chart?format=svg", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestRuns_Limit(t *testing.T) {
	_, h := newTestServer(t, true, "")
	for i := 0; i < 3; i++ {
		w := do(t, h, http.MethodPost, fmt.Sprintf("/api/select?count=%d&save=true", i+1), testutil.RideCSV)
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	}

	w := do(t, h, http.MethodGet, "/api/runs?limit=2", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	list := decode[struct {
		Runs []db.Run `json:"runs"`
	}](t, w)
	assert.Len(t, list.Runs, 2)

	w = do(t, h, http.MethodGet, "/api/runs?limit=zero", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestRuns_NotFound(t *testing.T) {
	_, h := newTestServer(t, true, "")
	for _, target := range []string{"/api/runs/nope", "/api/runs/nope/chart"} {
		w := do(t, h, http.MethodGet, target, "")
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
		assert.Contains(t, decode[map[string]string](t, w)["error"], "not found")
	}
}

func TestRuns_NoStore(t *testing.T) {
	_, h := newTestServer(t, false, "")
	for _, target := range []string{"/api/runs", "/api/runs/abc", "/api/runs/abc/chart"} {
		w := do(t, h, http.MethodGet, target, "")
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
		assert.Contains(t, decode[map[string]string](t, w)["error"], "not configured")
	}
}

func TestShowConfig(t *testing.T) {
	_, h := newTestServer(t, false, "")
	w := do(t, h, http.MethodGet, "/api/config", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	cfg := decode[config.SelectionConfig](t, w)
	assert.Equal(t, 5, cfg.GetTargetCount())
	assert.Equal(t, 2.0, cfg.GetMinGap())
	require.NotNil(t, cfg.Delimiter)
	assert.Equal(t, ",", *cfg.Delimiter)
}

func TestShowVersion(t *testing.T) {
	_, h := newTestServer(t, false, "")
	w := do(t, h, http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "dev", decode[map[string]string](t, w)["version"])
}

func TestSelect_LargeFiniteValues(t *testing.T) {
	_, h := newTestServer(t, true, "")

	body := "time,x,y,speed,z\n0,0,0,0,1e308\n10,0,0,0,1e308\n20,0,0,0,-1e308\n"
	w := do(t, h, http.MethodPost, "/api/select?count=2&gap=5&save=1", body)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	resp := decode[selectResponse](t, w)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, []float64{0, 10}, selectionTimes(resp.Selection))
	assert.Equal(t, 1e308, resp.Summary.MeanMagnitude)
}

func TestSelect_MagnitudeOverflowIsBadRequest(t *testing.T) {
	_, h := newTestServer(t, false, "")

	body := "time,x,y,speed,z\n0,0,0,0,-1.7e308\n"
	w := do(t, h, http.MethodPost, "/api/select?count=1&gap=0&baseline=1.7e308", body)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "overflows")
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]float64{"bad": math.Inf(1)})
	testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "failed to encode response", decode[map[string]string](t, w)["error"])
}
