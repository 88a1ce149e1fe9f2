package web

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/extractor/internal/config"
	"github.com/JonMunkholm/extractor/internal/core"
	_ "github.com/JonMunkholm/extractor/internal/core/formats"
	"github.com/JonMunkholm/extractor/internal/staging"
)

const fixturePath = "../../testdata/fishery.yaml"

const rdbRequest = `{"format":"RDB","version":"1.0","filter":{"vesselIds":[42],"startDate":"2019-01-01","endDate":"2019-12-31"}}`

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *staging.MemoryStore) {
	t.Helper()
	f, err := staging.LoadFixture(fixturePath)
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	store := staging.NewMemoryStoreFromFixture(f)
	svc := core.NewService(store, store, core.ServiceConfig{},
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if cfg == nil {
		cfg = &config.Config{}
	}
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createRun(t *testing.T, srv *Server, body string) core.Handle {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/extractions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/extractions = %d: %s", rec.Code, rec.Body.String())
	}
	h := decodeBody[core.Handle](t, rec)
	if loc := rec.Header().Get("Location"); loc != "/api/extractions/"+h.RunID {
		t.Errorf("Location = %q", loc)
	}
	return h
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestFormats(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/formats", "")
	formats := decodeBody[[]FormatResponse](t, rec)
	if len(formats) != 8 {
		t.Errorf("formats = %d, want 8", len(formats))
	}
	for _, f := range formats {
		if len(f.Sheets) != 0 {
			t.Errorf("list should omit sheets, %s has %d", f.Code, len(f.Sheets))
		}
	}

	rec = do(t, srv, http.MethodGet, "/api/formats/rdb", "")
	rdb := decodeBody[FormatResponse](t, rec)
	if rdb.Version != "1.3" || len(rdb.Sheets) != 7 {
		t.Errorf("latest rdb = %s with %d sheets", rdb.Version, len(rdb.Sheets))
	}
	if strings.Join(rdb.Versions, ",") != "1.0,1.3" {
		t.Errorf("versions = %v", rdb.Versions)
	}

	rec = do(t, srv, http.MethodGet, "/api/formats/RDB?version=1.0", "")
	if v := decodeBody[FormatResponse](t, rec); v.Version != "1.0" || v.Sheets[1].DependsOn[0] != "TR" {
		t.Errorf("rdb 1.0 = %+v", v)
	}

	rec = do(t, srv, http.MethodGet, "/api/formats/LANDINGS", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown format status = %d", rec.Code)
	}
	if e := decodeBody[ErrorResponse](t, rec); e.Code != "FMT001" {
		t.Errorf("code = %s", e.Code)
	}
}

func TestExtractionLifecycle(t *testing.T) {
	srv, store := newTestServer(t, nil)

	h := createRun(t, srv, rdbRequest)
	if len(h.Sheets) != 5 {
		t.Fatalf("sheets = %d, want 5", len(h.Sheets))
	}

	rec := do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID, "")
	status := decodeBody[core.RunStatus](t, rec)
	if status.State != core.RunReady {
		t.Errorf("state = %s", status.State)
	}

	rec = do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/hl", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read sheet = %d: %s", rec.Code, rec.Body.String())
	}
	sheet := decodeBody[SheetRowsResponse](t, rec)
	if sheet.Sheet != "HL" || len(sheet.Rows) != 3 || sheet.Truncated {
		t.Fatalf("HL = %d rows, truncated %v", len(sheet.Rows), sheet.Truncated)
	}
	if len(sheet.Columns) != len(sheet.Rows[0]) {
		t.Errorf("row width %d != columns %d", len(sheet.Rows[0]), len(sheet.Columns))
	}

	rec = do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/HL?limit=2", "")
	if limited := decodeBody[SheetRowsResponse](t, rec); len(limited.Rows) != 2 || !limited.Truncated {
		t.Errorf("limited = %d rows, truncated %v", len(limited.Rows), limited.Truncated)
	}

	rec = do(t, srv, http.MethodDelete, "/api/extractions/"+h.RunID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d", rec.Code)
	}
	if store.Outstanding(h.RunID) != 0 {
		t.Error("staging tables left after release")
	}

	rec = do(t, srv, http.MethodDelete, "/api/extractions/"+h.RunID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("second DELETE = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/TR", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("read after release = %d", rec.Code)
	}
}

func TestReadSheetCSV(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := createRun(t, srv, rdbRequest)

	rec := do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/TR?format=csv", "")
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2", len(records))
	}
	if records[0][0] != "sampling_type" {
		t.Errorf("header = %v", records[0])
	}
}

func TestExport(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := createRun(t, srv, `{"format":"SURVIVAL_TEST","filter":{"vesselIds":[42],"startDate":"2019-01-01","endDate":"2019-12-31"}}`)

	rec := do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d", rec.Code)
	}

	var doc struct {
		RunID  string `json:"runId"`
		Sheets []struct {
			Name     string   `json:"name"`
			Columns  []string `json:"columns"`
			RowCount int64    `json:"rowCount"`
			Rows     [][]any  `json:"rows"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	if doc.RunID != h.RunID {
		t.Errorf("runId = %s", doc.RunID)
	}

	var names []string
	for _, s := range doc.Sheets {
		names = append(names, s.Name)
		if int64(len(s.Rows)) != s.RowCount {
			t.Errorf("sheet %s: %d rows, rowCount %d", s.Name, len(s.Rows), s.RowCount)
		}
	}
	if got := strings.Join(names, ","); got != "TR,HH,SL,HL,CA,ST,RL" {
		t.Errorf("sheet order = %s", got)
	}
}

func TestCreateExtraction_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed body", `{"format":`, http.StatusBadRequest, "REQ001"},
		{"unknown field", `{"format":"RDB","colour":"red"}`, http.StatusBadRequest, "REQ001"},
		{"missing format", `{"filter":{}}`, http.StatusBadRequest, "REQ001"},
		{"unknown format", `{"format":"LANDINGS"}`, http.StatusNotFound, "FMT001"},
		{"reversed dates", `{"format":"RDB","filter":{"startDate":"2020-01-01","endDate":"2019-01-01"}}`, http.StatusBadRequest, "VAL001"},
		{"bad date", `{"format":"RDB","filter":{"startDate":"someday"}}`, http.StatusBadRequest, "VAL001"},
		{"filter kind mismatch", `{"format":"AGG_RDB","filter":{"kind":"trip"}}`, http.StatusBadRequest, "VAL001"},
		{"product not found", `{"format":"AGG_RDB","filter":{"kind":"aggregation","product":"AGG-1999"}}`, http.StatusUnprocessableEntity, "VAL002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil)
			rec := do(t, srv, http.MethodPost, "/api/extractions", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if e := decodeBody[ErrorResponse](t, rec); e.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", e.Code, tt.wantCode)
			}
		})
	}
}

func TestCreateExtraction_FailedRunStatus(t *testing.T) {
	srv, store := newTestServer(t, nil)
	store.FailPopulate("SL", io.ErrUnexpectedEOF)

	rec := do(t, srv, http.MethodPost, "/api/extractions", rdbRequest)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	e := decodeBody[ErrorResponse](t, rec)
	if e.Code != "STG001" || e.Sheet != "SL" || e.RunID == "" {
		t.Fatalf("error = %+v", e)
	}

	rec = do(t, srv, http.MethodGet, "/api/extractions/"+e.RunID, "")
	status := decodeBody[core.RunStatus](t, rec)
	if status.State != core.RunFailed || status.Failed != "SL" {
		t.Errorf("status = %+v", status)
	}
}

func TestAggregationOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := createRun(t, srv, `{"format":"AGG_RDB","filter":{"kind":"aggregation","product":"AGG-2019","program":"SIH-OBSMER","spatial":true}}`)

	if h.Kind != core.KindAggregation {
		t.Errorf("kind = %s", h.Kind)
	}
	rec := do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/HH", "")
	if sheet := decodeBody[SheetRowsResponse](t, rec); len(sheet.Rows) != 1 {
		t.Errorf("spatial HH rows = %d, want 1", len(sheet.Rows))
	}
}

func TestUnknownRunAndSheet(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/extractions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", rec.Code)
	}
	if e := decodeBody[ErrorResponse](t, rec); e.Code != "RUN001" {
		t.Errorf("code = %s", e.Code)
	}

	h := createRun(t, srv, rdbRequest)
	rec = do(t, srv, http.MethodGet, "/api/extractions/"+h.RunID+"/sheets/ZZ", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown sheet status = %d", rec.Code)
	}
	if e := decodeBody[ErrorResponse](t, rec); e.Code != "FMT002" {
		t.Errorf("code = %s", e.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 100
	cfg.Rate.ExtractLimit = 1
	srv, _ := newTestServer(t, cfg)

	createRun(t, srv, rdbRequest)

	rec := do(t, srv, http.MethodPost, "/api/extractions", rdbRequest)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second extraction = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if e := decodeBody[ErrorResponse](t, rec); e.Code != "RATE001" {
		t.Errorf("code = %s", e.Code)
	}

	if rec := do(t, srv, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("other routes should use the general limit, got %d", rec.Code)
	}
}

func TestRateLimiter_Window(t *testing.T) {
	now := time.Date(2019, 3, 4, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute, nil)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a") {
		t.Error("third request in window should be rejected")
	}
	if !rl.allow("b") {
		t.Error("limits are per client")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Error("new window should reset the budget")
	}
}

func TestCORS(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.CORSAllowedOrigins = []string{"https://portal.example.org"}
	srv, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.org" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
