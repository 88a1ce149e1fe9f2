package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/extractor/internal/core"
	"github.com/JonMunkholm/extractor/internal/logging"
)

// csvFlushInterval is the number of rows written between flushes when
// streaming a sheet as CSV.
const csvFlushInterval = 1000

// ExtractionRequest is the body of POST /api/extractions.
type ExtractionRequest struct {
	Format  string              `json:"format"`
	Version string              `json:"version,omitempty"`
	Filter  core.FilterDocument `json:"filter"`
}

// SheetRowsResponse is one sheet read as JSON.
type SheetRowsResponse struct {
	RunID     string   `json:"runId"`
	Sheet     string   `json:"sheet"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// handleCreateExtraction runs an extraction to completion and returns its
// handle. The request blocks while the pipeline runs.
func (s *Server) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.Format) == "" {
		respondBadRequest(w, r, "format is required")
		return
	}

	filter, err := req.Filter.ToFilter()
	if err != nil {
		respondError(w, r, err)
		return
	}

	handle, err := s.service.Extract(r.Context(), core.ExtractRequest{
		Format:  req.Format,
		Version: req.Version,
		Filter:  filter,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_id", handle.RunID, "format", handle.Format).Info("extraction completed",
		"version", handle.Version,
		"sheets", len(handle.Sheets),
	)
	w.Header().Set("Location", "/api/extractions/"+handle.RunID)
	writeJSONStatus(w, http.StatusCreated, handle)
}

// handleExtractionStatus reports a run's state and per-sheet progress.
func (s *Server) handleExtractionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, status)
}

// handleReadSheet returns a sheet's rows. ?limit=N caps the rows returned
// (0 means all); ?format=csv streams the sheet as CSV instead.
func (s *Server) handleReadSheet(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	sheet := strings.ToUpper(chi.URLParam(r, "sheet"))

	columns, err := s.service.Columns(runID, sheet)
	if err != nil {
		respondError(w, r, err)
		return
	}
	rows, err := s.service.Read(r.Context(), runID, sheet)
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit := parseIntParam(r, "limit", 0)

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		s.streamSheetCSV(w, r, runID, sheet, columns, rows)
		return
	}

	resp := SheetRowsResponse{RunID: runID, Sheet: sheet, Columns: columns, Rows: [][]any{}}
	for row, err := range rows {
		if err != nil {
			respondError(w, r, err)
			return
		}
		if limit > 0 && len(resp.Rows) == limit {
			resp.Truncated = true
			break
		}
		resp.Rows = append(resp.Rows, jsonRow(row))
	}
	writeJSON(w, resp)
}

// streamSheetCSV writes a header row then every row, flushing
// periodically. Errors after the first write can only be logged.
func (s *Server) streamSheetCSV(w http.ResponseWriter, r *http.Request, runID, sheet string, columns []string, rows iter.Seq2[core.Row, error]) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.csv"`, sheet, runID))

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return
	}

	record := make([]string, len(columns))
	written := 0
	for row, err := range rows {
		if err != nil {
			logging.FromContext(r.Context()).Error("sheet stream failed",
				"run_id", runID, "sheet", sheet, "rows_written", written, "error", err)
			break
		}
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return
		}
		written++
		if written%csvFlushInterval == 0 {
			cw.Flush()
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
	cw.Flush()
}

// handleExportExtraction streams every sheet of a run, in format order, as
// one JSON document:
//
//	{"runId": "...", "sheets": [{"name": "TR", "columns": [...], "rowCount": 1, "rows": [[...]]}]}
func (s *Server) handleExportExtraction(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	sheets, err := s.service.ExportOrderedSheets(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := writeExport(w, runID, sheets); err != nil {
		logging.FromContext(r.Context()).Error("export stream failed", "run_id", runID, "error", err)
	}
}

// writeExport encodes sheets row by row so large runs are never held in
// memory.
func writeExport(w http.ResponseWriter, runID string, sheets []core.SheetExport) error {
	enc := json.NewEncoder(w)
	id, _ := json.Marshal(runID)
	if _, err := fmt.Fprintf(w, `{"runId":%s,"sheets":[`, id); err != nil {
		return err
	}
	for i, sheet := range sheets {
		if i > 0 {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		head, err := json.Marshal(struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Columns     []string `json:"columns"`
			RowCount    int64    `json:"rowCount"`
		}{sheet.Name, sheet.Description, sheet.Columns, sheet.RowCount})
		if err != nil {
			return err
		}
		// Reopen the object to append the rows array.
		if _, err := w.Write(append(head[:len(head)-1], []byte(`,"rows":[`)...)); err != nil {
			return err
		}
		first := true
		for row, err := range sheet.Rows {
			if err != nil {
				return fmt.Errorf("sheet %s: %w", sheet.Name, err)
			}
			if !first {
				if _, err := w.Write([]byte(",")); err != nil {
					return err
				}
			}
			first = false
			// Encode appends a newline, which is valid JSON whitespace.
			if err := enc.Encode(jsonRow(row)); err != nil {
				return err
			}
		}
		if _, err := w.Write([]byte("]}")); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("]}\n"))
	return err
}

// handleReleaseExtraction drops a run's staging resources. Releasing an
// unknown or already released run succeeds.
func (s *Server) handleReleaseExtraction(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.Release(r.Context(), runID); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
