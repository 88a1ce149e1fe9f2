package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/extractor/internal/core"
)

// ColumnResponse describes one sheet column.
type ColumnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SheetResponse describes one sheet of a format.
type SheetResponse struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	DependsOn   []string         `json:"dependsOn,omitempty"`
	Columns     []ColumnResponse `json:"columns"`
}

// FormatResponse describes a registered format version.
type FormatResponse struct {
	Code     string          `json:"code"`
	Version  string          `json:"version"`
	Label    string          `json:"label"`
	Family   string          `json:"family"`
	Variant  string          `json:"variant,omitempty"`
	Versions []string        `json:"versions,omitempty"`
	Sheets   []SheetResponse `json:"sheets,omitempty"`
}

func toFormatResponse(spec core.FormatSpec, withSheets bool) FormatResponse {
	resp := FormatResponse{
		Code:    spec.Code,
		Version: spec.Version,
		Label:   spec.Label,
		Family:  string(spec.Family),
		Variant: string(spec.Variant),
	}
	if !withSheets {
		return resp
	}
	for _, sheet := range spec.Sheets {
		sr := SheetResponse{
			Name:        sheet.Name,
			Description: sheet.Description,
			DependsOn:   sheet.DependsOn,
			Columns:     make([]ColumnResponse, len(sheet.Columns)),
		}
		for i, col := range sheet.Columns {
			sr.Columns[i] = ColumnResponse{Name: col.Name, Type: col.Type.String()}
		}
		resp.Sheets = append(resp.Sheets, sr)
	}
	return resp
}

// handleListFormats returns every registered format version, without
// sheet detail.
func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	formats := s.service.ListFormats()
	resp := make([]FormatResponse, len(formats))
	for i, spec := range formats {
		resp[i] = toFormatResponse(spec, false)
	}
	writeJSON(w, resp)
}

// handleGetFormat returns one format with its sheets. Without a version
// query parameter the latest version is returned.
func (s *Server) handleGetFormat(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	spec, err := s.service.Resolve(code, r.URL.Query().Get("version"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := toFormatResponse(spec, true)
	resp.Versions = s.service.Versions(spec.Code)
	writeJSON(w, resp)
}

// handleHealth reports liveness and pipeline load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"activeRuns": s.service.ActiveRuns(),
		"limiter":    s.service.LimiterStatus(),
	})
}
