package web

// Shared request parsing and response helpers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/extractor/internal/core"
)

// maxRequestBody bounds extraction request bodies.
const maxRequestBody = 1 << 20

// parseIntParam parses a non-negative integer query parameter with a
// default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// decodeJSON reads a size limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func asExtractionError(err error) (*core.ExtractionError, bool) {
	var exErr *core.ExtractionError
	ok := errors.As(err, &exErr)
	return exErr, ok
}

// jsonValue prepares a sheet value for JSON: dates without a time part
// are written as YYYY-MM-DD.
func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		if isDate(t) {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339)
	}
	return v
}

// formatCell formats a sheet value for CSV output.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		if val.IsZero() {
			return ""
		}
		if isDate(val) {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		if val {
			return "Y"
		}
		return "N"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isDate(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func jsonRow(row core.Row) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = jsonValue(v)
	}
	return out
}
