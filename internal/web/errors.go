package web

// errors.go maps service errors to JSON responses. The technical error is
// logged with the request id; the client gets the user message and
// support code from core.MapError.

import (
	"net/http"

	"github.com/JonMunkholm/extractor/internal/core"
	"github.com/JonMunkholm/extractor/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	RunID   string `json:"runId,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
}

// codeStatus maps support codes to HTTP statuses. Unlisted codes are
// server errors.
var codeStatus = map[string]int{
	"FMT001": http.StatusNotFound,
	"FMT002": http.StatusNotFound,
	"VAL001": http.StatusBadRequest,
	"VAL002": http.StatusUnprocessableEntity,
	"RUN001": http.StatusNotFound,
	"RUN002": http.StatusGone,
	"RUN003": http.StatusConflict,
	"RUN004": http.StatusServiceUnavailable,
	"RUN005": http.StatusGatewayTimeout,
	"DB001":  http.StatusServiceUnavailable,
	"DB002":  http.StatusServiceUnavailable,
	"DB004":  http.StatusGatewayTimeout,
}

// statusFor returns the HTTP status for a mapped error.
func statusFor(msg core.UserMessage) int {
	if status, ok := codeStatus[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its user-facing JSON form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	if exErr, ok := asExtractionError(err); ok {
		resp.RunID = exErr.RunID
		resp.Sheet = exErr.Sheet
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSONStatus(w, status, resp)
}

// respondBadRequest reports a malformed request that never reached the
// service.
func respondBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "reason", message)
	writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Message: "Malformed request",
		Action:  "Check the request body and parameters",
		Code:    "REQ001",
	})
}
