// Package httpapi wires the kernel components onto the HTTP surface:
// a chi router, JSON request/response envelopes, and one handler group
// per component.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/metrics"
)

// success wraps every non-error JSON response.
type success map[string]any

// errorBody is the shape of a surfaced kernel error.
type errorBody struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Detail    map[string]any `json:"detail,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	if payload == nil {
		payload = success{}
	}
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeCreated(w http.ResponseWriter, payload map[string]any) {
	payload["success"] = true
	writeJSON(w, http.StatusCreated, payload)
}

// writeError translates a kernel error (or a plain unexpected error)
// into the HTTP status/body the caller sees, records the per-kind
// error metric, and appends one activity row with action "error".
func writeError(w http.ResponseWriter, r *http.Request, activityLog *activity.Log, err error) {
	kerr, ok := kernelerr.As(err)
	if !ok {
		kerr = kernelerr.Fatal("internal_error", err.Error())
	}

	status, retryable := statusForKind(kerr.Kind)
	metrics.ErrorsTotal.WithLabelValues(string(kerr.Kind)).Inc()

	if activityLog != nil {
		_ = activityLog.Record(r.Context(), string(kerr.Kind), "error", r.URL.Path, kerr.Message, "")
	}

	body := errorBody{Error: kerr.Message, Code: kerr.Code, Detail: kerr.Detail, Retryable: retryable}
	writeJSON(w, status, body)

	if kerr.Kind == kernelerr.KindFatal {
		slog.Error("unexpected error", "path", r.URL.Path, "code", kerr.Code, "error", kerr.Message)
	}
}

func statusForKind(kind kernelerr.Kind) (status int, retryable bool) {
	switch kind {
	case kernelerr.KindValidation:
		return http.StatusBadRequest, false
	case kernelerr.KindConflict:
		return http.StatusConflict, false
	case kernelerr.KindNotFound, kernelerr.KindExpired:
		return http.StatusNotFound, false
	case kernelerr.KindCapacity:
		return http.StatusTooManyRequests, false
	case kernelerr.KindTransient:
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, false
	}
}

// decodeJSON decodes the request body into dst, rejecting bodies over
// maxBody bytes and unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBody int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return kernelerr.Validation("invalid_body", "invalid request body: "+err.Error())
	}
	return nil
}
