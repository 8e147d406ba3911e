package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/server/middleware"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForKind maps an engine rejection class to an HTTP status.
func statusForKind(k domain.ErrorKind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAccess:
		return http.StatusForbidden
	case domain.KindCapacity, domain.KindState:
		return http.StatusConflict
	case domain.KindFunds:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// writeServiceError translates a service error into a response. Engine
// rejections carry their stable code; infrastructure failures are logged
// and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if de, ok := domain.Classify(err); ok {
		writeJSON(w, statusForKind(de.Kind), errorResponse{Error: rejectionMessage(err, de), Code: de.Code})
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "NotFound"})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "concurrent modification, retry", Code: "Conflict"})
	case errors.Is(err, domain.ErrLockHeld):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "project busy, retry", Code: "Busy"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "Unauthorized"})
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// rejectionMessage keeps the controller's detail ("requested 40, remaining
// 35") and drops the service prefixes in front of it.
func rejectionMessage(err error, de *domain.Error) string {
	msg := err.Error()
	if i := strings.Index(msg, de.Error()); i >= 0 {
		return msg[i:]
	}
	return de.Error()
}

// requireCaller returns the verified caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: "signed request required",
			Code:  "Unauthorized",
		})
		return domain.Address{}, false
	}
	return caller, true
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, middleware.MaxSignedBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseAmount parses a base-10 amount string.
func parseAmount(field, s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a base-10 unsigned integer string", field)
	}
	return n, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s must be an RFC 3339 timestamp", bound.name)
		}
		t = t.UTC()
		*bound.dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
