package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"roadassist/account"
	"roadassist/identity"
	"roadassist/issue"
)

type requestIDKey struct{}

func newRequestID() string { return "req_" + uuid.NewString() }

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return newRequestID()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData wraps v under key in the standard success envelope.
func writeData(w http.ResponseWriter, r *http.Request, status int, key string, v any) {
	writeJSON(w, status, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		key:          v,
	})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type errorBody struct {
	RequestID string      `json:"request_id"`
	Error     errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{
		RequestID: requestIDFrom(r.Context()),
		Error:     errorDetail{Code: code, Message: message, Details: details},
	})
}

var issueStatus = map[issue.Kind]int{
	issue.KindInvalidArgument: http.StatusBadRequest,
	issue.KindNotFound:        http.StatusNotFound,
	issue.KindForbidden:       http.StatusForbidden,
	issue.KindConflict:        http.StatusConflict,
	issue.KindInvalidState:    http.StatusConflict,
	issue.KindUnavailable:     http.StatusServiceUnavailable,
	issue.KindTimeout:         http.StatusGatewayTimeout,
	issue.KindInternal:        http.StatusInternalServerError,
}

func writeIssueError(w http.ResponseWriter, r *http.Request, err error) {
	kind := issue.KindOf(err)
	status, ok := issueStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	if status >= 500 {
		message = http.StatusText(status)
	}

	var details map[string]any
	var fe *issue.FieldError
	if errors.As(err, &fe) {
		details = map[string]any{"field": fe.Field, "reason": fe.Reason}
	}
	writeError(w, r, status, string(kind), message, details)
}

func writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrWeakPassword), errors.Is(err, account.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error(), nil)
	case errors.Is(err, account.ErrDuplicateEmail), errors.Is(err, account.ErrDuplicateCNIC):
		writeError(w, r, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, account.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, account.ErrNotProvider):
		writeError(w, r, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "timeout", http.StatusText(http.StatusGatewayTimeout), nil)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError), nil)
	}
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, "unauthenticated", message, nil)
}

func actorFrom(r *http.Request) identity.Actor {
	actor, _ := identity.FromContext(r.Context())
	return actor
}
