package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"busconnect/internal/util"
	"busconnect/services/busconnect/internal/app"
)

const (
	codeValidation   = "ValidationError"
	codeNotFound     = "NotFoundError"
	codeConflict     = "ConflictError"
	codeAuth         = "AuthError"
	codeStore        = "StoreError"
	codeRateLimited  = "RateLimited"
	codeInitDisabled = "InitDisabled"
	codeInternal     = "InternalError"
	codeTooLarge     = "PayloadTooLarge"
)

var (
	// ErrRateLimited is reported when a client exceeds the login or signup quota.
	ErrRateLimited = errors.New("too many attempts")
	// ErrInitDisabled is reported by POST /api/init when the endpoint is turned off.
	ErrInitDisabled = errors.New("schema initialization endpoint is disabled")
)

type errorResponse struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	RequestID string           `json:"requestId,omitempty"`
	Details   []app.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details []app.FieldError) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
		Details:   details,
	})
}

// writeAppError maps the application error taxonomy onto HTTP.
// Store failures are logged with their cause; clients only see a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *app.ValidationError
		notFoundErr   *app.NotFoundError
		conflictErr   *app.ConflictError
		authErr       *app.AuthError
		storeErr      *app.StoreError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid request", validationErr.Fields)
	case errors.As(err, &notFoundErr):
		writeError(w, r, http.StatusNotFound, codeNotFound, notFoundErr.Error(), nil)
	case errors.As(err, &conflictErr):
		writeError(w, r, http.StatusConflict, codeConflict, conflictErr.Error(),
			[]app.FieldError{{Field: conflictErr.Field, Reason: "already exists"}})
	case errors.As(err, &authErr):
		writeError(w, r, http.StatusUnauthorized, codeAuth, app.ErrInvalidCredentials.Error(), nil)
	case errors.As(err, &storeErr):
		util.LoggerFromContext(r.Context()).Error("store failure", "op", storeErr.Op, "error", storeErr.Err)
		writeError(w, r, http.StatusServiceUnavailable, codeStore, "service temporarily unavailable", nil)
	default:
		util.LoggerFromContext(r.Context()).Error("unhandled error", "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

// decodeJSON reads a size-limited JSON body into dst. Unknown fields are tolerated.
// Bodies over maxBodyBytes get 413.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, codeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
			return false
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return false
	}
	return true
}

// pathID parses a positive numeric path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid request",
			[]app.FieldError{{Field: name, Reason: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}
