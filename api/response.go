package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	visapi "github.com/VadimVDM/VisAPI-sub006"
)

// handlerFunc is an HTTP handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// Error is an error with an HTTP status.
type Error struct {
	Status  int               `json:"-"`
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func (a *API) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			apiErr = mapStoreError(err)
		}
		if apiErr.Status >= http.StatusInternalServerError {
			a.logger.Error("request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, apiErr.Status, apiErr)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// mapStoreError converts sentinel errors to HTTP errors.
func mapStoreError(err error) *Error {
	switch {
	case isNotFound(err):
		return &Error{Status: http.StatusNotFound, Message: err.Error()}
	case isConflict(err):
		return &Error{Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, visapi.ErrUnknownLane), errors.Is(err, visapi.ErrUnknownJobType):
		return &Error{Status: http.StatusBadRequest, Message: err.Error()}
	default:
		return &Error{Status: http.StatusInternalServerError, Message: "internal error"}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, visapi.ErrJobNotFound) ||
		errors.Is(err, visapi.ErrDLQNotFound) ||
		errors.Is(err, visapi.ErrCronNotFound) ||
		errors.Is(err, visapi.ErrOrderNotFound) ||
		errors.Is(err, visapi.ErrMessageNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, visapi.ErrStageConflict) ||
		errors.Is(err, visapi.ErrSyncInProgress) ||
		errors.Is(err, visapi.ErrInvalidState)
}

// decode reads a JSON body into dst and validates it.
func (a *API) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return a.check(dst)
}

func (a *API) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("invalid request: %v", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldName(fe)] = validationMessage(fe)
	}
	return &Error{Status: http.StatusBadRequest, Message: "validation failed", Fields: fields}
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "numeric":
		return "must contain digits only"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// defaultLimit clamps a page size to [1, 100], defaulting to 50.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s: %q", name, raw)
	}
	return n, nil
}
