package respond

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"skin-accounts/internal/provider"
	"skin-accounts/internal/session"
)

const maxJSONBodyBytes = 1 << 20

var ErrInvalidBody = errors.New("invalid json body")

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Decode reads a JSON request body. An empty body decodes to the zero value.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return ErrInvalidBody
	}
	return nil
}

type failure struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// Boundary writes the response for provider and session errors shared by
// every account flow. It reports false when err is not one of them.
func Boundary(w http.ResponseWriter, err error) bool {
	var authErr *provider.AuthError
	switch {
	case errors.As(err, &authErr):
		JSON(w, http.StatusBadRequest, failure{ErrorCode: string(authErr.Code), Error: authErr.Message})
	case errors.Is(err, session.ErrInvalidCredentials):
		JSON(w, http.StatusBadRequest, failure{ErrorCode: "invalid_credentials", Error: "invalid credentials for uuid"})
	case errors.Is(err, session.ErrMissingToken), errors.Is(err, session.ErrInvalidSession):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidBody):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		return false
	}
	return true
}

// Internal reports an unexpected error and answers 500.
func Internal(w http.ResponseWriter, r *http.Request, logger *zap.Logger, event string, err error, message string) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
	if logger != nil {
		logger.Error(event, zap.Error(err), zap.String("path", r.URL.Path))
	}
	Error(w, http.StatusInternalServerError, message)
}
