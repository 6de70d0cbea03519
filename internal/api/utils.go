package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/systemdisk"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

// requestLogger attaches a request-scoped log entry carrying the request id
// and echoes the id on the response.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			w.Header().Set(middleware.RequestIDHeader, reqID)

			entry := log.WithFields(logrus.Fields{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logging.WithEntry(r.Context(), entry)))
			entry.WithFields(logrus.Fields{
				"status":   ww.Status(),
				"duration": time.Since(start),
			}).Info("request handled")
		})
	}
}

// detach keeps a workflow running when the client goes away. The request
// values, such as the log entry, are kept.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return false
	}
	return true
}

// statusFor maps an error to its HTTP status. fallback is used for errors
// without a known cause.
func statusFor(err error, fallback int) (int, string) {
	var stepErr *workflow.StepError
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, efi.ErrNoEntry):
		return http.StatusNotFound, ""
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrInUse):
		return http.StatusConflict, ""
	case errors.Is(err, repository.ErrInvalidEntity):
		return http.StatusBadRequest, ""
	case errors.Is(err, systemdisk.ErrPathCollision):
		return http.StatusInternalServerError, ""
	case errors.Is(err, remote.ErrTimeout):
		return http.StatusGatewayTimeout, ""
	case errors.As(err, &stepErr):
		return http.StatusBadGateway, stepErr.Step
	default:
		return fallback, ""
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeStatusError(w, r, err, http.StatusInternalServerError)
}

// writeUpstreamError reports errors of calls that reach out to a host.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	writeStatusError(w, r, err, http.StatusBadGateway)
}

func writeStatusError(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status, step := statusFor(err, fallback)
	log := logging.FromContext(r.Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	writeJSON(w, r, status, ErrorResponse{Error: err.Error(), Step: step})
}
