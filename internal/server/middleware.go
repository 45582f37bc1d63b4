package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redactai/redactai/internal/auth"
)

type ctxKey int

const userKey ctxKey = iota

func userFrom(ctx context.Context) auth.User {
	u, _ := ctx.Value(userKey).(auth.User)
	return u
}

// api wraps an authenticated /v1 handler with the in-flight limit, the body
// limit and bearer authentication, in that order.
func (s *Server) api(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.inFlight != nil {
			select {
			case s.inFlight <- struct{}{}:
				defer func() { <-s.inFlight }()
			default:
				writeAPIError(w, http.StatusServiceUnavailable, "Too many requests in flight", "overloaded")
				return
			}
		}
		if max := s.cfg.Server.MaxBodyBytes; max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}

		apiKey, ok := auth.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			writeAPIError(w, http.StatusUnauthorized, "Invalid or missing API key", "authentication_error")
			return
		}
		user, ok := s.auth.Lookup(apiKey)
		if !ok {
			writeAPIError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.tel.RecordHTTP(r.Context(), route, rec.status, float64(time.Since(start).Microseconds())/1000)
	})
}

type apiErrorBody struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeAPIError writes a structured error JSON.
func writeAPIError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, apiErrorBody{
		Error: apiErrorDetail{
			Message: message,
			Type:    typ,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
