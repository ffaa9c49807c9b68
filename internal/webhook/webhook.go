// Package webhook implements spec §6's webhook/CLI front-end: a small
// chi router exposing a single-infohash trigger, a health check, and a
// self-description root.
//
// Grounded on the teacher's internal/api package shape (chi sub-router
// per concern, RespondJSON/RespondError helpers from
// internal/api/handlers/helpers.go) and internal/api/middleware/auth.go's
// API-key-before-session precedence, narrowed here to the single
// Bearer-token scheme spec §6 specifies.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// Engine is the subset of the engine's entry points the webhook surface
// needs. Kept narrow so this package never imports internal/database or
// internal/clientadapter directly.
type Engine interface {
	RunSingle(ctx context.Context, infoHash string) (*domain.SingleResult, error)
}

var infoHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

type errorResponse struct {
	Error string `json:"error"`
}

type webhookResponse struct {
	Status  domain.ResultStatus  `json:"status"`
	Message string               `json:"message"`
	Data    *domain.SingleResult `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("webhook: failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// Router builds the webhook HTTP surface. apiKey is the
// server.api_key config value; an empty apiKey disables the
// Authorization check entirely (spec §6: "iff server.api_key is set").
func Router(engine Engine, apiKey string) http.Handler {
	r := chi.NewRouter()

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	r.With(requireBearer(apiKey)).Post("/api/webhook", handleWebhook(engine))

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":        "nemorosa",
		"description": "cross-seed matching and injection engine",
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleWebhook(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infoHash := strings.TrimSpace(r.URL.Query().Get("infoHash"))
		if infoHash == "" {
			respondError(w, http.StatusBadRequest, "infoHash query parameter is required")
			return
		}
		if !infoHashPattern.MatchString(infoHash) {
			respondError(w, http.StatusBadRequest, "infoHash must be a 40-character hex string")
			return
		}

		result, err := engine.RunSingle(r.Context(), strings.ToLower(infoHash))
		if err != nil {
			log.Error().Err(err).Str("infoHash", infoHash).Msg("webhook: run single failed")
			respondJSON(w, http.StatusInternalServerError, webhookResponse{
				Status:  domain.ResultError,
				Message: err.Error(),
			})
			return
		}

		status := http.StatusOK
		switch result.Status {
		case domain.ResultNotFound:
			status = http.StatusNotFound
		case domain.ResultError:
			status = http.StatusInternalServerError
		}

		respondJSON(w, status, webhookResponse{
			Status:  result.Status,
			Message: result.Message,
			Data:    result,
		})
	}
}

// requireBearer enforces "Authorization: Bearer <key>" when apiKey is
// non-empty; a zero-value apiKey leaves every request unauthenticated
// (spec §6: auth applies "iff server.api_key is set").
func requireBearer(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			token := strings.TrimPrefix(header, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
