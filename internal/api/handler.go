// Package api provides HTTP handlers for the natal chart API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
	"github.com/ashureev/natal-chart/internal/identity"
	"github.com/ashureev/natal-chart/internal/segment"
	"github.com/go-chi/chi/v5"
)

// Records is the subset of the record store served over HTTP.
type Records interface {
	Ping(ctx context.Context) error
	GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error)
	DeleteBirthRecord(ctx context.Context, userID string) (bool, error)
}

// Languages lists the supported interface languages.
type Languages interface {
	Languages() []string
	Text(lang, key string, vars i18n.Vars) string
}

// Handler serves record, chart and metadata endpoints.
type Handler struct {
	records       Records
	langs         Languages
	messageLimit  int
	healthTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a new Handler. messageLimit bounds the parts returned by
// the chart endpoint.
func NewHandler(records Records, langs Languages, messageLimit int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if messageLimit <= 0 {
		messageLimit = segment.Limit(4096, 96)
	}
	return &Handler{
		records:       records,
		langs:         langs,
		messageLimit:  messageLimit,
		healthTimeout: 5 * time.Second,
		logger:        logger,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", h.GetLanguages)
		r.Get("/record", h.GetRecord)
		r.Delete("/record", h.DeleteRecord)
		r.Get("/chart", h.GetChart)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health reports the status of the API and its store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "store": "ok"}
	status, code := "healthy", http.StatusOK
	if err := h.records.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		checks["store"] = "unreachable"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

type languageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// GetLanguages returns the supported languages, default first.
func (h *Handler) GetLanguages(w http.ResponseWriter, _ *http.Request) {
	codes := h.langs.Languages()
	out := make([]languageInfo, 0, len(codes))
	for _, c := range codes {
		out = append(out, languageInfo{Code: c, Name: h.langs.Text(c, "language.name", nil)})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"languages": out})
}

type recordResponse struct {
	Name        string `json:"name"`
	BirthDate   string `json:"birth_date"`
	BirthTime   string `json:"birth_time"`
	TimeUnknown bool   `json:"time_unknown"`
	City        string `json:"city"`
	Country     string `json:"country,omitempty"`
	Language    string `json:"language"`
	HasChart    bool   `json:"has_chart"`
	UpdatedAt   string `json:"updated_at"`
}

// GetRecord returns the caller's saved birth data.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, recordResponse{
		Name:        rec.Name,
		BirthDate:   rec.DateString(),
		BirthTime:   rec.TimeString(),
		TimeUnknown: rec.TimeUnknown,
		City:        rec.City,
		Country:     rec.Country,
		Language:    rec.Language,
		HasChart:    rec.HasChart(),
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// DeleteRecord removes the caller's saved birth data and cached chart.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	existed, err := h.records.DeleteBirthRecord(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to delete birth record", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	if !existed {
		Error(w, http.StatusNotFound, "no saved record")
		return
	}
	h.logger.Info("Birth record deleted", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// GetChart returns the cached chart document split into message-sized parts.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if !rec.HasChart() {
		Error(w, http.StatusNotFound, "no saved chart")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"language": rec.Language,
		"parts":    segment.Split(rec.ChartText, h.messageLimit),
	})
}

func (h *Handler) loadRecord(w http.ResponseWriter, r *http.Request) (*domain.BirthRecord, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	rec, err := h.records.GetBirthRecord(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load birth record", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load record")
		return nil, false
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "no saved record")
		return nil, false
	}
	return rec, true
}
