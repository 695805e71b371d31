package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"marketguard-backend/internal/auth"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/security"
)

const manualBlockReason = "Manual block"

// Agent is the operator side of the remediation agent.
type Agent interface {
	GetAgentState() models.AgentState
	ForceScanAndFix() bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	status   *security.StatusFacade
	analyzer *security.Analyzer
	enforcer *security.Enforcer
	agent    Agent
	stream   http.HandlerFunc
	logger   *zap.Logger
}

func New(status *security.StatusFacade, analyzer *security.Analyzer, enforcer *security.Enforcer, agent Agent, stream http.HandlerFunc, logger *zap.Logger) *Handler {
	return &Handler{
		status:   status,
		analyzer: analyzer,
		enforcer: enforcer,
		agent:    agent,
		stream:   stream,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/security/status", h.GetStatus)
	r.Post("/v1/security/lockdown", h.ToggleLockdown)

	r.Post("/v1/security/blocks", h.BlockIP)
	r.Delete("/v1/security/blocks/{ip}", h.UnblockIP)

	r.Get("/v1/security/agent", h.GetAgent)
	r.Post("/v1/security/agent/fix", h.ForceAgentFix)

	if h.stream != nil {
		r.Get("/v1/security/stream", h.stream)
	}
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.GetStatus(r.Context()))
}

type lockdownRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) ToggleLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	if !h.analyzer.ToggleLockdown(r.Context(), *req.Enabled) {
		http.Error(w, "Failed to toggle lockdown", http.StatusInternalServerError)
		return
	}
	h.logger.Warn("lockdown toggled by operator", zap.String("operator", operator), zap.Bool("enabled", *req.Enabled))

	writeJSON(w, http.StatusOK, map[string]bool{"lockdown": *req.Enabled})
}

type blockRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationMinutes *int   `json:"duration_minutes"`
}

// BlockIP blocks an address on operator request. Omitting
// duration_minutes blocks permanently.
func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if net.ParseIP(req.IP) == nil {
		http.Error(w, "Invalid ip", http.StatusBadRequest)
		return
	}

	var duration time.Duration
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
			return
		}
		duration = time.Duration(*req.DurationMinutes) * time.Minute
	}
	reason := req.Reason
	if reason == "" {
		reason = manualBlockReason
	}

	if !h.enforcer.Block(r.Context(), req.IP, reason, duration) {
		http.Error(w, "Failed to block ip", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ip":        req.IP,
		"reason":    reason,
		"permanent": duration == 0,
	})
}

func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		http.Error(w, "Invalid ip", http.StatusBadRequest)
		return
	}
	if !h.enforcer.Unblock(r.Context(), ip) {
		http.Error(w, "Failed to unblock ip", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agent.GetAgentState())
}

// ForceAgentFix answers 202 when a cycle started and 409 when one is
// already in progress.
func (h *Handler) ForceAgentFix(w http.ResponseWriter, r *http.Request) {
	started := h.agent.ForceScanAndFix()
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{
		"started": started,
		"agent":   h.agent.GetAgentState(),
	})
}

// Health reports whether the event store answers.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
