package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-credit/kestrel/internal/casefile"
	"github.com/opensource-credit/kestrel/internal/detect"
	"github.com/opensource-credit/kestrel/internal/domain"
	"github.com/opensource-credit/kestrel/internal/repository"
)

// GlobalTenantID is used for rules and configs that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers. The engine configuration
// and analyzer are swapped atomically on config updates so in-flight
// analyses keep the configuration they started with.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	custom  *detect.CustomEngine
	version string

	mu        sync.RWMutex
	engineCfg *domain.EngineConfig
	analyzer  *casefile.Analyzer
}

// NewHandler creates an API handler wired to a validated engine config.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, custom *detect.CustomEngine, engineCfg *domain.EngineConfig, version string) (*Handler, error) {
	analyzer, err := buildAnalyzer(engineCfg, custom)
	if err != nil {
		return nil, err
	}

	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		custom:    custom,
		version:   version,
		engineCfg: engineCfg,
		analyzer:  analyzer,
	}, nil
}

func buildAnalyzer(cfg *domain.EngineConfig, custom *detect.CustomEngine) (*casefile.Analyzer, error) {
	opts := []casefile.Option{}
	if custom != nil {
		opts = append(opts, casefile.WithCustomEngine(custom))
	}
	return casefile.NewAnalyzer(cfg, opts...)
}

func (h *Handler) current() (*domain.EngineConfig, *casefile.Analyzer) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engineCfg, h.analyzer
}

// AnalyzeRequest is the request body for POST /analyze: one atomic case
// snapshot covering all sources.
type AnalyzeRequest struct {
	ID          string                     `json:"id,omitempty"`
	Identity    domain.ConsumerIdentity    `json:"identity"`
	Tradelines  []domain.Tradeline         `json:"tradelines"`
	Standing    domain.StandingEvidence    `json:"standing"`
	Willfulness domain.WillfulnessEvidence `json:"willfulness"`
	ActualHarm  []domain.ActualHarm        `json:"actualHarm,omitempty"`
	CreatedAt   time.Time                  `json:"createdAt,omitempty"`
}

// AnalyzeResponse is the response for a synchronous POST /analyze.
type AnalyzeResponse struct {
	Result   *domain.CaseResult `json:"result"`
	Metadata struct {
		TraceID  string `json:"traceId"`
		TotalMs  int64  `json:"totalMs"`
		Version  string `json:"version"`
		Memoized bool   `json:"memoized"`
	} `json:"metadata"`
}

// Analyze handles POST /analyze. Synchronous by default; ?async=true
// enqueues the snapshot on the ingestion topic and returns 202.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Tradelines) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one tradeline is required",
		})
		return
	}

	snap := &domain.CaseSnapshot{
		ID:          req.ID,
		TenantID:    tenantID,
		Identity:    req.Identity,
		Tradelines:  req.Tradelines,
		Standing:    req.Standing,
		Willfulness: req.Willfulness,
		ActualHarm:  req.ActualHarm,
		CreatedAt:   req.CreatedAt,
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	if h.repo != nil {
		if err := h.repo.SaveSnapshot(ctx, tenantID, snap); err != nil {
			slog.Error("failed to save snapshot", "snapshot_id", snap.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save snapshot",
			})
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		payload, _ := json.Marshal(snap)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCaseIngested, payload); err != nil {
			slog.Error("failed to publish snapshot", "snapshot_id", snap.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue snapshot",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"snapshotId": snap.ID,
			"status":     "queued",
		})
		return
	}

	cfg, analyzer := h.current()

	// Analysis is a pure function of snapshot and config; a fingerprint
	// hit means the identical result was already computed.
	fingerprint := casefile.Fingerprint(snap, cfg)
	memoized := false
	var result *domain.CaseResult
	if h.cache != nil {
		if cached, err := h.cache.GetCaseResult(ctx, tenantID, fingerprint); err == nil && cached != nil {
			result = cached
			memoized = true
		}
	}

	if result == nil {
		var err error
		result, err = analyzer.Analyze(ctx, snap)
		if err != nil {
			slog.Error("analysis failed", "snapshot_id", snap.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "analysis failed",
			})
			return
		}

		if h.repo != nil {
			if err := h.repo.SaveCaseResult(ctx, tenantID, result); err != nil {
				slog.Error("failed to save case result", "result_id", result.ID, "error", err)
			}
		}
		if h.cache != nil {
			if err := h.cache.SetCaseResult(ctx, tenantID, fingerprint, result, 24*time.Hour); err != nil {
				slog.Warn("failed to memoize case result", "result_id", result.ID, "error", err)
			}
		}

		h.publishResult(r, tenantID, result)
	}

	slog.Info("case analyzed",
		"snapshot_id", snap.ID,
		"result_id", result.ID,
		"summary", casefile.Summary(result),
		"memoized", memoized,
	)

	resp := AnalyzeResponse{Result: result}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	resp.Metadata.Memoized = memoized

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) publishResult(r *http.Request, tenantID string, result *domain.CaseResult) {
	if h.bus == nil {
		return
	}
	ctx := r.Context()

	payload, _ := json.Marshal(result)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicCaseAnalyzed, payload); err != nil {
		slog.Warn("failed to publish analyzed event", "result_id", result.ID, "error", err)
	}
	if casefile.ShouldAlert(result) {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCaseAlert, payload); err != nil {
			slog.Warn("failed to publish alert event", "result_id", result.ID, "error", err)
		}
	}
}

// GetCase retrieves a case result by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	resultID := chi.URLParam(r, "id")

	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case result id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetCaseResult(ctx, tenantID, resultID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case result not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get case result", "id", resultID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get case result",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetSnapshot retrieves a stored case snapshot by ID.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	snapID := chi.URLParam(r, "id")

	if snapID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "snapshot id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	snap, err := h.repo.GetSnapshot(ctx, tenantID, snapID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "snapshot not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get snapshot", "id", snapID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get snapshot",
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetLatestResult retrieves the most recent result for a snapshot.
func (h *Handler) GetLatestResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	snapID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetLatestResultForSnapshot(ctx, tenantID, snapID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no result for snapshot",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get latest result", "snapshot_id", snapID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get latest result",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListRules returns all custom rules loaded in the detection engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.custom == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom rule engine not available",
		})
		return
	}

	loaded := h.custom.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a loaded custom rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.custom != nil {
		for _, rule := range h.custom.GetLoadedRules() {
			if rule.ID == ruleID {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Severity    domain.Severity `json:"severity"`
	Citations   []string        `json:"citations,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// CreateRule validates, persists, and loads a custom detection rule.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.custom == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom rule engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.CustomRuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    req.Severity,
		Citations:   req.Citations,
		Detail:      req.Detail,
		Enabled:     req.Enabled,
	}

	if err := h.custom.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save custom rule", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply on all instances.",
	})
}

// ReloadRules reloads all custom rules from the database into the
// detection engine without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.custom == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom rule engine or repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListCustomRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list custom rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.custom.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload custom rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("custom rules reloaded", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// GetEngineConfig returns the active engine configuration.
func (h *Handler) GetEngineConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _ := h.current()
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateEngineConfig validates and activates a new engine configuration.
// The previous configuration stays active if validation or persistence
// fails.
func (h *Handler) UpdateEngineConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.EngineConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	analyzer, err := buildAnalyzer(&cfg, h.custom)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveEngineConfig(ctx, GlobalTenantID, &cfg); err != nil {
			slog.Error("failed to save engine config", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save engine config",
			})
			return
		}
	}

	h.mu.Lock()
	h.engineCfg = &cfg
	h.analyzer = analyzer
	h.mu.Unlock()

	slog.Info("engine config updated")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "engine config updated",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
