// Package api implements the HTTP API for PitCrew.
//
// The unversioned routes expose service health, Prometheus metrics and the
// policy collaborator contract (POST /evaluate). Everything under /api/v1
// requires an API key and exposes the incident loop, the override inbox,
// the audit trail, target health history and postmortem reports.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/audit"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/diagnosis"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/incident"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/override"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/policy"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/storage"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// IncidentRunner is the orchestrator surface used by the API.
type IncidentRunner interface {
	Run(ctx context.Context) (models.Outcome, error)
	Current() (models.Incident, bool)
	Outcomes() []models.Outcome
	Target() string
}

// OverrideInbox accepts override codes for a suspended incident.
type OverrideInbox interface {
	Deliver(code string) error
	Pending() (models.Incident, bool)
}

// HealthHistory exposes recent health snapshots of the target.
type HealthHistory interface {
	Latest() (models.HealthSnapshot, bool)
	History() []models.HealthSnapshot
}

// ReportStore lists and reads postmortem reports.
type ReportStore interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, incidentID string) ([]byte, error)
}

// Deps are the handler's collaborators. Audit, Override, Health, Reports and
// Cache may be nil; the matching routes then answer 501 or skip the feature.
type Deps struct {
	Policy    policy.Evaluator
	Incidents IncidentRunner
	Override  OverrideInbox
	Audit     audit.Lister
	Health    HealthHistory
	Reports   ReportStore
	Cache     *cache.Cache
	Gatherer  prometheus.Gatherer

	APIKey             string
	OverrideRateLimit  int64
	OverrideRateWindow time.Duration
}

// Handler holds the API's collaborators.
type Handler struct {
	deps      Deps
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler creates a handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		deps:      deps,
		logger:    logger.Named("api"),
		startTime: time.Now().UTC(),
	}
}

// RegisterRoutes sets up all routes on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.ServiceHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))
	r.POST("/evaluate", h.Evaluate)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(h.deps.APIKey))
	{
		incidents := v1.Group("/incidents")
		{
			incidents.GET("", h.ListIncidents)
			incidents.POST("/trigger", h.TriggerIncident)
			incidents.GET("/current", h.CurrentIncident)
			incidents.POST("/current/override",
				middleware.RateLimit(h.deps.Cache, "override", h.deps.OverrideRateLimit, h.deps.OverrideRateWindow, h.logger),
				h.SubmitOverride)
		}

		v1.GET("/audit", h.ListAudit)
		v1.GET("/target/health", h.TargetHealth)

		reports := v1.Group("/postmortems")
		{
			reports.GET("", h.ListPostmortems)
			reports.GET("/:id", h.GetPostmortem)
		}
	}
}

// ServiceHealth returns the health of the PitCrew process itself.
func (h *Handler) ServiceHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pitcrew",
		"version": "1.0.0",
		"target":  h.deps.Incidents.Target(),
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Evaluate serves the policy collaborator contract.
func (h *Handler) Evaluate(c *gin.Context) {
	var req policy.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	decision, err := h.deps.Policy.Evaluate(c.Request.Context(), policy.Request{
		IncidentID: req.IncidentID,
		Target:     req.Container,
		Action:     req.Action,
		Severity:   diagnosis.Normalize(req.Severity),
	})
	if err != nil {
		h.logger.Error("evaluate failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"approved": false,
			"error":    "policy decision could not be recorded",
		})
		return
	}

	c.JSON(http.StatusOK, policy.EvaluateResponse{
		Approved:  decision.Approved,
		RiskScore: policy.RiskScore(decision.RiskScore),
		RuleID:    decision.RuleID,
		Reason:    decision.Reason,
	})
}

// --- Incident Handlers ---

// TriggerIncident runs one invocation of the incident loop and returns its
// outcome.
func (h *Handler) TriggerIncident(c *gin.Context) {
	out, err := h.deps.Incidents.Run(c.Request.Context())
	if errors.Is(err, incident.ErrIncidentInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListIncidents returns recent outcomes, newest first.
func (h *Handler) ListIncidents(c *gin.Context) {
	outcomes := h.deps.Incidents.Outcomes()
	c.JSON(http.StatusOK, gin.H{"incidents": outcomes, "count": len(outcomes)})
}

// CurrentIncident returns the in-flight incident.
func (h *Handler) CurrentIncident(c *gin.Context) {
	inc, ok := h.deps.Incidents.Current()
	if !ok {
		body := gin.H{"error": "no incident in flight"}
		if h.deps.Cache != nil {
			holder, err := h.deps.Cache.LeaseHolder(c.Request.Context(), h.deps.Incidents.Target())
			if err == nil && holder != "" {
				body["lease_holder"] = holder
			}
		}
		c.JSON(http.StatusNotFound, body)
		return
	}

	awaiting := false
	if h.deps.Override != nil {
		if pending, ok := h.deps.Override.Pending(); ok && pending.ID == inc.ID {
			awaiting = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"incident": inc, "awaiting_override": awaiting})
}

type overrideRequest struct {
	Code string `json:"code" binding:"required"`
}

// SubmitOverride delivers an authorization code to the suspended incident.
// The code is checked by the override authority, not here.
func (h *Handler) SubmitOverride(c *gin.Context) {
	if h.deps.Override == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "overrides are collected at the terminal"})
		return
	}

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.deps.Override.Deliver(req.Code); err != nil {
		if errors.Is(err, override.ErrNoPendingOverride) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "submitted"})
}

// --- Audit, Health and Report Handlers ---

// ListAudit returns recent audit entries. ?limit=N bounds the result.
func (h *Handler) ListAudit(c *gin.Context) {
	if h.deps.Audit == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit backend does not support listing"})
		return
	}

	limit := audit.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := h.deps.Audit.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// TargetHealth returns the latest and retained health snapshots.
func (h *Handler) TargetHealth(c *gin.Context) {
	if h.deps.Health == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "health history unavailable"})
		return
	}
	body := gin.H{"history": h.deps.Health.History()}
	if latest, ok := h.deps.Health.Latest(); ok {
		body["latest"] = latest
		body["healthy"] = latest.Healthy()
	}
	c.JSON(http.StatusOK, body)
}

// ListPostmortems returns the stored report names.
func (h *Handler) ListPostmortems(c *gin.Context) {
	if h.deps.Reports == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "report store unavailable"})
		return
	}
	names, err := h.deps.Reports.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": names, "count": len(names)})
}

// GetPostmortem returns one report as markdown.
func (h *Handler) GetPostmortem(c *gin.Context) {
	if h.deps.Reports == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "report store unavailable"})
		return
	}
	data, err := h.deps.Reports.Read(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}
