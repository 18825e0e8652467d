package generation

import (
	"errors"
	"net/http"

	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/coolpix/server/internal/utils/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the generation and provider health endpoints.
type Handler struct {
	router  *Router
	monitor *Monitor
	logger  *zap.Logger
}

// NewHandler creates a new generation handler.
func NewHandler(router *Router, monitor *Monitor, logger *zap.Logger) *Handler {
	return &Handler{
		router:  router,
		monitor: monitor,
		logger:  logger,
	}
}

// RegisterRoutes registers the generation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/generate", h.Generate)
	r.GET("/ai/health", h.ProvidersHealth)
	r.POST("/ai/health", h.HealthAction)
}

// Generate handles POST /generate.
func (h *Handler) Generate(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	userID := c.GetString(middleware.UserIDKey)

	result, err := h.router.Generate(c.Request.Context(), userID, &req)
	if err != nil {
		var failed *FailedError
		if errors.As(err, &failed) {
			h.logger.Error("generation failed on all providers",
				zap.String("provider", failed.Provider),
				zap.Error(failed.Err),
			)
			respondError(c, apperrors.Provider("generation failed", failed))
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ProvidersHealth handles GET /providers/health.
func (h *Handler) ProvidersHealth(c *gin.Context) {
	if provider := c.Query("provider"); provider != "" {
		health, err := h.monitor.ProviderHealth(provider)
		if err != nil {
			respondError(c, apperrors.NotFound("provider"))
			return
		}
		c.JSON(http.StatusOK, health)
		return
	}

	c.JSON(http.StatusOK, h.monitor.SystemHealth())
}

type healthActionRequest struct {
	Action   string `json:"action" binding:"required"`
	Provider string `json:"provider"`
}

// HealthAction handles POST /providers/health. Supported actions:
// force-check, reset-metrics, start-monitoring, stop-monitoring.
func (h *Handler) HealthAction(c *gin.Context) {
	var req healthActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("action is required"))
		return
	}

	switch req.Action {
	case "force-check":
		if err := h.monitor.ForceCheck(c.Request.Context(), req.Provider); err != nil {
			// The probe failing is itself a valid result. The check
			// still ran and the status is updated.
			h.logger.Warn("forced health check reported failure",
				zap.String("provider", req.Provider),
				zap.Error(err),
			)
		}
		c.JSON(http.StatusOK, h.monitor.SystemHealth())
	case "reset-metrics":
		h.monitor.ResetMetrics(req.Provider)
		c.JSON(http.StatusOK, h.monitor.SystemHealth())
	case "start-monitoring":
		h.monitor.StartMonitoring()
		c.JSON(http.StatusOK, gin.H{"monitoring": true})
	case "stop-monitoring":
		h.monitor.StopMonitoring()
		c.JSON(http.StatusOK, gin.H{"monitoring": false})
	default:
		respondError(c, apperrors.Validation("unknown action: "+req.Action))
	}
}

// respondError writes a uniform JSON error response.
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(apperrors.GetStatusCode(err), gin.H{"error": gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "internal error",
	}})
}
