package tune

import (
	"errors"
	"net/http"

	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/coolpix/server/internal/utils/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes the tune creation endpoint.
type Handler struct {
	guard  *Guard
	logger *zap.Logger
}

// NewHandler creates a new tune handler.
func NewHandler(guard *Guard, logger *zap.Logger) *Handler {
	return &Handler{guard: guard, logger: logger}
}

// RegisterRoutes registers the tune routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tunes", h.CreateTune)
}

// CreateTune handles POST /tunes for the authenticated user.
func (h *Handler) CreateTune(c *gin.Context) {
	userID, err := uuid.Parse(c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, apperrors.Unauthorized(""))
		return
	}

	result, err := h.guard.Start(c.Request.Context(), userID)
	if err != nil {
		// A lost claim race is not a user-facing failure: the work is
		// already in progress for this user.
		if errors.Is(err, apperrors.ErrStateConflict) {
			c.JSON(http.StatusOK, gin.H{"status": "already_in_progress"})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
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
