package user

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/coolpix/server/internal/utils/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes the user profile and photo endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new user handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.GetProfile)
	r.PATCH("/users/me", h.UpdateProfile)
	r.POST("/photos/presign", h.PresignUpload)
	r.GET("/headshots", h.ListHeadshots)
	r.GET("/headshots/:filename", h.DownloadHeadshot)
	r.DELETE("/photos", h.DeletePhotos)
}

func (h *Handler) currentUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, apperrors.Unauthorized(""))
		return uuid.Nil, false
	}
	return id, true
}

// GetProfile handles GET /users/me.
func (h *Handler) GetProfile(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	u, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(c, apperrors.NotFound("user"))
			return
		}
		respondError(c, apperrors.Internal("load user", err))
		return
	}
	c.JSON(http.StatusOK, u)
}

// UpdateProfile handles PATCH /users/me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var update ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	u, err := h.service.UpdateProfile(c.Request.Context(), id, &update)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(c, apperrors.NotFound("user"))
			return
		}
		respondError(c, apperrors.Internal("update profile", err))
		return
	}
	c.JSON(http.StatusOK, u)
}

type presignRequest struct {
	Filename string `json:"filename" binding:"required"`
	Size     int64  `json:"size" binding:"required,gt=0"`
}

// PresignUpload handles POST /photos/presign.
func (h *Handler) PresignUpload(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("filename and size are required"))
		return
	}

	url, key, err := h.service.PresignSelfieUpload(c.Request.Context(), id, req.Filename, req.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":        key,
		"url":        url.URL,
		"method":     url.Method,
		"expires_at": url.ExpiresAt,
	})
}

// ListHeadshots handles GET /headshots.
func (h *Handler) ListHeadshots(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	headshots, err := h.service.Headshots(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"headshots": headshots})
}

// DownloadHeadshot handles GET /headshots/:filename.
func (h *Handler) DownloadHeadshot(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	body, err := h.service.DownloadHeadshot(c.Request.Context(), id, c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()

	c.Status(http.StatusOK)
	c.Header("Content-Type", "image/jpeg")
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Warn("stream headshot", zap.Error(err))
	}
}

// DeletePhotos handles DELETE /photos.
func (h *Handler) DeletePhotos(c *gin.Context) {
	id, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.DeletePhotos(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "photos deleted"})
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
