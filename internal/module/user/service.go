package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/coolpix/server/internal/shared/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const presignExpiry = 15 * time.Minute

// PhotoStore is the object-storage surface the user service needs.
type PhotoStore interface {
	PresignUpload(ctx context.Context, key string, size int64, expiry time.Duration) (*storage.PresignedURL, error)
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (*storage.PresignedURL, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteUserPhotos(ctx context.Context, userID string) error
}

// Service handles user profile and photo operations.
type Service struct {
	repo   Repository
	photos PhotoStore
	logger *zap.Logger
}

// NewService creates a new user service.
func NewService(repo Repository, photos PhotoStore, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		photos: photos,
		logger: logger,
	}
}

// Get returns the user's profile.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// ProfileUpdate contains the editable profile fields. Nil pointers
// leave the stored value untouched.
type ProfileUpdate struct {
	Name      *string  `json:"name,omitempty"`
	Age       *string  `json:"age,omitempty"`
	BodyType  *string  `json:"body_type,omitempty"`
	Height    *string  `json:"height,omitempty"`
	Ethnicity *string  `json:"ethnicity,omitempty"`
	Gender    *string  `json:"gender,omitempty"`
	EyeColor  *string  `json:"eye_color,omitempty"`
	Styles    []Style  `json:"styles,omitempty"`
	Photos    []string `json:"photos,omitempty"`
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, update *ProfileUpdate) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&u.Name, update.Name)
	apply(&u.Age, update.Age)
	apply(&u.BodyType, update.BodyType)
	apply(&u.Height, update.Height)
	apply(&u.Ethnicity, update.Ethnicity)
	apply(&u.Gender, update.Gender)
	apply(&u.EyeColor, update.EyeColor)
	if update.Styles != nil {
		u.Styles = update.Styles
	}
	if update.Photos != nil {
		u.Photos = update.Photos
	}

	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// PresignSelfieUpload returns a presigned PUT URL for one selfie.
func (s *Service) PresignSelfieUpload(ctx context.Context, id uuid.UUID, filename string, size int64) (*storage.PresignedURL, string, error) {
	if s.photos == nil {
		return nil, "", apperrors.Unavailable("photo storage not configured")
	}

	clean := path.Base(filename)
	if clean == "." || clean == "/" || strings.TrimSpace(clean) == "" {
		return nil, "", apperrors.Validation("invalid filename")
	}

	key := storage.SelfieKey(id.String(), clean)
	url, err := s.photos.PresignUpload(ctx, key, size, presignExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("presign selfie upload: %w", err)
	}
	return url, key, nil
}

// Headshot is one generated headshot with a temporary view URL.
type Headshot struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Headshots lists the user's generated headshots with presigned
// download URLs.
func (s *Service) Headshots(ctx context.Context, id uuid.UUID) ([]Headshot, error) {
	if s.photos == nil {
		return nil, apperrors.Unavailable("photo storage not configured")
	}

	keys, err := s.photos.List(ctx, "headshots/"+id.String()+"/")
	if err != nil {
		return nil, fmt.Errorf("list headshots: %w", err)
	}

	headshots := make([]Headshot, 0, len(keys))
	for _, key := range keys {
		url, err := s.photos.PresignDownload(ctx, key, presignExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign headshot download: %w", err)
		}
		headshots = append(headshots, Headshot{Key: key, URL: url.URL})
	}
	return headshots, nil
}

// DownloadHeadshot streams one generated headshot. The caller must
// close the returned reader.
func (s *Service) DownloadHeadshot(ctx context.Context, id uuid.UUID, filename string) (io.ReadCloser, error) {
	if s.photos == nil {
		return nil, apperrors.Unavailable("photo storage not configured")
	}

	clean := path.Base(filename)
	if clean == "." || clean == "/" || strings.TrimSpace(clean) == "" {
		return nil, apperrors.Validation("invalid filename")
	}

	body, err := s.photos.Get(ctx, storage.HeadshotKey(id.String(), clean))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NotFound("headshot")
		}
		return nil, fmt.Errorf("get headshot: %w", err)
	}
	return body, nil
}

// DeletePhotos removes every selfie and headshot stored for the user.
func (s *Service) DeletePhotos(ctx context.Context, id uuid.UUID) error {
	if s.photos == nil {
		return apperrors.Unavailable("photo storage not configured")
	}

	if err := s.photos.DeleteUserPhotos(ctx, id.String()); err != nil {
		return fmt.Errorf("delete user photos: %w", err)
	}
	s.logger.Info("user photos deleted", zap.String("user_id", id.String()))
	return nil
}
