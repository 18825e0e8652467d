package tune

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/coolpix/server/internal/shared/storage"
	"go.uber.org/zap"
)

// HeadshotStore is the object-storage surface the ingestor needs.
type HeadshotStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// HeadshotIngestor copies generated images from the training callback
// payload into the photo bucket. Provider-hosted URLs expire, so the
// images are persisted under the user's headshot prefix as soon as the
// callback arrives.
type HeadshotIngestor struct {
	store  HeadshotStore
	client *http.Client
	logger *zap.Logger
}

// NewHeadshotIngestor creates a new headshot ingestor.
func NewHeadshotIngestor(store HeadshotStore, logger *zap.Logger) *HeadshotIngestor {
	return &HeadshotIngestor{
		store: store,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// trainingPayload covers the image URL fields of the callback bodies
// both training providers send.
type trainingPayload struct {
	Images []string `json:"images"`
	Tune   struct {
		Images []string `json:"images"`
	} `json:"tune"`
	Prompt struct {
		Images []string `json:"images"`
	} `json:"prompt"`
}

// Ingest stores every image referenced by the payload. Individual
// download failures are logged and skipped; the count of stored images
// is returned.
func (in *HeadshotIngestor) Ingest(ctx context.Context, userID string, payload []byte) int {
	var parsed trainingPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		in.logger.Warn("unparseable training payload, nothing to ingest",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0
	}

	urls := parsed.Images
	urls = append(urls, parsed.Tune.Images...)
	urls = append(urls, parsed.Prompt.Images...)

	stored := 0
	for i, imageURL := range urls {
		if err := in.ingestOne(ctx, userID, imageURL, i); err != nil {
			in.logger.Warn("failed to ingest headshot",
				zap.String("user_id", userID),
				zap.String("url", imageURL),
				zap.Error(err),
			)
			continue
		}
		stored++
	}
	return stored
}

func (in *HeadshotIngestor) ingestOne(ctx context.Context, userID, imageURL string, index int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := storage.HeadshotKey(userID, headshotFilename(imageURL, index))
	if err := in.store.Put(ctx, key, resp.Body, contentType); err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	return nil
}

// headshotFilename derives a bucket filename from the source URL,
// falling back to a positional name when the URL carries none.
func headshotFilename(imageURL string, index int) string {
	u, err := url.Parse(imageURL)
	if err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return fmt.Sprintf("headshot_%d.jpg", index)
}
