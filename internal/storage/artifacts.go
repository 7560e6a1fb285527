// Package storage persists rendered portraits and makes them addressable by
// URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"portraitstudio/internal/domain"
)

// ArtifactContentType is the MIME type every portrait is stored with.
const ArtifactContentType = "image/jpeg"

// ErrObjectNotFound is returned by backends when a key holds no object.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore is a keyed blob backend with public URLs.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// ArtifactStore maps artifact ids onto object keys of a backend.
type ArtifactStore struct {
	backend    ObjectStore
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewArtifactStore wraps backend. A nil backend yields a store whose uploads
// fail with StorageUnavailable.
func NewArtifactStore(backend ObjectStore, httpClient *http.Client, logger *zerolog.Logger) *ArtifactStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	s := &ArtifactStore{backend: backend, httpClient: httpClient, logger: zerolog.New(io.Discard)}
	if logger != nil {
		s.logger = *logger
	}
	return s
}

// Configured reports whether a backend is present.
func (s *ArtifactStore) Configured() bool {
	return s != nil && s.backend != nil
}

// ArtifactKey returns portraits/{sessionId}/{style}.jpg for a well-formed id.
func ArtifactKey(artifactID string) (string, error) {
	sessionID, style, ok := domain.ParseArtifactID(artifactID)
	if !ok {
		return "", domain.Errorf(domain.KindInvalidRequest, "malformed artifact id %q", artifactID)
	}
	return fmt.Sprintf("portraits/%s/%s.jpg", sessionID, style), nil
}

// Upload stores data for artifactID and returns its public URL. Uploading the
// same id again overwrites the object and returns the same URL.
func (s *ArtifactStore) Upload(ctx context.Context, data []byte, artifactID string) (string, error) {
	if !s.Configured() {
		return "", domain.Errorf(domain.KindStorageUnavailable, "no storage backend configured")
	}
	key, err := ArtifactKey(artifactID)
	if err != nil {
		return "", err
	}
	stored, err := s.backend.Write(ctx, key, data, ArtifactContentType)
	if err != nil {
		return "", domain.Wrap(domain.KindUploadFailed, err, artifactID)
	}
	url := s.backend.URL(stored)
	s.logger.Debug().Str("artifact_id", artifactID).Str("key", stored).Int("bytes", len(data)).Msg("storage: artifact uploaded")
	return url, nil
}

// URLFor derives the public URL of artifactID without touching the backend.
func (s *ArtifactStore) URLFor(artifactID string) (string, error) {
	if !s.Configured() {
		return "", domain.Errorf(domain.KindStorageUnavailable, "no storage backend configured")
	}
	key, err := ArtifactKey(artifactID)
	if err != nil {
		return "", err
	}
	return s.backend.URL(key), nil
}

// Fetch returns the bytes of an artifact. The backend is read first; when
// that fails and url is set, the object is downloaded over HTTP.
func (s *ArtifactStore) Fetch(ctx context.Context, artifactID, url string) ([]byte, error) {
	var backendErr error
	if s.Configured() {
		if key, err := ArtifactKey(artifactID); err == nil {
			data, err := s.backend.Read(ctx, key)
			if err == nil {
				return data, nil
			}
			backendErr = err
		}
	}
	if strings.TrimSpace(url) == "" {
		if backendErr == nil {
			backendErr = domain.Errorf(domain.KindArtifactNotFound, "no location for %s", artifactID)
		}
		return nil, backendErr
	}
	data, err := s.download(ctx, url)
	if err != nil {
		return nil, errors.Join(backendErr, err)
	}
	return data, nil
}

func (s *ArtifactStore) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
