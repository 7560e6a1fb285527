package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageBuffer is an uploaded or derived image held in memory for the
// duration of a single request.
type ImageBuffer struct {
	Data     []byte
	MIMEType string
	Filename string
}

// GenerationResult is one stored artifact produced by a batch run.
type GenerationResult struct {
	ArtifactID string       `json:"artifactId"`
	Style      StyleVariant `json:"style"`
	URL        string       `json:"url"`
}

// Session records a single batch invocation.
type Session struct {
	ID        string             `json:"sessionId"`
	Results   []GenerationResult `json:"images"`
	CreatedAt time.Time          `json:"createdAt"`
}

// ArtifactMetadata is the provenance kept for every stored artifact.
type ArtifactMetadata struct {
	ArtifactID       string       `json:"artifactId"`
	Style            StyleVariant `json:"style"`
	URL              string       `json:"url"`
	OriginalFilename string       `json:"originalFilename,omitempty"`
	OriginalMIMEType string       `json:"originalMimeType,omitempty"`
	SessionID        string       `json:"sessionId,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// NewSessionID returns a fresh batch session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ArtifactID composes the stable identifier of a session/style pair.
func ArtifactID(sessionID string, style StyleVariant) string {
	return fmt.Sprintf("%s_%s", sessionID, style)
}

// ParseArtifactID splits an id of the form {uuid}_{style}. It only succeeds
// when the prefix is a UUID and the suffix a known style.
func ParseArtifactID(id string) (string, StyleVariant, bool) {
	if len(id) < 38 || id[36] != '_' {
		return "", "", false
	}
	sessionID := id[:36]
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", "", false
	}
	style := StyleVariant(strings.TrimSpace(id[37:]))
	if !style.Known() {
		return "", "", false
	}
	return sessionID, style, true
}
