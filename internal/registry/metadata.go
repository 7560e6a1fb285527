package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"portraitstudio/internal/domain"
)

const (
	artifactPrefix     = "artifact:"
	sessionIndexPrefix = "session:"
	checkoutPrefix     = "checkout:"
	maxSwapAttempts    = 8
)

// Metadata is the append-only artifact provenance registry.
type Metadata struct {
	kv  KV
	now func() time.Time
}

// NewMetadata builds a registry over kv.
func NewMetadata(kv KV) *Metadata {
	return &Metadata{kv: kv, now: time.Now}
}

// Record stores meta unless an entry with the same artifact id exists. The
// first record wins; later ones are ignored and reported as not inserted.
func (m *Metadata) Record(ctx context.Context, meta domain.ArtifactMetadata) (bool, error) {
	if strings.TrimSpace(meta.ArtifactID) == "" {
		return false, domain.Errorf(domain.KindInvalidRequest, "artifact id is required")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = m.now().UTC()
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("registry: encode metadata: %w", err)
	}
	inserted, err := m.kv.PutIfAbsent(ctx, artifactPrefix+meta.ArtifactID, payload)
	if err != nil {
		return false, err
	}
	if inserted && meta.SessionID != "" {
		if err := m.kv.AppendIndex(ctx, sessionIndexPrefix+meta.SessionID, meta.ArtifactID); err != nil {
			return true, err
		}
	}
	return inserted, nil
}

// Get returns the metadata of artifactID or ArtifactNotFound.
func (m *Metadata) Get(ctx context.Context, artifactID string) (domain.ArtifactMetadata, error) {
	raw, err := m.kv.Get(ctx, artifactPrefix+artifactID)
	if errors.Is(err, ErrNotFound) {
		return domain.ArtifactMetadata{}, domain.Errorf(domain.KindArtifactNotFound, "artifact %s", artifactID)
	}
	if err != nil {
		return domain.ArtifactMetadata{}, err
	}
	var meta domain.ArtifactMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.ArtifactMetadata{}, fmt.Errorf("registry: decode metadata: %w", err)
	}
	return meta, nil
}

// Exists reports whether artifactID has been recorded.
func (m *Metadata) Exists(ctx context.Context, artifactID string) (bool, error) {
	_, err := m.Get(ctx, artifactID)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListSession returns the artifacts of a session in the order they were
// recorded.
func (m *Metadata) ListSession(ctx context.Context, sessionID string) ([]domain.ArtifactMetadata, error) {
	ids, err := m.kv.Index(ctx, sessionIndexPrefix+sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ArtifactMetadata, 0, len(ids))
	for _, id := range ids {
		meta, err := m.Get(ctx, id)
		if errors.Is(err, domain.ErrArtifactNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// Checkouts tracks checkout sessions and their payment state.
type Checkouts struct {
	kv KV
}

// NewCheckouts builds a checkout table over kv.
func NewCheckouts(kv KV) *Checkouts {
	return &Checkouts{kv: kv}
}

// Create stores session. It reports false when a session with the same id
// already exists, leaving the stored one untouched.
func (c *Checkouts) Create(ctx context.Context, session domain.CheckoutSession) (bool, error) {
	if strings.TrimSpace(session.ID) == "" {
		return false, domain.Errorf(domain.KindInvalidRequest, "checkout id is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return false, fmt.Errorf("registry: encode checkout: %w", err)
	}
	return c.kv.PutIfAbsent(ctx, checkoutPrefix+session.ID, payload)
}

// Get returns the session or SessionNotFound.
func (c *Checkouts) Get(ctx context.Context, id string) (domain.CheckoutSession, error) {
	session, _, err := c.load(ctx, id)
	return session, err
}

// MarkPaid moves the session to PAID. It returns false when the session was
// already paid; paid sessions never revert.
func (c *Checkouts) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		session, raw, err := c.load(ctx, id)
		if err != nil {
			return false, err
		}
		if !session.MarkPaid(at.UTC()) {
			return false, nil
		}
		next, err := json.Marshal(session)
		if err != nil {
			return false, fmt.Errorf("registry: encode checkout: %w", err)
		}
		swapped, err := c.kv.CompareAndSwap(ctx, checkoutPrefix+id, raw, next)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, fmt.Errorf("registry: checkout %s kept changing, giving up", id)
}

func (c *Checkouts) load(ctx context.Context, id string) (domain.CheckoutSession, []byte, error) {
	raw, err := c.kv.Get(ctx, checkoutPrefix+id)
	if errors.Is(err, ErrNotFound) {
		return domain.CheckoutSession{}, nil, domain.Errorf(domain.KindSessionNotFound, "checkout %s", id)
	}
	if err != nil {
		return domain.CheckoutSession{}, nil, err
	}
	var session domain.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.CheckoutSession{}, nil, fmt.Errorf("registry: decode checkout: %w", err)
	}
	return session, raw, nil
}
