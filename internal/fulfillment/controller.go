// Package fulfillment binds paid checkouts to artifacts and materializes
// downloads.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portraitstudio/internal/domain"
	"portraitstudio/internal/payments"
	"portraitstudio/pkg/zip"
)

// Mode selects how checkouts are settled.
type Mode string

const (
	ModeStripe Mode = "stripe"
	ModeMock   Mode = "mock"
)

const (
	// MetadataArtifactIDs is the gateway metadata key carrying the artifact
	// id list, comma separated.
	MetadataArtifactIDs = "image_ids"
	mockPrefix          = "mock_"
	sessionPlaceholder  = "{CHECKOUT_SESSION_ID}"

	singleFilename = "portrait.jpg"
	bundleFilename = "portraits.zip"
	jpegType       = "image/jpeg"
	zipType        = "application/zip"
)

// ArtifactIndex resolves artifact metadata.
type ArtifactIndex interface {
	Get(ctx context.Context, artifactID string) (domain.ArtifactMetadata, error)
	Exists(ctx context.Context, artifactID string) (bool, error)
}

// CheckoutTable persists checkout sessions.
type CheckoutTable interface {
	Create(ctx context.Context, session domain.CheckoutSession) (bool, error)
	Get(ctx context.Context, id string) (domain.CheckoutSession, error)
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
}

// ArtifactFetcher loads stored artifact bytes.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, artifactID, url string) ([]byte, error)
}

// Pricing is charged per checkout.
type Pricing struct {
	SingleCents int64
	BundleCents int64
	Currency    string
}

// Options configures a Controller.
type Options struct {
	Mode       Mode
	Gateway    payments.Gateway
	Artifacts  ArtifactIndex
	Checkouts  CheckoutTable
	Store      ArtifactFetcher
	Pricing    Pricing
	SuccessURL string
	CancelURL  string
	Logger     *zerolog.Logger
}

// Controller runs the checkout state machine.
type Controller struct {
	mode       Mode
	gateway    payments.Gateway
	artifacts  ArtifactIndex
	checkouts  CheckoutTable
	store      ArtifactFetcher
	pricing    Pricing
	successURL string
	cancelURL  string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewController validates opts. Stripe mode needs a gateway.
func NewController(opts Options) (*Controller, error) {
	switch opts.Mode {
	case ModeMock:
	case ModeStripe:
		if opts.Gateway == nil {
			return nil, errors.New("fulfillment: stripe mode requires a payment gateway")
		}
	default:
		return nil, fmt.Errorf("fulfillment: unknown checkout mode %q", opts.Mode)
	}
	if opts.Artifacts == nil || opts.Checkouts == nil || opts.Store == nil {
		return nil, errors.New("fulfillment: artifacts, checkouts and store are required")
	}
	c := &Controller{
		mode:       opts.Mode,
		gateway:    opts.Gateway,
		artifacts:  opts.Artifacts,
		checkouts:  opts.Checkouts,
		store:      opts.Store,
		pricing:    opts.Pricing,
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
		logger:     zerolog.New(io.Discard),
		now:        time.Now,
	}
	if c.pricing.Currency == "" {
		c.pricing.Currency = "usd"
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	return c, nil
}

// Mode reports the settlement mode.
func (c *Controller) Mode() Mode { return c.mode }

// CheckoutRequest lists the artifacts a customer wants to buy.
type CheckoutRequest struct {
	ArtifactIDs []string
	Bundle      bool
}

// CheckoutResult tells the client where to go next.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
	Mock      bool   `json:"mock,omitempty"`
}

// Delivery is a materialized download.
type Delivery struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateCheckout opens a checkout for the requested artifacts. Every id must
// already be registered, otherwise nothing is created.
func (c *Controller) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ids := dedupe(req.ArtifactIDs)
	if len(ids) == 0 {
		return nil, domain.Errorf(domain.KindInvalidRequest, "at least one image id is required")
	}
	for _, id := range ids {
		ok, err := c.artifacts.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.Errorf(domain.KindArtifactNotFound, "image %s", id)
		}
	}
	bundle := req.Bundle || len(ids) > 1
	now := c.now().UTC()

	if c.mode == ModeMock {
		id := mockPrefix + uuid.NewString()
		session := domain.CheckoutSession{
			ID:          id,
			ArtifactIDs: ids,
			Mock:        true,
			Bundle:      bundle,
			URL:         c.redirectURL(id),
			CreatedAt:   now,
		}
		session.MarkPaid(now)
		if _, err := c.checkouts.Create(ctx, session); err != nil {
			return nil, err
		}
		c.logger.Info().Str("checkout_id", id).Int("images", len(ids)).Msg("fulfillment: mock checkout settled")
		return &CheckoutResult{URL: session.URL, SessionID: id, Mock: true}, nil
	}

	created, err := c.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		Mode:       payments.ModePayment,
		SuccessURL: c.successURL,
		CancelURL:  c.cancelURL,
		Metadata:   map[string]string{MetadataArtifactIDs: strings.Join(ids, ",")},
		LineItems:  []payments.LineItem{c.lineItem(ids, bundle)},
	})
	if err != nil {
		return nil, err
	}
	session := domain.CheckoutSession{
		ID:          created.ID,
		ArtifactIDs: ids,
		Bundle:      bundle,
		URL:         created.URL,
		CreatedAt:   now,
	}
	if _, err := c.checkouts.Create(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info().Str("checkout_id", created.ID).Int("images", len(ids)).Bool("bundle", bundle).Msg("fulfillment: checkout created")
	return &CheckoutResult{URL: created.URL, SessionID: created.ID}, nil
}

// HandleWebhook verifies a gateway notification and settles the checkout it
// refers to. Unverifiable payloads change nothing.
func (c *Controller) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if c.gateway == nil {
		return domain.Errorf(domain.KindInvalidSignature, "webhooks are not accepted in %s mode", c.mode)
	}
	event, err := c.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	log := c.logger.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()
	if event.Type != payments.EventCheckoutCompleted || event.Session == nil {
		log.Debug().Msg("fulfillment: webhook ignored")
		return nil
	}
	if !event.Session.Paid() {
		log.Info().Str("checkout_id", event.Session.ID).Str("payment_status", event.Session.PaymentStatus).Msg("fulfillment: checkout completed without payment")
		return nil
	}
	if _, err := c.settle(ctx, event.Session); err != nil {
		return err
	}
	log.Info().Str("checkout_id", event.Session.ID).Msg("fulfillment: checkout paid")
	return nil
}

// Download returns the purchased artifacts of checkoutID: one JPEG for a
// single artifact, a zip otherwise. Artifacts that cannot be fetched are left
// out of the archive.
func (c *Controller) Download(ctx context.Context, checkoutID string) (*Delivery, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, domain.Errorf(domain.KindInvalidRequest, "session id is required")
	}
	session, err := c.resolve(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if !session.Paid {
		return nil, domain.Errorf(domain.KindPaymentNotCompleted, "checkout %s", checkoutID)
	}
	if len(session.ArtifactIDs) == 0 {
		return nil, domain.Errorf(domain.KindArtifactNotFound, "checkout %s has no images", checkoutID)
	}

	assets := make([]zip.Asset, 0, len(session.ArtifactIDs))
	for _, id := range session.ArtifactIDs {
		data, style, err := c.fetch(ctx, id)
		if err != nil {
			c.logger.Warn().Err(err).Str("checkout_id", checkoutID).Str("artifact_id", id).Msg("fulfillment: artifact skipped")
			continue
		}
		assets = append(assets, zip.Asset{Filename: domain.DisplayName(style) + ".jpg", MIME: jpegType, Data: data})
	}
	if len(assets) == 0 {
		return nil, domain.Errorf(domain.KindArtifactNotFound, "no image of checkout %s could be retrieved", checkoutID)
	}

	if len(session.ArtifactIDs) == 1 {
		return &Delivery{Filename: singleFilename, ContentType: jpegType, Data: assets[0].Data}, nil
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		return nil, fmt.Errorf("fulfillment: build archive: %w", err)
	}
	return &Delivery{Filename: bundleFilename, ContentType: zipType, Data: archive}, nil
}

// resolve loads the local session, falling back to the gateway for sessions
// this process has not seen, and refreshes the paid flag when still unpaid.
func (c *Controller) resolve(ctx context.Context, id string) (domain.CheckoutSession, error) {
	session, err := c.checkouts.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.CheckoutSession{}, err
	}
	found := err == nil
	if found && (session.Paid || session.Mock) {
		return session, nil
	}
	if c.gateway == nil {
		if !found {
			return domain.CheckoutSession{}, domain.Errorf(domain.KindSessionNotFound, "checkout %s", id)
		}
		return session, nil
	}

	details, err := c.gateway.GetCheckoutSession(ctx, id)
	if err != nil {
		if found {
			c.logger.Warn().Err(err).Str("checkout_id", id).Msg("fulfillment: payment lookup failed")
			return session, nil
		}
		return domain.CheckoutSession{}, err
	}
	if !details.Paid() {
		if !found {
			ids, err := c.registeredIDs(ctx, id, details.Metadata[MetadataArtifactIDs])
			if err != nil {
				return domain.CheckoutSession{}, err
			}
			session = domain.CheckoutSession{ID: id, ArtifactIDs: ids}
		}
		return session, nil
	}
	return c.settle(ctx, details)
}

// settle marks the checkout described by details as paid, adopting it from
// gateway metadata when it is not known locally. Only registered artifact ids
// are adopted.
func (c *Controller) settle(ctx context.Context, details *payments.SessionDetails) (domain.CheckoutSession, error) {
	now := c.now().UTC()
	if _, err := c.checkouts.MarkPaid(ctx, details.ID, now); err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.CheckoutSession{}, err
		}
		ids, err := c.registeredIDs(ctx, details.ID, details.Metadata[MetadataArtifactIDs])
		if err != nil {
			return domain.CheckoutSession{}, err
		}
		adopted := domain.CheckoutSession{ID: details.ID, ArtifactIDs: ids, Bundle: len(ids) > 1, CreatedAt: now}
		adopted.MarkPaid(now)
		if _, err := c.checkouts.Create(ctx, adopted); err != nil {
			return domain.CheckoutSession{}, err
		}
		if _, err := c.checkouts.MarkPaid(ctx, details.ID, now); err != nil {
			return domain.CheckoutSession{}, err
		}
	}
	return c.checkouts.Get(ctx, details.ID)
}

// registeredIDs splits a metadata id list and drops the ids the artifact
// index does not know.
func (c *Controller) registeredIDs(ctx context.Context, checkoutID, raw string) ([]string, error) {
	ids := splitIDs(raw)
	known := ids[:0]
	for _, id := range ids {
		ok, err := c.artifacts.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Warn().Str("checkout_id", checkoutID).Str("artifact_id", id).Msg("fulfillment: unregistered artifact in checkout metadata dropped")
			continue
		}
		known = append(known, id)
	}
	return known, nil
}

func (c *Controller) fetch(ctx context.Context, artifactID string) ([]byte, domain.StyleVariant, error) {
	var url string
	style := domain.StyleVariant("")
	meta, err := c.artifacts.Get(ctx, artifactID)
	switch {
	case err == nil:
		url, style = meta.URL, meta.Style
	case errors.Is(err, domain.ErrArtifactNotFound):
		c.logger.Debug().Str("artifact_id", artifactID).Msg("fulfillment: no metadata, deriving location")
	default:
		return nil, "", err
	}
	if style == "" {
		_, style, _ = domain.ParseArtifactID(artifactID)
	}
	data, err := c.store.Fetch(ctx, artifactID, url)
	if err != nil {
		return nil, style, err
	}
	return data, style, nil
}

func (c *Controller) lineItem(ids []string, bundle bool) payments.LineItem {
	if bundle {
		return payments.LineItem{
			Name:        "Portrait bundle",
			Description: fmt.Sprintf("%d stylized portraits", len(ids)),
			AmountCents: c.pricing.BundleCents,
			Quantity:    1,
			Currency:    c.pricing.Currency,
		}
	}
	return payments.LineItem{
		Name:        "Stylized portrait",
		AmountCents: c.pricing.SingleCents,
		Quantity:    1,
		Currency:    c.pricing.Currency,
	}
}

func (c *Controller) redirectURL(sessionID string) string {
	if c.successURL == "" {
		return ""
	}
	if strings.Contains(c.successURL, sessionPlaceholder) {
		return strings.ReplaceAll(c.successURL, sessionPlaceholder, sessionID)
	}
	return c.successURL
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func splitIDs(raw string) []string {
	return dedupe(strings.Split(raw, ","))
}
