package fulfillment

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitstudio/internal/domain"
	"portraitstudio/internal/payments"
	"portraitstudio/internal/registry"
	"portraitstudio/internal/storage"
)

const sessionID = "d2a1f0c4-8b7e-4c39-a1d5-3e6f7a8b9c0d"

type fakeGateway struct {
	created   []payments.CheckoutParams
	sessions  map[string]*payments.SessionDetails
	event     *payments.Event
	parseErr  error
	lookupErr error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, p payments.CheckoutParams) (*payments.Session, error) {
	g.created = append(g.created, p)
	return &payments.Session{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, id string) (*payments.SessionDetails, error) {
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	if d, ok := g.sessions[id]; ok {
		return d, nil
	}
	return nil, domain.Errorf(domain.KindSessionNotFound, "checkout %s", id)
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*payments.Event, error) {
	if signature != "valid" {
		return nil, domain.Errorf(domain.KindInvalidSignature, "bad signature")
	}
	return g.event, g.parseErr
}

type fixture struct {
	ctrl      *Controller
	gateway   *fakeGateway
	meta      *registry.Metadata
	checkouts *registry.Checkouts
	store     *storage.ArtifactStore
}

func newFixture(t *testing.T, mode Mode) *fixture {
	t.Helper()
	kv := registry.NewMemoryKV()
	fs, err := storage.NewFileStore(t.TempDir(), "http://127.0.0.1:1/static")
	require.NoError(t, err)
	f := &fixture{
		gateway:   &fakeGateway{sessions: map[string]*payments.SessionDetails{}},
		meta:      registry.NewMetadata(kv),
		checkouts: registry.NewCheckouts(kv),
		store:     storage.NewArtifactStore(fs, nil, nil),
	}
	opts := Options{
		Mode:       mode,
		Artifacts:  f.meta,
		Checkouts:  f.checkouts,
		Store:      f.store,
		Pricing:    Pricing{SingleCents: 499, BundleCents: 999, Currency: "usd"},
		SuccessURL: "https://app.test/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.test/cancel",
	}
	if mode == ModeStripe {
		opts.Gateway = f.gateway
	}
	f.ctrl, err = NewController(opts)
	require.NoError(t, err)
	return f
}

func (f *fixture) addArtifact(t *testing.T, style domain.StyleVariant, upload bool) string {
	t.Helper()
	id := domain.ArtifactID(sessionID, style)
	url, err := f.store.URLFor(id)
	require.NoError(t, err)
	if upload {
		url, err = f.store.Upload(context.Background(), []byte("jpeg:"+string(style)), id)
		require.NoError(t, err)
	}
	_, err = f.meta.Record(context.Background(), domain.ArtifactMetadata{ArtifactID: id, Style: style, URL: url, SessionID: sessionID})
	require.NoError(t, err)
	return id
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestMockCheckoutIsImmediatelyDownloadable(t *testing.T) {
	f := newFixture(t, ModeMock)
	ctx := context.Background()
	ids := []string{
		f.addArtifact(t, domain.StyleWatercolor, true),
		f.addArtifact(t, domain.StylePopArt, true),
		f.addArtifact(t, domain.StyleCyberpunk, true),
	}

	res, err := f.ctrl.CreateCheckout(ctx, CheckoutRequest{ArtifactIDs: ids})
	require.NoError(t, err)
	assert.True(t, res.Mock)
	assert.True(t, strings.HasPrefix(res.SessionID, "mock_"))
	assert.Equal(t, "https://app.test/success?session_id="+res.SessionID, res.URL)

	d, err := f.ctrl.Download(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", d.ContentType)
	assert.Equal(t, "portraits.zip", d.Filename)
	assert.Equal(t, []string{"Cyberpunk.jpg", "Pop Art.jpg", "Watercolor.jpg"}, zipNames(t, d.Data))
}

func TestDownloadSingleArtifact(t *testing.T) {
	f := newFixture(t, ModeMock)
	id := f.addArtifact(t, domain.StyleOilPainting, true)
	res, err := f.ctrl.CreateCheckout(context.Background(), CheckoutRequest{ArtifactIDs: []string{id}})
	require.NoError(t, err)

	d, err := f.ctrl.Download(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", d.ContentType)
	assert.Equal(t, "portrait.jpg", d.Filename)
	assert.Equal(t, []byte("jpeg:oil_painting"), d.Data)
}

func TestDownloadSkipsUnfetchableArtifacts(t *testing.T) {
	f := newFixture(t, ModeMock)
	ids := []string{
		f.addArtifact(t, domain.StyleWatercolor, true),
		f.addArtifact(t, domain.StylePencilSketch, false),
		f.addArtifact(t, domain.StyleCyberpunk, true),
	}
	res, err := f.ctrl.CreateCheckout(context.Background(), CheckoutRequest{ArtifactIDs: ids})
	require.NoError(t, err)

	d, err := f.ctrl.Download(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cyberpunk.jpg", "Watercolor.jpg"}, zipNames(t, d.Data))
}

func TestCheckoutRejectsUnknownArtifacts(t *testing.T) {
	f := newFixture(t, ModeStripe)
	known := f.addArtifact(t, domain.StyleWatercolor, true)

	_, err := f.ctrl.CreateCheckout(context.Background(), CheckoutRequest{ArtifactIDs: []string{known, "ghost_watercolor"}})
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	assert.Empty(t, f.gateway.created)

	_, err = f.ctrl.CreateCheckout(context.Background(), CheckoutRequest{ArtifactIDs: []string{" ", ""}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestStripeCheckoutFlow(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	b := f.addArtifact(t, domain.StylePopArt, true)

	res, err := f.ctrl.CreateCheckout(ctx, CheckoutRequest{ArtifactIDs: []string{a, b, a}})
	require.NoError(t, err)
	assert.False(t, res.Mock)
	assert.Equal(t, "cs_test_1", res.SessionID)

	require.Len(t, f.gateway.created, 1)
	params := f.gateway.created[0]
	assert.Equal(t, a+","+b, params.Metadata[MetadataArtifactIDs])
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, int64(999), params.LineItems[0].AmountCents)

	_, err = f.ctrl.Download(ctx, res.SessionID)
	assert.ErrorIs(t, err, domain.ErrPaymentNotCompleted)

	f.gateway.event = &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, Session: &payments.SessionDetails{
		ID: "cs_test_1", PaymentStatus: payments.PaymentStatusPaid,
	}}
	require.NoError(t, f.ctrl.HandleWebhook(ctx, []byte("{}"), "valid"))

	s, err := f.checkouts.Get(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutPaid, s.Status())

	d, err := f.ctrl.Download(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pop Art.jpg", "Watercolor.jpg"}, zipNames(t, d.Data))
}

func TestSinglePurchaseUsesSinglePrice(t *testing.T) {
	f := newFixture(t, ModeStripe)
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	_, err := f.ctrl.CreateCheckout(context.Background(), CheckoutRequest{ArtifactIDs: []string{a}})
	require.NoError(t, err)
	assert.Equal(t, int64(499), f.gateway.created[0].LineItems[0].AmountCents)
}

func TestWebhookWithBadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	_, err := f.ctrl.CreateCheckout(ctx, CheckoutRequest{ArtifactIDs: []string{a}})
	require.NoError(t, err)
	f.gateway.event = &payments.Event{Type: payments.EventCheckoutCompleted, Session: &payments.SessionDetails{ID: "cs_test_1", PaymentStatus: "paid"}}

	err = f.ctrl.HandleWebhook(ctx, []byte("{}"), "forged")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	s, err := f.checkouts.Get(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.False(t, s.Paid)
}

func TestWebhookIgnoresOtherEventsAndUnpaidSessions(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	_, err := f.ctrl.CreateCheckout(ctx, CheckoutRequest{ArtifactIDs: []string{a}})
	require.NoError(t, err)

	f.gateway.event = &payments.Event{Type: "payment_intent.created"}
	require.NoError(t, f.ctrl.HandleWebhook(ctx, nil, "valid"))

	f.gateway.event = &payments.Event{Type: payments.EventCheckoutCompleted, Session: &payments.SessionDetails{ID: "cs_test_1", PaymentStatus: "unpaid"}}
	require.NoError(t, f.ctrl.HandleWebhook(ctx, nil, "valid"))

	s, err := f.checkouts.Get(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.False(t, s.Paid)
}

func TestPaidNeverReverts(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	_, err := f.ctrl.CreateCheckout(ctx, CheckoutRequest{ArtifactIDs: []string{a}})
	require.NoError(t, err)

	f.gateway.event = &payments.Event{Type: payments.EventCheckoutCompleted, Session: &payments.SessionDetails{ID: "cs_test_1", PaymentStatus: "paid"}}
	require.NoError(t, f.ctrl.HandleWebhook(ctx, nil, "valid"))

	f.gateway.sessions["cs_test_1"] = &payments.SessionDetails{ID: "cs_test_1", PaymentStatus: "unpaid"}
	f.gateway.lookupErr = errors.New("gateway down")
	d, err := f.ctrl.Download(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "portrait.jpg", d.Filename)
}

func TestDownloadResolvesPaymentFromGateway(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleCyberpunk, true)

	f.gateway.sessions["cs_remote"] = &payments.SessionDetails{
		ID:            "cs_remote",
		PaymentStatus: payments.PaymentStatusPaid,
		Metadata:      map[string]string{MetadataArtifactIDs: a},
	}
	d, err := f.ctrl.Download(ctx, "cs_remote")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg:cyberpunk"), d.Data)

	s, err := f.checkouts.Get(ctx, "cs_remote")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	require.NotNil(t, s.PaidAt)
	assert.WithinDuration(t, time.Now(), *s.PaidAt, time.Minute)
}

func TestAdoptedSessionKeepsOnlyRegisteredArtifacts(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	a := f.addArtifact(t, domain.StyleWatercolor, true)
	ghost := domain.ArtifactID("0f9e8d7c-6b5a-4c3d-9e1f-a2b3c4d5e6f7", domain.StylePopArt)

	f.gateway.event = &payments.Event{Type: payments.EventCheckoutCompleted, Session: &payments.SessionDetails{
		ID:            "cs_foreign",
		PaymentStatus: payments.PaymentStatusPaid,
		Metadata:      map[string]string{MetadataArtifactIDs: a + "," + ghost},
	}}
	require.NoError(t, f.ctrl.HandleWebhook(ctx, nil, "valid"))

	s, err := f.checkouts.Get(ctx, "cs_foreign")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Equal(t, []string{a}, s.ArtifactIDs)

	d, err := f.ctrl.Download(ctx, "cs_foreign")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg:watercolor"), d.Data)
}

func TestGatewaySessionWithOnlyUnregisteredArtifacts(t *testing.T) {
	f := newFixture(t, ModeStripe)
	ctx := context.Background()
	ghost := domain.ArtifactID("0f9e8d7c-6b5a-4c3d-9e1f-a2b3c4d5e6f7", domain.StylePopArt)

	f.gateway.sessions["cs_ghost"] = &payments.SessionDetails{
		ID:            "cs_ghost",
		PaymentStatus: payments.PaymentStatusPaid,
		Metadata:      map[string]string{MetadataArtifactIDs: ghost},
	}
	_, err := f.ctrl.Download(ctx, "cs_ghost")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	s, err := f.checkouts.Get(ctx, "cs_ghost")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Empty(t, s.ArtifactIDs)
}

func TestDownloadUnknownSession(t *testing.T) {
	f := newFixture(t, ModeStripe)
	_, err := f.ctrl.Download(context.Background(), "cs_nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	m := newFixture(t, ModeMock)
	_, err = m.ctrl.Download(context.Background(), "mock_nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestWebhookRefusedInMockMode(t *testing.T) {
	f := newFixture(t, ModeMock)
	err := f.ctrl.HandleWebhook(context.Background(), []byte("{}"), "valid")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestNewControllerValidatesMode(t *testing.T) {
	_, err := NewController(Options{Mode: ModeStripe})
	assert.Error(t, err)
	_, err = NewController(Options{Mode: "paypal"})
	assert.Error(t, err)
}
