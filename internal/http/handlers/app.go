package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"portraitstudio/internal/batch"
	"portraitstudio/internal/domain"
	"portraitstudio/internal/fulfillment"
	"portraitstudio/internal/infra"
	"portraitstudio/internal/portrait"
)

// BatchRunner renders a photo in several styles.
type BatchRunner interface {
	Generate(ctx context.Context, req batch.Request) (*domain.Session, error)
}

// SessionLister reads recorded artifacts of a session.
type SessionLister interface {
	ListSession(ctx context.Context, sessionID string) ([]domain.ArtifactMetadata, error)
}

// URLResolver derives the public URL of an artifact id.
type URLResolver interface {
	URLFor(artifactID string) (string, error)
}

// Fulfiller is the checkout and delivery surface.
type Fulfiller interface {
	CreateCheckout(ctx context.Context, req fulfillment.CheckoutRequest) (*fulfillment.CheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Download(ctx context.Context, checkoutID string) (*fulfillment.Delivery, error)
}

// App carries the collaborators shared by every handler.
type App struct {
	Batch          BatchRunner
	Sessions       SessionLister
	URLs           URLResolver
	Fulfillment    Fulfiller
	Catalog        *portrait.Catalog
	MaxUploadBytes int64
	Logger         infra.Logger
}

// Deps wires an App.
type Deps struct {
	Batch          BatchRunner
	Sessions       SessionLister
	URLs           URLResolver
	Fulfillment    Fulfiller
	Catalog        *portrait.Catalog
	MaxUploadBytes int64
	Logger         *infra.Logger
}

// NewApp builds an App from deps.
func NewApp(deps Deps) *App {
	a := &App{
		Batch:          deps.Batch,
		Sessions:       deps.Sessions,
		URLs:           deps.URLs,
		Fulfillment:    deps.Fulfillment,
		Catalog:        deps.Catalog,
		MaxUploadBytes: deps.MaxUploadBytes,
		Logger:         zerolog.New(io.Discard),
	}
	if a.Catalog == nil {
		a.Catalog = portrait.DefaultCatalog()
	}
	if a.MaxUploadBytes <= 0 {
		a.MaxUploadBytes = 10 << 20
	}
	if deps.Logger != nil {
		a.Logger = *deps.Logger
	}
	return a
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps err onto the error envelope. Server side failures are logged and
// reported without internal detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := domain.StatusFor(kind)
	message := domain.DetailOf(err)
	if status >= http.StatusInternalServerError {
		a.log(r).Error().Err(err).Str("kind", string(kind)).Msg("request failed")
		message = "the request could not be completed"
	}
	a.error(w, status, string(kind), message)
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
