package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"portraitstudio/internal/infra"
)

// DefaultModel is the Gemini model that accepts image input and returns
// image parts.
const DefaultModel = "gemini-2.5-flash-image-preview"

var (
	// ErrMissingAPIKey is returned when the client has no credentials.
	ErrMissingAPIKey = errors.New("gemini: api key is missing")
	// ErrNoImage is returned when a response carries no inline image part.
	ErrNoImage = errors.New("gemini: response contained no image")
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client submits an image plus instructions to Gemini and returns the edited
// image bytes.
type Client struct {
	models contentGenerator
	model  string
	logger *infra.Logger
}

// NewClient constructs a Gemini client. A missing API key is an error; the
// caller decides whether to run without a generator.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base + "/"}
	}
	sdk, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newClient(sdk.Models, opts.Model, opts.Logger), nil
}

func newClient(models contentGenerator, model string, logger *infra.Logger) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{models: models, model: model, logger: logger}
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Edit sends image and instruction in one user turn and returns the first
// inline image part of the response.
func (c *Client) Edit(ctx context.Context, image []byte, mimeType, instruction string) ([]byte, string, error) {
	if c == nil || c.models == nil {
		return nil, "", ErrMissingAPIKey
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: generate content: %w", err)
	}
	data, mime := firstImagePart(resp)
	if len(data) == 0 {
		return nil, "", ErrNoImage
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("mime", mime).
		Int("bytes", len(data)).
		Msg("gemini: received image part")
	return data, mime, nil
}

func firstImagePart(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil {
		return nil, ""
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime != "" && !strings.HasPrefix(mime, "image/") {
				continue
			}
			if mime == "" {
				mime = "image/png"
			}
			return part.InlineData.Data, mime
		}
	}
	return nil, ""
}
