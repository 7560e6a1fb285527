package portrait

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"portraitstudio/internal/domain"
)

const (
	// DefaultOutputSize is the edge length of every square portrait.
	DefaultOutputSize = 1024
	// DefaultQuality is the JPEG quality of every portrait.
	DefaultQuality = 90
	outputMIMEType = "image/jpeg"
)

// Generator edits an image according to a natural-language instruction.
type Generator interface {
	Edit(ctx context.Context, image []byte, mimeType, instruction string) ([]byte, string, error)
}

// Branch records which path produced an Outcome.
type Branch string

const (
	BranchGenerated Branch = "generated"
	BranchFallback  Branch = "fallback"
)

// Outcome is the result of one synthesis. Cause is set on the fallback branch
// and explains why the generator was not used.
type Outcome struct {
	Branch   Branch
	Data     []byte
	MIMEType string
	Cause    error
}

// Options configures a Synthesizer.
type Options struct {
	Catalog *Catalog
	// Generator may be nil, in which case every call takes the fallback.
	Generator  Generator
	OutputSize int
	Quality    int
	Logger     *zerolog.Logger
}

// Synthesizer renders one style at a time.
type Synthesizer struct {
	catalog   *Catalog
	generator Generator
	size      int
	quality   int
	logger    zerolog.Logger
}

// NewSynthesizer applies defaults to opts.
func NewSynthesizer(opts Options) *Synthesizer {
	s := &Synthesizer{
		catalog:   opts.Catalog,
		generator: opts.Generator,
		size:      opts.OutputSize,
		quality:   opts.Quality,
		logger:    zerolog.New(io.Discard),
	}
	if s.catalog == nil {
		s.catalog = DefaultCatalog()
	}
	if s.size <= 0 {
		s.size = DefaultOutputSize
	}
	if s.quality <= 0 || s.quality > 100 {
		s.quality = DefaultQuality
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	return s
}

// Catalog exposes the style catalog in use.
func (s *Synthesizer) Catalog() *Catalog { return s.catalog }

// HasGenerator reports whether a generative backend is configured.
func (s *Synthesizer) HasGenerator() bool { return s.generator != nil }

// Synthesize renders img in style. The generator is tried first; any failure
// there falls through to the style's recipe. An error is returned only when
// the style is unknown or the recipe cannot process img either.
func (s *Synthesizer) Synthesize(ctx context.Context, img domain.ImageBuffer, style domain.StyleVariant) (Outcome, error) {
	recipe, err := s.catalog.Recipe(style)
	if err != nil {
		return Outcome{}, err
	}

	data, cause := s.generate(ctx, img, style)
	if cause == nil {
		return Outcome{Branch: BranchGenerated, Data: data, MIMEType: outputMIMEType}, nil
	}

	s.logger.Warn().
		Err(cause).
		Str("style", string(style)).
		Msg("portrait: generator unavailable, using fallback recipe")

	data, err = s.fallback(img, recipe)
	if err != nil {
		return Outcome{}, domain.Wrap(domain.KindGenerationFailed, errors.Join(cause, err), fmt.Sprintf("render %s", style))
	}
	return Outcome{Branch: BranchFallback, Data: data, MIMEType: outputMIMEType, Cause: cause}, nil
}

func (s *Synthesizer) generate(ctx context.Context, img domain.ImageBuffer, style domain.StyleVariant) ([]byte, error) {
	if s.generator == nil {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "no generator configured")
	}
	instruction, err := s.catalog.Instruction(style)
	if err != nil {
		return nil, err
	}
	raw, _, err := s.generator.Edit(ctx, img.Data, img.MIMEType, instruction)
	if err != nil {
		return nil, domain.Wrap(domain.KindGenerationFailed, err, "generator call")
	}
	decoded, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.Wrap(domain.KindGenerationFailed, err, "decode generated image")
	}
	return s.finish(decoded)
}

func (s *Synthesizer) fallback(img domain.ImageBuffer, recipe Recipe) ([]byte, error) {
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	return s.finish(recipe.Apply(decoded))
}

// finish crops to the output square and encodes JPEG.
func (s *Synthesizer) finish(img image.Image) ([]byte, error) {
	square := imaging.Fill(img, s.size, s.size, imaging.Center, imaging.Lanczos)
	var out bytes.Buffer
	if err := imaging.Encode(&out, square, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("encode portrait: %w", err)
	}
	return out.Bytes(), nil
}
