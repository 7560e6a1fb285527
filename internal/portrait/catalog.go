// Package portrait turns a normalized photo into a stylized portrait, either
// through a generative model or through a deterministic filter recipe.
package portrait

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"portraitstudio/internal/domain"
)

// ErrIncompleteStyle is returned when a profile lacks a prompt or a recipe.
var ErrIncompleteStyle = errors.New("portrait: style profile is incomplete")

const instructionSuffix = "Keep the person's identity, facial features and pose recognizable. " +
	"Compose a single head-and-shoulders portrait on a square canvas. " +
	"Do not add text, logos or watermarks."

// Profile binds a style to its generative prompt and its local fallback.
type Profile struct {
	Style  domain.StyleVariant
	Prompt string
	Recipe *Recipe
}

// Catalog is the closed set of styles the service can render. Register every
// profile before the catalog is shared between goroutines.
type Catalog struct {
	order    []domain.StyleVariant
	profiles map[domain.StyleVariant]Profile
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{profiles: make(map[domain.StyleVariant]Profile)}
}

// Register adds p to the catalog. Profiles for unknown styles or without both
// a prompt and a recipe are rejected.
func (c *Catalog) Register(p Profile) error {
	if !p.Style.Known() {
		return fmt.Errorf("%w: unknown style %q", ErrIncompleteStyle, p.Style)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: %s has no prompt", ErrIncompleteStyle, p.Style)
	}
	if p.Recipe == nil {
		return fmt.Errorf("%w: %s has no fallback recipe", ErrIncompleteStyle, p.Style)
	}
	if _, exists := c.profiles[p.Style]; !exists {
		c.order = append(c.order, p.Style)
	}
	c.profiles[p.Style] = p
	return nil
}

// Styles lists registered styles in registration order.
func (c *Catalog) Styles() []domain.StyleVariant {
	out := make([]domain.StyleVariant, len(c.order))
	copy(out, c.order)
	return out
}

// Has reports whether style is registered.
func (c *Catalog) Has(style domain.StyleVariant) bool {
	_, ok := c.profiles[style]
	return ok
}

// Instruction renders the text sent to the generator for style.
func (c *Catalog) Instruction(style domain.StyleVariant) (string, error) {
	p, ok := c.profiles[style]
	if !ok {
		return "", domain.Errorf(domain.KindInvalidRequest, "style %q is not available", style)
	}
	return strings.TrimSpace(p.Prompt) + " " + instructionSuffix, nil
}

// Recipe returns the fallback recipe for style.
func (c *Catalog) Recipe(style domain.StyleVariant) (Recipe, error) {
	p, ok := c.profiles[style]
	if !ok {
		return Recipe{}, domain.Errorf(domain.KindInvalidRequest, "style %q is not available", style)
	}
	return *p.Recipe, nil
}

// DefaultCatalog registers every built-in style.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, p := range defaultProfiles() {
		if err := c.Register(p); err != nil {
			panic(err)
		}
	}
	return c
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			Style:  domain.StyleWatercolor,
			Prompt: "Repaint this photo as a loose watercolor portrait with soft bleeding edges, visible paper texture and a light pastel palette.",
			Recipe: &Recipe{
				Brightness:  8,
				Saturation:  -15,
				Contrast:    -10,
				Tint:        color.NRGBA{R: 255, G: 240, B: 220, A: 255},
				TintOpacity: 0.15,
				Blur:        1.2,
			},
		},
		{
			Style:  domain.StyleOilPainting,
			Prompt: "Repaint this photo as a classical oil painting portrait with rich impasto brush strokes, warm chiaroscuro lighting and a dark canvas background.",
			Recipe: &Recipe{
				Saturation:  25,
				Contrast:    15,
				Tint:        color.NRGBA{R: 180, G: 120, B: 60, A: 255},
				TintOpacity: 0.12,
				Sharpen:     1.5,
			},
		},
		{
			Style:  domain.StylePopArt,
			Prompt: "Turn this photo into a bold pop art portrait with flat saturated colors, thick black outlines and halftone dots.",
			Recipe: &Recipe{
				Brightness:  5,
				Saturation:  80,
				Contrast:    40,
				Tint:        color.NRGBA{R: 255, G: 0, B: 140, A: 255},
				TintOpacity: 0.15,
				Sharpen:     1,
			},
		},
		{
			Style:  domain.StylePencilSketch,
			Prompt: "Redraw this photo as a detailed graphite pencil sketch with cross-hatching on white paper.",
			Recipe: &Recipe{
				Grayscale:  true,
				Brightness: 10,
				Contrast:   35,
				Sharpen:    2,
			},
		},
		{
			Style:  domain.StyleCyberpunk,
			Prompt: "Reimagine this photo as a cyberpunk portrait lit by neon cyan and magenta signs in a rainy futuristic city at night.",
			Recipe: &Recipe{
				Brightness:  -10,
				Saturation:  40,
				Contrast:    25,
				Tint:        color.NRGBA{R: 0, G: 200, B: 255, A: 255},
				TintOpacity: 0.25,
				Sharpen:     1,
			},
		},
	}
}
