package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StyleVariant identifies one artistic transformation profile.
type StyleVariant string

const (
	StyleWatercolor   StyleVariant = "watercolor"
	StyleOilPainting  StyleVariant = "oil_painting"
	StylePopArt       StyleVariant = "pop_art"
	StylePencilSketch StyleVariant = "pencil_sketch"
	StyleCyberpunk    StyleVariant = "cyberpunk"
)

// DefaultStyles is the declared batch order used when a request does not pick
// a single style.
var DefaultStyles = []StyleVariant{
	StyleWatercolor,
	StyleOilPainting,
	StylePopArt,
	StylePencilSketch,
	StyleCyberpunk,
}

// GenericDisplayName labels artifacts whose style is not recognised.
const GenericDisplayName = "Portrait"

// ParseStyle normalises free-form input ("Oil Painting", "oil-painting") into
// a known variant.
func ParseStyle(raw string) (StyleVariant, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, s := range DefaultStyles {
		if string(s) == key {
			return s, true
		}
	}
	return "", false
}

// Known reports whether s is part of the closed style enumeration.
func (s StyleVariant) Known() bool {
	parsed, ok := ParseStyle(string(s))
	return ok && parsed == s
}

// DisplayName returns the human label used for download filenames.
func DisplayName(s StyleVariant) string {
	if !s.Known() {
		return GenericDisplayName
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}
