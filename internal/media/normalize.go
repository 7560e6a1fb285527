// Package media turns uploaded photos into the canonical working format used
// by the rest of the pipeline.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"portraitstudio/internal/domain"
)

const (
	// WorkingMIMEType is the format every normalized buffer is encoded in.
	WorkingMIMEType = "image/jpeg"
	// DefaultMaxDimension caps the longest edge of a normalized image.
	DefaultMaxDimension = 2048
	// DefaultQuality is the JPEG quality used for re-encoding.
	DefaultQuality = 90
)

// Converter turns a legacy container into bytes of a decodable format.
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]byte, error)
}

// Options controls a Normalizer.
type Options struct {
	MaxDimension int
	Quality      int
	// HEIC converts HEIC family containers. Defaults to HEICConverter.
	HEIC   Converter
	Logger *zerolog.Logger
}

// Normalizer detects exotic containers, fixes orientation and bounds the
// size of incoming images.
type Normalizer struct {
	maxDimension int
	quality      int
	heic         Converter
	logger       zerolog.Logger
}

// NewNormalizer builds a Normalizer with defaults applied.
func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		maxDimension: opts.MaxDimension,
		quality:      opts.Quality,
		heic:         opts.HEIC,
		logger:       zerolog.New(io.Discard),
	}
	if n.maxDimension <= 0 {
		n.maxDimension = DefaultMaxDimension
	}
	if n.quality <= 0 || n.quality > 100 {
		n.quality = DefaultQuality
	}
	if n.heic == nil {
		n.heic = HEICConverter{}
	}
	if opts.Logger != nil {
		n.logger = *opts.Logger
	}
	return n
}

// MaxDimension returns the configured edge bound.
func (n *Normalizer) MaxDimension() int { return n.maxDimension }

// Normalize returns buf re-encoded as JPEG, orientation corrected and scaled
// down to fit MaxDimension. HEIC input is converted first; when that
// conversion succeeds but re-encoding does not, the converted bytes are
// returned as they are.
func (n *Normalizer) Normalize(ctx context.Context, buf domain.ImageBuffer) (domain.ImageBuffer, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageBuffer{}, err
	}
	if len(buf.Data) == 0 {
		return domain.ImageBuffer{}, domain.Errorf(domain.KindUnsupportedFormat, "empty image")
	}

	data := buf.Data
	converted := false
	if brand, ok := DetectHEIC(data); ok {
		out, err := n.heic.Convert(ctx, data)
		if err != nil {
			return domain.ImageBuffer{}, domain.Wrap(domain.KindUnsupportedFormat, err, fmt.Sprintf("convert %s container", brand))
		}
		n.logger.Debug().Str("brand", brand).Int("bytes", len(out)).Msg("media: converted heic container")
		data = out
		converted = true
	}

	encoded, err := n.reencode(data)
	if err != nil {
		if converted {
			n.logger.Warn().Err(err).Msg("media: re-encode failed, using converted bytes")
			return domain.ImageBuffer{Data: data, MIMEType: WorkingMIMEType, Filename: buf.Filename}, nil
		}
		return domain.ImageBuffer{}, domain.Wrap(domain.KindUnsupportedFormat, err, "decode image")
	}
	return domain.ImageBuffer{Data: encoded, MIMEType: WorkingMIMEType, Filename: buf.Filename}, nil
}

func (n *Normalizer) reencode(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	// Fit never enlarges an image that is already within bounds.
	img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
