package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
)

// heicBrands are the ISO-BMFF major brands of the HEIF/HEIC family.
var heicBrands = map[string]struct{}{
	"heic": {},
	"heix": {},
	"hevc": {},
	"hevx": {},
	"heim": {},
	"heis": {},
	"mif1": {},
	"msf1": {},
}

// DetectHEIC inspects the file-type box at offset 4 and reports the major
// brand when it belongs to the HEIC family.
func DetectHEIC(data []byte) (string, bool) {
	if len(data) < 12 {
		return "", false
	}
	if string(data[4:8]) != "ftyp" {
		return "", false
	}
	brand := string(data[8:12])
	if _, ok := heicBrands[brand]; !ok {
		return "", false
	}
	return brand, true
}

// HEICConverter decodes HEIC with goheif and re-encodes the primary image as
// JPEG.
type HEICConverter struct {
	Quality int
}

func (c HEICConverter) Convert(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("heic decode: %w", err)
	}
	quality := c.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("heic encode: %w", err)
	}
	return out.Bytes(), nil
}

var _ Converter = HEICConverter{}
