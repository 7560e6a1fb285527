package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs assets into a zip archive in the given order. Entries
// without data are skipped; repeated filenames get a " (n)" suffix.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	used := make(map[string]int, len(assets))
	modified := time.Now().UTC()
	for _, asset := range assets {
		if len(asset.Data) == 0 {
			continue
		}
		name := UniqueName(used, asset.Filename)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// UniqueName returns filename, or "name (n).ext" when filename was already
// handed out according to used.
func UniqueName(used map[string]int, filename string) string {
	filename = strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if filename == "" || filename == "." || filename == "/" {
		filename = "file"
	}
	n := used[filename]
	used[filename] = n + 1
	if n == 0 {
		return filename
	}
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n+1, ext)
		if used[candidate] == 0 {
			used[candidate] = 1
			return candidate
		}
		n++
	}
}
