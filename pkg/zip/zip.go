package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNoMatch is returned by ExtractFirst when no entry has the suffix.
var ErrNoMatch = errors.New("zip: no matching entry")

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets bundles assets into one archive. Duplicate names get a
// numeric suffix so every asset survives.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(asset.Filename, seen)
		w, err := zw.Create(name)
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

// ExtractFirst returns the first file entry, in archive order, whose name
// ends with suffix (case-insensitive). maxSize caps the decompressed entry;
// zero disables the cap.
func ExtractFirst(archive []byte, suffix string, maxSize int64) (*Asset, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("zip: open archive: %w", err)
	}
	suffix = strings.ToLower(suffix)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), suffix) {
			continue
		}
		data, err := readEntry(f, maxSize)
		if err != nil {
			return nil, err
		}
		return &Asset{Filename: path.Base(f.Name), Data: data}, nil
	}
	return nil, ErrNoMatch
}

func readEntry(f *zip.File, maxSize int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("zip: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if maxSize > 0 {
		r = io.LimitReader(rc, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zip: read %s: %w", f.Name, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxSize)
	}
	return data, nil
}

func uniqueName(name string, seen map[string]int) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		name = "asset"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
