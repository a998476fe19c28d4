// Package presenter turns a succeeded prediction's output into something the
// browser viewer can load.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/catalog"
	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/pkg/zip"
)

// Format is a recognised output file type.
type Format string

const (
	FormatGLB  Format = "glb"
	FormatGLTF Format = "gltf"
	FormatPLY  Format = "ply"
	FormatOBJ  Format = "obj"
	FormatZIP  Format = "zip"
)

const (
	defaultArchiveSuffix = ".glb"
	defaultMaxBytes      = 256 << 20
)

var contentTypes = map[Format]string{
	FormatGLB:  "model/gltf-binary",
	FormatGLTF: "model/gltf+json",
	FormatPLY:  "application/octet-stream",
	FormatOBJ:  "model/obj",
	FormatZIP:  "application/zip",
}

// Direct reports whether the format can be handed to the viewer as is.
func (f Format) Direct() bool {
	return f == FormatGLB || f == FormatGLTF || f == FormatPLY || f == FormatOBJ
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// DetectFormat classifies an output URL by its path suffix. The query string
// is ignored and matching is case-insensitive.
func DetectFormat(rawURL string) (Format, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	f := Format(ext)
	if _, ok := contentTypes[f]; !ok {
		return "", false
	}
	return f, true
}

// Asset is a file materialized in memory.
type Asset struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is either a redirect to a directly loadable asset or an extracted
// in-memory asset.
type Result struct {
	Format   Format
	Redirect string
	Asset    *Asset
}

// Downloader fetches remote output files.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configures a Presenter.
type Options struct {
	Catalog    *catalog.Catalog
	Downloader Downloader
	MaxBytes   int64
	Logger     *infra.Logger
}

type Presenter struct {
	catalog    *catalog.Catalog
	downloader Downloader
	maxBytes   int64
	logger     zerolog.Logger
}

func New(opts Options) *Presenter {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	downloader := opts.Downloader
	if downloader == nil {
		downloader = NewHTTPDownloader(nil, maxBytes)
	}
	return &Presenter{
		catalog:    opts.Catalog,
		downloader: downloader,
		maxBytes:   maxBytes,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// Resolve presents the first output of a succeeded prediction.
func (p *Presenter) Resolve(ctx context.Context, pred *domain.Prediction) (*Result, error) {
	if err := requireSucceeded(pred); err != nil {
		return nil, err
	}
	first := pred.FirstOutput()
	format, ok := DetectFormat(first)
	if !ok {
		return nil, domain.Asset(domain.ErrUnsupportedFormat, fmt.Sprintf("Unsupported output format: %s", path.Ext(stripQuery(first))))
	}
	if format.Direct() {
		return &Result{Format: format, Redirect: first}, nil
	}

	suffix := p.archiveSuffix(pred.Model)
	archive, err := p.downloader.Download(ctx, first)
	if err != nil {
		return nil, err
	}
	entry, err := zip.ExtractFirst(archive, suffix, p.maxBytes)
	if errors.Is(err, zip.ErrNoMatch) {
		return nil, domain.Asset(domain.ErrAssetNotFoundInArchive, fmt.Sprintf("No %s file found in the archive", suffix))
	}
	if err != nil {
		return nil, domain.Asset(fmt.Errorf("%w: %w", domain.ErrUnsupportedFormat, err), "Output archive could not be read")
	}

	entryFormat, _ := DetectFormat(entry.Filename)
	p.logger.Debug().
		Str("prediction_id", pred.ID).
		Str("entry", entry.Filename).
		Int("size", len(entry.Data)).
		Msg("extracted asset from archive")
	return &Result{
		Format: entryFormat,
		Asset: &Asset{
			Filename:    entry.Filename,
			ContentType: entryFormat.ContentType(),
			Data:        entry.Data,
		},
	}, nil
}

// Bundle downloads every output of a succeeded prediction into one zip.
func (p *Presenter) Bundle(ctx context.Context, pred *domain.Prediction) ([]byte, error) {
	if err := requireSucceeded(pred); err != nil {
		return nil, err
	}
	assets := make([]zip.Asset, 0, len(pred.Output))
	for i, out := range pred.Output {
		data, err := p.downloader.Download(ctx, out)
		if err != nil {
			return nil, err
		}
		name := path.Base(stripQuery(out))
		if name == "" || name == "/" || name == "." {
			name = fmt.Sprintf("output-%d", i+1)
		}
		format, _ := DetectFormat(out)
		assets = append(assets, zip.Asset{Filename: name, MIME: format.ContentType(), Data: data})
	}
	data, err := zip.ArchiveAssets(assets)
	if err != nil {
		return nil, fmt.Errorf("presenter: bundle outputs: %w", err)
	}
	return data, nil
}

func (p *Presenter) archiveSuffix(model domain.ModelType) string {
	if p.catalog != nil {
		if v, ok := p.catalog.Variant(model); ok && v.ArchiveSuffix != "" {
			return v.ArchiveSuffix
		}
	}
	return defaultArchiveSuffix
}

func requireSucceeded(pred *domain.Prediction) error {
	if pred == nil || pred.Status != domain.JobStatusSucceeded {
		return domain.NewError(domain.KindConflict, domain.ErrNotSucceeded, "Prediction has not succeeded")
	}
	if len(pred.Output) == 0 {
		return domain.Asset(domain.ErrUnsupportedFormat, "Prediction produced no output")
	}
	return nil
}

func stripQuery(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}

// HTTPDownloader fetches output files over plain HTTP GET.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPDownloader(client *http.Client, maxBytes int64) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPDownloader{client: client, maxBytes: maxBytes}
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.Asset(fmt.Errorf("%w: %w", domain.ErrUnsupportedFormat, err), "Invalid output URL")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.Transport(fmt.Errorf("%w: %w", domain.ErrTransport, err), "Failed to download output")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Transport(fmt.Errorf("%w: http %d", domain.ErrTransport, resp.StatusCode), "Failed to download output")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, domain.Transport(fmt.Errorf("%w: %w", domain.ErrTransport, err), "Failed to download output")
	}
	if int64(len(data)) > d.maxBytes {
		return nil, domain.Asset(domain.ErrUnsupportedFormat, fmt.Sprintf("Output exceeds %d bytes", d.maxBytes))
	}
	return data, nil
}
