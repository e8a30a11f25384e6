// Package directextractor fetches plain media files over HTTP for
// locators that point straight at a file rather than a platform page.
package directextractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arkivist/mediavault/internal/vault"
)

// progressStep is how many bytes pass between progress reports.
const progressStep = 1 << 20

// Config controls the HTTP client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Extractor implements vault.Extractor for direct file URLs.
type Extractor struct {
	cfg    Config
	client *resty.Client
	policy vault.Policy
}

// New builds an Extractor. policy may be nil.
func New(cfg Config, policy vault.Policy) *Extractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Extractor{cfg: cfg, client: client, policy: policy}
}

// Probe issues a HEAD request. Servers that reject HEAD outright do not
// fail the probe; the fetch decides.
func (e *Extractor) Probe(ctx context.Context, locator string) (vault.Metadata, error) {
	identity, err := vault.ResolveIdentity(locator)
	if err != nil {
		return vault.Metadata{}, err
	}
	if err := e.acquire(ctx, identity.Platform); err != nil {
		return vault.Metadata{}, err
	}

	title, _ := fileParts(locator)
	meta := vault.Metadata{Identity: identity, Title: title, WebpageURL: locator}

	resp, err := e.client.R().SetContext(ctx).Head(locator)
	if err != nil {
		return vault.Metadata{}, classifyTransport(err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusMethodNotAllowed {
		return vault.Metadata{}, classifyStatus(resp.StatusCode(), locator)
	}
	return meta, nil
}

// Fetch streams the file into its staging subdirectory.
func (e *Extractor) Fetch(ctx context.Context, locator string, identity vault.Identity, opts vault.FetchOptions) (vault.FetchResult, error) {
	if identity.Zero() {
		id, err := vault.ResolveIdentity(locator)
		if err != nil {
			return vault.FetchResult{}, err
		}
		identity = id
	}
	if opts.OutputDir == "" {
		return vault.FetchResult{}, fmt.Errorf("fetch %s: output dir required", identity.Key())
	}
	if err := e.acquire(ctx, identity.Platform); err != nil {
		return vault.FetchResult{}, err
	}

	title, filename := fileParts(locator)
	dir := filepath.Join(opts.OutputDir, vault.SafeSegment(identity.ContentID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return vault.FetchResult{}, fmt.Errorf("stage dir: %w", err)
	}
	dest := filepath.Join(dir, filename)

	resp, err := e.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(locator)
	if err != nil {
		return vault.FetchResult{}, classifyTransport(err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return vault.FetchResult{}, classifyStatus(resp.StatusCode(), locator)
	}

	total, _ := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304 -- staging path built from sanitized segments
	if err != nil {
		return vault.FetchResult{}, fmt.Errorf("create staging file: %w", err)
	}

	n, err := io.Copy(out, e.reporting(body, total, opts.OnProgress))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return vault.FetchResult{}, ctx.Err()
		}
		return vault.FetchResult{}, fmt.Errorf("%w: stream %s: %v", vault.ErrUnreachable, locator, err)
	}

	if opts.OnProgress != nil {
		opts.OnProgress(vault.Progress{Fraction: 1, BytesDone: n, BytesTotal: n, Items: 1, ItemsDone: 1})
	}
	art := vault.ItemArtifact{
		Identity:  identity,
		Title:     title,
		MediaPath: dest,
		Bytes:     n,
	}
	return vault.FetchResult{Title: title, Items: []vault.ItemArtifact{art}}, nil
}

func (e *Extractor) acquire(ctx context.Context, platform string) error {
	if e.policy == nil {
		return nil
	}
	return e.policy.Acquire(ctx, platform)
}

// reporting wraps the response body so byte progress surfaces roughly
// once per megabyte instead of once per read.
func (e *Extractor) reporting(r io.Reader, total int64, onProgress func(vault.Progress)) io.Reader {
	if onProgress == nil {
		return r
	}
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

type progressReader struct {
	r          io.Reader
	total      int64
	done       int64
	lastReport int64
	onProgress func(vault.Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.done-p.lastReport >= progressStep || (err == io.EOF && p.done > p.lastReport) {
		p.lastReport = p.done
		frac := 0.0
		if p.total > 0 {
			frac = float64(p.done) / float64(p.total)
			if frac > 1 {
				frac = 1
			}
		}
		p.onProgress(vault.Progress{Fraction: frac, BytesDone: p.done, BytesTotal: p.total, Items: 1})
	}
	return n, err
}

// fileParts derives a display title and a safe staging filename from the
// locator path.
func fileParts(locator string) (title, filename string) {
	u, err := url.Parse(locator)
	if err != nil || u.Path == "" {
		return "download", "download"
	}
	base := path.Base(u.Path)
	ext := path.Ext(base)
	title = strings.TrimSuffix(base, ext)
	if title == "" || title == "." || title == "/" {
		title = "download"
	}
	filename = vault.SafeSegment(title) + strings.ToLower(ext)
	return title, filename
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", vault.ErrUnreachable, err)
}

func classifyStatus(code int, locator string) error {
	switch {
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", vault.ErrUnreachable, locator, code)
	case code >= 500:
		return fmt.Errorf("%w: %s returned %d", vault.ErrUnreachable, locator, code)
	default:
		return fmt.Errorf("%w: %s returned %d", vault.ErrUnsupported, locator, code)
	}
}
