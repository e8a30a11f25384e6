// Package ytdlpextractor implements vault.Extractor on top of the
// external yt-dlp binary driven through go-ytdlp.
package ytdlpextractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/arkivist/mediavault/internal/vault"
)

// defaultSubtitleLangs is requested when a task asks for subtitles but no
// languages are configured.
var defaultSubtitleLangs = []string{"en", "zh-Hans", "zh-Hant", "zh", "ja", "ko"}

// Config controls backend invocation.
type Config struct {
	// Format is the yt-dlp format selector used when a task carries no
	// quality preference of its own. Passed to the backend verbatim.
	Format string
	// SubtitleLangs limits subtitle tracks when a task requests them.
	SubtitleLangs []string
	// SocketTimeout bounds individual socket operations in the backend.
	SocketTimeout time.Duration
	// Proxy is handed to the backend verbatim when set.
	Proxy string
}

// Extractor shells out to yt-dlp for probing and fetching. A fetch stages
// media plus sidecars under the task's output directory, one subdirectory
// per content id.
type Extractor struct {
	cfg    Config
	policy vault.Policy
}

// New builds an Extractor. policy may be nil, in which case outbound
// calls are not throttled.
func New(cfg Config, policy vault.Policy) *Extractor {
	if cfg.Format == "" {
		cfg.Format = "best"
	}
	if len(cfg.SubtitleLangs) == 0 {
		cfg.SubtitleLangs = defaultSubtitleLangs
	}
	return &Extractor{cfg: cfg, policy: policy}
}

// Install provisions a managed yt-dlp binary when none is available on
// PATH. Call once at startup.
func Install(ctx context.Context) error {
	_, err := ytdlp.Install(ctx, nil)
	return err
}

// Probe resolves the locator and asks the backend for metadata without
// downloading anything. Collections are probed flat.
func (e *Extractor) Probe(ctx context.Context, locator string) (vault.Metadata, error) {
	identity, err := vault.ResolveIdentity(locator)
	if err != nil {
		return vault.Metadata{}, err
	}
	if err := e.acquire(ctx, identity.Platform); err != nil {
		return vault.Metadata{}, err
	}

	dl := ytdlp.New().SkipDownload().Quiet().DumpSingleJSON()
	if identity.Kind == vault.KindCollection {
		dl = dl.FlatPlaylist()
	}
	e.applyNetworkFlags(dl)

	res, err := dl.Run(ctx, locator)
	if err != nil {
		return vault.Metadata{}, classifyRunError(err, res)
	}
	pi, err := parseProbe([]byte(res.Stdout))
	if err != nil {
		return vault.Metadata{}, err
	}
	return toMetadata(pi, identity), nil
}

// Fetch downloads the locator's content into opts.OutputDir. Collections
// are expanded flat, ordered, filtered through opts.Skip, truncated to
// opts.CollectionLimit and fetched entry by entry.
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
	if identity.Kind == vault.KindCollection {
		return e.fetchCollection(ctx, locator, identity, opts)
	}
	return e.fetchItem(ctx, locator, identity, opts)
}

func (e *Extractor) fetchItem(ctx context.Context, locator string, identity vault.Identity, opts vault.FetchOptions) (vault.FetchResult, error) {
	if err := e.acquire(ctx, identity.Platform); err != nil {
		return vault.FetchResult{}, err
	}
	art, err := e.fetchOne(ctx, locator, identity, opts, e.notify(opts, 0, 1))
	if err != nil {
		return vault.FetchResult{}, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(vault.Progress{Fraction: 1, BytesDone: art.Bytes, BytesTotal: art.Bytes, Items: 1, ItemsDone: 1})
	}
	return vault.FetchResult{Title: art.Title, Items: []vault.ItemArtifact{art}}, nil
}

func (e *Extractor) fetchCollection(ctx context.Context, locator string, identity vault.Identity, opts vault.FetchOptions) (vault.FetchResult, error) {
	loc := locator
	if opts.CollectionOrder == vault.OrderMostPopular {
		if rewritten, ok := popularLocator(locator); ok {
			loc = rewritten
		}
	}

	meta, err := e.Probe(ctx, loc)
	if err != nil {
		return vault.FetchResult{}, fmt.Errorf("probe collection: %w", err)
	}
	entries := planEntries(meta.Entries, identity, opts)
	if len(entries) == 0 {
		return vault.FetchResult{Title: meta.Title}, nil
	}

	total := len(entries)
	items := make([]vault.ItemArtifact, 0, total)
	var (
		failed  int
		lastErr error
	)
	for i, entry := range entries {
		entryID := vault.Identity{Platform: identity.Platform, Kind: vault.KindItem, ContentID: entry.ContentID}
		u := entryURL(entry, identity.Platform)
		if u == "" {
			te := vault.Classify(fmt.Errorf("%w: entry %s has no fetchable url", vault.ErrUnsupported, entry.ContentID))
			items = append(items, vault.ItemArtifact{Identity: entryID, Title: entry.Title, Err: te})
			failed++
			continue
		}

		if err := e.acquire(ctx, identity.Platform); err != nil {
			return vault.FetchResult{Title: meta.Title, Items: items}, fmt.Errorf("collection fetch interrupted: %w", err)
		}
		art, err := e.fetchOne(ctx, u, entryID, opts, e.notify(opts, i, total))
		if err != nil {
			if ctx.Err() != nil {
				return vault.FetchResult{Title: meta.Title, Items: items}, fmt.Errorf("collection fetch interrupted: %w", ctx.Err())
			}
			te := vault.Classify(err)
			art = vault.ItemArtifact{Identity: entryID, Title: entry.Title, Err: te}
			failed++
			lastErr = err
		}
		items = append(items, art)
		if opts.OnProgress != nil {
			opts.OnProgress(vault.Progress{Fraction: float64(i+1) / float64(total), Items: total, ItemsDone: i + 1})
		}
	}

	result := vault.FetchResult{Title: meta.Title, Items: items}
	switch {
	case failed == 0:
		return result, nil
	case failed == total:
		return result, fmt.Errorf("collection fetch: every entry failed: %w", lastErr)
	default:
		return result, &vault.PartialError{Succeeded: total - failed, Failed: failed}
	}
}

// planEntries orders, dedup-filters and truncates a probed collection.
// The filter runs before the limit so already-archived entries never
// consume it.
func planEntries(entries []vault.CollectionEntry, identity vault.Identity, opts vault.FetchOptions) []vault.CollectionEntry {
	ordered := orderEntries(entries, opts.CollectionOrder)
	out := make([]vault.CollectionEntry, 0, len(ordered))
	for _, entry := range ordered {
		if entry.ContentID == "" {
			continue
		}
		if opts.Skip != nil && opts.Skip(vault.Identity{Platform: identity.Platform, Kind: vault.KindItem, ContentID: entry.ContentID}) {
			continue
		}
		out = append(out, entry)
		if opts.CollectionLimit > 0 && len(out) >= opts.CollectionLimit {
			break
		}
	}
	return out
}

// fetchOne downloads a single item into its own staging subdirectory and
// reports what landed there. A subtitle-only failure downgrades to a
// warning as long as media was produced.
func (e *Extractor) fetchOne(ctx context.Context, url string, id vault.Identity, opts vault.FetchOptions, progress func(frac float64, done, total int64)) (vault.ItemArtifact, error) {
	dir := filepath.Join(opts.OutputDir, vault.SafeSegment(id.ContentID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return vault.ItemArtifact{}, fmt.Errorf("stage dir: %w", err)
	}

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Format(e.format(opts.Quality)).
		WriteInfoJSON().
		WriteThumbnail().
		Output(filepath.Join(dir, "%(title).120s.%(ext)s"))
	if opts.IncludeSubtitles {
		dl = dl.WriteSubs().SubLangs(strings.Join(e.cfg.SubtitleLangs, ","))
	}
	e.applyNetworkFlags(dl)
	if progress != nil {
		dl.ProgressFunc(500*time.Millisecond, func(up ytdlp.ProgressUpdate) {
			if up.TotalBytes > 0 {
				progress(float64(up.DownloadedBytes)/float64(up.TotalBytes), int64(up.DownloadedBytes), int64(up.TotalBytes))
			}
		})
	}

	res, runErr := dl.Run(ctx, url)
	media := mediaFromResult(res)
	if media == "" {
		media = findMedia(dir)
	}

	var warnings []string
	if runErr != nil {
		if media != "" && strings.Contains(strings.ToLower(runErr.Error()), "subtitle") {
			warnings = append(warnings, "subtitle download failed")
		} else {
			return vault.ItemArtifact{}, classifyRunError(runErr, res)
		}
	}
	if media == "" {
		return vault.ItemArtifact{}, fmt.Errorf("%w: backend produced no media for %s", vault.ErrUnsupported, id.Key())
	}

	st, err := os.Stat(media)
	if err != nil {
		return vault.ItemArtifact{}, fmt.Errorf("stat media: %w", err)
	}

	info := readSidecarInfo(dir)
	title := info.Title
	if title == "" {
		title = id.ContentID
	}
	uploader := info.Uploader
	if uploader == "" {
		uploader = info.Channel
	}

	return vault.ItemArtifact{
		Identity:  id,
		Title:     title,
		Uploader:  uploader,
		MediaPath: media,
		Sidecars:  sidecars(dir, media),
		Bytes:     st.Size(),
		Warnings:  warnings,
	}, nil
}

func (e *Extractor) format(quality string) string {
	if quality != "" {
		return quality
	}
	return e.cfg.Format
}

func (e *Extractor) acquire(ctx context.Context, platform string) error {
	if e.policy == nil {
		return nil
	}
	return e.policy.Acquire(ctx, platform)
}

func (e *Extractor) applyNetworkFlags(dl *ytdlp.Command) {
	if e.cfg.Proxy != "" {
		dl.Proxy(e.cfg.Proxy)
	}
	if e.cfg.SocketTimeout > 0 {
		dl.SocketTimeout(e.cfg.SocketTimeout.Seconds())
	}
}

// notify adapts per-entry byte progress into collection-scaled task
// progress. Returns nil when the caller did not ask for progress.
func (e *Extractor) notify(opts vault.FetchOptions, idx, total int) func(frac float64, done, totalBytes int64) {
	if opts.OnProgress == nil {
		return nil
	}
	return func(frac float64, done, totalBytes int64) {
		opts.OnProgress(vault.Progress{
			Fraction:   (float64(idx) + frac) / float64(total),
			BytesDone:  done,
			BytesTotal: totalBytes,
			Items:      total,
			ItemsDone:  idx,
		})
	}
}

func mediaFromResult(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	info, err := res.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		return ""
	}
	return *info[0].Filename
}

// classifyRunError maps backend failures onto the task error taxonomy.
// Throttling responses and network faults are retryable; content that the
// platform refuses to serve is not.
func classifyRunError(err error, res *ytdlp.Result) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if res != nil && res.Stderr != "" {
		msg += " " + strings.ToLower(res.Stderr)
	}
	switch {
	case containsAny(msg, "403", "429", "rate limit", "too many requests"):
		return fmt.Errorf("%w: backend throttled: %v", vault.ErrUnreachable, err)
	case containsAny(msg, "private video", "video unavailable", "unsupported url", "members-only", "drm", "sign in to confirm"):
		return fmt.Errorf("%w: %v", vault.ErrUnsupported, err)
	case containsAny(msg, "timed out", "timeout", "connection refused", "connection reset", "temporary failure", "unable to download", "network"):
		return fmt.Errorf("%w: %v", vault.ErrUnreachable, err)
	default:
		return fmt.Errorf("yt-dlp: %w", err)
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
