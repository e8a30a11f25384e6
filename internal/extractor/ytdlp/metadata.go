package ytdlpextractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arkivist/mediavault/internal/vault"
)

// probeInfo mirrors the slice of yt-dlp's single-JSON dump the extractor
// consumes. Unknown fields are ignored.
type probeInfo struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Uploader   string       `json:"uploader"`
	Channel    string       `json:"channel"`
	Duration   float64      `json:"duration"`
	ViewCount  int64        `json:"view_count"`
	WebpageURL string       `json:"webpage_url"`
	Type       string       `json:"_type"`
	Entries    []probeEntry `json:"entries"`
}

type probeEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	ViewCount int64   `json:"view_count"`
	Duration  float64 `json:"duration"`
}

// sidecarInfo is the slice of a written .info.json the extractor reads back
// after a download.
type sidecarInfo struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Uploader       string  `json:"uploader"`
	Channel        string  `json:"channel"`
	Duration       float64 `json:"duration"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

func parseProbe(raw []byte) (probeInfo, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return probeInfo{}, fmt.Errorf("empty probe output")
	}
	var pi probeInfo
	if err := json.Unmarshal(raw, &pi); err != nil {
		return probeInfo{}, fmt.Errorf("decode probe output: %w", err)
	}
	return pi, nil
}

func toMetadata(pi probeInfo, identity vault.Identity) vault.Metadata {
	meta := vault.Metadata{
		Identity:    identity,
		Title:       pi.Title,
		Uploader:    pi.Uploader,
		DurationSec: pi.Duration,
		ViewCount:   pi.ViewCount,
		WebpageURL:  pi.WebpageURL,
	}
	if meta.Uploader == "" {
		meta.Uploader = pi.Channel
	}
	for _, e := range pi.Entries {
		if e.ID == "" {
			continue
		}
		meta.Entries = append(meta.Entries, vault.CollectionEntry{
			ContentID: e.ID,
			Title:     e.Title,
			URL:       e.URL,
			ViewCount: e.ViewCount,
			Duration:  e.Duration,
		})
	}
	return meta
}

// orderEntries arranges collection entries before any limit applies.
// Flat listings arrive newest-first, so "newest" keeps source order and
// "oldest" reverses it. "most_popular" sorts by view count; when the
// locator was already rewritten to a popular-sorted view the counts are
// absent and the stable sort preserves the platform's order.
func orderEntries(entries []vault.CollectionEntry, order vault.CollectionOrder) []vault.CollectionEntry {
	out := make([]vault.CollectionEntry, len(entries))
	copy(out, entries)
	switch order {
	case vault.OrderOldest:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case vault.OrderMostPopular:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ViewCount > out[j].ViewCount
		})
	}
	return out
}

// popularLocator rewrites a channel videos-tab locator to the platform's
// popular-sorted view. Locators that already carry a sort parameter, or
// that are not a videos tab, are left alone.
func popularLocator(locator string) (string, bool) {
	if !strings.Contains(locator, "/videos") {
		return locator, false
	}
	if strings.Contains(locator, "sort=") {
		return locator, false
	}
	if strings.Contains(locator, "?") {
		return locator + "&view=0&sort=p", true
	}
	return locator + "?view=0&sort=p", true
}

// entryURL returns the fetchable URL for one collection entry. Flat
// listings sometimes omit the URL; video platforms can reconstruct it
// from the entry id.
func entryURL(e vault.CollectionEntry, platform string) string {
	if e.URL != "" {
		return e.URL
	}
	if platform == "youtube" {
		return "https://www.youtube.com/watch?v=" + e.ContentID
	}
	return ""
}

// findMedia scans a staging directory for the downloaded media file when
// the backend did not report one. Sidecar extensions are skipped and the
// largest remaining file wins.
func findMedia(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best     string
		bestSize int64
	)
	for _, ent := range ents {
		if ent.IsDir() || isSidecarName(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, ent.Name())
			bestSize = info.Size()
		}
	}
	return best
}

// sidecars returns every regular file in the staging directory except the
// media file itself.
func sidecars(dir, media string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		p := filepath.Join(dir, ent.Name())
		if p == media {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isSidecarName(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".info.json") {
		return true
	}
	switch filepath.Ext(lower) {
	case ".json", ".jpg", ".jpeg", ".png", ".webp", ".srt", ".vtt", ".ass", ".description":
		return true
	}
	return false
}

// readSidecarInfo parses the .info.json written next to the media file.
// Best effort: a missing or corrupt sidecar yields the zero value.
func readSidecarInfo(dir string) sidecarInfo {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return sidecarInfo{}
	}
	for _, ent := range ents {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".info.json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, ent.Name())) // #nosec G304 -- staging dir owned by this process
		if err != nil {
			continue
		}
		var info sidecarInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		return info
	}
	return sidecarInfo{}
}
