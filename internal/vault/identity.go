package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Query parameters that never change what content a locator points at:
// tracking junk and listing-order hints. They are dropped before an
// identity is derived so cosmetic variants of the same URL dedup together.
var cosmeticParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"si":      true,
	"feature": true,
	"ref":     true,
	"ref_src": true,
	"pp":      true,
	"t":       true,
	"sort":    true,
	"view":    true,
	"index":   true,
	"app":     true,
}

var directExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mkv": true, ".webm": true, ".mov": true,
	".avi": true, ".flv": true, ".ts": true,
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true,
	".wav": true, ".flac": true,
}

// Hosts whose platform tag differs from their first domain label.
var hostPlatforms = map[string]string{
	"youtu.be":          "youtube",
	"music.youtube.com": "youtube",
	"x.com":             "twitter",
}

// ResolveIdentity derives the logical identity of a locator without any
// network traffic. It returns ErrInvalidLocator for anything that can
// never resolve to content, so bad submissions are rejected before a
// task is enqueued.
func ResolveIdentity(locator string) (Identity, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("empty locator: %w", ErrInvalidLocator)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("parse locator: %w", ErrInvalidLocator)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Identity{}, fmt.Errorf("unsupported scheme %q: %w", u.Scheme, ErrInvalidLocator)
	}
	if u.Hostname() == "" {
		return Identity{}, fmt.Errorf("locator has no host: %w", ErrInvalidLocator)
	}
	normalize(u)

	if platform(u.Hostname()) == "youtube" {
		return youtubeIdentity(u)
	}
	if directExtensions[strings.ToLower(path.Ext(u.Path))] {
		return Identity{Platform: "direct", Kind: KindItem, ContentID: fingerprint(u)}, nil
	}
	return genericIdentity(u)
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for key := range q {
		if cosmeticParams[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	// Encode sorts keys, so equivalent URLs compare equal.
	u.RawQuery = q.Encode()
}

func platform(host string) string {
	if p, ok := hostPlatforms[host]; ok {
		return p
	}
	if strings.HasSuffix(host, ".youtube.com") || host == "youtube.com" {
		return "youtube"
	}
	labels := strings.Split(host, ".")
	if len(labels) >= 2 {
		return labels[len(labels)-2]
	}
	return host
}

// youtubeIdentity applies the platform's locator grammar. Channel pages
// and playlists resolve to collections; watch, shorts, live and embed
// URLs resolve to single items.
func youtubeIdentity(u *url.URL) (Identity, error) {
	segs := splitPath(u.Path)
	q := u.Query()

	if tok := channelToken(segs); tok != "" {
		return Identity{Platform: "youtube", Kind: KindCollection, ContentID: tok}, nil
	}
	if list := q.Get("list"); list != "" {
		return Identity{Platform: "youtube", Kind: KindCollection, ContentID: list}, nil
	}
	if len(segs) > 0 && segs[0] == "playlist" {
		return Identity{}, fmt.Errorf("playlist locator missing list id: %w", ErrInvalidLocator)
	}

	if u.Hostname() == "youtu.be" {
		if len(segs) == 0 {
			return Identity{}, fmt.Errorf("short link has no video id: %w", ErrInvalidLocator)
		}
		return Identity{Platform: "youtube", Kind: KindItem, ContentID: segs[0]}, nil
	}
	if v := q.Get("v"); v != "" {
		return Identity{Platform: "youtube", Kind: KindItem, ContentID: v}, nil
	}
	if len(segs) >= 2 {
		switch segs[0] {
		case "shorts", "embed", "live", "v":
			return Identity{Platform: "youtube", Kind: KindItem, ContentID: segs[1]}, nil
		}
	}
	return Identity{}, fmt.Errorf("no content id in locator: %w", ErrInvalidLocator)
}

// channelToken extracts the channel handle from path segments, covering
// the @handle, /c/, /channel/ and /user/ forms with or without a trailing
// tab segment such as /videos.
func channelToken(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	if strings.HasPrefix(segs[0], "@") {
		return segs[0]
	}
	if len(segs) >= 2 {
		switch segs[0] {
		case "c", "channel", "user":
			return segs[0] + "/" + segs[1]
		}
	}
	return ""
}

func genericIdentity(u *url.URL) (Identity, error) {
	if u.Path == "" && u.RawQuery == "" {
		return Identity{}, fmt.Errorf("locator points at a site root: %w", ErrInvalidLocator)
	}
	kind := KindItem
	segs := splitPath(u.Path)
	for _, s := range segs {
		switch s {
		case "playlist", "playlists", "sets", "album", "channel":
			kind = KindCollection
		}
	}
	id := u.Path
	if u.RawQuery != "" {
		id += "?" + u.RawQuery
	}
	return Identity{Platform: platform(u.Hostname()), Kind: kind, ContentID: id}, nil
}

func splitPath(p string) []string {
	out := make([]string, 0, 4)
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fingerprint keys direct file URLs by a digest of their normalized form.
func fingerprint(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.String()))
	return hex.EncodeToString(sum[:8])
}
