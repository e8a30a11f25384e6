package vault

import (
	"strings"

	"github.com/flytam/filenamify"
)

const maxSegmentLength = 120

// SafeSegment turns an arbitrary string into one storage path segment.
// Filesystem-hostile characters are replaced and over-long names truncated
// so local paths and object keys stay portable.
func SafeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	out, err := filenamify.Filenamify(s, filenamify.Options{
		Replacement: "_",
		MaxLength:   maxSegmentLength,
	})
	if err != nil || out == "" {
		return "unknown"
	}
	return out
}

// ArtifactScope is the remote prefix an artifact lands under:
// <uploader>/<title>, both sanitized.
func ArtifactScope(uploader, title string) string {
	return SafeSegment(uploader) + "/" + SafeSegment(title)
}

// ObjectPath joins a scope and file name into an object key.
func ObjectPath(scope, name string) string {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return name
	}
	return scope + "/" + name
}

// ScopeOf returns the scope an object key lives in, "" for root objects.
func ScopeOf(objectPath string) string {
	idx := strings.LastIndex(strings.Trim(objectPath, "/"), "/")
	if idx < 0 {
		return ""
	}
	return strings.Trim(objectPath, "/")[:idx]
}

// CoveringScopes lists the scope and every ancestor up to and including
// the root listing. A write under a deep prefix stales every listing above
// it, so cache invalidation walks this whole chain.
func CoveringScopes(scope string) []string {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return []string{""}
	}
	parts := strings.Split(scope, "/")
	out := make([]string, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	out = append(out, "")
	return out
}
