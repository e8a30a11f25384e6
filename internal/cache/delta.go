package cache

import (
	"sort"
	"strings"

	"github.com/arkivist/mediavault/internal/vault"
)

// UpsertObject adds the object to a listing of its own scope, replacing
// any stale entry with the same name.
func UpsertObject(l *vault.Listing, obj vault.ObjectInfo) {
	for i := range l.Objects {
		if l.Objects[i].Name == obj.Name {
			l.Objects[i] = obj
			return
		}
	}
	l.Objects = append(l.Objects, obj)
	sort.Slice(l.Objects, func(i, j int) bool {
		return l.Objects[i].Name < l.Objects[j].Name
	})
}

// EnsureFolder records a child folder in an ancestor listing if it is not
// already present.
func EnsureFolder(l *vault.Listing, folder string) {
	for _, f := range l.Folders {
		if f == folder {
			return
		}
	}
	l.Folders = append(l.Folders, folder)
	sort.Strings(l.Folders)
}

// ChildSegment returns the immediate child of parent on the way down to
// scope: for parent "a" and scope "a/b/c" that is "b". ok is false when
// parent does not actually cover scope.
func ChildSegment(parent, scope string) (string, bool) {
	parent = strings.Trim(parent, "/")
	scope = strings.Trim(scope, "/")
	if parent == scope {
		return "", false
	}
	rest := scope
	if parent != "" {
		if !strings.HasPrefix(scope, parent+"/") {
			return "", false
		}
		rest = strings.TrimPrefix(scope, parent+"/")
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// ApplyInsert folds a single stored object into one cached covering
// listing. The listing's own scope gets the object itself; ancestors get
// the child folder that leads toward it.
func ApplyInsert(l *vault.Listing, listingScope, objectScope string, obj vault.ObjectInfo) {
	if strings.Trim(listingScope, "/") == strings.Trim(objectScope, "/") {
		UpsertObject(l, obj)
		return
	}
	if child, ok := ChildSegment(listingScope, objectScope); ok {
		EnsureFolder(l, child)
	}
}
