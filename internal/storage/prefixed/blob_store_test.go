package prefixed

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	storagemem "github.com/arkivist/mediavault/internal/storage/memory"
)

func TestWrapEmptyPrefixReturnsInner(t *testing.T) {
	t.Parallel()

	inner := storagemem.NewBlobStore()
	require.Equal(t, inner, Wrap(inner, ""))
	require.Equal(t, inner, Wrap(inner, "/"))
}

func TestPrefixedPutAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := storagemem.NewBlobStore()
	wrapped := Wrap(inner, "media")

	uri, err := wrapped.Put(ctx, "channel/title/video.mp4", "video/mp4", bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	require.Equal(t, "memory://media/channel/title/video.mp4", uri)

	_, found := inner.Object("media/channel/title/video.mp4")
	require.True(t, found)

	listing, err := wrapped.List(ctx, "channel/title")
	require.NoError(t, err)
	require.Equal(t, "channel/title", listing.Scope)
	require.Len(t, listing.Objects, 1)
	require.Equal(t, "video.mp4", listing.Objects[0].Name)

	root, err := wrapped.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "", root.Scope)
	require.Equal(t, []string{"channel"}, root.Folders)
}

func TestPrefixedDeletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := storagemem.NewBlobStore()
	wrapped := Wrap(inner, "media")

	_, err := inner.Put(ctx, "media/channel/a.mp4", "", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = inner.Put(ctx, "media/channel/b.mp4", "", bytes.NewReader([]byte("b")))
	require.NoError(t, err)
	_, err = inner.Put(ctx, "other/keep.mp4", "", bytes.NewReader([]byte("c")))
	require.NoError(t, err)

	require.NoError(t, wrapped.Delete(ctx, "channel/a.mp4"))
	_, found := inner.Object("media/channel/a.mp4")
	require.False(t, found)

	// Deleting the wrapped root clears the prefix, not the bucket.
	removed, err := wrapped.DeletePrefix(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, found = inner.Object("other/keep.mp4")
	require.True(t, found)
}

func TestPrefixedSignedURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := storagemem.NewBlobStore()
	wrapped := Wrap(inner, "media")

	_, err := inner.Put(ctx, "media/channel/a.mp4", "", bytes.NewReader([]byte("a")))
	require.NoError(t, err)

	url, err := wrapped.SignedURL("channel/a.mp4", time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, "memory://media/channel/a.mp4")
}
