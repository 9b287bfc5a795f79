package variant_test

import (
	"context"
	"filestore/internal/variant"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *variant.Index {
	t.Helper()

	idx, err := variant.Open(context.Background(), filepath.Join(t.TempDir(), "variants.sqlite"))
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexRecordAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	_, ok, err := idx.Lookup(ctx, "src", "sig")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, idx.Record(ctx, "src", "sig", "v1"))
	got, ok, err := idx.Lookup(ctx, "src", "sig")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", got)

	// Recording again replaces the row.
	require.NoError(t, idx.Record(ctx, "src", "sig", "v2"))
	got, _, err = idx.Lookup(ctx, "src", "sig")
	require.NoError(t, err)
	require.Equal(t, "v2", got)
}

func TestIndexForSourceAndForget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Record(ctx, "src", "a", "va"))
	require.NoError(t, idx.Record(ctx, "src", "b", "vb"))
	require.NoError(t, idx.Record(ctx, "other", "a", "vo"))

	variants, err := idx.ForSource(ctx, "src")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	for _, v := range variants {
		require.Equal(t, "src", v.SourceHash)
		require.False(t, v.CreatedAt.IsZero())
	}

	require.NoError(t, idx.Forget(ctx, "src"))
	variants, err = idx.ForSource(ctx, "src")
	require.NoError(t, err)
	require.Empty(t, variants)

	require.NoError(t, idx.Forget(ctx, "vo"))
	_, ok, err := idx.Lookup(ctx, "other", "a")
	require.NoError(t, err)
	require.False(t, ok, "forgetting a variant hash drops its row")
}

func TestIndexReferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	referenced, err := idx.Referenced(ctx, "v1")
	require.NoError(t, err)
	require.False(t, referenced)

	require.NoError(t, idx.Record(ctx, "src", "sig", "v1"))
	referenced, err = idx.Referenced(ctx, "v1")
	require.NoError(t, err)
	require.True(t, referenced, "recorded variant")

	require.NoError(t, idx.RecordOrigin(ctx, "v1"))
	require.NoError(t, idx.RecordOrigin(ctx, "v1"), "recording an origin twice is fine")

	require.NoError(t, idx.Forget(ctx, "src"))
	referenced, err = idx.Referenced(ctx, "v1")
	require.NoError(t, err)
	require.True(t, referenced, "still a direct upload after its source is forgotten")

	require.NoError(t, idx.Forget(ctx, "v1"))
	referenced, err = idx.Referenced(ctx, "v1")
	require.NoError(t, err)
	require.False(t, referenced)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := variant.Open(context.Background(), "")
	require.Error(t, err)
}
