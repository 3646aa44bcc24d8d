package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func records(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func newMemWriter(t *testing.T) (*Writer, *blob.Bucket) {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return NewWriter(bucket, "FW_batch", "json", logger.NewNopLogger()), bucket
}

func TestArtifactName(t *testing.T) {
	w, _ := newMemWriter(t)

	assert.Equal(t, "FW_batch_000001.json", w.ArtifactName(1))
	assert.Equal(t, "FW_batch_000042.json", w.ArtifactName(42))
	assert.Equal(t, "FW_batch_1234567.json", w.ArtifactName(1234567))
}

func TestWritePassesRecordsThrough(t *testing.T) {
	ctx := context.Background()
	w, bucket := newMemWriter(t)

	batch := records(`{"text":"A","id":1}`, `{"text":"B","id":2}`)
	require.NoError(t, w.Write(ctx, batch, 1))

	data, err := bucket.ReadAll(ctx, "FW_batch_000001.json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"A","id":1},{"text":"B","id":2}]`, string(data))

	got, err := w.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"text":"A","id":1}`, string(got[0]))
}

func TestWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w, bucket := newMemWriter(t)
	batch := records(`{"text":"C"}`, `{"text":"D"}`)

	require.NoError(t, w.Write(ctx, batch, 2))
	first, err := bucket.ReadAll(ctx, w.ArtifactName(2))
	require.NoError(t, err)

	require.NoError(t, w.Write(ctx, batch, 2))
	second, err := bucket.ReadAll(ctx, w.ArtifactName(2))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second), "rewritten artifact differs")

	artifacts, err := w.List(ctx)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestWriteEmptyBatch(t *testing.T) {
	ctx := context.Background()
	w, bucket := newMemWriter(t)

	require.NoError(t, w.Write(ctx, nil, 1))
	data, err := bucket.ReadAll(ctx, w.ArtifactName(1))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestWriteRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	w, _ := newMemWriter(t)

	err := w.Write(ctx, records(`{"a":1}`), 0)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))

	err = w.Write(ctx, records(`{"broken":`), 1)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))

	ok, err := w.Exists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "failed write must not leave an artifact")
}

func TestWriteFailureIsLoggedAndTyped(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	tl := logger.NewTestLogger()
	w := NewWriter(bucket, "FW_batch", "json", tl)
	require.NoError(t, bucket.Close())

	err = w.Write(ctx, records(`{"x":1}`), 3)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "FW_batch_000003.json")

	msgs := tl.GetMessagesByLevel("ERROR")
	require.Len(t, msgs, 1)
	assert.Equal(t, 3, msgs[0].Fields["batch"])
	assert.Equal(t, "FW_batch_000003.json", msgs[0].Fields["artifact"])
}

func TestListOrdersByNumber(t *testing.T) {
	ctx := context.Background()
	w, bucket := newMemWriter(t)

	for _, n := range []int{3, 1, 2} {
		require.NoError(t, w.Write(ctx, records(`{}`), n))
	}
	// Unrelated objects are ignored
	require.NoError(t, bucket.WriteAll(ctx, "FW_batch_notes.txt", []byte("x"), nil))
	require.NoError(t, bucket.WriteAll(ctx, "other_000001.json", []byte("[]"), nil))

	artifacts, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	for i, a := range artifacts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, w.ArtifactName(i+1), a.Name)
		assert.Equal(t, int64(4), a.Size)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	w, _ := newMemWriter(t)

	require.NoError(t, w.Write(ctx, records(`1`), 1))
	require.NoError(t, w.Delete(ctx, 1))
	require.NoError(t, w.Delete(ctx, 1))

	ok, err := w.Exists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBucketFile(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")

	bucket, err := OpenBucket(ctx, "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	w := NewWriter(bucket, "FW_batch", "json", nil)
	defer w.Close()

	require.NoError(t, w.Write(ctx, records(`{"text":"A"}`), 1))

	data, err := os.ReadFile(filepath.Join(dir, "FW_batch_000001.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"A"}]`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the artifact itself should be on disk")
}

func TestOpenBucketInvalidURL(t *testing.T) {
	_, err := OpenBucket(context.Background(), "nosuchscheme://bucket")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))
}
