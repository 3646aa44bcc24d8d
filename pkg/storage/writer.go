package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Artifact describes a stored batch
type Artifact struct {
	Name    string
	Number  int
	Size    int64
	ModTime time.Time
}

// Writer serializes batches to numbered artifacts
type Writer struct {
	bucket  *blob.Bucket
	prefix  string
	ext     string
	pattern *regexp.Regexp
	logger  logger.Logger
}

// OpenBucket opens the bucket at bucketURL. Local file:// buckets are created
// if missing and do not get attribute sidecar files.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket url %q: %w", bucketURL, err)
	}

	if u.Scheme == "file" {
		dir := filepath.FromSlash(u.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Persistence("open bucket", dir, err)
		}
		bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
			CreateDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
		if err != nil {
			return nil, errs.Persistence("open bucket", dir, err)
		}
		return bucket, nil
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errs.Persistence("open bucket", bucketURL, err)
	}
	return bucket, nil
}

// NewWriter creates a Writer for artifacts named <prefix>_NNNNNN.<ext>
func NewWriter(bucket *blob.Bucket, prefix, ext string, log logger.Logger) *Writer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Writer{
		bucket:  bucket,
		prefix:  prefix,
		ext:     ext,
		pattern: regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `_(\d{6,})\.` + regexp.QuoteMeta(ext) + "$"),
		logger:  log.WithField("component", "storage"),
	}
}

// ArtifactName returns the object key for batch number n
func (w *Writer) ArtifactName(n int) string {
	return fmt.Sprintf("%s_%06d.%s", w.prefix, n, w.ext)
}

// Write stores batch as artifact number n, replacing any existing artifact
// of that number. The artifact becomes visible only once fully written.
func (w *Writer) Write(ctx context.Context, batch []json.RawMessage, n int) error {
	name := w.ArtifactName(n)
	log := w.logger.WithFields(map[string]interface{}{
		"batch":    n,
		"artifact": name,
	})

	if n < 1 {
		err := errs.Persistence("write batch", name, fmt.Errorf("invalid batch number %d", n))
		log.WithError(err).Error("Failed to save batch")
		return err
	}

	data, err := encodeBatch(batch)
	if err != nil {
		err = errs.Persistence("write batch", name, err)
		log.WithError(err).Error("Failed to save batch")
		return err
	}

	// Cancelling the writer's context aborts the upload without committing it
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bw, err := w.bucket.NewWriter(writeCtx, name, &blob.WriterOptions{
		ContentType: "application/json",
	})
	if err != nil {
		err = errs.Persistence("write batch", name, err)
		log.WithError(err).Error("Failed to save batch")
		return err
	}

	if _, err := bw.Write(data); err != nil {
		cancel()
		bw.Close()
		err = errs.Persistence("write batch", name, err)
		log.WithError(err).Error("Failed to save batch")
		return err
	}

	if err := bw.Close(); err != nil {
		err = errs.Persistence("write batch", name, err)
		log.WithError(err).Error("Failed to save batch")
		return err
	}

	log.WithFields(map[string]interface{}{
		"items": len(batch),
		"bytes": len(data),
	}).Debug("Batch saved")
	return nil
}

// Read returns the records stored in artifact n
func (w *Writer) Read(ctx context.Context, n int) ([]json.RawMessage, error) {
	name := w.ArtifactName(n)
	data, err := w.bucket.ReadAll(ctx, name)
	if err != nil {
		return nil, errs.Persistence("read batch", name, err)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, errs.Persistence("decode batch", name, err)
	}
	return batch, nil
}

// Exists reports whether artifact n is present
func (w *Writer) Exists(ctx context.Context, n int) (bool, error) {
	ok, err := w.bucket.Exists(ctx, w.ArtifactName(n))
	if err != nil {
		return false, errs.Persistence("stat batch", w.ArtifactName(n), err)
	}
	return ok, nil
}

// List returns the stored artifacts in batch number order
func (w *Writer) List(ctx context.Context) ([]Artifact, error) {
	var artifacts []Artifact

	iter := w.bucket.List(&blob.ListOptions{Prefix: w.prefix + "_"})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errs.Persistence("list batches", w.prefix, err)
		}
		if obj.IsDir {
			continue
		}

		m := w.pattern.FindStringSubmatch(obj.Key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Name:    obj.Key,
			Number:  n,
			Size:    obj.Size,
			ModTime: obj.ModTime,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Number < artifacts[j].Number
	})
	return artifacts, nil
}

// Delete removes artifact n; a missing artifact is not an error
func (w *Writer) Delete(ctx context.Context, n int) error {
	name := w.ArtifactName(n)
	if err := w.bucket.Delete(ctx, name); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errs.Persistence("delete batch", name, err)
	}
	return nil
}

// Close closes the underlying bucket
func (w *Writer) Close() error {
	return w.bucket.Close()
}

// encodeBatch renders batch as a compact JSON array. The encoding of a given
// batch is always the same bytes.
func encodeBatch(batch []json.RawMessage) ([]byte, error) {
	if batch == nil {
		batch = []json.RawMessage{}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return data, nil
}
