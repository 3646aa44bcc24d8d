// Package storage persists batches as numbered artifacts in a blob bucket.
//
// Each batch becomes one object named <prefix>_<number>.<ext>, where the
// number is zero-padded to six digits so that lexical and numeric order agree.
// The object holds a JSON array of the records exactly as received.
//
// Buckets are opened from URLs, so the same Writer serves a local directory
// (file:///abs/path), tests (mem://) and cloud storage (s3://, gs://):
//
//	bucket, err := storage.OpenBucket(ctx, "file:///var/lib/dsfetch/data")
//	w := storage.NewWriter(bucket, "FW_batch", "json", log)
//	err = w.Write(ctx, batch, 3) // FW_batch_000003.json
package storage
