// Package pipeline consumes a record stream into numbered batches.
//
// A run reads the progress record, opens the stream from its first record,
// discards everything before the resume point and groups the rest into
// batches of a fixed size. Each full batch is written as an artifact and
// only then is the progress record replaced, so a crash between the two
// writes repeats the batch with identical content on the next run. The
// final short batch is flushed the same way when the stream ends.
//
// Cancellation is observed between records. A write pair that has started
// runs to completion on a context detached from cancellation.
package pipeline
