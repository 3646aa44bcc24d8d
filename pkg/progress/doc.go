// Package progress persists the resume record of a download.
//
// The record is a pair {last_batch, last_item}: the number of the last batch
// whose artifact was durably written, and the global stream index of the last
// item in it. A missing record means nothing has been written yet.
//
// Two stores are provided. FileStore keeps the record as a small JSON file
// replaced atomically on every write; SQLiteStore keeps it in a single-row
// table. Lock guards a storage location against a second concurrent run.
package progress
