// Package source opens ordered record streams from remote datasets.
//
// A stream can only be read from its beginning; callers that resume skip
// the records they already hold. Record payloads are passed through as raw
// JSON and never interpreted.
package source

import (
	"context"
	"encoding/json"
	"io"
)

// Record is one raw payload from the stream
type Record = json.RawMessage

// ID names a dataset, its configuration and split
type ID struct {
	Dataset string
	Config  string
	Split   string
}

func (id ID) String() string {
	s := id.Dataset
	if id.Config != "" {
		s += "/" + id.Config
	}
	if id.Split != "" {
		s += ":" + id.Split
	}
	return s
}

// Stream yields records in source order. Next returns io.EOF once the
// stream is exhausted.
type Stream interface {
	Next(ctx context.Context) (Record, error)
	Close() error
}

// Opener opens a stream positioned at the first record
type Opener interface {
	Open(ctx context.Context, id ID) (Stream, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, id ID) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, id ID) (Stream, error) {
	return f(ctx, id)
}

// sliceStream serves records from memory
type sliceStream struct {
	records []Record
	pos     int
	err     error
}

// FromSlice returns a stream over records. If err is non-nil it is returned
// once the records are used up, in place of io.EOF.
func FromSlice(records []Record, err error) Stream {
	return &sliceStream{records: records, err: err}
}

func (s *sliceStream) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceStream) Close() error {
	return nil
}
