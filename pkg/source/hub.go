package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/retry"
)

// DefaultHubEndpoint is the public datasets-server
const DefaultHubEndpoint = "https://datasets-server.huggingface.co"

// maxHubPageSize is the largest page the rows endpoint serves
const maxHubPageSize = 100

// rowsResponse is the body of GET /rows
type rowsResponse struct {
	Rows []struct {
		RowIdx         int             `json:"row_idx"`
		Row            json.RawMessage `json:"row"`
		TruncatedCells []string        `json:"truncated_cells"`
	} `json:"rows"`
	NumRowsTotal int  `json:"num_rows_total"`
	Partial      bool `json:"partial"`
}

// HubRowsOpener streams a dataset split page by page from the datasets-server
// rows endpoint. Every stream starts at row 0.
type HubRowsOpener struct {
	Endpoint string
	PageSize int
	Client   *Client
	// PageRetry retries transient failures of pages after the first; nil disables it
	PageRetry *retry.Config
	Logger    logger.Logger
}

// NewHubRowsOpener creates an opener against endpoint
func NewHubRowsOpener(endpoint string, pageSize int, client *Client, log logger.Logger) *HubRowsOpener {
	if endpoint == "" {
		endpoint = DefaultHubEndpoint
	}
	if pageSize <= 0 || pageSize > maxHubPageSize {
		pageSize = maxHubPageSize
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HubRowsOpener{
		Endpoint: strings.TrimRight(endpoint, "/"),
		PageSize: pageSize,
		Client:   client,
		Logger:   log.WithField("component", "source"),
	}
}

// Open fetches the first page so that connectivity and lookup failures
// surface here rather than on the first Next
func (o *HubRowsOpener) Open(ctx context.Context, id ID) (Stream, error) {
	if id.Dataset == "" {
		return nil, errs.Fatal("open source", 0, errors.New("dataset name is required"))
	}
	if id.Split == "" {
		id.Split = "train"
	}

	s := &hubStream{opener: o, id: id, total: -1}
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}

	o.Logger.InfoWithFields("Source opened", map[string]interface{}{
		"dataset":    id.String(),
		"total_rows": s.total,
		"page_size":  o.PageSize,
	})
	return s, nil
}

func (o *HubRowsOpener) pageURL(id ID, offset int) string {
	q := url.Values{}
	q.Set("dataset", id.Dataset)
	if id.Config != "" {
		q.Set("config", id.Config)
	}
	q.Set("split", id.Split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(o.PageSize))
	return o.Endpoint + "/rows?" + q.Encode()
}

type hubStream struct {
	opener *HubRowsOpener
	id     ID
	buf    []Record
	pos    int
	offset int
	total  int
	done   bool
	closed bool
}

func (s *hubStream) Next(ctx context.Context) (Record, error) {
	if s.closed {
		return nil, errors.New("stream is closed")
	}
	for s.pos >= len(s.buf) {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		if s.opener.PageRetry != nil {
			err = retry.Do(ctx, s.fetch, s.opener.PageRetry)
		} else {
			err = s.fetch(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	r := s.buf[s.pos]
	s.buf[s.pos] = nil
	s.pos++
	return r, nil
}

// fetch loads the page at the current offset into the buffer
func (s *hubStream) fetch(ctx context.Context) error {
	const op = "fetch rows"

	var page rowsResponse
	if err := s.opener.Client.GetJSON(ctx, op, s.opener.pageURL(s.id, s.offset), &page); err != nil {
		return err
	}

	records := make([]Record, 0, len(page.Rows))
	for i, row := range page.Rows {
		if want := s.offset + i; row.RowIdx != want {
			return errs.New(errs.ErrorTypeUnclassified, op,
				fmt.Sprintf("row index %d out of order, expected %d", row.RowIdx, want), nil)
		}
		if len(row.TruncatedCells) > 0 {
			s.opener.Logger.WarnWithFields("Row served with truncated cells", map[string]interface{}{
				"row":   row.RowIdx,
				"cells": row.TruncatedCells,
			})
		}
		records = append(records, Record(row.Row))
	}

	s.buf = records
	s.pos = 0
	s.offset += len(records)
	if page.NumRowsTotal > 0 {
		s.total = page.NumRowsTotal
	}
	if len(records) == 0 || (s.total >= 0 && s.offset >= s.total) {
		s.done = true
	}
	return nil
}

func (s *hubStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}
