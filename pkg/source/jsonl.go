package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
)

// JSONLinesOpener streams newline-delimited JSON from an http(s) URL or a
// local file. Each non-blank line is one record. The ID is only used in logs.
type JSONLinesOpener struct {
	URL    string
	Client *Client
	Logger logger.Logger
}

// NewJSONLinesOpener creates an opener for location
func NewJSONLinesOpener(location string, client *Client, log logger.Logger) *JSONLinesOpener {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &JSONLinesOpener{
		URL:    location,
		Client: client,
		Logger: log.WithField("component", "source"),
	}
}

func (o *JSONLinesOpener) Open(ctx context.Context, id ID) (Stream, error) {
	const op = "open source"

	var body io.ReadCloser
	if strings.HasPrefix(o.URL, "http://") || strings.HasPrefix(o.URL, "https://") {
		if o.Client == nil {
			return nil, errs.Fatal(op, 0, errors.New("no HTTP client configured"))
		}
		resp, err := o.Client.Get(ctx, op, o.URL)
		if err != nil {
			return nil, err
		}
		body = resp.Body
	} else {
		f, err := os.Open(strings.TrimPrefix(o.URL, "file://"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Fatal(op, 0, err)
			}
			return nil, errs.New(errs.ErrorTypeUnclassified, op, "", err)
		}
		body = f
	}

	o.Logger.InfoWithFields("Source opened", map[string]interface{}{
		"dataset": id.String(),
		"url":     o.URL,
	})
	return &linesStream{body: body, reader: bufio.NewReaderSize(body, 1<<20)}, nil
}

type linesStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	line   int
	done   bool
}

func (s *linesStream) Next(ctx context.Context) (Record, error) {
	const op = "read record"

	for {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, errs.Classify(op, err)
			}
			s.done = true
		}
		s.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, errs.New(errs.ErrorTypeUnclassified, op,
				fmt.Sprintf("line %d is not valid JSON", s.line), nil)
		}
		return Record(line), nil
	}
}

func (s *linesStream) Close() error {
	return s.body.Close()
}
