package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) []string {
	t.Helper()
	var out []string
	for {
		r, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(r))
	}
}

// hubServer serves total rows of {"text":"row-N"} through the /rows endpoint
func hubServer(t *testing.T, total int, handler func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler != nil && handler(w, r) {
			return
		}
		if r.URL.Path != "/rows" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		offset, _ := strconv.Atoi(q.Get("offset"))
		length, _ := strconv.Atoi(q.Get("length"))

		type row struct {
			RowIdx         int             `json:"row_idx"`
			Row            json.RawMessage `json:"row"`
			TruncatedCells []string        `json:"truncated_cells"`
		}
		rows := []row{}
		for i := offset; i < offset+length && i < total; i++ {
			rows = append(rows, row{RowIdx: i, Row: json.RawMessage(fmt.Sprintf(`{"text":"row-%d"}`, i)), TruncatedCells: []string{}})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rows":           rows,
			"num_rows_total": total,
			"partial":        false,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHubRowsOpenerPagesInOrder(t *testing.T) {
	var requests atomic.Int32
	var gotAuth, gotDataset, gotConfig string
	srv := hubServer(t, 7, func(w http.ResponseWriter, r *http.Request) bool {
		requests.Add(1)
		gotAuth = r.Header.Get("Authorization")
		gotDataset = r.URL.Query().Get("dataset")
		gotConfig = r.URL.Query().Get("config")
		return false
	})

	client := NewClient(5*time.Second, nil, nil)
	client.SetToken("hf_test")
	opener := NewHubRowsOpener(srv.URL, 3, client, logger.NewNopLogger())

	stream, err := opener.Open(context.Background(), ID{Dataset: "HuggingFaceFW/fineweb-edu", Config: "sample-10BT"})
	require.NoError(t, err)
	defer stream.Close()

	got := drain(t, stream)
	require.Len(t, got, 7)
	for i, r := range got {
		assert.JSONEq(t, fmt.Sprintf(`{"text":"row-%d"}`, i), r)
	}

	// 3 + 3 + 1, and no request past the end
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, "Bearer hf_test", gotAuth)
	assert.Equal(t, "HuggingFaceFW/fineweb-edu", gotDataset)
	assert.Equal(t, "sample-10BT", gotConfig)
}

func TestHubRowsOpenerEmptyDataset(t *testing.T) {
	srv := hubServer(t, 0, nil)
	opener := NewHubRowsOpener(srv.URL, 100, NewClient(time.Second, nil, nil), nil)

	stream, err := opener.Open(context.Background(), ID{Dataset: "org/empty"})
	require.NoError(t, err)
	assert.Empty(t, drain(t, stream))
}

func TestHubRowsOpenerClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   errs.ErrorType
	}{
		{http.StatusServiceUnavailable, errs.ErrorTypeTransientNetwork},
		{http.StatusTooManyRequests, errs.ErrorTypeTransientNetwork},
		{http.StatusBadGateway, errs.ErrorTypeTransientNetwork},
		{http.StatusNotFound, errs.ErrorTypeFatal},
		{http.StatusUnauthorized, errs.ErrorTypeFatal},
		{http.StatusBadRequest, errs.ErrorTypeFatal},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := hubServer(t, 10, func(w http.ResponseWriter, r *http.Request) bool {
				http.Error(w, `{"error":"nope"}`, tt.status)
				return true
			})
			opener := NewHubRowsOpener(srv.URL, 5, NewClient(time.Second, nil, nil), nil)

			_, err := opener.Open(context.Background(), ID{Dataset: "org/ds"})
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestHubRowsOpenerConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	opener := NewHubRowsOpener(endpoint, 5, NewClient(time.Second, nil, nil), nil)
	_, err := opener.Open(context.Background(), ID{Dataset: "org/ds"})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err), "got %v", err)
}

func TestHubRowsOpenerMidStreamFailure(t *testing.T) {
	srv := hubServer(t, 10, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Query().Get("offset") == "5" {
			http.Error(w, "gateway", http.StatusGatewayTimeout)
			return true
		}
		return false
	})
	opener := NewHubRowsOpener(srv.URL, 5, NewClient(time.Second, nil, nil), nil)

	stream, err := opener.Open(context.Background(), ID{Dataset: "org/ds"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := stream.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransientNetwork, errs.TypeOf(err))
}

func TestHubRowsOpenerPageRetry(t *testing.T) {
	var failures atomic.Int32
	srv := hubServer(t, 4, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Query().Get("offset") == "2" && failures.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return true
		}
		return false
	})
	opener := NewHubRowsOpener(srv.URL, 2, NewClient(time.Second, nil, nil), nil)
	opener.PageRetry = &retry.Config{
		MaxAttempts: 5,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
	}

	stream, err := opener.Open(context.Background(), ID{Dataset: "org/ds"})
	require.NoError(t, err)
	assert.Len(t, drain(t, stream), 4)
	assert.Equal(t, int32(3), failures.Load())
}

func TestHubRowsOpenerRejectsOutOfOrderRows(t *testing.T) {
	srv := hubServer(t, 0, func(w http.ResponseWriter, r *http.Request) bool {
		w.Write([]byte(`{"rows":[{"row_idx":1,"row":{"a":1},"truncated_cells":[]}],"num_rows_total":2}`))
		return true
	})
	opener := NewHubRowsOpener(srv.URL, 2, NewClient(time.Second, nil, nil), nil)

	_, err := opener.Open(context.Background(), ID{Dataset: "org/ds"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeUnclassified, errs.TypeOf(err))
}

func TestHubRowsOpenerRequiresDataset(t *testing.T) {
	opener := NewHubRowsOpener("", 0, NewClient(time.Second, nil, nil), nil)
	assert.Equal(t, DefaultHubEndpoint, opener.Endpoint)
	assert.Equal(t, 100, opener.PageSize)

	_, err := opener.Open(context.Background(), ID{})
	assert.Equal(t, errs.ErrorTypeFatal, errs.TypeOf(err))
}

func TestJSONLinesOpenerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"text\":\"A\"}\n\n{\"text\":\"B\"}\r\n{\"text\":\"C\"}"), 0644))

	stream, err := NewJSONLinesOpener(path, nil, nil).Open(context.Background(), ID{Dataset: "local"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{`{"text":"A"}`, `{"text":"B"}`, `{"text":"C"}`}, drain(t, stream))
}

func TestJSONLinesOpenerMissingFileIsFatal(t *testing.T) {
	_, err := NewJSONLinesOpener(filepath.Join(t.TempDir(), "nope.jsonl"), nil, nil).Open(context.Background(), ID{})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeFatal, errs.TypeOf(err))
}

func TestJSONLinesOpenerInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"ok\":1}\nnot json\n"), 0644))

	stream, err := NewJSONLinesOpener(path, nil, nil).Open(context.Background(), ID{})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	require.NoError(t, err)
	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONLinesOpenerHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"n":1}`)
		fmt.Fprintln(w, `{"n":2}`)
	}))
	defer srv.Close()

	stream, err := NewJSONLinesOpener(srv.URL+"/data.jsonl", NewClient(time.Second, nil, nil), nil).Open(context.Background(), ID{})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, drain(t, stream))
}

func TestJSONLinesOpenerSlowBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			fmt.Fprintf(w, "{\"n\":%d}\n", i)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	// The body takes about a second to stream, well past the timeout
	client := NewClient(300*time.Millisecond, nil, nil)
	stream, err := NewJSONLinesOpener(srv.URL+"/data.jsonl", client, nil).Open(context.Background(), ID{})
	require.NoError(t, err)
	defer stream.Close()

	assert.Len(t, drain(t, stream), 20)
}

func TestJSONLinesOpenerHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(100*time.Millisecond, nil, nil)
	_, err := NewJSONLinesOpener(srv.URL+"/data.jsonl", client, nil).Open(context.Background(), ID{})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestHubRowsOpenerSlowPageTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"rows":[`)
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	opener := NewHubRowsOpener(srv.URL, 5, NewClient(200*time.Millisecond, nil, nil), nil)
	start := time.Now()
	_, err := opener.Open(context.Background(), ID{Dataset: "org/ds", Config: "default", Split: "train"})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}

// flakyOpener fails with err for the first failures calls
type flakyOpener struct {
	failures int
	err      error
	calls    int
}

func (f *flakyOpener) Open(ctx context.Context, id ID) (Stream, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return FromSlice([]Record{Record(`"A"`)}, nil), nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRetryingOpenerRecovers(t *testing.T) {
	inner := &flakyOpener{failures: 2, err: errs.TransientNetwork("open source", 503, errors.New("unavailable"))}
	tl := logger.NewTestLogger()

	o := NewRetryingOpener(inner, &retry.Config{
		MaxAttempts: 5,
		Backoff:     retry.DefaultExponentialBackoff(),
		Logger:      tl,
		Sleep:       noSleep,
	}, tl)

	stream, err := o.Open(context.Background(), ID{Dataset: "org/ds"})
	require.NoError(t, err)
	assert.Equal(t, []string{`"A"`}, drain(t, stream))
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
}

func TestRetryingOpenerCeiling(t *testing.T) {
	inner := &flakyOpener{failures: 1000, err: errs.TransientNetwork("open source", 0, errors.New("connection reset"))}

	var waited time.Duration
	backoff := &retry.ExponentialBackoff{BaseDelay: 4 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2}
	o := NewRetryingOpener(inner, &retry.Config{
		MaxAttempts: 20,
		Backoff:     backoff,
		Sleep: func(ctx context.Context, d time.Duration) error {
			waited += d
			return nil
		},
	}, nil)

	_, err := o.Open(context.Background(), ID{Dataset: "org/ds"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeSourceUnavailable, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "gave up after 20 attempts")
	assert.Equal(t, 20, inner.calls)
	assert.LessOrEqual(t, waited, retry.ScheduleBound(backoff, 20))
	assert.Equal(t, retry.ScheduleBound(backoff, 20), waited)
}

func TestRetryingOpenerFatalNotRetried(t *testing.T) {
	inner := &flakyOpener{failures: 1000, err: errs.Fatal("open source", 404, errors.New("no such dataset"))}

	o := NewRetryingOpener(inner, &retry.Config{MaxAttempts: 20, Sleep: noSleep}, nil)
	_, err := o.Open(context.Background(), ID{Dataset: "org/missing"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeFatal, errs.TypeOf(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingOpenerInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &flakyOpener{failures: 1000, err: errs.TransientNetwork("open source", 503, errors.New("x"))}

	o := NewRetryingOpener(inner, &retry.Config{
		MaxAttempts: 20,
		Backoff:     &retry.ConstantBackoff{Delay: time.Hour},
		OnRetry:     func(int, error, time.Duration) { cancel() },
	}, nil)

	_, err := o.Open(ctx, ID{Dataset: "org/ds"})
	require.Error(t, err)
	assert.True(t, errs.IsUserInterrupt(err))
	assert.Equal(t, 1, inner.calls)
}

func TestFromSlice(t *testing.T) {
	boom := errors.New("boom")
	s := FromSlice([]Record{Record(`1`), Record(`2`)}, boom)

	r, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `1`, string(r))
	_, err = s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "HuggingFaceFW/fineweb-edu/sample-10BT:train", ID{"HuggingFaceFW/fineweb-edu", "sample-10BT", "train"}.String())
	assert.Equal(t, "org/ds", ID{Dataset: "org/ds"}.String())
}
