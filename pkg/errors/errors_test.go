package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient network", TransientNetwork("open", 503, stderrors.New("unavailable")), true},
		{"wrapped transient", fmt.Errorf("open: %w", TransientNetwork("open", 0, stderrors.New("reset"))), true},
		{"fatal not found", Fatal("open", 404, stderrors.New("no such dataset")), false},
		{"persistence", Persistence("write batch", "FW_batch_000001.json", stderrors.New("disk full")), false},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: stderrors.New("connection refused")}, true},
		{"op error", &net.OpError{Op: "dial", Err: stderrors.New("refused")}, true},
		{"context canceled", context.Canceled, false},
		{"plain error", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorType(""), TypeOf(nil))
	assert.Equal(t, ErrorTypeSourceUnavailable, TypeOf(SourceUnavailable("open", 3, stderrors.New("x"))))
	assert.Equal(t, ErrorTypeUserInterrupt, TypeOf(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, ErrorTypeUnclassified, TypeOf(stderrors.New("boom")))
}

func TestIsMatchesOnType(t *testing.T) {
	err := fmt.Errorf("batch 3: %w", Persistence("write batch", "FW_batch_000003.json", stderrors.New("disk full")))

	assert.True(t, stderrors.Is(err, &Error{Type: ErrorTypePersistence}))
	assert.False(t, stderrors.Is(err, &Error{Type: ErrorTypeTransientNetwork}))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("next", nil))

	netErr := Classify("next", &url.Error{Op: "Get", URL: "http://x", Err: stderrors.New("EOF")})
	assert.Equal(t, ErrorTypeTransientNetwork, TypeOf(netErr))

	other := Classify("next", stderrors.New("bad json"))
	assert.Equal(t, ErrorTypeUnclassified, TypeOf(other))

	already := Fatal("open", 404, stderrors.New("missing"))
	assert.Same(t, already, Classify("next", already))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("lock: %w", Permanent("lock", stderrors.New("held")))))
	assert.False(t, IsPermanent(Fatal("open", 404, stderrors.New("missing"))))
	assert.False(t, IsPermanent(stderrors.New("boom")))
}

func TestErrorString(t *testing.T) {
	err := TransientNetwork("fetch rows", 503, stderrors.New("service unavailable"))
	assert.Equal(t, "fetch rows transient_network error (code 503): service unavailable", err.Error())

	err2 := Persistence("write batch", "FW_batch_000002.json", stderrors.New("disk full"))
	assert.Equal(t, "write batch persistence error: FW_batch_000002.json: disk full", err2.Error())
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{0, 408, 429, 500, 502, 503, 504, 599} {
		assert.True(t, IsRetryableStatusCode(code), "code %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 418} {
		assert.False(t, IsRetryableStatusCode(code), "code %d", code)
	}
}
