package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCrash(t *testing.T) {
	crash := &CrashError{Err: errors.New("websocket: close 1006")}
	assert.True(t, IsCrash(crash))
	assert.True(t, IsCrash(fmt.Errorf("processing row: %w", crash)))
	assert.False(t, IsCrash(errors.New("element not found")))
	assert.False(t, IsCrash(nil))
}

func TestCrashErrorUnwrap(t *testing.T) {
	inner := errors.New("target crashed")
	crash := &CrashError{Err: inner}
	assert.ErrorIs(t, crash, inner)
	assert.Contains(t, crash.Error(), "browser session crashed")
}

func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"websocket drop", errors.New("websocket: close 1006 (abnormal closure)"), true},
		{"target crashed", errors.New("page: Target crashed"), true},
		{"dial failure", errors.New("could not dial \"ws://127.0.0.1:9222\""), true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"page level", errors.New("could not find node"), false},
		// Deadline expiry is a page problem, never a transport one.
		{"slow page", context.DeadlineExceeded, false},
		{"wrapped slow page", fmt.Errorf("evaluating: %w", context.DeadlineExceeded), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransport(tt.err))
		})
	}
}

func TestWaitForImmediateSuccess(t *testing.T) {
	calls := 0
	ok, err := WaitFor(context.Background(), time.Second, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestWaitForExpiry(t *testing.T) {
	ok, err := WaitFor(context.Background(), 0, func(context.Context) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForCrashPropagates(t *testing.T) {
	crash := &CrashError{Err: errors.New("browser closed")}
	_, err := WaitFor(context.Background(), time.Second, func(context.Context) (bool, error) {
		return false, crash
	})
	assert.ErrorIs(t, err, crash.Err)
	assert.True(t, IsCrash(err))
}

func TestWaitForToleratesRecoverableErrors(t *testing.T) {
	calls := 0
	ok, err := WaitFor(context.Background(), time.Second, func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("node not found yet")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
}

func TestWaitForContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitFor(ctx, time.Second, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
