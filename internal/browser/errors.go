package browser

import (
	"context"
	"errors"
	"strings"
)

// ErrTimeout marks a bounded wait or page load that exceeded its budget while
// the session itself stayed healthy. Callers abandon the current attempt.
var ErrTimeout = errors.New("timed out")

// CrashError reports that the browser process or its devtools connection is
// gone. It is never retried locally; the supervisor rebuilds the session.
type CrashError struct {
	Err error
}

func (e *CrashError) Error() string {
	return "browser session crashed: " + e.Err.Error()
}

func (e *CrashError) Unwrap() error {
	return e.Err
}

// IsCrash reports whether err carries a CrashError anywhere in its chain.
func IsCrash(err error) bool {
	var ce *CrashError
	return errors.As(err, &ce)
}

// transportMarkers are substrings of chromedp/cdproto errors that indicate
// the browser transport is dead rather than a page-level failure.
var transportMarkers = []string{
	"websocket",
	"connection refused",
	"connection reset",
	"broken pipe",
	"could not dial",
	"chrome failed to start",
	"target crashed",
	"no such target",
	"target closed",
	"session closed",
	"browser closed",
	"context canceled",
	"use of closed network connection",
}

// isTransport classifies a raw chromedp error. Deadline expiry is never a
// transport failure: the browser is healthy, the page is just slow.
func isTransport(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transportMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
