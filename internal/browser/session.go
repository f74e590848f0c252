// Package browser defines the page-driving capability the scraping pipeline
// depends on, and implements it on headless Chrome via chromedp. The pipeline
// never touches chromedp directly, so tests run against an in-memory fake.
package browser

import (
	"context"
	"time"
)

// TargetID identifies a tab or an out-of-process frame.
type TargetID string

// Session is a single navigable browser context with multiple tabs. All
// methods return a *CrashError when the browser process itself is
// unreachable; any other error describes a recoverable condition on a
// healthy session.
type Session interface {
	// Navigate loads url in the current tab. A load exceeding the
	// session's navigation timeout returns an error wrapping ErrTimeout.
	Navigate(ctx context.Context, url string) error

	// Location reports the current tab's URL.
	Location(ctx context.Context) (string, error)

	// HTML returns the current tab's serialized document.
	HTML(ctx context.Context) (string, error)

	// Evaluate runs js in the current tab's main frame, unmarshaling the
	// completion value into out when out is non-nil. Scripts must complete
	// with a JSON-serializable value.
	Evaluate(ctx context.Context, js string, out any) error

	// Tabs lists the ids of all open tabs.
	Tabs(ctx context.Context) ([]TargetID, error)

	// CurrentTab reports the tab subsequent operations act on.
	CurrentTab() TargetID

	// SwitchTab makes id the current tab.
	SwitchTab(ctx context.Context, id TargetID) error

	// CloseTab closes the given tab. Closing the current tab leaves the
	// session without a usable tab until SwitchTab is called.
	CloseTab(ctx context.Context, id TargetID) error

	// Frames lists out-of-process frames embedded in the current tab.
	// Same-process frames are reachable from Evaluate directly.
	Frames(ctx context.Context) ([]TargetID, error)

	// EvaluateIn runs js inside the given frame, restoring nothing: the
	// current tab is untouched.
	EvaluateIn(ctx context.Context, frame TargetID, js string, out any) error

	// Close tears down the browser process. Safe to call on a crashed
	// session.
	Close()
}

// pollInterval is the cadence of bounded condition waits against a Session.
const pollInterval = 250 * time.Millisecond

// WaitFor polls fn until it reports true, the budget expires, or ctx is done.
// Crash errors from fn propagate; expiry returns (false, nil).
func WaitFor(ctx context.Context, budget time.Duration, fn func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(budget)
	for {
		ok, err := fn(ctx)
		if err != nil {
			if IsCrash(err) {
				return false, err
			}
			// Recoverable probe failure: keep polling until the budget runs out.
		} else if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
