package scrape

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ratescout/ratescout/internal/browser"
	"github.com/ratescout/ratescout/internal/store"
)

// fakeSession is an in-memory Session. Evaluate dispatches on script
// substrings: the first registered hook whose fragment appears in the script
// answers it, everything else gets the zero value for the output type.
type fakeSession struct {
	loc     string
	html    string
	tabs    []browser.TargetID
	current browser.TargetID
	frames  []browser.TargetID
	closed  bool

	navigated  []string
	onNavigate func(url string) error

	hooks        []evalHook
	onEvaluateIn func(frame browser.TargetID, js string, out any) error
}

type evalHook struct {
	match string
	fn    func(js string, out any) error
}

var _ browser.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{
		tabs:    []browser.TargetID{"tab-1"},
		current: "tab-1",
	}
}

// stub answers any script containing match with a fixed value.
func (f *fakeSession) stub(match string, v any) {
	f.hooks = append(f.hooks, evalHook{match: match, fn: func(_ string, out any) error {
		assign(out, v)
		return nil
	}})
}

// stubFunc answers any script containing match with fn.
func (f *fakeSession) stubFunc(match string, fn func(js string, out any) error) {
	f.hooks = append(f.hooks, evalHook{match: match, fn: fn})
}

// assign round-trips v through JSON into out, mirroring how chromedp decodes
// script completion values.
func assign(out, v any) {
	if out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}

func assignZero(out any) {
	switch p := out.(type) {
	case *bool:
		*p = false
	case *string:
		*p = ""
	case *int:
		*p = 0
	}
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	if f.onNavigate != nil {
		return f.onNavigate(url)
	}
	f.loc = url
	return nil
}

func (f *fakeSession) Location(context.Context) (string, error) { return f.loc, nil }
func (f *fakeSession) HTML(context.Context) (string, error)     { return f.html, nil }

func (f *fakeSession) Evaluate(_ context.Context, js string, out any) error {
	for _, h := range f.hooks {
		if strings.Contains(js, h.match) {
			return h.fn(js, out)
		}
	}
	assignZero(out)
	return nil
}

func (f *fakeSession) Tabs(context.Context) ([]browser.TargetID, error) {
	return append([]browser.TargetID(nil), f.tabs...), nil
}

func (f *fakeSession) CurrentTab() browser.TargetID { return f.current }

func (f *fakeSession) SwitchTab(_ context.Context, id browser.TargetID) error {
	f.current = id
	return nil
}

func (f *fakeSession) CloseTab(_ context.Context, id browser.TargetID) error {
	kept := f.tabs[:0]
	for _, t := range f.tabs {
		if t != id {
			kept = append(kept, t)
		}
	}
	f.tabs = kept
	return nil
}

func (f *fakeSession) Frames(context.Context) ([]browser.TargetID, error) {
	return append([]browser.TargetID(nil), f.frames...), nil
}

func (f *fakeSession) EvaluateIn(_ context.Context, frame browser.TargetID, js string, out any) error {
	if f.onEvaluateIn != nil {
		return f.onEvaluateIn(frame, js, out)
	}
	assignZero(out)
	return nil
}

func (f *fakeSession) Close() { f.closed = true }

// crashSession wraps a fakeSession and fails every page operation with a
// crash once tripped.
type crashSession struct {
	*fakeSession
	crashed bool
}

func (c *crashSession) err() error {
	return &browser.CrashError{Err: context.Canceled}
}

func (c *crashSession) Navigate(ctx context.Context, url string) error {
	if c.crashed {
		return c.err()
	}
	return c.fakeSession.Navigate(ctx, url)
}

func (c *crashSession) Location(ctx context.Context) (string, error) {
	if c.crashed {
		return "", c.err()
	}
	return c.fakeSession.Location(ctx)
}

func (c *crashSession) Evaluate(ctx context.Context, js string, out any) error {
	if c.crashed {
		return c.err()
	}
	return c.fakeSession.Evaluate(ctx, js, out)
}

// fakeStore records every queue write and counts snapshot reads. colsFn,
// when set, answers each Columns call by its 1-based call number.
type fakeStore struct {
	cols      *store.Columns
	colsErr   error
	colsFn    func(call int) (*store.Columns, error)
	colsCalls int

	manualMarks []int
	cleared     [][]int
	batches     [][]store.Update
}

var _ store.RowStore = (*fakeStore)(nil)

func (f *fakeStore) Columns(context.Context) (*store.Columns, error) {
	f.colsCalls++
	if f.colsFn != nil {
		return f.colsFn(f.colsCalls)
	}
	if f.colsErr != nil {
		return nil, f.colsErr
	}
	return f.cols, nil
}

func (f *fakeStore) MarkManual(_ context.Context, row int) error {
	f.manualMarks = append(f.manualMarks, row)
	return nil
}

func (f *fakeStore) ClearResults(_ context.Context, rows []int) error {
	f.cleared = append(f.cleared, append([]int(nil), rows...))
	return nil
}

func (f *fakeStore) BatchWrite(_ context.Context, updates []store.Update) error {
	f.batches = append(f.batches, append([]store.Update(nil), updates...))
	return nil
}

// stubGuard is a sessionGuard with a fixed answer.
type stubGuard struct {
	ok    bool
	err   error
	calls int
}

func (g *stubGuard) Ensure(context.Context, browser.Session) (bool, error) {
	g.calls++
	return g.ok, g.err
}

// stubResolver is a rowResolver that replays scripted outcomes, one per call.
type stubResolver struct {
	outcomes []resolverOutcome
	calls    int
}

type resolverOutcome struct {
	res *Resolution
	err error
}

func (r *stubResolver) Resolve(context.Context, browser.Session) (*Resolution, error) {
	i := r.calls
	r.calls++
	if i >= len(r.outcomes) {
		return nil, nil
	}
	return r.outcomes[i].res, r.outcomes[i].err
}

func noJitter(context.Context, time.Duration, time.Duration) {}
