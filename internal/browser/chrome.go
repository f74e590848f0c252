package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/ratescout/ratescout/internal/app"
)

// Chrome drives a single headless Chrome process through chromedp. One tab
// context is held per attached target; the current tab receives all
// navigation and evaluation.
type Chrome struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[TargetID]*tab
	current     TargetID
	navTimeout  time.Duration
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Session = (*Chrome)(nil)

// NewChrome launches a browser process and attaches to its initial tab. The
// returned session is ready to navigate. Startup failure is returned to the
// caller, which owns retry policy.
func NewChrome(ctx context.Context, cfg app.BrowserConfig) (*Chrome, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOpts(cfg)...)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Launch the process and mask the automation flag before any page loads.
	if err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetAutomationOverride(false).Do(ctx)
		}),
	); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	id := TargetID(chromedp.FromContext(tabCtx).Target.TargetID)
	slog.Debug("browser started", "tab", id)

	navTimeout := cfg.NavTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}

	return &Chrome{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabs:        map[TargetID]*tab{id: {ctx: tabCtx, cancel: tabCancel}},
		current:     id,
		navTimeout:  navTimeout,
	}, nil
}

// cur returns the current tab's chromedp context.
func (c *Chrome) cur() (*tab, error) {
	t, ok := c.tabs[c.current]
	if !ok {
		return nil, &CrashError{Err: fmt.Errorf("current tab %s is gone", c.current)}
	}
	return t, nil
}

// classify wraps transport-level failures as CrashError and passes
// page-level errors through untouched.
func (c *Chrome) classify(err error) error {
	if err == nil {
		return nil
	}
	if IsCrash(err) {
		return err
	}
	if isTransport(err) {
		return &CrashError{Err: err}
	}
	if t, ok := c.tabs[c.current]; ok && t.ctx.Err() != nil {
		return &CrashError{Err: err}
	}
	return err
}

// Navigate loads url in the current tab, bounded by the navigation timeout.
//
// The timeout is raced in a goroutine rather than a child context: canceling
// a child of the chromedp task context breaks the target in chromedp v0.14.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	t, err := c.cur()
	if err != nil {
		return err
	}

	navDone := make(chan error, 1)
	go func() {
		navDone <- chromedp.Run(t.ctx, chromedp.Navigate(url))
	}()

	select {
	case err = <-navDone:
	case <-time.After(c.navTimeout):
		return fmt.Errorf("navigating to %s: %w after %s", url, ErrTimeout, c.navTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, c.classify(err))
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	t, err := c.cur()
	if err != nil {
		return "", err
	}
	var loc string
	if err := chromedp.Run(t.ctx, chromedp.Location(&loc)); err != nil {
		return "", c.classify(err)
	}
	return loc, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	t, err := c.cur()
	if err != nil {
		return "", err
	}
	var html string
	if err := chromedp.Run(t.ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", c.classify(err)
	}
	return html, nil
}

func (c *Chrome) Evaluate(ctx context.Context, js string, out any) error {
	t, err := c.cur()
	if err != nil {
		return err
	}
	if out == nil {
		var sink any
		out = &sink
	}
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(js, out)); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *Chrome) Tabs(ctx context.Context) ([]TargetID, error) {
	return c.targetsOfType(ctx, "page")
}

func (c *Chrome) Frames(ctx context.Context) ([]TargetID, error) {
	return c.targetsOfType(ctx, "iframe")
}

func (c *Chrome) targetsOfType(ctx context.Context, kind string) ([]TargetID, error) {
	t, err := c.cur()
	if err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(t.ctx)
	if err != nil {
		return nil, c.classify(err)
	}
	var ids []TargetID
	for _, info := range infos {
		if info.Type == kind {
			ids = append(ids, TargetID(info.TargetID))
		}
	}
	return ids, nil
}

func (c *Chrome) CurrentTab() TargetID {
	return c.current
}

func (c *Chrome) SwitchTab(ctx context.Context, id TargetID) error {
	if _, ok := c.tabs[id]; !ok {
		tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(target.ID(id)))
		c.tabs[id] = &tab{ctx: tabCtx, cancel: tabCancel}
	}
	c.current = id
	slog.Debug("switched tab", "tab", id)
	return nil
}

func (c *Chrome) CloseTab(ctx context.Context, id TargetID) error {
	t, ok := c.tabs[id]
	if !ok {
		tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(target.ID(id)))
		t = &tab{ctx: tabCtx, cancel: tabCancel}
	}
	err := chromedp.Run(t.ctx, page.Close())
	t.cancel()
	delete(c.tabs, id)
	if err != nil {
		return c.classify(err)
	}
	return nil
}

// EvaluateIn attaches to an out-of-process frame for a single evaluation.
// The attachment is discarded afterwards; the current tab is untouched.
func (c *Chrome) EvaluateIn(ctx context.Context, frame TargetID, js string, out any) error {
	frameCtx, frameCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(target.ID(frame)))
	defer frameCancel()

	if out == nil {
		var sink any
		out = &sink
	}
	if err := chromedp.Run(frameCtx, chromedp.Evaluate(js, out)); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *Chrome) Close() {
	for _, t := range c.tabs {
		t.cancel()
	}
	c.allocCancel()
}
