package scrape

import (
	"context"
	"log/slog"

	"github.com/ratescout/ratescout/internal/browser"
)

// TabPair records which tab was active before an outclick attempt and which
// new tab (if any) the click opened. It lives for one resolution attempt;
// every exit path of the attempt must call Restore so the next step never
// targets a stray tab.
type TabPair struct {
	Origin browser.TargetID
	Opened browser.TargetID
}

// Restore closes every tab except the origin and switches back to it.
// Failures are swallowed: cleanup must not mask the error that got us here,
// and a crashed session is rebuilt wholesale anyway.
func (t *TabPair) Restore(ctx context.Context, s browser.Session) {
	if t == nil {
		return
	}
	tabs, err := s.Tabs(ctx)
	if err != nil {
		slog.Debug("tab cleanup: listing tabs failed", "error", err)
		return
	}
	for _, id := range tabs {
		if id == t.Origin {
			continue
		}
		if err := s.CloseTab(ctx, id); err != nil {
			slog.Debug("tab cleanup: closing tab failed", "tab", id, "error", err)
		}
	}
	if err := s.SwitchTab(ctx, t.Origin); err != nil {
		slog.Debug("tab cleanup: switching to origin failed", "tab", t.Origin, "error", err)
	}
}
