package scrape

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratescout/ratescout/internal/browser"
	"github.com/ratescout/ratescout/internal/store"
)

const threadURL = "https://slickdeals.net/f/123-deal"

func newTestProcessor(fs browser.Session, g sessionGuard, r rowResolver) *Processor {
	return &Processor{
		sess:     fs,
		guard:    g,
		resolver: r,
		attempts: 2,
		jitter:   noJitter,
	}
}

func TestProcessDeadThread(t *testing.T) {
	fs := newFakeSession()
	fs.stub("errorPage__headline", "400 Error\nThis deal has expired")
	r := &stubResolver{}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindSiteError, res.Kind)
	assert.Equal(t, store.CellSiteError, res.Cell)
	assert.Zero(t, r.calls, "dead threads must short-circuit before resolution")
	assert.Equal(t, []string{threadURL}, fs.navigated)
}

func TestProcessNonMerchantURL(t *testing.T) {
	fs := newFakeSession()
	r := &stubResolver{outcomes: []resolverOutcome{
		{res: &Resolution{URL: "https://www.bestbuy.com/site/456"}},
	}}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindNonMerchant, res.Kind)
	assert.Equal(t, store.CellNonMerchant, res.Cell)
}

func TestProcessExtractsRate(t *testing.T) {
	fs := newFakeSession()
	fs.stub("amzn-ss-commission-rate-content", `["4.50%","1.00%"]`)
	productURL := "https://www.amazon.com/dp/B000123?tag=mytag-20"
	r := &stubResolver{outcomes: []resolverOutcome{
		{res: &Resolution{URL: productURL}},
	}}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindRate, res.Kind)
	assert.Equal(t, "5.50%", res.Cell)
	assert.Equal(t, []string{threadURL, productURL}, fs.navigated)
}

func TestProcessExhaustedAttemptsFlagManual(t *testing.T) {
	fs := newFakeSession()
	r := &stubResolver{}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindManual, res.Kind)
	assert.Equal(t, store.CellManual, res.Cell)
	assert.Equal(t, 2, r.calls)
}

func TestProcessNavigationTimeoutFlagsManual(t *testing.T) {
	fs := newFakeSession()
	fs.onNavigate = func(url string) error {
		return fmt.Errorf("navigating to %s: %w", url, browser.ErrTimeout)
	}
	r := &stubResolver{}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindManual, res.Kind)
	assert.Zero(t, r.calls, "failed loads must not be resolved")
}

func TestProcessCrashPropagates(t *testing.T) {
	fs := newFakeSession()
	r := &stubResolver{outcomes: []resolverOutcome{
		{err: &browser.CrashError{Err: context.Canceled}},
	}}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	_, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.Error(t, err)
	assert.True(t, browser.IsCrash(err))
}

func TestProcessReloginRecoversWidget(t *testing.T) {
	fs := newFakeSession()
	g := &stubGuard{ok: true}
	fs.stubFunc("amzn-ss-commission-rate-content", func(_ string, out any) error {
		if g.calls > 0 {
			assign(out, `["3.00%",""]`)
		} else {
			assign(out, `["",""]`)
		}
		return nil
	})
	productURL := "https://www.amazon.com/dp/B000123"
	r := &stubResolver{outcomes: []resolverOutcome{
		{res: &Resolution{URL: productURL}},
	}}

	p := newTestProcessor(fs, g, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindRate, res.Kind)
	assert.Equal(t, "3.00%", res.Cell)
	assert.Equal(t, 1, g.calls, "one re-login per row")
}

func TestProcessForeignSettleRestoresTabs(t *testing.T) {
	fs := newFakeSession()
	fs.tabs = []browser.TargetID{"tab-1", "tab-2"}
	fs.onNavigate = func(url string) error {
		fs.loc = "https://www.bestbuy.com/site/456"
		return nil
	}
	r := &stubResolver{outcomes: []resolverOutcome{
		{res: &Resolution{Tabs: &TabPair{Origin: "tab-1", Opened: "tab-2"}}},
	}}

	p := newTestProcessor(fs, &stubGuard{ok: true}, r)
	res, err := p.Process(context.Background(), store.WorkItem{Row: 5, ThreadURL: threadURL})
	require.NoError(t, err)
	assert.Equal(t, KindNonMerchant, res.Kind)
	assert.Equal(t, store.CellNonMerchant, res.Cell)
	assert.Equal(t, browser.TargetID("tab-1"), fs.CurrentTab(), "origin tab must be restored")
	assert.Equal(t, []browser.TargetID{"tab-1"}, fs.tabs, "opened tab must be closed")
}
