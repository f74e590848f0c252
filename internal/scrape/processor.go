package scrape

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ratescout/ratescout/internal/app"
	"github.com/ratescout/ratescout/internal/browser"
	"github.com/ratescout/ratescout/internal/store"
)

// Deal threads for dead offers render a dedicated error page instead of a
// 404 status.
const (
	siteErrorSelector = "h2.errorPage__headline"
	siteErrorMarker   = "400 Error"
)

// Settling budgets after an outclick click: the long one covers the initial
// redirect chain, the short one is the final pre-extraction check.
const (
	settleWait      = 25 * time.Second
	finalSettleWait = 10 * time.Second
)

// Jitter bounds between page actions.
const (
	pageJitterMin = 800 * time.Millisecond
	pageJitterMax = 1600 * time.Millisecond
)

// ResultKind classifies a processed row.
type ResultKind int

const (
	// KindRate is a successfully extracted commission rate.
	KindRate ResultKind = iota
	// KindNonMerchant is a deal that settled on a foreign store.
	KindNonMerchant
	// KindSiteError is a dead deal thread.
	KindSiteError
	// KindManual means every attempt was exhausted without a verdict.
	KindManual
)

// Result is a row's classification plus the exact cell value to record.
type Result struct {
	Kind ResultKind
	Cell string
}

type rowResolver interface {
	Resolve(ctx context.Context, s browser.Session) (*Resolution, error)
}

type sessionGuard interface {
	Ensure(ctx context.Context, s browser.Session) (bool, error)
}

// Processor turns one work item into a Result by driving the shared browser
// session through the thread page, the outclick, and the commission widget.
type Processor struct {
	sess      browser.Session
	guard     sessionGuard
	resolver  rowResolver
	extractor Extractor

	attempts      int
	extractBudget time.Duration
	reloginBudget time.Duration
	settleBudget  time.Duration
	finalBudget   time.Duration

	jitter func(ctx context.Context, min, max time.Duration)
}

// NewProcessor wires a processor onto an existing session.
func NewProcessor(sess browser.Session, guard sessionGuard, cfg app.ScrapeConfig) *Processor {
	return &Processor{
		sess:          sess,
		guard:         guard,
		resolver:      NewOutclickResolver(),
		attempts:      cfg.Attempts,
		extractBudget: cfg.ExtractBudget,
		reloginBudget: cfg.ReloginBudget,
		settleBudget:  settleWait,
		finalBudget:   finalSettleWait,
		jitter:        randomJitter,
	}
}

// randomJitter sleeps a uniform random duration in [min, max).
func randomJitter(ctx context.Context, min, max time.Duration) {
	sleepCtx(ctx, min+rand.N(max-min))
}

// Process runs the bounded attempt loop for one row. The only errors it
// returns are session crashes and context cancellation; every content-level
// failure is absorbed into the Result. Exhausting all attempts yields a
// manual-review marker, never an error.
func (p *Processor) Process(ctx context.Context, item store.WorkItem) (Result, error) {
	reloginDone := false
	for attempt := 1; attempt <= p.attempts; attempt++ {
		res, done, err := p.attempt(ctx, item, attempt, &reloginDone)
		if err != nil {
			return Result{}, err
		}
		if done {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}
	slog.Warn("attempts exhausted, flagging for manual review", "row", item.Row, "url", item.ThreadURL)
	return Result{Kind: KindManual, Cell: store.CellManual}, nil
}

// attempt runs one full resolution pass. done=false with a nil error means
// the attempt was abandoned and the loop should try again.
func (p *Processor) attempt(ctx context.Context, item store.WorkItem, attempt int, reloginDone *bool) (Result, bool, error) {
	var tabs *TabPair
	defer func() { tabs.Restore(ctx, p.sess) }()

	if err := p.sess.Navigate(ctx, item.ThreadURL); err != nil {
		if browser.IsCrash(err) {
			return Result{}, false, err
		}
		slog.Warn("thread page did not load", "row", item.Row, "attempt", attempt, "error", err)
		return Result{}, false, nil
	}
	p.jitter(ctx, pageJitterMin, pageJitterMax)

	headline, err := browser.Text(ctx, p.sess, siteErrorSelector)
	if err != nil {
		if browser.IsCrash(err) {
			return Result{}, false, err
		}
	} else if strings.Contains(headline, siteErrorMarker) {
		slog.Info("dead deal thread", "row", item.Row, "url", item.ThreadURL)
		return Result{Kind: KindSiteError, Cell: store.CellSiteError}, true, nil
	}

	res, err := p.resolver.Resolve(ctx, p.sess)
	if err != nil {
		return Result{}, false, err
	}
	if res == nil {
		slog.Warn("no outclick found", "row", item.Row, "attempt", attempt)
		return Result{}, false, nil
	}
	tabs = res.Tabs

	switch {
	case res.URL != "":
		if !onMerchant(res.URL) {
			slog.Info("deal points at a foreign store", "row", item.Row, "url", res.URL)
			return Result{Kind: KindNonMerchant, Cell: store.CellNonMerchant}, true, nil
		}
		if err := p.sess.Navigate(ctx, res.URL); err != nil {
			if browser.IsCrash(err) {
				return Result{}, false, err
			}
			// A slow product page can still have rendered the widget.
			slog.Debug("product navigation ran long, proceeding", "row", item.Row, "error", err)
		}

	case tabs != nil:
		if tabs.Opened != "" {
			if err := p.sess.SwitchTab(ctx, tabs.Opened); err != nil {
				if browser.IsCrash(err) {
					return Result{}, false, err
				}
				return Result{}, false, nil
			}
		}
		settled, err := p.waitOnMerchant(ctx, p.settleBudget)
		if err != nil {
			return Result{}, false, err
		}
		if !settled {
			loc, err := p.sess.Location(ctx)
			if err != nil {
				if browser.IsCrash(err) {
					return Result{}, false, err
				}
				return Result{}, false, nil
			}
			if loc != "" && !onMerchant(loc) && !onIntermediate(loc) {
				slog.Info("outclick settled on a foreign store", "row", item.Row, "url", loc)
				return Result{Kind: KindNonMerchant, Cell: store.CellNonMerchant}, true, nil
			}
			slog.Warn("outclick never settled", "row", item.Row, "attempt", attempt, "url", loc)
			return Result{}, false, nil
		}
	}

	onSite, err := p.waitOnMerchant(ctx, p.finalBudget)
	if err != nil {
		return Result{}, false, err
	}
	if !onSite {
		slog.Warn("not on a merchant page after resolution", "row", item.Row, "attempt", attempt)
		return Result{}, false, nil
	}
	productURL, err := p.sess.Location(ctx)
	if err != nil {
		if browser.IsCrash(err) {
			return Result{}, false, err
		}
		productURL = ""
	}

	base, bonus, err := p.extractor.Texts(ctx, p.sess, p.extractBudget)
	if err != nil {
		return Result{}, false, err
	}

	if base == "" && bonus == "" && !*reloginDone {
		// An expired portal session hides the widget. One re-login per row.
		*reloginDone = true
		slog.Info("commission widget absent, re-checking portal session", "row", item.Row)
		ok, err := p.guard.Ensure(ctx, p.sess)
		if err != nil {
			return Result{}, false, err
		}
		if ok && productURL != "" {
			if err := p.sess.Navigate(ctx, productURL); err != nil {
				if browser.IsCrash(err) {
					return Result{}, false, err
				}
			}
			base, bonus, err = p.extractor.Texts(ctx, p.sess, p.reloginBudget)
			if err != nil {
				return Result{}, false, err
			}
		}
	}
	if base == "" && bonus == "" {
		slog.Warn("commission widget never rendered", "row", item.Row, "attempt", attempt, "url", productURL)
		return Result{}, false, nil
	}

	cell := formatTotal(parseRate(base), parseRate(bonus))
	slog.Info("commission extracted", "row", item.Row, "rate", cell, "url", productURL)
	return Result{Kind: KindRate, Cell: cell}, true, nil
}

// waitOnMerchant polls the current tab's URL for the merchant domain.
func (p *Processor) waitOnMerchant(ctx context.Context, budget time.Duration) (bool, error) {
	return browser.WaitFor(ctx, budget, func(ctx context.Context) (bool, error) {
		loc, err := p.sess.Location(ctx)
		if err != nil {
			return false, err
		}
		return onMerchant(loc), nil
	})
}
