package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ratescout/ratescout/internal/app"
	"github.com/ratescout/ratescout/internal/browser"
	"github.com/ratescout/ratescout/internal/store"
)

// Jitter bounds between queue rows.
const (
	rowJitterMin = 600 * time.Millisecond
	rowJitterMax = 1200 * time.Millisecond
)

// RowProcessor processes one queue item on a live session.
type RowProcessor interface {
	Process(ctx context.Context, item store.WorkItem) (Result, error)
}

// Supervisor owns the browser session for the process lifetime. It runs
// queue cycles back to back, rebuilds the session when it crashes, and is
// the only component that writes to the row store.
type Supervisor struct {
	store store.RowStore
	guard sessionGuard
	cfg   app.ScrapeConfig

	newSession   func(ctx context.Context) (browser.Session, error)
	newProcessor func(s browser.Session) RowProcessor

	sess browser.Session
	proc RowProcessor

	jitter func(ctx context.Context, min, max time.Duration)
}

// NewSupervisor wires the production stack: a Chrome session factory and the
// standard per-session processor.
func NewSupervisor(cfg *app.Config, st store.RowStore) *Supervisor {
	guard := NewGuard(cfg.Portal)
	browserCfg := cfg.Browser
	scrapeCfg := cfg.Scrape
	return &Supervisor{
		store: st,
		guard: guard,
		cfg:   scrapeCfg,
		newSession: func(ctx context.Context) (browser.Session, error) {
			return browser.NewChrome(ctx, browserCfg)
		},
		newProcessor: func(s browser.Session) RowProcessor {
			return NewProcessor(s, guard, scrapeCfg)
		},
		jitter: randomJitter,
	}
}

// Run processes the queue until the context ends. Only a failure to
// establish or re-establish the session gets out; crashes mid-cycle are
// absorbed by rebuilding the session, and queue-backend failures by retrying
// on the next cycle. Every cycle is followed by the full inter-cycle sleep,
// recovered or not, to keep request pacing steady.
func (sv *Supervisor) Run(ctx context.Context) error {
	if err := sv.connect(ctx); err != nil {
		return err
	}
	defer sv.disconnect()

	for {
		err := sv.cycle(ctx)
		switch {
		case err == nil:
			slog.Info("cycle complete", "sleep", sv.cfg.CycleInterval)
		case browser.IsCrash(err):
			slog.Error("browser session lost, rebuilding", "error", err)
			sv.disconnect()
			if !sleepCtx(ctx, sv.cfg.CrashCooldown) {
				return ctx.Err()
			}
			if err := sv.connect(ctx); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return err
		default:
			// A flaky queue backend must not kill an unattended run; the
			// next cycle re-reads the queue from scratch.
			slog.Error("cycle failed, will rescan next cycle", "error", err)
		}
		if !sleepCtx(ctx, sv.cfg.CycleInterval) {
			return ctx.Err()
		}
	}
}

// RunOnce processes a single full cycle, still surviving crashes within it,
// and exits.
func (sv *Supervisor) RunOnce(ctx context.Context) error {
	if err := sv.connect(ctx); err != nil {
		return err
	}
	defer sv.disconnect()

	for {
		err := sv.cycle(ctx)
		if err == nil || !browser.IsCrash(err) {
			return err
		}
		slog.Error("browser session lost, rebuilding", "error", err)
		sv.disconnect()
		if !sleepCtx(ctx, sv.cfg.CrashCooldown) {
			return ctx.Err()
		}
		if err := sv.connect(ctx); err != nil {
			return err
		}
	}
}

// connect launches a fresh session and authenticates it, retrying a bounded
// number of times. Failure here is unrecoverable for the process.
func (sv *Supervisor) connect(ctx context.Context) error {
	var lastErr error
	for i := 1; i <= sv.cfg.SessionRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := sv.newSession(ctx)
		if err == nil {
			ok, gerr := sv.guard.Ensure(ctx, sess)
			if gerr == nil && ok {
				sv.sess = sess
				sv.proc = sv.newProcessor(sess)
				return nil
			}
			sess.Close()
			lastErr = gerr
			if lastErr == nil {
				lastErr = errors.New("portal login failed")
			}
		} else {
			lastErr = err
		}

		slog.Warn("session setup failed", "attempt", i, "error", lastErr)
		if i < sv.cfg.SessionRetries && !sleepCtx(ctx, sv.cfg.CrashCooldown) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("establishing browser session: %w", lastErr)
}

func (sv *Supervisor) disconnect() {
	if sv.sess != nil {
		sv.sess.Close()
		sv.sess = nil
		sv.proc = nil
	}
}

// cycle is one full queue pass: a fresh snapshot, the main bottom-up pass,
// then a second snapshot and the manual-retry pass.
func (sv *Supervisor) cycle(ctx context.Context) error {
	cols, err := sv.store.Columns(ctx)
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}
	pending := store.Pending(cols)
	slog.Info("queue snapshot", "bottom", cols.Bottom, "pending", len(pending))
	if err := sv.runPass(ctx, pending, false); err != nil {
		return err
	}

	cols, err = sv.store.Columns(ctx)
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}
	manual := store.Manual(cols)
	if len(manual) == 0 {
		return nil
	}
	slog.Info("retrying rows marked for manual review", "count", len(manual))

	// Clear the markers first so a retried row that fails again is flagged by
	// Process, not left carrying a stale verdict.
	rows := make([]int, len(manual))
	for i, item := range manual {
		rows[i] = item.Row
	}
	if err := sv.store.ClearResults(ctx, rows); err != nil {
		return fmt.Errorf("clearing manual markers: %w", err)
	}
	return sv.runPass(ctx, manual, true)
}

// runPass processes items in order, batching result writes. On a crash the
// batch is flushed best-effort before the error propagates so finished rows
// survive the session rebuild.
func (sv *Supervisor) runPass(ctx context.Context, items []store.WorkItem, manualPass bool) error {
	var updates []store.Update
	flush := func() error {
		if len(updates) == 0 {
			return nil
		}
		if err := sv.store.BatchWrite(ctx, updates); err != nil {
			return fmt.Errorf("flushing results: %w", err)
		}
		updates = nil
		return nil
	}

	for i, item := range items {
		res, err := sv.proc.Process(ctx, item)
		if err != nil {
			if browser.IsCrash(err) {
				sv.abortPass(ctx, updates, items[i:], manualPass)
			}
			return err
		}

		if res.Kind == KindManual {
			// Written immediately so a later crash cannot lose the flag.
			if err := sv.store.MarkManual(ctx, item.Row); err != nil {
				slog.Error("writing manual marker failed", "row", item.Row, "error", err)
			}
		} else {
			updates = append(updates, store.Update{Row: item.Row, Value: res.Cell})
		}

		// Flush cadence counts processed rows, not pending updates, so the
		// write-loss window stays bounded even with manual rows interleaved.
		if (i+1)%sv.cfg.FlushEvery == 0 {
			if err := flush(); err != nil {
				return err
			}
		}

		if i < len(items)-1 {
			sv.jitter(ctx, rowJitterMin, rowJitterMax)
		}
		if err := ctx.Err(); err != nil {
			if ferr := flush(); ferr != nil {
				slog.Error("flush on shutdown failed", "error", ferr)
			}
			return err
		}
	}
	return flush()
}

// abortPass salvages what it can after a crash: finished rows are flushed,
// and on the manual pass the markers cleared up front are restored for every
// row the crash left unprocessed.
func (sv *Supervisor) abortPass(ctx context.Context, updates []store.Update, remaining []store.WorkItem, manualPass bool) {
	if len(updates) > 0 {
		if err := sv.store.BatchWrite(ctx, updates); err != nil {
			slog.Error("flushing results after crash failed", "error", err)
		}
	}
	if !manualPass {
		return
	}
	for _, item := range remaining {
		if err := sv.store.MarkManual(ctx, item.Row); err != nil {
			slog.Error("restoring manual marker failed", "row", item.Row, "error", err)
		}
	}
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
