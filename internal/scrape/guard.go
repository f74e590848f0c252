package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ratescout/ratescout/internal/app"
	"github.com/ratescout/ratescout/internal/browser"
)

// Affiliate portal routes and form elements.
const (
	portalHomeURL      = "https://affiliate-program.amazon.com/home"
	homeRouteMarker    = "/home"
	signInRouteMarker  = "signin"
	signInLinkSelector = "a.ac-creatorhub-header-item-login-button"
	emailSelector      = "#ap_email"
	continueSelector   = "#continue"
	passwordSelector   = "#ap_password"
	submitSelector     = "#signInSubmit"
)

// Store switcher elements. The switcher is only driven when the displayed
// store differs from the expected one; reselecting unconditionally forces a
// page refresh on every cycle.
const (
	storeLabelSelector  = "span.ac-store-switcher-current"
	storeToggleSelector = "a.ac-store-switcher-toggle"
)

// loginBudget bounds the whole login sub-sequence's element waits.
const loginBudget = 45 * time.Second

// guardStampJS marks the current DOM root so a store reselect's page refresh
// is observable: the fresh document no longer carries the stamp.
const guardStampJS = `(function() {
	document.documentElement.setAttribute('data-scout-stamp', '1');
	return true;
})()`

const guardStampGoneJS = `document.documentElement.getAttribute('data-scout-stamp') === null`

// Guard keeps the browser session authenticated against the affiliate
// portal with the expected store selected. State is never cached; every run
// probes the live page.
type Guard struct {
	email    string
	password string
	storeID  string
}

// NewGuard builds a Guard from the portal credentials.
func NewGuard(cfg app.PortalConfig) *Guard {
	return &Guard{
		email:    cfg.Email,
		password: cfg.Password,
		storeID:  cfg.StoreID,
	}
}

// Ensure drives the session to an authenticated state. It returns false when
// login could not be completed on a healthy session; transport failures
// propagate as crash errors since they require a session rebuild, not a
// retry of the login form.
func (g *Guard) Ensure(ctx context.Context, s browser.Session) (bool, error) {
	if err := s.Navigate(ctx, portalHomeURL); err != nil {
		if browser.IsCrash(err) {
			return false, err
		}
		slog.Debug("guard: portal navigation incomplete, probing anyway", "error", err)
	}
	if !sleepCtx(ctx, time.Second) {
		return false, ctx.Err()
	}

	loc, err := s.Location(ctx)
	if err != nil {
		if browser.IsCrash(err) {
			return false, err
		}
		loc = ""
	}

	if strings.Contains(strings.ToLower(loc), homeRouteMarker) {
		hasLogin, err := browser.Exists(ctx, s, signInLinkSelector)
		if err != nil && browser.IsCrash(err) {
			return false, err
		}
		if err == nil && !hasLogin {
			slog.Info("portal session active")
			return true, g.ensureStore(ctx, s)
		}
	}

	slog.Info("portal session not active, logging in")
	ok, err := g.login(ctx, s)
	if err != nil || !ok {
		return ok, err
	}
	return true, g.ensureStore(ctx, s)
}

// login drives the sign-in sub-sequence. Each step that misses its expected
// condition within the budget is a soft failure: the sequence proceeds
// opportunistically and only the final URL check decides the result.
func (g *Guard) login(ctx context.Context, s browser.Session) (bool, error) {
	loc, err := s.Location(ctx)
	if err != nil {
		if browser.IsCrash(err) {
			return false, err
		}
		loc = ""
	}
	locLower := strings.ToLower(loc)

	onForm := strings.Contains(locLower, signInRouteMarker)
	if !onForm {
		if exists, err := browser.Exists(ctx, s, emailSelector); err == nil && exists {
			onForm = true
		} else if err != nil && browser.IsCrash(err) {
			return false, err
		}
	}

	if !onForm {
		// Not on the form yet: click the sign-in entry point when it shows up.
		found, err := browser.WaitFor(ctx, loginBudget, func(ctx context.Context) (bool, error) {
			return browser.Exists(ctx, s, signInLinkSelector)
		})
		if err != nil {
			return false, err
		}
		if found {
			if _, err := browser.ClickFirst(ctx, s, signInLinkSelector); err != nil && browser.IsCrash(err) {
				return false, err
			}
			slog.Debug("guard: clicked sign-in link")
		} else if strings.Contains(locLower, homeRouteMarker) {
			slog.Info("portal already signed in, no sign-in affordance")
			return true, nil
		}
	}

	// Email step.
	if found, err := browser.WaitFor(ctx, loginBudget, func(ctx context.Context) (bool, error) {
		return browser.Exists(ctx, s, emailSelector)
	}); err != nil {
		return false, err
	} else if found {
		if _, err := browser.SetValue(ctx, s, emailSelector, g.email); err != nil && browser.IsCrash(err) {
			return false, err
		}
		if _, err := browser.ClickFirst(ctx, s, continueSelector); err != nil && browser.IsCrash(err) {
			return false, err
		}
		slog.Debug("guard: submitted email")
	}

	// Password step.
	if found, err := browser.WaitFor(ctx, loginBudget, func(ctx context.Context) (bool, error) {
		return browser.Exists(ctx, s, passwordSelector)
	}); err != nil {
		return false, err
	} else if found {
		if _, err := browser.SetValue(ctx, s, passwordSelector, g.password); err != nil && browser.IsCrash(err) {
			return false, err
		}
		if _, err := browser.ClickFirst(ctx, s, submitSelector); err != nil && browser.IsCrash(err) {
			return false, err
		}
		slog.Debug("guard: submitted password")
	}

	// Only the final URL check is authoritative.
	authed, err := browser.WaitFor(ctx, loginBudget, func(ctx context.Context) (bool, error) {
		loc, err := s.Location(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(strings.ToLower(loc), homeRouteMarker), nil
	})
	if err != nil {
		return false, err
	}
	if authed {
		slog.Info("portal login successful")
	} else {
		slog.Warn("portal login did not reach home route")
	}
	return authed, nil
}

// ensureStore verifies the affiliate store selector shows the expected store
// and reselects only on mismatch, waiting for the resulting page refresh.
// Every miss is a soft failure; only crashes are returned.
func (g *Guard) ensureStore(ctx context.Context, s browser.Session) error {
	if g.storeID == "" {
		return nil
	}

	label, err := browser.Text(ctx, s, storeLabelSelector)
	if err != nil {
		if browser.IsCrash(err) {
			return err
		}
		return nil
	}
	if label == "" {
		slog.Debug("guard: store switcher not present")
		return nil
	}
	if strings.Contains(label, g.storeID) {
		return nil
	}

	slog.Info("selecting affiliate store", "current", label, "want", g.storeID)

	if err := s.Evaluate(ctx, guardStampJS, nil); err != nil {
		if browser.IsCrash(err) {
			return err
		}
		return nil
	}
	if _, err := browser.ClickFirst(ctx, s, storeToggleSelector); err != nil && browser.IsCrash(err) {
		return err
	}
	option := fmt.Sprintf(`a.ac-store-switcher-option[data-store-id=%q]`, g.storeID)
	if _, err := browser.ClickFirst(ctx, s, option); err != nil && browser.IsCrash(err) {
		return err
	}

	// The reselect refreshes the page; wait for the stamped DOM root to go
	// stale before letting the pipeline continue.
	refreshed, err := browser.WaitFor(ctx, 15*time.Second, func(ctx context.Context) (bool, error) {
		var gone bool
		if err := s.Evaluate(ctx, guardStampGoneJS, &gone); err != nil {
			return false, err
		}
		return gone, nil
	})
	if err != nil {
		return err
	}
	if !refreshed {
		slog.Warn("store reselect did not refresh the page in time")
	}
	return nil
}
