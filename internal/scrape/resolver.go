package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ratescout/ratescout/internal/browser"
)

// outclickRaceWait bounds the new-tab vs URL-change race after a click.
const outclickRaceWait = 10 * time.Second

// Resolution is the outcome of one resolver run: either a concrete URL the
// caller should navigate to, or a report that the session already navigated
// or switched tabs (Tabs non-nil) and the caller should re-check location.
type Resolution struct {
	URL  string
	Tabs *TabPair
}

// strategy is one resolution tier, tried in order of increasing cost and
// decreasing determinism.
type strategy interface {
	name() string
	attempt(ctx context.Context, s browser.Session) (*Resolution, error)
}

// OutclickResolver turns a loaded deal-thread page into a merchant product
// URL, or drives the session onto one.
type OutclickResolver struct {
	strategies []strategy
}

// NewOutclickResolver builds the four-tier resolver: attribute synthesis,
// structured-CTA click, generic link scan, last-resort click.
func NewOutclickResolver() *OutclickResolver {
	return &OutclickResolver{
		strategies: []strategy{
			ctaSynthesize{},
			ctaClick{wait: outclickRaceWait},
			scanLinks{},
			lastResortClick{wait: outclickRaceWait},
		},
	}
}

// Resolve tries each tier in full; the first to produce a usable result
// wins. A nil, nil return means no outclick was found by any tier. Crash
// errors propagate immediately.
func (r *OutclickResolver) Resolve(ctx context.Context, s browser.Session) (*Resolution, error) {
	for _, st := range r.strategies {
		res, err := st.attempt(ctx, s)
		if err != nil {
			if browser.IsCrash(err) {
				return nil, err
			}
			slog.Debug("resolver tier failed", "tier", st.name(), "error", err)
			continue
		}
		if res != nil {
			slog.Debug("resolver tier succeeded", "tier", st.name(), "url", res.URL)
			return res, nil
		}
	}
	return nil, nil
}

// --- tier 1: structured CTA, no click needed ---

// ctaAttrs are the merchant-link attributes of one visible structured CTA.
type ctaAttrs struct {
	Asin string `json:"asin"`
	Tag  string `json:"tag"`
	Sub  string `json:"sub"`
}

type ctaSynthesize struct{}

func (ctaSynthesize) name() string { return "cta-synthesize" }

func (ctaSynthesize) attempt(ctx context.Context, s browser.Session) (*Resolution, error) {
	ctas, err := visibleCTAs(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, cta := range ctas {
		if cta.Asin == "" {
			continue
		}
		built := buildMerchantURL(cta.Asin, cta.Tag, cta.Sub)
		if looksLikeProduct(built) {
			slog.Info("outclick resolved from CTA attributes", "url", built)
			return &Resolution{URL: built}, nil
		}
	}
	return nil, nil
}

// visibleCTAs collects the merchant-link attributes of every visible
// structured CTA on the page.
func visibleCTAs(ctx context.Context, s browser.Session) ([]ctaAttrs, error) {
	js := fmt.Sprintf(`(function() {
		var els = document.querySelectorAll(%q);
		var out = [];
		for (var i = 0; i < els.length; i++) {
			var a = els[i];
			if (!(a.offsetWidth || a.offsetHeight || a.getClientRects().length)) continue;
			out.push({
				asin: a.getAttribute('data-aps-asin') || '',
				tag: a.getAttribute('data-aps-asc-tag') || '',
				sub: a.getAttribute('data-aps-asc-subtag') || ''
			});
		}
		return JSON.stringify(out);
	})()`, preferredCTASelector)

	var raw string
	if err := s.Evaluate(ctx, js, &raw); err != nil {
		return nil, err
	}
	var ctas []ctaAttrs
	if err := json.Unmarshal([]byte(raw), &ctas); err != nil {
		return nil, fmt.Errorf("decoding CTA attributes: %w", err)
	}
	return ctas, nil
}

// --- tier 2: structured CTA, click required ---

type ctaClick struct {
	wait time.Duration
}

func (ctaClick) name() string { return "cta-click" }

func (t ctaClick) attempt(ctx context.Context, s browser.Session) (*Resolution, error) {
	count, err := browser.CountVisible(ctx, s, preferredCTASelector)
	if err != nil {
		return nil, err
	}

	for i := 0; i < count; i++ {
		origin := s.CurrentTab()
		before, err := s.Tabs(ctx)
		if err != nil {
			return nil, err
		}
		beforeURL, err := s.Location(ctx)
		if err != nil {
			return nil, err
		}

		clicked, err := browser.ClickVisible(ctx, s, preferredCTASelector, i)
		if err != nil {
			return nil, err
		}
		if !clicked {
			break
		}

		newTab, changed, err := raceOutclick(ctx, s, before, beforeURL, t.wait)
		if err != nil {
			return nil, err
		}
		if newTab != "" {
			if err := s.SwitchTab(ctx, newTab); err != nil {
				return nil, err
			}
			slog.Info("outclick followed via CTA", "mode", "new-tab")
			return &Resolution{Tabs: &TabPair{Origin: origin, Opened: newTab}}, nil
		}
		if changed {
			loc, err := s.Location(ctx)
			if err != nil {
				return nil, err
			}
			if looksLikeProduct(loc) {
				slog.Info("outclick followed via CTA", "mode", "same-tab")
				return &Resolution{Tabs: &TabPair{Origin: origin}}, nil
			}
		}
	}
	return nil, nil
}

// --- tier 3: generic fallback scan, no click ---

type scanLinks struct{}

func (scanLinks) name() string { return "scan-links" }

func (scanLinks) attempt(ctx context.Context, s browser.Session) (*Resolution, error) {
	loc, err := s.Location(ctx)
	if err != nil {
		return nil, err
	}
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := scanOutclickCandidates(html, loc)
	if err != nil {
		return nil, err
	}
	if best, ok := bestCandidate(candidates); ok {
		slog.Info("outclick resolved from link scan", "url", best)
		return &Resolution{URL: best}, nil
	}
	return nil, nil
}

// scanOutclickCandidates parses the page for outbound links, decodes
// redirect wrappers, and keeps only product-looking URLs. Relative hrefs are
// resolved against the page location.
func scanOutclickCandidates(html, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var candidates []string
	for _, sel := range outclickSelectors {
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			if base != nil {
				if abs, err := base.Parse(href); err == nil {
					href = abs.String()
				}
			}
			decoded := decodeRedirect(href)
			if looksLikeProduct(decoded) {
				candidates = append(candidates, decoded)
			}
		})
	}
	return candidates, nil
}

// --- tier 4: last-resort click, unfiltered ---

type lastResortClick struct {
	wait time.Duration
}

func (lastResortClick) name() string { return "last-resort-click" }

func (t lastResortClick) attempt(ctx context.Context, s browser.Session) (*Resolution, error) {
	origin := s.CurrentTab()
	before, err := s.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	beforeURL, err := s.Location(ctx)
	if err != nil {
		return nil, err
	}

	selector := strings.Join(outclickSelectors, ", ")
	clicked, err := browser.ClickFirst(ctx, s, selector)
	if err != nil {
		return nil, err
	}
	if !clicked {
		return nil, nil
	}

	newTab, _, err := raceOutclick(ctx, s, before, beforeURL, t.wait)
	if err != nil {
		return nil, err
	}
	if newTab != "" {
		if err := s.SwitchTab(ctx, newTab); err != nil {
			return nil, err
		}
		slog.Info("outclick followed via generic click", "mode", "new-tab")
		return &Resolution{Tabs: &TabPair{Origin: origin, Opened: newTab}}, nil
	}
	// No new tab: report an in-session attempt either way and let the
	// caller judge the resulting location.
	slog.Info("outclick followed via generic click", "mode", "same-tab")
	return &Resolution{Tabs: &TabPair{Origin: origin}}, nil
}

// raceOutclick waits for whichever happens first after a click: a new tab
// opening or the current tab's URL changing. Expiry returns zero values
// without error.
func raceOutclick(ctx context.Context, s browser.Session, before []browser.TargetID, beforeURL string, wait time.Duration) (browser.TargetID, bool, error) {
	prior := make(map[browser.TargetID]bool, len(before))
	for _, id := range before {
		prior[id] = true
	}

	var newTab browser.TargetID
	var changed bool
	_, err := browser.WaitFor(ctx, wait, func(ctx context.Context) (bool, error) {
		tabs, err := s.Tabs(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range tabs {
			if !prior[id] {
				newTab = id
				return true, nil
			}
		}
		loc, err := s.Location(ctx)
		if err != nil {
			return false, err
		}
		if loc != beforeURL {
			changed = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", false, err
	}
	return newTab, changed, nil
}
