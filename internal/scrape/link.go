// Package scrape implements the link-resolution and extraction pipeline:
// session guard, outclick resolver, commission extractor, per-row processor,
// and the crash supervisor that owns the browser for the process lifetime.
package scrape

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// merchantMarker identifies the merchant's domains; intermediateMarker
// identifies the deal site's own redirect hops, which are neither merchant
// nor a settled foreign store.
const (
	merchantMarker     = "amazon."
	intermediateMarker = "slickdeals"
)

// subTagPlaceholder is the deal site's unresolved template token. A sub-tag
// still carrying it must not reach the synthesized URL.
const subTagPlaceholder = "%ascsubtag%"

// redirectParams are the query parameters known to carry a wrapped
// destination, in decode order.
var redirectParams = []string{"u2", "u"}

// outclickSelectors is the broad scan set for the fallback tiers: structured
// CTAs, deal-card links, generic outclick markers, and redirect wrappers.
var outclickSelectors = []string{
	"a.dealDetailsOutclickButton",
	"a.dealCardCTALink",
	"a[data-role='outclick']",
	"a[data-tracking*='outclick']",
	"a[href*='/f/redirect']",
	"a[href*='slickdeals.net/click']",
	"a[href*='amazon.']",
}

// preferredCTASelector matches the structured merchant CTAs that carry the
// item identifier and affiliate tag as attributes.
const preferredCTASelector = "a.dealDetailsOutclickButton[data-store-slug*='amazon'], " +
	"a.dealDetailsOutclickButton[data-aps-asin], " +
	"a.dealDetailsMainBlock__outclickButton[data-store-slug*='amazon'], " +
	"a[data-cta='outclick'][data-store-slug*='amazon'], " +
	"a[data-qa-ddp-seedeal-button][data-store-slug*='amazon']"

// onMerchant reports whether u is on the merchant's domain.
func onMerchant(u string) bool {
	return strings.Contains(strings.ToLower(u), merchantMarker)
}

// onIntermediate reports whether u is still inside the deal site's redirect
// machinery.
func onIntermediate(u string) bool {
	return strings.Contains(strings.ToLower(u), intermediateMarker)
}

// buildMerchantURL synthesizes a product URL from structured CTA attributes.
// The sub-tag is omitted when empty or when it is still the unresolved
// template placeholder.
func buildMerchantURL(asin, tag, sub string) string {
	u := fmt.Sprintf("https://www.amazon.com/dp/%s", asin)
	var qs []string
	if tag != "" {
		qs = append(qs, "tag="+tag)
	}
	if sub != "" && !strings.Contains(sub, subTagPlaceholder) {
		qs = append(qs, "ascsubtag="+sub)
	}
	if len(qs) > 0 {
		u += "?" + strings.Join(qs, "&")
	}
	return u
}

// decodeRedirect extracts the wrapped destination from a redirect URL. The
// first known parameter that is present and non-empty wins; anything else
// returns the input unchanged.
func decodeRedirect(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := parsed.Query()
	for _, key := range redirectParams {
		if inner := q.Get(key); inner != "" {
			if unescaped, err := url.QueryUnescape(inner); err == nil {
				return unescaped
			}
			return inner
		}
	}
	return raw
}

// looksLikeProduct filters candidate URLs down to merchant product pages,
// excluding review and Q&A sub-paths that carry no commission widget.
func looksLikeProduct(u string) bool {
	ul := strings.ToLower(u)
	if !strings.Contains(ul, merchantMarker) {
		return false
	}
	for _, bad := range []string{"product-reviews", "/review", "customer-reviews", "/ask", "/questions"} {
		if strings.Contains(ul, bad) {
			return false
		}
	}
	return true
}

// rankProductURL orders candidates: exact product-detail paths first,
// offer listings second, everything else last.
func rankProductURL(u string) int {
	ul := strings.ToLower(u)
	switch {
	case strings.Contains(ul, "/dp/") || strings.Contains(ul, "/gp/product/") || strings.Contains(ul, "/gp/aw/d/"):
		return 100
	case strings.Contains(ul, "/offer-listing/"):
		return 80
	default:
		return 50
	}
}

// bestCandidate deduplicates in first-seen order and picks the highest
// ranked URL. The stable sort makes tie-breaking deterministic: equal ranks
// resolve to whichever candidate was seen first.
func bestCandidate(urls []string) (string, bool) {
	seen := make(map[string]struct{}, len(urls))
	unique := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	if len(unique) == 0 {
		return "", false
	}
	slices.SortStableFunc(unique, func(a, b string) int {
		return rankProductURL(b) - rankProductURL(a)
	})
	return unique[0], true
}
