package scrape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratescout/ratescout/internal/browser"
)

const noCTAs = `[]`

func TestResolveSynthesizesFromCTAAttributes(t *testing.T) {
	fs := newFakeSession()
	fs.stub("getAttribute('data-aps-asin'", `[{"asin":"B000123","tag":"mytag-20","sub":"%ascsubtag%"}]`)

	res, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "https://www.amazon.com/dp/B000123?tag=mytag-20", res.URL)
	assert.Nil(t, res.Tabs)
}

func TestResolveClicksCTAIntoNewTab(t *testing.T) {
	fs := newFakeSession()
	fs.loc = "https://slickdeals.net/f/123-deal"
	fs.stub("getAttribute('data-aps-asin'", noCTAs)
	fs.stub("var n = 0", 1)
	fs.stubFunc("visible[0]", func(_ string, out any) error {
		fs.tabs = append(fs.tabs, "tab-2")
		assign(out, true)
		return nil
	})

	res, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.URL)
	require.NotNil(t, res.Tabs)
	assert.Equal(t, browser.TargetID("tab-1"), res.Tabs.Origin)
	assert.Equal(t, browser.TargetID("tab-2"), res.Tabs.Opened)
	assert.Equal(t, browser.TargetID("tab-2"), fs.CurrentTab())
}

func TestResolveFallsBackToLinkScan(t *testing.T) {
	fs := newFakeSession()
	fs.loc = "https://slickdeals.net/f/123-deal"
	fs.stub("getAttribute('data-aps-asin'", noCTAs)
	fs.stub("var n = 0", 0)
	fs.html = `<html><body>
		<a class="dealCardCTALink" href="/f/redirect?u2=https%3A%2F%2Fwww.amazon.com%2Fdp%2FB7%3Ftag%3Dmytag-20">Buy</a>
	</body></html>`

	res, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "https://www.amazon.com/dp/B7?tag=mytag-20", res.URL)
}

func TestResolveLastResortClick(t *testing.T) {
	fs := newFakeSession()
	fs.loc = "https://slickdeals.net/f/123-deal"
	fs.stub("getAttribute('data-aps-asin'", noCTAs)
	fs.stub("var n = 0", 0)
	fs.stubFunc("slickdeals.net/click", func(_ string, out any) error {
		fs.loc = "https://www.amazon.com/dp/B9"
		assign(out, true)
		return nil
	})

	res, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.URL)
	require.NotNil(t, res.Tabs)
	assert.Equal(t, browser.TargetID("tab-1"), res.Tabs.Origin)
	assert.Empty(t, res.Tabs.Opened)
}

func TestResolveNothingFound(t *testing.T) {
	fs := newFakeSession()
	fs.loc = "https://slickdeals.net/f/123-deal"
	fs.stub("getAttribute('data-aps-asin'", noCTAs)
	fs.stub("var n = 0", 0)
	fs.html = `<html><body><p>no links</p></body></html>`

	res, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolveCrashPropagates(t *testing.T) {
	fs := newFakeSession()
	fs.stubFunc("getAttribute('data-aps-asin'", func(string, any) error {
		return &browser.CrashError{Err: context.Canceled}
	})

	_, err := NewOutclickResolver().Resolve(context.Background(), fs)
	require.Error(t, err)
	assert.True(t, browser.IsCrash(err))
}

func TestScanOutclickCandidates(t *testing.T) {
	html := `<html><body>
		<a class="dealDetailsOutclickButton" href="/f/redirect?u2=https%3A%2F%2Fwww.amazon.com%2Fgp%2Foffer-listing%2FB1">Offer</a>
		<a class="dealCardCTALink" href="https://slickdeals.net/f/redirect?u=https%3A%2F%2Fwww.amazon.com%2Fdp%2FB2">Deal</a>
		<a data-role="outclick" href="https://www.amazon.com/product-reviews/B3">Reviews</a>
		<a data-role="outclick" href="https://www.bestbuy.com/site/456">Elsewhere</a>
	</body></html>`

	candidates, err := scanOutclickCandidates(html, "https://slickdeals.net/f/123-deal")
	require.NoError(t, err)
	assert.Contains(t, candidates, "https://www.amazon.com/gp/offer-listing/B1")
	assert.Contains(t, candidates, "https://www.amazon.com/dp/B2")
	assert.NotContains(t, candidates, "https://www.amazon.com/product-reviews/B3")
	assert.NotContains(t, candidates, "https://www.bestbuy.com/site/456")

	best, ok := bestCandidate(candidates)
	require.True(t, ok)
	assert.Equal(t, "https://www.amazon.com/dp/B2", best)
}
