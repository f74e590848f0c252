package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/ratescout/ratescout/internal/browser"
)

// The commission widget renders asynchronously, sometimes inside an embedded
// frame. Probing is cheap (one in-page script) so the extractor busy-polls
// until the budget runs out.
const (
	extractPollInterval = 1 * time.Second
	maxProbedFrames     = 6
)

// commissionProbeJS reads the base and bonus rate fragments from a document,
// walking same-process frames when the main document has neither.
const commissionProbeJS = `(function() {
	function probe(doc) {
		var base = doc.getElementById('amzn-ss-commission-rate-content');
		var bonus = doc.getElementById('amzn-ss-cc-rate');
		return [
			base ? base.textContent.trim() : '',
			bonus ? bonus.textContent.trim() : ''
		];
	}
	var r = probe(document);
	if (r[0] || r[1]) return JSON.stringify(r);
	var frames = document.querySelectorAll('iframe');
	for (var i = 0; i < frames.length && i < 6; i++) {
		try {
			var doc = frames[i].contentDocument;
			if (!doc) continue;
			var fr = probe(doc);
			if (fr[0] || fr[1]) return JSON.stringify(fr);
		} catch (e) {}
	}
	return JSON.stringify(r);
})()`

// ratePattern matches the first integer or decimal numeral in a fragment.
var ratePattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// Extractor polls a merchant product page for the commission widget's text
// fragments.
type Extractor struct{}

// Texts polls for the base and bonus rate fragments within the budget.
// Both come back empty when nothing rendered in time; the only error
// returned is a session crash.
func (Extractor) Texts(ctx context.Context, s browser.Session, budget time.Duration) (string, string, error) {
	deadline := time.Now().Add(budget)
	for {
		base, bonus, err := probeDocument(ctx, s)
		if err != nil {
			if browser.IsCrash(err) {
				return "", "", err
			}
			slog.Debug("commission probe failed", "error", err)
		}
		if base != "" || bonus != "" {
			return base, bonus, nil
		}

		base, bonus, err = probeFrames(ctx, s)
		if err != nil {
			return "", "", err
		}
		if base != "" || bonus != "" {
			return base, bonus, nil
		}

		if time.Now().After(deadline) {
			return "", "", nil
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(extractPollInterval):
		}
	}
}

// probeDocument runs the probe in the current tab's main frame.
func probeDocument(ctx context.Context, s browser.Session) (string, string, error) {
	var raw string
	if err := s.Evaluate(ctx, commissionProbeJS, &raw); err != nil {
		return "", "", err
	}
	return decodeProbe(raw)
}

// probeFrames runs the probe inside the first out-of-process frames, which
// script in the main document cannot reach. Per-frame failures are expected
// (frames come and go mid-poll) and skipped; crashes propagate.
func probeFrames(ctx context.Context, s browser.Session) (string, string, error) {
	frames, err := s.Frames(ctx)
	if err != nil {
		if browser.IsCrash(err) {
			return "", "", err
		}
		return "", "", nil
	}
	if len(frames) > maxProbedFrames {
		frames = frames[:maxProbedFrames]
	}
	for _, frame := range frames {
		var raw string
		if err := s.EvaluateIn(ctx, frame, commissionProbeJS, &raw); err != nil {
			if browser.IsCrash(err) {
				return "", "", err
			}
			continue
		}
		base, bonus, err := decodeProbe(raw)
		if err != nil {
			continue
		}
		if base != "" || bonus != "" {
			return base, bonus, nil
		}
	}
	return "", "", nil
}

func decodeProbe(raw string) (string, string, error) {
	var texts []string
	if err := json.Unmarshal([]byte(raw), &texts); err != nil {
		return "", "", fmt.Errorf("decoding commission probe: %w", err)
	}
	if len(texts) != 2 {
		return "", "", fmt.Errorf("decoding commission probe: got %d fragments, want 2", len(texts))
	}
	return texts[0], texts[1], nil
}

// parseRate takes the first numeral anywhere in the fragment as its rate.
// A fragment with no numeral contributes zero.
func parseRate(text string) float64 {
	m := ratePattern.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatTotal renders the summed rate as the queue expects it: two fraction
// digits and a trailing percent sign.
func formatTotal(base, bonus float64) string {
	return fmt.Sprintf("%.2f%%", base+bonus)
}
