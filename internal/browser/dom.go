package browser

import (
	"context"
	"fmt"
)

// DOM convenience helpers built on Session.Evaluate. Selectors are embedded
// as JS string literals via %q; every script completes with an explicit
// JSON-serializable value.

// Exists reports whether the current document has a node matching selector.
func Exists(ctx context.Context, s Session, selector string) (bool, error) {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var found bool
	if err := s.Evaluate(ctx, js, &found); err != nil {
		return false, err
	}
	return found, nil
}

// Text returns the trimmed text content of the first node matching selector,
// or "" when absent.
func Text(ctx context.Context, s Session, selector string) (string, error) {
	js := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		return el ? el.textContent.trim() : '';
	})()`, selector)
	var text string
	if err := s.Evaluate(ctx, js, &text); err != nil {
		return "", err
	}
	return text, nil
}

// CountVisible counts nodes matching selector that occupy layout space.
func CountVisible(ctx context.Context, s Session, selector string) (int, error) {
	js := fmt.Sprintf(`(function() {
		var els = document.querySelectorAll(%q);
		var n = 0;
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			if (el.offsetWidth || el.offsetHeight || el.getClientRects().length) n++;
		}
		return n;
	})()`, selector)
	var n int
	if err := s.Evaluate(ctx, js, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ClickVisible scrolls the index-th visible match of selector into view and
// clicks it from script, sidestepping overlay interception. Returns false
// when no such element exists.
func ClickVisible(ctx context.Context, s Session, selector string, index int) (bool, error) {
	js := fmt.Sprintf(`(function() {
		var els = document.querySelectorAll(%q);
		var visible = [];
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			if (el.offsetWidth || el.offsetHeight || el.getClientRects().length) visible.push(el);
		}
		var el = visible[%d];
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, selector, index)
	var clicked bool
	if err := s.Evaluate(ctx, js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// ClickFirst clicks the first match of selector regardless of visibility.
func ClickFirst(ctx context.Context, s Session, selector string) (bool, error) {
	js := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, selector)
	var clicked bool
	if err := s.Evaluate(ctx, js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// SetValue fills an input from script and dispatches the events the page's
// validation listens for. Returns false when the input is absent.
func SetValue(ctx context.Context, s Session, selector, value string) (bool, error) {
	js := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		if (!el) return false;
		el.focus();
		el.value = %q;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, value)
	var ok bool
	if err := s.Evaluate(ctx, js, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
