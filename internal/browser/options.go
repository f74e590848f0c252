package browser

import (
	"github.com/chromedp/chromedp"

	"github.com/ratescout/ratescout/internal/app"
)

// allocatorOpts returns chromedp exec-allocator options that avoid common
// headless-detection flags. The profile directory keeps cookies across
// process restarts so re-authentication after a crash is usually a no-op.
func allocatorOpts(cfg app.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(cfg.ChromePath),

		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("no-sandbox", cfg.NoSandbox),

		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),

		// Anti-detection flags
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "NetworkServiceInProcess"),

		chromedp.Flag("log-level", "3"),

		chromedp.WindowSize(1920, 1080),
	}

	if cfg.Headless {
		// New headless mode, less detectable than legacy.
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}

	return opts
}
