// internal/browser/allocator.go
package browser

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/tcgscout/tcgscout/internal/config"
)

// launchFlag is one command line switch passed to Chromium.
type launchFlag struct {
	name  string
	value interface{}
}

// DefaultAllocatorOptions assembles the options for a headless Chromium
// suited to containers, on top of chromedp's defaults.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// launchFlags lists the switches derived from cfg. Custom args come last so
// they override the defaults.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := []launchFlag{
		{"headless", cfg.Headless},
		{"disable-gpu", true},
		{"disable-extensions", true},
	}

	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags = append(flags, launchFlag{"window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)})
	}
	if cfg.UserAgent != "" {
		flags = append(flags, launchFlag{"user-agent", cfg.UserAgent})
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			launchFlag{"ignore-certificate-errors", true},
			launchFlag{"allow-insecure-localhost", true},
		)
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		flags = append(flags,
			launchFlag{"no-sandbox", true},
			launchFlag{"disable-dev-shm-usage", true},
			launchFlag{"disable-setuid-sandbox", true},
		)
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, launchFlag{name, parts[1]})
		} else {
			flags = append(flags, launchFlag{name, true})
		}
	}

	return flags
}
