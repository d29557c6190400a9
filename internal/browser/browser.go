package browser

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/session"
)

// ErrNavigationTimeout marks a page operation that ran out of time. Callers
// treat it as a degraded, not failed, warm-up.
var ErrNavigationTimeout = errors.New("browser navigation timeout")

// DefaultLaunchArgs keeps headless Chromium working inside containers.
var DefaultLaunchArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-gpu-sandbox",
	"--no-zygote",
	"--single-process",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
	"--disable-software-rasterizer",
}

type Viewport struct {
	Width  int
	Height int
}

type LaunchOptions struct {
	Headless  bool
	Args      []string
	UserAgent string
	Viewport  Viewport
	Locale    string
}

// Launcher starts an isolated browser: engine, context and a single page.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one page inside an isolated context. Close releases the context
// and the engine and must be called on every path.
type Session interface {
	Goto(url string, timeout time.Duration) error
	PressKey(key string) error
	ClickAt(selector string, x, y float64, timeout time.Duration) error
	Wheel(deltaX, deltaY float64) error
	Cookies() ([]session.Cookie, error)
	UserAgent() (string, error)
	Content() (string, error)
	Close() error
}
