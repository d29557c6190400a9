package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/session"
	"github.com/playwright-community/playwright-go"
)

// Playwright launches Chromium through playwright-go. Every Launch starts its
// own driver so a session owns all of its resources.
type Playwright struct {
	logger *slog.Logger
}

func NewPlaywright(logger *slog.Logger) *Playwright {
	if logger == nil {
		logger = slog.Default()
	}
	return &Playwright{logger: logger.With("component", "browser")}
}

func (p *Playwright) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := opts.Args
	if args == nil {
		args = DefaultLaunchArgs
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	p.logger.Debug("browser launched",
		"viewport_width", opts.Viewport.Width,
		"viewport_height", opts.Viewport.Height,
		"locale", opts.Locale,
	)

	return &playwrightSession{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
	}, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (s *playwrightSession) Goto(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return classify(fmt.Errorf("goto %s: %w", url, err))
	}
	return nil
}

func (s *playwrightSession) PressKey(key string) error {
	if err := s.page.Keyboard().Press(key); err != nil {
		return classify(fmt.Errorf("press %s: %w", key, err))
	}
	return nil
}

func (s *playwrightSession) ClickAt(selector string, x, y float64, timeout time.Duration) error {
	err := s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Position: &playwright.Position{X: x, Y: y},
		Timeout:  playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return classify(fmt.Errorf("click %s: %w", selector, err))
	}
	return nil
}

func (s *playwrightSession) Wheel(deltaX, deltaY float64) error {
	if err := s.page.Mouse().Wheel(deltaX, deltaY); err != nil {
		return classify(fmt.Errorf("mouse wheel: %w", err))
	}
	return nil
}

func (s *playwrightSession) Cookies() ([]session.Cookie, error) {
	raw, err := s.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, session.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: expiresAt(c.Expires),
		})
	}
	return cookies, nil
}

// UserAgent reads navigator.userAgent, which reflects what the browser
// actually sends after any normalisation of the requested value.
func (s *playwrightSession) UserAgent() (string, error) {
	v, err := s.page.Evaluate("navigator.userAgent")
	if err != nil {
		return "", fmt.Errorf("failed to read user agent: %w", err)
	}
	ua, ok := v.(string)
	if !ok || ua == "" {
		return "", fmt.Errorf("unexpected user agent value %v", v)
	}
	return ua, nil
}

func (s *playwrightSession) Content() (string, error) {
	html, err := s.page.Content()
	if err != nil {
		return "", classify(fmt.Errorf("failed to get page content: %w", err))
	}
	return html, nil
}

func (s *playwrightSession) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

func classify(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	}
	return err
}

// expiresAt converts playwright's epoch seconds; -1 means a session cookie.
func expiresAt(epoch float64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
