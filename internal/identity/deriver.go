package identity

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/browser"
	"github.com/maltedev/yellowpages-scraper/internal/session"
)

const DefaultBaseURL = "https://www.yellowpages.com/"

// DefaultUserAgents is the pool a warm-up picks its requested identity from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Pause ranges for the scripted interaction. The jitter is there to look
// like a person; do not shorten or parallelise it.
var (
	settlePause    = span{2 * time.Second, 4 * time.Second}
	shortPause     = span{1 * time.Second, 2 * time.Second}
	arrivalPause   = span{1500 * time.Millisecond, 3 * time.Second}
	viewportWidth  = [2]int{1280, 1920}
	viewportHeight = [2]int{720, 1080}
	scrollDistance = [2]int{400, 900}
)

type span struct {
	min, max time.Duration
}

type Options struct {
	BaseURL           string
	UserAgents        []string
	Headless          bool
	Locale            string
	LaunchArgs        []string
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		BaseURL:           DefaultBaseURL,
		UserAgents:        DefaultUserAgents,
		Headless:          true,
		Locale:            "en-US",
		LaunchArgs:        browser.DefaultLaunchArgs,
		NavigationTimeout: 35 * time.Second,
		ClickTimeout:      3 * time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Deriver)

// WithRand makes user agent choice, viewport and pauses reproducible.
func WithRand(r *rand.Rand) Option {
	return func(d *Deriver) { d.rnd = r }
}

func WithSleep(fn SleepFunc) Option {
	return func(d *Deriver) { d.sleep = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Deriver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Deriver warms up a session in a real browser and returns the identity the
// lightweight HTTP client should present.
type Deriver struct {
	launcher browser.Launcher
	opts     Options
	sleep    SleepFunc
	logger   *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewDeriver(launcher browser.Launcher, opts Options, options ...Option) *Deriver {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}

	d := &Deriver{
		launcher: launcher,
		opts:     opts,
		sleep:    sleepContext,
		logger:   slog.Default(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range options {
		o(d)
	}
	d.logger = d.logger.With("component", "identity")
	return d
}

// Derive runs a warm-up. When target is set the browser also visits it, and
// with fetchContent the rendered markup is returned in Identity.HTML.
//
// Derive never fails: timeouts and browser errors degrade to whatever cookies
// were collected, with no HTML.
func (d *Deriver) Derive(ctx context.Context, target string, fetchContent bool) session.Identity {
	requested := d.pickUserAgent()
	viewport := browser.Viewport{
		Width:  d.intn(viewportWidth),
		Height: d.intn(viewportHeight),
	}

	d.logger.Info("starting warm-up", "target", target, "fetch_content", fetchContent)

	sess, err := d.launcher.Launch(ctx, browser.LaunchOptions{
		Headless:  d.opts.Headless,
		Args:      d.opts.LaunchArgs,
		UserAgent: requested,
		Viewport:  viewport,
		Locale:    d.opts.Locale,
	})
	if err != nil {
		d.logger.Error("failed to launch browser", "error", err)
		return d.build(target, requested, nil, "")
	}

	html, err := d.interact(ctx, sess, target, fetchContent)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, browser.ErrNavigationTimeout) {
			level = slog.LevelWarn
		}
		d.logger.Log(ctx, level, "warm-up interrupted", "target", target, "error", err)
		html = ""
	}

	cookies, err := sess.Cookies()
	if err != nil {
		d.logger.Error("failed to harvest cookies", "error", err)
	}

	userAgent := requested
	if ua, err := sess.UserAgent(); err != nil {
		d.logger.Warn("failed to read browser user agent", "error", err)
	} else {
		userAgent = ua
	}

	if err := sess.Close(); err != nil {
		d.logger.Error("failed to tear down browser", "error", err)
	}

	d.logger.Info("warm-up finished", "cookies", len(cookies), "html", html != "")
	return d.build(target, userAgent, cookies, html)
}

func (d *Deriver) interact(ctx context.Context, sess browser.Session, target string, fetchContent bool) (string, error) {
	if err := sess.Goto(d.opts.BaseURL, d.opts.NavigationTimeout); err != nil {
		return "", err
	}
	if err := d.pause(ctx, settlePause); err != nil {
		return "", err
	}
	if err := sess.PressKey("End"); err != nil {
		return "", err
	}
	if err := d.pause(ctx, shortPause); err != nil {
		return "", err
	}
	if err := sess.PressKey("Home"); err != nil {
		return "", err
	}
	if err := d.pause(ctx, shortPause); err != nil {
		return "", err
	}
	if err := sess.ClickAt("header", 10, 10, d.opts.ClickTimeout); err != nil {
		return "", err
	}
	if err := d.pause(ctx, shortPause); err != nil {
		return "", err
	}

	if target == "" {
		return "", nil
	}

	if err := sess.Goto(target, d.opts.NavigationTimeout); err != nil {
		return "", err
	}
	if err := d.pause(ctx, arrivalPause); err != nil {
		return "", err
	}
	if err := sess.Wheel(0, float64(d.intn(scrollDistance))); err != nil {
		return "", err
	}
	if err := d.pause(ctx, shortPause); err != nil {
		return "", err
	}

	if !fetchContent {
		return "", nil
	}
	return sess.Content()
}

func (d *Deriver) build(target, userAgent string, cookies []session.Cookie, html string) session.Identity {
	headers := session.BuildHeaders(userAgent, session.RefererFor(target, d.opts.BaseURL))
	if c := session.SerializeCookies(cookies); c != "" {
		headers.Set(session.HeaderCookie, c)
	}
	return session.Identity{
		Cookies: cookies,
		Headers: headers,
		HTML:    html,
	}
}

func (d *Deriver) pause(ctx context.Context, s span) error {
	return d.sleep(ctx, d.duration(s))
}

func (d *Deriver) pickUserAgent() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.UserAgents[d.rnd.Intn(len(d.opts.UserAgents))]
}

// intn draws uniformly from the closed range r.
func (d *Deriver) intn(r [2]int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return r[0] + d.rnd.Intn(r[1]-r[0]+1)
}

func (d *Deriver) duration(s span) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.min + time.Duration(d.rnd.Float64()*float64(s.max-s.min))
}
