package commands

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/maltedev/yellowpages-scraper/internal/api"
	"github.com/maltedev/yellowpages-scraper/internal/browser"
	"github.com/maltedev/yellowpages-scraper/internal/config"
	"github.com/maltedev/yellowpages-scraper/internal/fetch"
	"github.com/maltedev/yellowpages-scraper/internal/identity"
	"github.com/maltedev/yellowpages-scraper/internal/logger"
	"github.com/maltedev/yellowpages-scraper/internal/ratelimit"
	"github.com/maltedev/yellowpages-scraper/internal/scraper"
	"github.com/maltedev/yellowpages-scraper/internal/transport"
)

// app holds what every command shares: configuration, logging and the
// browser-backed identity deriver.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	deriver *identity.Deriver
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	log := logger.New(level, cfg.Logging.Format)
	slog.SetDefault(log)

	var derivOpts []identity.Option
	derivOpts = append(derivOpts, identity.WithLogger(log))
	if cfg.Scraper.Seed != 0 {
		derivOpts = append(derivOpts, identity.WithRand(rand.New(rand.NewSource(cfg.Scraper.Seed))))
	}

	deriver := identity.NewDeriver(browser.NewPlaywright(log), identity.Options{
		BaseURL:           cfg.Scraper.BaseURL,
		UserAgents:        cfg.Scraper.UserAgents,
		Headless:          cfg.Browser.Headless,
		Locale:            cfg.Browser.Locale,
		LaunchArgs:        browser.DefaultLaunchArgs,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ClickTimeout:      cfg.Browser.ClickTimeout,
	}, derivOpts...)

	return &app{cfg: cfg, logger: log, deriver: deriver}, nil
}

// newSearcher builds a search driver with its own session store and
// counters. The deriver is shared.
func (a *app) newSearcher() (*scraper.SearchScraper, error) {
	tlsClient, err := transport.NewTLSClient(transport.Config{
		Timeout: a.cfg.Scraper.RequestTimeout,
		Proxy:   a.cfg.Scraper.Proxy,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(
		transport.NewClient(tlsClient, a.cfg.Scraper.RequestTimeout),
		a.deriver,
		nil,
		fetch.Config{MaxFallbacks: a.cfg.Scraper.MaxFallbacks},
		a.logger,
	)

	var pacerOpts []ratelimit.Option
	if a.cfg.Scraper.Seed != 0 {
		pacerOpts = append(pacerOpts, ratelimit.WithRand(rand.New(rand.NewSource(a.cfg.Scraper.Seed))))
	}
	pacer := ratelimit.NewAdaptiveRateLimiter(a.cfg.Scraper.PageDelayMin, a.cfg.Scraper.PageDelayMax, pacerOpts...)

	return scraper.NewSearchScraper(client, nil, pacer, scraper.Options{
		BaseURL:  a.cfg.Scraper.BaseURL,
		MaxPages: a.cfg.Scraper.MaxPages,
	}, a.logger), nil
}

func (a *app) searcherFactory() api.SearcherFactory {
	return func() (api.Searcher, error) {
		s, err := a.newSearcher()
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
