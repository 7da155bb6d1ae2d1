package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/crawl"
)

// Provider obtains session credentials. The login flow itself lives
// behind this interface; the pool only cares about the bundle it
// returns.
type Provider interface {
	// EnsureLoggedIn returns usable credentials, logging in only if
	// the persisted bundle is missing or unusable.
	EnsureLoggedIn(ctx context.Context) (Credentials, error)
	// RefreshSession performs a fresh login and returns the new bundle.
	RefreshSession(ctx context.Context) (Credentials, error)
}

// Pool owns the one shared browser context a run multiplexes its
// workers over. Workers open their own tab within it; credentials are
// shared mutable state guarded by the refresh lock.
type Pool struct {
	cfg      config.SessionConfig
	provider Provider
	store    *CookieStore
	logger   *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu          sync.Mutex
	lastRefresh time.Time
}

var _ crawl.Refresher = (*Pool)(nil)

// NewPool constructs a Pool and its Chrome exec allocator. Start must
// be called before workers acquire contexts.
func NewPool(cfg config.SessionConfig, provider Provider, store *CookieStore, logger *zap.Logger) (*Pool, error) {
	if provider == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cookie store is required")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Pool{
		cfg:         cfg,
		provider:    provider,
		store:       store,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Start launches the shared browser context and installs credentials.
// A failure here is fatal to the run: nothing can proceed without the
// execution context.
func (p *Pool) Start(ctx context.Context) error {
	p.browserCtx, p.browserCancel = chromedp.NewContext(p.allocCtx)
	if err := chromedp.Run(p.browserCtx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	creds, err := p.provider.EnsureLoggedIn(p.browserCtx)
	if err != nil {
		return fmt.Errorf("session bootstrap: %w", err)
	}
	if err := p.install(creds); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastRefresh = time.Now()
	p.mu.Unlock()
	p.logger.Info("session established", zap.Int("cookies", len(creds.Cookies)))
	return nil
}

// AcquireContext returns the shared browser context. Workers derive a
// tab from it with chromedp.NewContext; the pool's context itself is
// never cancelled per-unit.
func (p *Pool) AcquireContext() context.Context {
	return p.browserCtx
}

// Refresh renews credentials under the cooldown contract: one refresh
// in flight at a time, and callers arriving within the cooldown window
// observe a no-op and reuse the last refreshed bundle.
func (p *Pool) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if since := time.Since(p.lastRefresh); since < p.cfg.RefreshCooldown() {
		p.logger.Debug("refresh within cooldown, reusing session",
			zap.Duration("since_last", since))
		return nil
	}

	creds, err := p.provider.RefreshSession(p.browserCtx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if err := p.install(creds); err != nil {
		return err
	}
	p.lastRefresh = time.Now()
	p.logger.Info("session refreshed", zap.Int("cookies", len(creds.Cookies)))
	return nil
}

// install pushes the bundle into the browser context and persists it.
func (p *Pool) install(creds Credentials) error {
	if creds.Empty() {
		return fmt.Errorf("provider returned empty credentials")
	}
	params := creds.CookieParams()
	err := chromedp.Run(p.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("install cookies: %w", err)
	}
	if err := p.store.Save(creds); err != nil {
		return err
	}
	return nil
}

// HTTPCookies converts the persisted bundle for use by non-browser
// clients (the title-fetch stage).
func (p *Pool) HTTPCookies() ([]*http.Cookie, error) {
	creds, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	return HTTPCookies(creds), nil
}

// Close tears down the browser and allocator.
func (p *Pool) Close() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	p.allocCancel()
}

// HTTPCookies converts a bundle into net/http cookies.
func HTTPCookies(creds Credentials) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(creds.Cookies))
	for _, ck := range creds.Cookies {
		out = append(out, &http.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: ck.Domain,
			Path:   ck.Path,
		})
	}
	return out
}
