package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/config"
)

// ScriptedLogin is a reference Provider driving a form login in a
// browser tab: navigate, fill credentials, submit, wait for the
// post-login redirect, then read the resulting cookies. The selectors
// and URLs are configuration, not code.
type ScriptedLogin struct {
	cfg    config.SessionConfig
	store  *CookieStore
	logger *zap.Logger
}

var _ Provider = (*ScriptedLogin)(nil)

// NewScriptedLogin constructs the provider.
func NewScriptedLogin(cfg config.SessionConfig, store *CookieStore, logger *zap.Logger) (*ScriptedLogin, error) {
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("session.login_url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("session credentials are not configured")
	}
	return &ScriptedLogin{cfg: cfg, store: store, logger: logger}, nil
}

// EnsureLoggedIn reuses the persisted bundle when present, otherwise
// performs a login.
func (l *ScriptedLogin) EnsureLoggedIn(ctx context.Context) (Credentials, error) {
	creds, err := l.store.Load()
	if err != nil {
		return Credentials{}, err
	}
	if !creds.Empty() {
		l.logger.Info("reusing persisted session cookies", zap.Int("cookies", len(creds.Cookies)))
		return creds, nil
	}
	return l.login(ctx)
}

// RefreshSession always performs a fresh login.
func (l *ScriptedLogin) RefreshSession(ctx context.Context) (Credentials, error) {
	return l.login(ctx)
}

func (l *ScriptedLogin) login(browserCtx context.Context) (Credentials, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	runCtx, timeoutCancel := context.WithTimeout(tabCtx, l.cfg.LoginTimeout())
	defer timeoutCancel()

	l.logger.Info("logging in", zap.String("url", l.cfg.LoginURL))

	var cookies Credentials
	err := chromedp.Run(runCtx,
		chromedp.Navigate(l.cfg.LoginURL),
		chromedp.WaitVisible(l.cfg.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(l.cfg.UsernameSelector, l.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(l.cfg.PasswordSelector, l.cfg.Password, chromedp.ByQuery),
		chromedp.Click(l.cfg.SubmitSelector, chromedp.ByQuery),
		l.waitForRedirect(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			got, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			cookies = FromNetworkCookies(got)
			return nil
		}),
	)
	if err != nil {
		return Credentials{}, fmt.Errorf("login flow: %w", err)
	}
	if cookies.Empty() {
		return Credentials{}, fmt.Errorf("login produced no cookies")
	}
	l.logger.Info("login complete", zap.Int("cookies", len(cookies.Cookies)))
	return cookies, nil
}

// waitForRedirect polls the tab location until it matches the
// configured post-login prefix.
func (l *ScriptedLogin) waitForRedirect() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			var loc string
			if err := chromedp.Location(&loc).Do(ctx); err != nil {
				return fmt.Errorf("read location: %w", err)
			}
			if l.cfg.RedirectPrefix == "" || strings.HasPrefix(loc, l.cfg.RedirectPrefix) {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for login redirect: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	})
}
