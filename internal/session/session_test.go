package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/config"
)

type fakeProvider struct {
	mu       sync.Mutex
	ensures  int
	refreshs int
	creds    Credentials
	err      error
}

func (f *fakeProvider) EnsureLoggedIn(context.Context) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return f.creds, f.err
}

func (f *fakeProvider) RefreshSession(context.Context) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	return f.creds, f.err
}

func (f *fakeProvider) refreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshs
}

func testSessionConfig(t *testing.T) config.SessionConfig {
	t.Helper()
	return config.SessionConfig{
		CookiesPath:        filepath.Join(t.TempDir(), "cookies.json"),
		RefreshCooldownSec: 30,
		Headless:           true,
	}
}

func newTestPool(t *testing.T, provider Provider, cfg config.SessionConfig) *Pool {
	t.Helper()
	store, err := NewCookieStore(cfg.CookiesPath)
	require.NoError(t, err)
	pool, err := NewPool(cfg, provider, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPool_RefreshWithinCooldownIsNoOp(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	pool := newTestPool(t, provider, testSessionConfig(t))
	pool.lastRefresh = time.Now()

	require.NoError(t, pool.Refresh(context.Background()))
	require.Zero(t, provider.refreshCalls())
}

func TestPool_ConcurrentRefreshesCollapse(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	pool := newTestPool(t, provider, testSessionConfig(t))
	pool.lastRefresh = time.Now()

	errs := make(chan error, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pool.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Zero(t, provider.refreshCalls())
}

func TestPool_RefreshAfterCooldownCallsProvider(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("login failed")}
	pool := newTestPool(t, provider, testSessionConfig(t))
	pool.lastRefresh = time.Now().Add(-time.Hour)

	err := pool.Refresh(context.Background())
	require.ErrorContains(t, err, "login failed")
	require.Equal(t, 1, provider.refreshCalls())

	// The failed refresh did not move the cooldown window.
	err = pool.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, provider.refreshCalls())
}

func TestPool_RequiresProviderAndStore(t *testing.T) {
	t.Parallel()

	store, err := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)

	_, err = NewPool(config.SessionConfig{}, nil, store, zap.NewNop())
	require.Error(t, err)

	_, err = NewPool(config.SessionConfig{}, &fakeProvider{}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestCookieStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)

	// Missing file is an empty bundle.
	creds, err := store.Load()
	require.NoError(t, err)
	require.True(t, creds.Empty())

	want := Credentials{Cookies: []Cookie{
		{Name: "SCSessionID", Value: "abc", Domain: ".scopus.example", Path: "/", Secure: true},
		{Name: "ezproxy", Value: "tok", Domain: "ezproxy.example", Path: "/", HTTPOnly: true},
	}}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCredentials_CookieParams(t *testing.T) {
	t.Parallel()

	creds := Credentials{Cookies: []Cookie{{
		Name:     "SCSessionID",
		Value:    "abc",
		Domain:   ".scopus.example",
		Path:     "/",
		Expires:  1700000000,
		Secure:   true,
		SameSite: "Lax",
	}, {
		Name:  "flat",
		Value: "x",
	}}}

	params := creds.CookieParams()
	require.Len(t, params, 2)
	require.Equal(t, "SCSessionID", params[0].Name)
	require.NotNil(t, params[0].Expires)
	require.Equal(t, network.CookieSameSiteLax, params[0].SameSite)
	require.Nil(t, params[1].Expires)
}

func TestFromNetworkCookies(t *testing.T) {
	t.Parallel()

	creds := FromNetworkCookies([]*network.Cookie{{
		Name:     "SCSessionID",
		Value:    "abc",
		Domain:   ".scopus.example",
		Path:     "/",
		Expires:  1700000000,
		Secure:   true,
		SameSite: network.CookieSameSiteStrict,
	}})
	require.Len(t, creds.Cookies, 1)
	require.Equal(t, "Strict", creds.Cookies[0].SameSite)
	require.InDelta(t, 1700000000, creds.Cookies[0].Expires, 1)
}

func TestHTTPCookies(t *testing.T) {
	t.Parallel()

	creds := Credentials{Cookies: []Cookie{
		{Name: "a", Value: "1", Domain: "d", Path: "/"},
		{Name: "b", Value: "2"},
	}}
	cookies := HTTPCookies(creds)
	require.Len(t, cookies, 2)
	require.Equal(t, "a", cookies[0].Name)
	require.Equal(t, "1", cookies[0].Value)
	require.Equal(t, "d", cookies[0].Domain)
}
