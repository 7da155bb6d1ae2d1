// Package session manages the shared browser execution context: its
// lifecycle, its credential bundle, and cooldown-gated refresh.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Cookie is one persisted session cookie. The JSON shape matches the
// cookies.json bundle the login flow produces, so bundles survive
// tooling changes.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Credentials is the opaque session bundle shared by all workers.
// Valid until the remote side rejects it.
type Credentials struct {
	Cookies []Cookie `json:"cookies"`
}

// Empty reports whether the bundle carries no cookies.
func (c Credentials) Empty() bool {
	return len(c.Cookies) == 0
}

// CookieParams converts the bundle for injection into a browser
// context via the CDP network domain.
func (c Credentials) CookieParams() []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &expires
		}
		switch ck.SameSite {
		case "Strict":
			p.SameSite = network.CookieSameSiteStrict
		case "Lax":
			p.SameSite = network.CookieSameSiteLax
		case "None":
			p.SameSite = network.CookieSameSiteNone
		}
		params = append(params, p)
	}
	return params
}

// FromNetworkCookies converts cookies read out of a browser context
// into a persistable bundle.
func FromNetworkCookies(cookies []*network.Cookie) Credentials {
	out := Credentials{Cookies: make([]Cookie, 0, len(cookies))}
	for _, ck := range cookies {
		out.Cookies = append(out.Cookies, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: ck.SameSite.String(),
		})
	}
	return out
}

// CookieStore persists the credential bundle to a JSON file, read at
// startup and rewritten after each refresh.
type CookieStore struct {
	path string
}

// NewCookieStore creates a store at path.
func NewCookieStore(path string) (*CookieStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cookie store path is required")
	}
	return &CookieStore{path: path}, nil
}

// Load reads the persisted bundle. A missing file yields empty
// credentials, not an error.
func (s *CookieStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("read cookie store: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return Credentials{}, fmt.Errorf("decode cookie store: %w", err)
	}
	return Credentials{Cookies: cookies}, nil
}

// Save rewrites the persisted bundle.
func (s *CookieStore) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds.Cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie store: %w", err)
	}
	return nil
}
