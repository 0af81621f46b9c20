// Package session persists the browser cookies of an authenticated
// marketplace session so later runs can skip the credential form.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoSession means there is no usable blob on disk. Callers treat it
	// as a cache miss, not a failure.
	ErrNoSession = errors.New("no cached session")
	// ErrCorrupt means the blob exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt session file")
)

// Cookie is the on-disk form of one browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// pathLocks serializes access to a blob path within this process.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store reads and writes the cookie blob for one site.
type Store struct {
	path   string
	site   string // registrable domain (eTLD+1) of the target site
	logger *zap.Logger
}

// NewStore creates a store for the blob at path, accepting only cookies that
// belong to the same registrable domain as baseURL.
func NewStore(path, baseURL string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("session: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("session: resolve path: %w", err)
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("session: invalid base url %q", baseURL)
	}
	site, err := registrableDomain(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Store{
		path:   abs,
		site:   site,
		logger: logger.Named("session_store"),
	}, nil
}

// Path returns the absolute location of the blob.
func (s *Store) Path() string {
	return s.path
}

// Load reads the blob. It returns ErrNoSession when the file is missing or
// holds no cookies for the site, and ErrCorrupt when it cannot be decoded.
func (s *Store) Load() ([]Cookie, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}

	var stored []Cookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	cookies := s.filter(stored)
	if len(cookies) == 0 {
		return nil, ErrNoSession
	}
	return cookies, nil
}

// Save overwrites the blob with cookies. The file is replaced atomically so a
// crash mid-write never leaves a truncated blob behind.
func (s *Store) Save(cookies []Cookie) error {
	kept := s.filter(cookies)

	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal cookies: %w", err)
	}

	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("session: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("session: replace %s: %w", s.path, err)
	}

	s.logger.Debug("Session cookies saved.", zap.String("path", s.path), zap.Int("count", len(kept)))
	return nil
}

// filter drops cookies whose domain does not belong to the target site.
func (s *Store) filter(cookies []Cookie) []Cookie {
	kept := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain, err := registrableDomain(c.Domain)
		if err != nil || domain != s.site {
			s.logger.Debug("Discarding cookie for foreign domain.",
				zap.String("cookie", c.Name), zap.String("domain", c.Domain))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func registrableDomain(host string) (string, error) {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", fmt.Errorf("empty domain")
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("registrable domain of %q: %w", host, err)
	}
	return domain, nil
}

// FromNetwork converts cookies read from the browser into their stored form.
func FromNetwork(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// ToParams converts stored cookies into injection parameters. The expiry is
// always dropped, so reinjected cookies become browser session cookies.
func ToParams(cookies []Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		switch network.CookieSameSite(c.SameSite) {
		case network.CookieSameSiteStrict, network.CookieSameSiteLax, network.CookieSameSiteNone:
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}
