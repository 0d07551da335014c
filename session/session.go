// Package session holds the currently loaded sticker catalog and serves
// assets from it.
package session

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stickerdl/catalog"
	"stickerdl/resolver"
)

var (
	ErrEmptyInput      = errors.New("empty input")
	ErrAlreadyLoaded   = errors.New("catalog already loaded")
	ErrNoCatalog       = errors.New("no catalog loaded")
	ErrIndexOutOfRange = errors.New("sticker index out of range")
)

var bracketed = regexp.MustCompile(`\[.*?\]`)

// Sanitize strips [bracketed] spans from the input and returns its last
// whitespace-separated token.
func Sanitize(input string) (string, error) {
	fields := strings.Fields(bracketed.ReplaceAllString(input, ""))
	if len(fields) == 0 {
		return "", ErrEmptyInput
	}

	return fields[len(fields)-1], nil
}

type State int

const (
	NoCatalogLoaded State = iota
	CatalogLoaded
)

func (s State) String() string {
	if s == CatalogLoaded {
		return "loaded"
	}

	return "empty"
}

type Loader interface {
	Load(ctx context.Context, url string) (catalog.Catalog, []catalog.Warning, error)
}

type Session struct {
	Loader   Loader
	Resolver *resolver.Resolver
	Log      logrus.FieldLogger

	url     string
	catalog catalog.Catalog
	mu      sync.RWMutex
	loading sync.Mutex
}

func New(loader Loader, resolver *resolver.Resolver) *Session {
	return &Session{
		Loader:   loader,
		Resolver: resolver,
		Log:      logrus.StandardLogger(),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.url == "" {
		return NoCatalogLoaded
	}

	return CatalogLoaded
}

// Catalog returns the loaded page URL and catalog.
func (s *Session) Catalog() (string, catalog.Catalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.catalog, s.url != ""
}

// LoadCatalog sanitizes the input and loads its catalog. Empty input resets
// the session and its cache. A failed load keeps the previous catalog. After a successful
// load only cache entries of the new catalog are kept.
func (s *Session) LoadCatalog(ctx context.Context, input string) (catalog.Catalog, []catalog.Warning, error) {
	s.loading.Lock()
	defer s.loading.Unlock()

	url, err := Sanitize(input)
	if err != nil {
		s.reset()
		return nil, nil, err
	}

	log := s.Log.WithField("url", url)
	if current, c, ok := s.Catalog(); ok && current == url {
		log.Infof("session: already loaded")
		return c, nil, ErrAlreadyLoaded
	}

	c, warnings, err := s.Loader.Load(ctx, url)
	if err != nil {
		log.Warnf("session: load failed, keeping previous state: %s", err)
		return c, warnings, err
	}

	keys := make([]resolver.Key, len(c))
	for i, d := range c {
		keys[i] = resolver.Key{SourceURL: d.SourceURL, Kind: d.Kind, Index: i}
	}

	s.mu.Lock()
	s.url, s.catalog = url, c
	s.mu.Unlock()

	if s.Resolver != nil {
		dropped := s.Resolver.Cache.Retain(keys)
		log.Debugf("session: dropped %d cached assets", dropped)
	}

	log.Infof("session: loaded %d stickers", len(c))
	return c, warnings, nil
}

func (s *Session) reset() {
	s.mu.Lock()
	s.url, s.catalog = "", nil
	s.mu.Unlock()

	if s.Resolver != nil {
		s.Resolver.Cache.Clear()
	}
}

// Resolve returns the asset of the sticker at the zero-based index of the
// loaded catalog.
func (s *Session) Resolve(ctx context.Context, index int) (*resolver.ResolvedAsset, error) {
	_, c, ok := s.Catalog()
	if !ok {
		return nil, ErrNoCatalog
	}

	if index < 0 || index >= len(c) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%d of %d", index+1, len(c))
	}

	return s.Resolver.Resolve(ctx, c[index], index)
}
