// Package assetcache keeps versioned offline copies of the web app's assets and serves them
// cache-first.
package assetcache

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/signs"
	"github.com/signscan/signscan/utils"
)

// DefaultName is the cache version. Bump it whenever the asset set changes.
const DefaultName = "traffic-sign-app-v23"

// maxParallelFetches bounds how many assets are fetched at once during install.
const maxParallelFetches = 8

// ShellAssets are the app files every install caches.
var ShellAssets = []string{
	"/",
	"/index.html",
	"/style.css",
	"/script.js",
	"/manifest.json",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
	"/model/labels.json",
}

// DefaultAssets returns the shell assets plus every sign's reference image.
func DefaultAssets() []string {
	refs := lo.FilterMap(signs.All(), func(c signs.Category, _ int) (string, bool) {
		ref := c.Metadata().ImageRef
		return Normalize(ref), ref != ""
	})
	return lo.Uniq(append(append([]string{}, ShellAssets...), refs...))
}

// Normalize turns an asset reference such as "./index.html" into a clean absolute URL path.
func Normalize(ref string) string {
	ref = strings.TrimPrefix(ref, ".")
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	cleaned := path.Clean(ref)
	if strings.HasSuffix(ref, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// Asset is one cached response.
type Asset struct {
	Path        string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Fetcher retrieves an asset from the network.
type Fetcher interface {
	Fetch(ctx context.Context, assetPath string) (Asset, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, assetPath string) (Asset, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, assetPath string) (Asset, error) {
	return f(ctx, assetPath)
}

// DirFetcher fetches assets from a directory on disk. "/" maps to index.html.
type DirFetcher struct {
	Root string
}

// Fetch reads the asset from disk.
func (d DirFetcher) Fetch(ctx context.Context, assetPath string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	rel := strings.TrimPrefix(Normalize(assetPath), "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}
	//nolint:gosec
	body, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(rel)))
	if err != nil {
		return Asset{}, errors.Wrapf(err, "cannot fetch %q", assetPath)
	}
	return Asset{
		Path:        Normalize(assetPath),
		ContentType: contentType(rel, body),
		Body:        body,
	}, nil
}

func contentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	if ct := utils.MimeTypeFromPath(name); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}

// Store holds every named cache, newest install or not.
type Store struct {
	mu     sync.RWMutex
	caches map[string]map[string]Asset
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{caches: map[string]map[string]Asset{}}
}

// Names returns the cache names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := lo.Keys(s.caches)
	sort.Strings(names)
	return names
}

// Delete removes a whole cache and reports whether it existed.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok
}

// Match looks the path up in every cache, in name order.
func (s *Store) Match(assetPath string) (Asset, bool) {
	key := Normalize(assetPath)
	for _, name := range s.Names() {
		s.mu.RLock()
		asset, ok := s.caches[name][key]
		s.mu.RUnlock()
		if ok {
			return asset, true
		}
	}
	return Asset{}, false
}

// Len returns the number of assets in the named cache.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.caches[name])
}

func (s *Store) put(name string, assets []Asset) {
	entries := make(map[string]Asset, len(assets))
	for _, a := range assets {
		entries[a.Path] = a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.caches[name]
	if !ok {
		s.caches[name] = entries
		return
	}
	for k, v := range entries {
		existing[k] = v
	}
}

// Worker installs one cache version into a Store and serves requests from it.
type Worker struct {
	store   *Store
	name    string
	assets  []string
	fetcher Fetcher
	logger  logging.Logger
}

// NewWorker returns a worker that caches assets under name.
func NewWorker(store *Store, name string, assets []string, fetcher Fetcher, logger logging.Logger) (*Worker, error) {
	if store == nil {
		return nil, errors.New("asset cache needs a store")
	}
	if name == "" {
		return nil, errors.New("asset cache needs a name")
	}
	if fetcher == nil {
		return nil, errors.New("asset cache needs a fetcher")
	}
	return &Worker{
		store:   store,
		name:    name,
		assets:  lo.Uniq(lo.Map(assets, func(a string, _ int) string { return Normalize(a) })),
		fetcher: fetcher,
		logger:  logger,
	}, nil
}

// Name returns the cache version this worker installs.
func (w *Worker) Name() string {
	return w.name
}

// Install fetches every asset and commits them together. If any fetch fails nothing is cached.
func (w *Worker) Install(ctx context.Context) error {
	w.logger.CInfow(ctx, "installing asset cache", "name", w.name, "assets", len(w.assets))
	fetched := make([]Asset, len(w.assets))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelFetches)
	for i, assetPath := range w.assets {
		group.Go(func() error {
			asset, err := w.fetcher.Fetch(groupCtx, assetPath)
			if err != nil {
				return errors.Wrapf(err, "cannot cache %q", assetPath)
			}
			asset.Path = assetPath
			if asset.FetchedAt.IsZero() {
				asset.FetchedAt = time.Now()
			}
			fetched[i] = asset
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	w.store.put(w.name, fetched)
	return nil
}

// Activate deletes every other cache version and returns the names it deleted.
func (w *Worker) Activate() []string {
	var deleted []string
	for _, name := range w.store.Names() {
		if name == w.name {
			continue
		}
		if w.store.Delete(name) {
			w.logger.Infow("deleting old asset cache", "name", name)
			deleted = append(deleted, name)
		}
	}
	return deleted
}

// Handler serves GET requests from the store and passes everything else, and misses, to next.
func (w *Worker) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(rw, r)
			return
		}
		asset, ok := w.store.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(rw, r)
			return
		}
		if asset.ContentType != "" {
			rw.Header().Set("Content-Type", asset.ContentType)
		}
		rw.Header().Set("X-Asset-Cache", w.name)
		http.ServeContent(rw, r, path.Base(asset.Path), asset.FetchedAt, bytes.NewReader(asset.Body))
	})
}
