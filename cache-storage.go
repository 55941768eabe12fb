package precache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/always-cache/precache/cache"
	cachekey "github.com/always-cache/precache/pkg/cache-key"
	serializer "github.com/always-cache/precache/pkg/response-serializer"
	"github.com/always-cache/precache/rfc9211"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CacheStorage gives access to the named caches kept by a cache provider.
type CacheStorage struct {
	provider cache.CacheProvider
	fetcher  Fetcher
	baseURL  url.URL
	log      zerolog.Logger
}

// NewCacheStorage returns a CacheStorage that fetches resources with the given fetcher.
// Relative resource identifiers are resolved against baseURL.
func NewCacheStorage(provider cache.CacheProvider, fetcher Fetcher, baseURL url.URL, logger zerolog.Logger) *CacheStorage {
	return &CacheStorage{
		provider: provider,
		fetcher:  fetcher,
		baseURL:  baseURL,
		log:      logger,
	}
}

// Open opens the named cache, creating it if it does not exist.
func (s *CacheStorage) Open(name string) (*Cache, error) {
	created, err := s.provider.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	if created {
		s.log.Info().Str("cache", name).Msg("Created cache")
	}
	return s.cache(name), nil
}

// Lookup returns the named cache if it exists.
func (s *CacheStorage) Lookup(name string) (*Cache, error) {
	names, err := s.provider.Names()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if n == name {
			return s.cache(name), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, name)
}

func (s *CacheStorage) cache(name string) *Cache {
	return &Cache{
		name:     name,
		provider: s.provider,
		keyer:    cachekey.NewCacheKeyer(name),
		fetcher:  s.fetcher,
		baseURL:  s.baseURL,
		log:      s.log.With().Str("cache", name).Logger(),
	}
}

// Cache is a handle to a single named cache.
type Cache struct {
	name     string
	provider cache.CacheProvider
	keyer    cachekey.CacheKeyer
	fetcher  Fetcher
	baseURL  url.URL
	log      zerolog.Logger
}

func (c *Cache) Name() string {
	return c.name
}

// AddAll fetches all of the given resources and stores the responses.
// Resources are fetched concurrently.
// If any resource fails, nothing is stored and the error is returned.
func (c *Cache) AddAll(ctx context.Context, urls []string) error {
	reqs := make([]*http.Request, len(urls))
	seen := make(map[string]string, len(urls))
	for i, u := range urls {
		req, err := c.newRequest(ctx, u)
		if err != nil {
			return &FetchError{URL: u, Err: err}
		}
		prefix := c.keyer.GetKeyPrefix(req)
		if prev, ok := seen[prefix]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateRequest, prev, u)
		}
		seen[prefix] = u
		reqs[i] = req
	}

	entries := make([]cache.CacheEntry, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			entry, err := c.fetchEntry(req.WithContext(gctx))
			if err != nil {
				return &FetchError{URL: urls[i], Err: err}
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := c.provider.PutAll(entries); err != nil {
		return fmt.Errorf("write cache %s: %w", c.name, err)
	}
	for _, e := range entries {
		c.log.Trace().Str("key", e.Key).Msg("Cache write")
	}
	return nil
}

// Match returns the stored response for the request, if any.
// Only GET requests can match.
func (c *Cache) Match(r *http.Request) (*http.Response, bool, error) {
	res, fwdReason, err := c.lookup(r)
	if err != nil || fwdReason != "" {
		return nil, false, err
	}
	return res, true, nil
}

// Keys returns requests equal to the ones the stored responses were stored for.
func (c *Cache) Keys() ([]*http.Request, error) {
	reqs := make([]*http.Request, 0)
	var keyErr error
	err := c.provider.Keys(c.keyer.CachePrefix, func(key string) {
		req, err := c.keyer.GetRequestFromKey(key)
		if err != nil {
			keyErr = err
			return
		}
		reqs = append(reqs, req)
	})
	if err != nil {
		return nil, err
	}
	return reqs, keyErr
}

// holdsAll reports whether there is a stored response for each of the resources.
func (c *Cache) holdsAll(urls []string) (bool, error) {
	for _, u := range urls {
		req, err := c.newRequest(context.Background(), u)
		if err != nil {
			return false, err
		}
		entries, err := c.provider.All(c.keyer.GetKeyPrefix(req))
		if err != nil {
			return false, err
		}
		if len(entries) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// lookup returns the stored response for the request,
// or the reason for forwarding the request if there is none.
func (c *Cache) lookup(r *http.Request) (*http.Response, rfc9211.FwdReason, error) {
	if r.Method != http.MethodGet {
		return nil, rfc9211.FwdReasonMethod, nil
	}
	prefix := c.keyer.GetKeyPrefix(r)
	entries, err := c.provider.All(prefix)
	if err != nil {
		return nil, rfc9211.FwdReasonMiss, fmt.Errorf("read cache %s: %w", c.name, err)
	}
	if len(entries) == 0 {
		return nil, rfc9211.FwdReasonUriMiss, nil
	}
	for _, e := range entries {
		sRes, err := serializer.BytesToStoredResponse(e.Bytes)
		if err != nil {
			c.log.Warn().Err(err).Str("key", e.Key).Msg("Could not read stored response")
			continue
		}
		if cachekey.VaryMatches(r, sRes.Response.Request, sRes.Response) {
			c.log.Trace().Str("key", e.Key).Time("stored", e.StoredAt).Msg("Cache hit")
			return sRes.Response, "", nil
		}
	}
	return nil, rfc9211.FwdReasonVaryMiss, nil
}

func (c *Cache) newRequest(ctx context.Context, identifier string) (*http.Request, error) {
	ref, err := url.Parse(identifier)
	if err != nil {
		return nil, err
	}
	u := c.baseURL.ResolveReference(ref)
	u.Fragment = ""
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

// fetchEntry fetches the resource for the request and creates the cache entry for it.
func (c *Cache) fetchEntry(req *http.Request) (cache.CacheEntry, error) {
	requestTime := time.Now()
	res, err := c.fetcher.Fetch(req)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return cache.CacheEntry{}, fmt.Errorf("%w: %d", ErrBadStatus, res.StatusCode)
	}
	for _, name := range cachekey.VaryFields(res.Header) {
		if name == "*" {
			return cache.CacheEntry{}, ErrVaryStar
		}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return cache.CacheEntry{}, fmt.Errorf("read body: %w", err)
	}
	responseTime := time.Now()

	// store as a plain HTTP/1.1 response with a known length
	res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	res.Close = false
	res.Header.Set("Content-Length", strconv.Itoa(len(body)))
	res.Request = req

	bts, err := serializer.StoredResponseToBytes(serializer.TimedResponse{
		Response:     res,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
	})
	if err != nil {
		return cache.CacheEntry{}, err
	}
	key := c.keyer.AddVaryKeys(c.keyer.GetKeyPrefix(req), req, res)
	return cache.CacheEntry{
		Key:      key,
		StoredAt: responseTime,
		Bytes:    bts,
	}, nil
}
