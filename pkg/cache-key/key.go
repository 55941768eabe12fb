package cachekey

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
)

const (
	nameSeparator   = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
	fieldSeparator  = "\n"
)

type CacheKeyer struct {
	// Name of the cache the keys belong to.
	CacheName string
	// Cache key prefix for all entries in this cache.
	CachePrefix string
}

func NewCacheKeyer(cacheName string) CacheKeyer {
	return CacheKeyer{
		CacheName:   cacheName,
		CachePrefix: cacheName + nameSeparator,
	}
}

// GetKeyPrefix returns the cache key for a request without the vary headers (i.e. a key prefix).
// The returned key is suitable for finding all stored response variants for a particular request.
// The request identity is the method and the request URI (path and query).
func (c CacheKeyer) GetKeyPrefix(r *http.Request) string {
	return c.CachePrefix + r.Method + methodSeparator + r.URL.RequestURI() + varySeparator
}

// AddVaryKeys returns the full cache key (including vary headers) based on a previously generated
// cache key prefix and the request and response involved.
// Fields absent from the request are left out.
func (c CacheKeyer) AddVaryKeys(prefix string, req *http.Request, res *http.Response) string {
	key := prefix
	for _, name := range VaryFields(res.Header) {
		if values := req.Header.Values(name); len(values) > 0 {
			key = key + fieldSeparator + strings.ToLower(name) + ": " + strings.Join(values, ", ")
		}
	}
	return key
}

// GetRequestFromKey generates a request that is caching-wise equal to the request that resulted
// in the provided key. This means it takes vary headers into account.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.CachePrefix) {
		return nil, fmt.Errorf("key %q does not belong to cache %s", key, c.CacheName)
	}
	keyNoName := strings.TrimPrefix(key, c.CachePrefix)
	keyNoVary, _, found := strings.Cut(keyNoName, varySeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %q", key)
	}
	method, uri, found := strings.Cut(keyNoVary, methodSeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %q", key)
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return req, err
	}
	req.Header = c.GetVaryHeaders(key)
	return req, nil
}

// GetVaryHeaders creates a http.Header instance containing all the vary keys included in a key.
func (c CacheKeyer) GetVaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, fieldSeparator)
	for i := 1; i < len(lines); i++ {
		if name, value, ok := strings.Cut(lines[i], ": "); ok {
			header.Add(name, value)
		}
	}
	return header
}

// VaryFields returns the canonical field names listed in the Vary header(s).
// A Vary of "*" is returned as is.
func VaryFields(header http.Header) []string {
	fields := make([]string, 0)
	for _, value := range header.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, textproto.CanonicalMIMEHeaderKey(name))
			}
		}
	}
	return fields
}

// VaryMatches reports whether the request selects a response stored for the stored request,
// given the Vary header of the stored response.
// Accept-Encoding is not compared for responses stored without a content coding,
// since every client accepts the identity coding.
func VaryMatches(req, storedReq *http.Request, storedRes *http.Response) bool {
	identity := storedRes.Header.Get("Content-Encoding") == ""
	for _, name := range VaryFields(storedRes.Header) {
		if name == "*" {
			return false
		}
		if name == "Accept-Encoding" && identity {
			continue
		}
		if strings.Join(req.Header.Values(name), ", ") != strings.Join(storedReq.Header.Values(name), ", ") {
			return false
		}
	}
	return true
}
