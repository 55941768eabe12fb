package cachekey

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("blog-pwa-v1")
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?q=1", nil)
	key := keygen.GetKeyPrefix(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?q=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != "GET" {
		t.Fatalf("Method is %s", req.Method)
	}
}

func TestCachePrefixIncludesName(t *testing.T) {
	name := "blog-pwa-v1"
	keygen := NewCacheKeyer(name)
	if !strings.HasPrefix(keygen.CachePrefix, name) {
		t.Fatalf("CachePrefix is %s", keygen.CachePrefix)
	}
	r, _ := http.NewRequest("GET", "/", nil)
	if key := keygen.GetKeyPrefix(r); !strings.HasPrefix(key, keygen.CachePrefix) {
		t.Fatalf("Key %q does not start with %q", key, keygen.CachePrefix)
	}
}

func TestRequestFromKeyOtherCache(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	key := NewCacheKeyer("blog-pwa-v0").GetKeyPrefix(r)
	if _, err := NewCacheKeyer("blog-pwa-v1").GetRequestFromKey(key); err == nil {
		t.Fatal("Expected error for key of other cache")
	}
}

func TestVaryKeysRoundTrip(t *testing.T) {
	keygen := NewCacheKeyer("c")
	req, _ := http.NewRequest("GET", "/style.css", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	res := &http.Response{Header: http.Header{"Vary": []string{"accept-encoding, Origin"}}}

	key := keygen.AddVaryKeys(keygen.GetKeyPrefix(req), req, res)
	if !strings.HasSuffix(key, "\naccept-encoding: gzip") {
		t.Fatalf("Key is %q", key)
	}
	rebuilt, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if ae := rebuilt.Header.Get("Accept-Encoding"); ae != "gzip" {
		t.Fatalf("Accept-Encoding is %q", ae)
	}
}

func TestVaryMatches(t *testing.T) {
	stored, _ := http.NewRequest("GET", "/", nil)
	stored.Header.Set("Accept-Language", "fi")
	res := &http.Response{Header: http.Header{"Vary": []string{"Accept-Language"}}}

	same, _ := http.NewRequest("GET", "/", nil)
	same.Header.Set("Accept-Language", "fi")
	if !VaryMatches(same, stored, res) {
		t.Fatal("Expected match for equal header")
	}
	other, _ := http.NewRequest("GET", "/", nil)
	other.Header.Set("Accept-Language", "en")
	if VaryMatches(other, stored, res) {
		t.Fatal("Expected no match for different header")
	}
	star := &http.Response{Header: http.Header{"Vary": []string{"*"}}}
	if VaryMatches(same, stored, star) {
		t.Fatal("Vary: * must never match")
	}
	none := &http.Response{Header: http.Header{}}
	if !VaryMatches(other, stored, none) {
		t.Fatal("Expected match without Vary")
	}
}

func TestVaryAcceptEncodingIdentity(t *testing.T) {
	stored, _ := http.NewRequest("GET", "/", nil)
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")

	identity := &http.Response{Header: http.Header{"Vary": []string{"Accept-Encoding"}}}
	if !VaryMatches(req, stored, identity) {
		t.Fatal("Identity coded response should match any Accept-Encoding")
	}
	gzipped := &http.Response{Header: http.Header{
		"Vary":             []string{"Accept-Encoding"},
		"Content-Encoding": []string{"gzip"},
	}}
	if VaryMatches(req, stored, gzipped) {
		t.Fatal("Coded response should only match equal Accept-Encoding")
	}
}
