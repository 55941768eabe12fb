package precache

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	tee "github.com/always-cache/precache/pkg/response-writer-tee"
)

// Fetcher performs network requests on behalf of the agent.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

type originFetcher struct {
	originURL  string
	originHost string
	httpClient http.Client
}

// NewOriginFetcher returns a Fetcher that sends requests to the origin server.
// Only the request URI of the requests is used.
// If originHost is given, it is used as the Host header and for TLS negotiation.
func NewOriginFetcher(originURL url.URL, originHost string) Fetcher {
	f := &originFetcher{
		originURL:  strings.TrimSuffix(originURL.String(), "/"),
		originHost: originHost,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if originHost != "" {
		f.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return f
}

func (f *originFetcher) Fetch(r *http.Request) (*http.Response, error) {
	uri := f.originURL + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = r.ContentLength
	}
	if f.originHost != "" {
		req.Host = f.originHost
	}
	copyHeader(req.Header, r.Header)

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}

type handlerFetcher struct {
	next http.Handler
}

// NewHandlerFetcher returns a Fetcher that serves requests with an in-process handler,
// which lets the agent run as a middleware.
func NewHandlerFetcher(next http.Handler) Fetcher {
	return handlerFetcher{next}
}

func (f handlerFetcher) Fetch(r *http.Request) (*http.Response, error) {
	rs := tee.NewResponseSaver(nil)
	f.next.ServeHTTP(rs, r)
	return rs.Result(r)
}

// hop-by-hop and proxy headers that are never copied
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"X-Forwarded-For":   true,
	"X-Forwarded-Proto": true,
	"X-Forwarded-Host":  true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
