// Package rfc9211 implements the Cache-Status HTTP response header field (RFC 9211).
package rfc9211

import "fmt"

// CacheName is the cache identifier used as the first member of the header value.
const CacheName = "Precache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"
	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// The cache contained a response that matched the request URI,
	// but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"
	// The cache did not contain any responses that could be used to satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Stored is true if the response was stored as a result of this request.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := CacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
	case StatusFwd:
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += fmt.Sprintf("; detail=%q", cs.Detail)
	}
	return status
}
