package precache

import (
	"errors"
	"fmt"
)

var (
	// ErrBadStatus is returned when a resource to cache responds with a status outside 200-299.
	ErrBadStatus = errors.New("response status not ok")
	// ErrVaryStar is returned when a resource to cache responds with `Vary: *`.
	ErrVaryStar = errors.New("response varies on all request fields")
	// ErrDuplicateRequest is returned when the same request is listed more than once.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrCacheNotFound is returned when looking up a cache that was never opened.
	ErrCacheNotFound = errors.New("cache not found")
	ErrUnknownEvent  = errors.New("unknown event")
)

// FetchError records the resource that could not be fetched or stored during install.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
