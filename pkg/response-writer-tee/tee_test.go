package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResultWithoutContentLength(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Header().Set("Content-Type", "text/css")
	rs.Write([]byte("body {}"))

	res, err := rs.Result(httptest.NewRequest("GET", "/style.css", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/css" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "body {}" {
		t.Fatalf("Body is %q", body)
	}
}

func TestTeeWritesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("X-Test", "yes")
	rs.WriteHeader(http.StatusNotFound)
	rs.Write([]byte("missing"))

	if rr.Code != http.StatusNotFound || rr.Body.String() != "missing" || rr.Header().Get("X-Test") != "yes" {
		t.Fatalf("Underlying writer got %d %q %v", rr.Code, rr.Body.String(), rr.Header())
	}
	if rs.StatusCode() != http.StatusNotFound {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}

func TestEmptyResponse(t *testing.T) {
	rs := NewResponseSaver(nil)
	res, err := rs.Result(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK || res.ContentLength != 0 {
		t.Fatalf("Got %d with length %d", res.StatusCode, res.ContentLength)
	}
}
