package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	responseTimeHeaderName = "Precache-Response-Time"
	requestTimeHeaderName  = "Precache-Request-Time"
)

// TimedResponse is a response together with the request that produced it.
// The request is available as Response.Request.
type TimedResponse struct {
	Response *http.Response
	// The value of the clock at the time the request was sent.
	RequestTime time.Time
	// The value of the clock at the time the response was received.
	ResponseTime time.Time
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// StoredResponseToBytes serializes the response and its request into HTTP/1.1 wire format.
// The response body is read, but restored so that the caller can still read it.
func StoredResponseToBytes(sRes TimedResponse) ([]byte, error) {
	res := sRes.Response
	if res == nil {
		return nil, fmt.Errorf("response not set")
	}
	if res.Request == nil {
		return nil, fmt.Errorf("request not set for response")
	}
	buf := &bytes.Buffer{}
	if err := res.Request.Write(buf); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	buf.Write(delim)

	res.Header.Set(responseTimeHeaderName, strconv.FormatInt(sRes.ResponseTime.Unix(), 10))
	res.Header.Set(requestTimeHeaderName, strconv.FormatInt(sRes.RequestTime.Unix(), 10))
	bts, err := responseToBytes(res)
	res.Header.Del(responseTimeHeaderName)
	res.Header.Del(requestTimeHeaderName)
	if err != nil {
		return nil, err
	}
	buf.Write(bts)

	return buf.Bytes(), nil
}

// BytesToStoredResponse reads a response serialized with StoredResponseToBytes.
// The returned response has its Request set to the stored request.
func BytesToStoredResponse(b []byte) (TimedResponse, error) {
	sRes := TimedResponse{}
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return sRes, fmt.Errorf("stored response is missing the request delimiter")
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
	if err != nil {
		return sRes, fmt.Errorf("read stored request: %w", err)
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
	if err != nil {
		return sRes, fmt.Errorf("read stored response: %w", err)
	}
	sRes.Response = res
	resTimeInt, err := strconv.ParseInt(res.Header.Get(responseTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("read response time: %w", err)
	}
	reqTimeInt, err := strconv.ParseInt(res.Header.Get(requestTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("read request time: %w", err)
	}
	sRes.ResponseTime = time.Unix(resTimeInt, 0)
	sRes.RequestTime = time.Unix(reqTimeInt, 0)
	res.Header.Del(responseTimeHeaderName)
	res.Header.Del(requestTimeHeaderName)
	return sRes, nil
}

// responseToBytes returns the HTTP/1.1 representation of the response.
// The response body is set back to an unread copy.
func responseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, fmt.Errorf("reread response: %w", err)
	}
	res.Body = clonedRes.Body
	return bts, nil
}
