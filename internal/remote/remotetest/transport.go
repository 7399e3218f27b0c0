// Package remotetest provides helpers for exercising the remote client
// against test servers.
package remotetest

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
)

// ErrNetworkDown is returned by a Transport that is switched off.
var ErrNetworkDown = errors.New("network is unreachable")

// Transport is an http.RoundTripper that can be switched off to simulate
// connectivity loss. It also records the requests it forwards.
type Transport struct {
	Base http.RoundTripper

	down atomic.Bool

	mu       sync.Mutex
	requests []string
	// failAfter switches the transport off after n more forwarded requests.
	failAfter int
}

// NewTransport wraps http.DefaultTransport.
func NewTransport() *Transport {
	return &Transport{Base: http.DefaultTransport, failAfter: -1}
}

// SetDown switches connectivity off (true) or on (false).
func (t *Transport) SetDown(down bool) {
	t.down.Store(down)
}

// FailAfter lets n more requests through, then switches off.
func (t *Transport) FailAfter(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAfter = n
}

// Requests returns "METHOD /path" for every forwarded request.
func (t *Transport) Requests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.requests))
	copy(out, t.requests)
	return out
}

// Reset clears the request log.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.mu.Lock()
	if t.failAfter == 0 {
		t.down.Store(true)
		t.failAfter = -1
	}
	if t.down.Load() {
		t.mu.Unlock()
		if r.Body != nil {
			r.Body.Close()
		}
		return nil, ErrNetworkDown
	}
	if t.failAfter > 0 {
		t.failAfter--
	}
	t.requests = append(t.requests, r.Method+" "+r.URL.Path)
	t.mu.Unlock()

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Client returns an http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
