// Package testutil provides an in-process collector for client tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/examwatch/proctor/internal/attempt"
	httphandler "github.com/examwatch/proctor/internal/http"
	"github.com/examwatch/proctor/internal/http/handlers"
	"github.com/examwatch/proctor/internal/repo"
)

// Collector is a collector API served by httptest over an in-memory store.
type Collector struct {
	Server  *httptest.Server
	Repo    repo.AttemptRepo
	Service *attempt.Service
}

// NewCollector starts a collector and registers its shutdown with t.
func NewCollector(t *testing.T, opts ...attempt.Option) *Collector {
	t.Helper()
	return newCollector(t, 0, opts...)
}

// NewLimitedCollector is NewCollector with log-events bodies capped at
// maxBody bytes.
func NewLimitedCollector(t *testing.T, maxBody int64, opts ...attempt.Option) *Collector {
	t.Helper()
	return newCollector(t, maxBody, opts...)
}

func newCollector(t *testing.T, maxBody int64, opts ...attempt.Option) *Collector {
	store := repo.NewMemoryAttemptRepo()
	service := attempt.NewService(store, opts...)
	handler := handlers.NewAttemptHandler(service, nil, handlers.WithMaxEventsBody(maxBody))
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &Collector{Server: server, Repo: store, Service: service}
}

// URL returns the collector base URL.
func (c *Collector) URL() string { return c.Server.URL }

// ForwardedFor is an http.RoundTripper that stamps every request with an
// X-Forwarded-For header, letting tests move the caller between networks.
type ForwardedFor struct {
	mu   sync.Mutex
	ip   string
	Base http.RoundTripper
}

// NewForwardedFor returns a transport presenting ip as the caller identity.
func NewForwardedFor(ip string) *ForwardedFor {
	return &ForwardedFor{ip: ip}
}

// Set changes the identity presented on subsequent requests.
func (f *ForwardedFor) Set(ip string) {
	f.mu.Lock()
	f.ip = ip
	f.mu.Unlock()
}

// RoundTrip implements http.RoundTripper.
func (f *ForwardedFor) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	ip := f.ip
	f.mu.Unlock()

	clone := req.Clone(req.Context())
	if ip != "" {
		clone.Header.Set("X-Forwarded-For", ip)
	}
	base := f.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// Client returns an http.Client using f as transport.
func (f *ForwardedFor) Client() *http.Client {
	return &http.Client{Transport: f}
}
