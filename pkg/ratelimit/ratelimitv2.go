package ratelimit

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledTransport is an http.RoundTripper spacing out requests, used by
// pollers so they cannot hammer the API they watch.
type ThrottledTransport struct {
	roundTripper http.RoundTripper
	rateLimiter  *rate.Limiter
}

// RoundTrip implements http.RoundTripper.
func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.rateLimiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	return t.roundTripper.RoundTrip(req)
}

// NewThrottledTransport allows requestCount requests per limitPeriod through transportWrap,
// or http.DefaultTransport when nil.
func NewThrottledTransport(limitPeriod time.Duration, requestCount int, transportWrap http.RoundTripper) http.RoundTripper {
	if transportWrap == nil {
		transportWrap = http.DefaultTransport
	}

	return &ThrottledTransport{
		roundTripper: transportWrap,
		rateLimiter:  rate.NewLimiter(rate.Every(limitPeriod), requestCount),
	}
}
