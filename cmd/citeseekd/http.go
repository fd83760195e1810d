package main

import (
	"net"
	"net/http"
	"time"
)

// newOutboundHTTPClient returns an HTTP client tuned for concurrent search,
// read, and robots fetches. Timeouts are kept reasonable to avoid hangs;
// callers that need shorter bounds set them per request via context.
func newOutboundHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
