// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds service-to-service calls.
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns a client for calls to sibling services.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
