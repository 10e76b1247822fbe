package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewTracedHTTPClient creates an HTTP client that propagates trace context
// and records a client span per request.
//
// The returned client is safe to use concurrently and should be reused.
//
// Example:
//
//	client := telemetry.NewTracedHTTPClient(nil, 30*time.Second)
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	resp, err := client.Do(req)
func NewTracedHTTPClient(baseTransport http.RoundTripper, timeout time.Duration) *http.Client {
	if baseTransport == nil {
		baseTransport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(baseTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "hitlchat.backend " + r.Method
			}),
		),
		Timeout: timeout,
	}
}
