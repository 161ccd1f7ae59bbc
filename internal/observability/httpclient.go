package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
// Provider SDKs share these clients so every vendor request carries a span.
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}

// NewStreamingHTTPClient returns an instrumented client without a client-level
// timeout. Streaming responses can legitimately stay open for minutes; the
// per-call deadline comes from the request context instead.
func NewStreamingHTTPClient() *http.Client {
	return NewHTTPClient(&http.Client{})
}
