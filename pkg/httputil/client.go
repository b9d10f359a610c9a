package httputil

import (
	"crypto/tls"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewClient returns an HTTP client for calls to the identity server. Every
// request gets a client span. Per-call deadlines come from the request
// context, so the client itself has no overall timeout.
//
// insecureSkipVerify disables certificate verification and exists only for
// internal deployments with self-signed certificates; it is logged as a
// warning every time a client is built with it.
func NewClient(insecureSkipVerify bool, logger logrus.FieldLogger) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	if insecureSkipVerify {
		if logger != nil {
			logger.Warn("TLS certificate verification is disabled for identity server calls")
		}
		base.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicitly requested by configuration
		}
	}

	return &http.Client{Transport: otelhttp.NewTransport(base)}
}
