package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

func TestNewClient(t *testing.T) {
	t.Run("verifies certificates by default", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewClient(false, nil)
		require.NotNil(t, client.Transport)

		_, err := client.Get(server.URL)
		assert.Error(t, err)
	})

	t.Run("insecure mode warns and reaches self-signed server", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		var buf bytes.Buffer
		client := NewClient(true, observability.NewLogger(logrus.InfoLevel, &buf))

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Contains(t, buf.String(), "TLS certificate verification is disabled")
	})
}
