package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/config"
	"github.com/platinummonkey/leadflow/pkg/conversion"
	"github.com/platinummonkey/leadflow/pkg/directory"
	"github.com/platinummonkey/leadflow/pkg/identitytest"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

func testConfig(t *testing.T, server *identitytest.Server) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Directory.BaseURL = server.URL
	cfg.Directory.Username = identitytest.AdminUser
	cfg.Directory.Password = identitytest.AdminPassword
	cfg.Identity.TokenURL = server.URL + identitytest.TokenPath
	cfg.Identity.ClientID = identitytest.ClientID
	cfg.Identity.ClientSecret = identitytest.ClientSecret
	cfg.Identity.UsersURL = server.URL + identitytest.UsersPath
	cfg.Identity.RolesURL = server.URL + identitytest.RolesPath
	cfg.Identity.BulkURL = server.URL + identitytest.BulkPath
	require.NoError(t, cfg.Validate())
	return cfg
}

func addLead(server *identitytest.Server) {
	server.AddOrganization(identitytest.Organization{
		ID:   "org-1",
		Name: "lead-acme",
		Attributes: []identitytest.Attribute{
			{Key: directory.KeyLeadStatus, Value: directory.LeadStatusQualified},
			{Key: directory.KeyContactEmail, Value: "joe@acme.io"},
			{Key: directory.KeyContactPerson, Value: "Joe Smith"},
		},
	})
}

func TestNew_ConvertsThroughHTTP(t *testing.T) {
	server := identitytest.NewServer()
	t.Cleanup(server.Close)
	addLead(server)

	mr := miniredis.RunT(t)

	var webhookCalls atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(relay.Close)

	cfg := testConfig(t, server)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Audit.Driver = config.AuditDriverSQLite
	cfg.Audit.DSN = filepath.Join(t.TempDir(), "audit.db")
	cfg.Notification.WebhookURL = relay.URL

	application, err := New(context.Background(), cfg, observability.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	require.NotNil(t, application.Redis)
	require.NotNil(t, application.AuditStore)

	handler := application.Handler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/org-1/convert", strings.NewReader(`{"actor_name":"sales-bob"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result conversion.SagaResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "acme", result.NewName)
	assert.Equal(t, int32(1), webhookCalls.Load())

	// Shared state lives under the configured prefix
	var tokenKeys, limitKeys int
	for _, key := range mr.Keys() {
		switch {
		case strings.HasPrefix(key, "leadflow:token:"):
			tokenKeys++
		case strings.HasPrefix(key, "leadflow:ratelimit:"):
			limitKeys++
		default:
			t.Errorf("unexpected redis key %s", key)
		}
	}
	assert.Equal(t, 1, tokenKeys)
	assert.Equal(t, 1, limitKeys)

	entry, err := application.AuditStore.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, entry.Status)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+result.RunID, nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"directory"`)
	assert.Contains(t, rr.Body.String(), `"audit"`)
}

func TestNew_InMemoryDefaults(t *testing.T) {
	server := identitytest.NewServer()
	t.Cleanup(server.Close)
	addLead(server)

	application, err := New(context.Background(), testConfig(t, server), observability.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	assert.Nil(t, application.Redis)
	assert.Nil(t, application.AuditStore)

	result := application.Orchestrator.Convert(context.Background(), conversion.ConvertRequest{OrganizationID: "org-1"})
	assert.True(t, result.Success, result.Message)

	rr := httptest.NewRecorder()
	application.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/orphaned", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "history routes need an audit store")
}

func TestNew_UnreachableRedis(t *testing.T) {
	server := identitytest.NewServer()
	t.Cleanup(server.Close)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, server)
	cfg.Redis.URL = "redis://" + addr

	_, err := New(context.Background(), cfg, observability.NewDiscardLogger())
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestNew_InvalidRedisURL(t *testing.T) {
	server := identitytest.NewServer()
	t.Cleanup(server.Close)

	cfg := testConfig(t, server)
	cfg.Redis.URL = "memcached://localhost"

	_, err := New(context.Background(), cfg, observability.NewDiscardLogger())
	assert.ErrorContains(t, err, "invalid redis URL")
}

func TestNew_RateLimitsConvert(t *testing.T) {
	server := identitytest.NewServer()
	t.Cleanup(server.Close)

	cfg := testConfig(t, server)
	cfg.Conversion.RateLimit = 1
	cfg.Conversion.RateBurst = 0

	application, err := New(context.Background(), cfg, observability.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	handler := application.Handler()
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/leads/missing/convert", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusBadGateway, http.StatusTooManyRequests}, codes)
}
