package scim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/identitytest"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		UsersURL: baseURL + identitytest.UsersPath,
		RolesURL: baseURL + identitytest.RolesPath,
		BulkURL:  baseURL + identitytest.BulkPath,
	}, observability.NewDiscardLogger(), nil)
	require.NoError(t, err)
	return client
}

func orgToken(orgID string) *oauth2.Token {
	return &oauth2.Token{AccessToken: "org-token:" + orgID, TokenType: "Bearer"}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{UsersURL: "http://idp/Users", RolesURL: "http://idp/Roles"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bulk URL is required")
}

func TestCreateUser(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	client := newTestClient(t, server.URL)

	user, err := client.CreateUser(context.Background(), orgToken("org-1"), CreateUserRequest{
		Emails:   []Email{{Primary: true, Value: "joe@acme.io"}},
		Name:     Name{GivenName: "Joe", FamilyName: "Smith"},
		Password: "Ab1cd@#e2",
		UserName: "PRIMARY/joe",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	users := server.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "org-1", users[0].OrganizationID)
	assert.Equal(t, "PRIMARY/joe", users[0].Payload["userName"])
	assert.Equal(t, "Ab1cd@#e2", users[0].Payload["password"])
	assert.Equal(t, []interface{}{map[string]interface{}{"primary": true, "value": "joe@acme.io"}}, users[0].Payload["emails"])
	assert.Equal(t, map[string]interface{}{"givenName": "Joe", "familyName": "Smith"}, users[0].Payload["name"])
}

func TestCreateUser_Failure(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	server.Fail(identitytest.OpCreateUser, http.StatusConflict)
	client := newTestClient(t, server.URL)

	_, err := client.CreateUser(context.Background(), orgToken("org-1"), CreateUserRequest{UserName: "PRIMARY/joe"})

	var apiErr *errs.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "scim.create_user", apiErr.Op)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, 1, server.Calls(identitytest.OpCreateUser), "user creation is never retried")
}

func TestCreateUser_RequiresToken(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	client := newTestClient(t, server.URL)

	_, err := client.CreateUser(context.Background(), nil, CreateUserRequest{})
	require.Error(t, err)
	assert.Zero(t, server.Calls(identitytest.OpCreateUser))
}

func TestFindRoleID(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	id, err := client.FindRoleID(ctx, orgToken("org-1"), "org-1", "superadmin")
	require.NoError(t, err)
	assert.Equal(t, "role-superadmin", id)

	// cached per organization and role name
	id, err = client.FindRoleID(ctx, orgToken("org-1"), "org-1", "superadmin")
	require.NoError(t, err)
	assert.Equal(t, "role-superadmin", id)
	assert.Equal(t, 1, server.Calls(identitytest.OpRoleSearch))

	_, err = client.FindRoleID(ctx, orgToken("org-2"), "org-2", "superadmin")
	require.NoError(t, err)
	assert.Equal(t, 2, server.Calls(identitytest.OpRoleSearch))
}

func TestFindRoleID_NotFound(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	client := newTestClient(t, server.URL)

	_, err := client.FindRoleID(context.Background(), orgToken("org-1"), "org-1", "auditor")
	assert.True(t, errors.Is(err, ErrRoleNotFound))

	_, err = client.FindRoleID(context.Background(), orgToken("org-1"), "org-1", "auditor")
	assert.True(t, errors.Is(err, ErrRoleNotFound))
	assert.Equal(t, 2, server.Calls(identitytest.OpRoleSearch), "misses are not cached")
}

func TestFindRoleID_SendsSearchRequest(t *testing.T) {
	var got map[string]interface{}
	var path, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalResults":1,"Resources":[{"id":"r-1","displayName":"superadmin"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		UsersURL: server.URL + "/scim2/Users",
		RolesURL: server.URL + "/scim2/Roles",
		BulkURL:  server.URL + "/scim2/Bulk",
	}, nil, nil)
	require.NoError(t, err)

	id, err := client.FindRoleID(context.Background(), orgToken("org-1"), "org-1", "superadmin")
	require.NoError(t, err)
	assert.Equal(t, "r-1", id)
	assert.Equal(t, "/scim2/Roles/.search", path)
	assert.Equal(t, "Bearer org-token:org-1", auth)
	assert.Equal(t, map[string]interface{}{
		"schemas":    []interface{}{SearchRequestSchema},
		"startIndex": float64(1),
		"filter":     `displayName eq "superadmin"`,
	}, got)
}

func TestAddUserToRole(t *testing.T) {
	server := identitytest.NewServer()
	defer server.Close()
	client := newTestClient(t, server.URL)

	require.NoError(t, client.AddUserToRole(context.Background(), orgToken("org-1"), "role-superadmin", "user-9"))
	assert.Equal(t, []string{"user-9"}, server.RoleMembers("role-superadmin"))
}

func TestAddUserToRole_SendsBulkRequest(t *testing.T) {
	var got json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"Operations":[{"method":"PATCH","status":{"code":200}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{UsersURL: server.URL, RolesURL: server.URL, BulkURL: server.URL}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.AddUserToRole(context.Background(), orgToken("org-1"), "r-1", "u-1"))
	assert.JSONEq(t, `{
		"Operations": [{
			"method": "PATCH",
			"path": "/v2/Roles/r-1",
			"data": {"Operations": [{"op": "add", "value": {"users": [{"value": "u-1"}]}}]}
		}],
		"failOnErrors": 1,
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:BulkRequest"]
	}`, string(got))
}

func TestAddUserToRole_OperationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Operations":[{"method":"PATCH","status":"404"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{UsersURL: server.URL, RolesURL: server.URL, BulkURL: server.URL}, nil, nil)
	require.NoError(t, err)

	err = client.AddUserToRole(context.Background(), orgToken("org-1"), "r-1", "u-1")
	var apiErr *errs.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		raw  string
		code int
		ok   bool
	}{
		{`"201"`, 201, true},
		{`200`, 200, true},
		{`{"code": 409}`, 409, true},
		{`"abc"`, 0, false},
		{``, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			code, ok := statusCode(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestCreateUserRequest_StringRedactsPassword(t *testing.T) {
	req := CreateUserRequest{UserName: "PRIMARY/joe", Password: "Ab1cd@#e2"}
	assert.NotContains(t, req.String(), "Ab1cd@#e2")
	assert.Contains(t, req.String(), "PRIMARY/joe")
}
