package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultRoleCacheTTL = 10 * time.Minute
	defaultRoleCacheMax = 256

	maxErrorBodySize    = 512
	maxResponseBodySize = 1 << 20
)

// ErrRoleNotFound is returned when a role search has no results
var ErrRoleNotFound = errors.New("role not found")

// Config configures the SCIM client
type Config struct {
	// UsersURL receives user-creation POSTs
	UsersURL string

	// RolesURL is the roles collection; searches go to RolesURL + "/.search"
	RolesURL string

	// BulkURL receives bulk requests
	BulkURL string

	// Timeout bounds every call
	Timeout time.Duration

	// RoleCacheTTL bounds how long a resolved role id is reused
	RoleCacheTTL  time.Duration
	RoleCacheSize int

	HTTPClient *http.Client
}

// Validate checks that the required fields are set
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"users URL": c.UsersURL,
		"roles URL": c.RolesURL,
		"bulk URL":  c.BulkURL,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.Parse(value); err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name, err)
		}
	}
	return nil
}

// Client issues organization-scoped SCIM calls. Every call takes the
// organization token to use; the client never obtains tokens itself.
type Client struct {
	config    Config
	roleCache *lru.LRU[string, string]
	logger    *logrus.Logger
	metrics   *observability.Metrics
}

// NewClient creates a SCIM client
func NewClient(config Config, logger *logrus.Logger, metrics *observability.Metrics) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SCIM config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RoleCacheTTL <= 0 {
		config.RoleCacheTTL = defaultRoleCacheTTL
	}
	if config.RoleCacheSize <= 0 {
		config.RoleCacheSize = defaultRoleCacheMax
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}

	return &Client{
		config:    config,
		roleCache: lru.NewLRU[string, string](config.RoleCacheSize, nil, config.RoleCacheTTL),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// CreateUser creates a user in the organization the token is scoped to.
// The call is not retried.
func (c *Client) CreateUser(ctx context.Context, token *oauth2.Token, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.post(ctx, "scim.create_user", c.config.UsersURL, token, req, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &errs.RemoteAPIError{Op: "scim.create_user", StatusCode: http.StatusOK, Err: fmt.Errorf("response has no user id")}
	}
	return &user, nil
}

// FindRoleID resolves a role display name to its id within an
// organization. Results are cached per organization and name.
func (c *Client) FindRoleID(ctx context.Context, token *oauth2.Token, organizationID, displayName string) (string, error) {
	cacheKey := organizationID + "/" + displayName
	if id, ok := c.roleCache.Get(cacheKey); ok {
		return id, nil
	}

	searchURL, err := url.JoinPath(c.config.RolesURL, ".search")
	if err != nil {
		return "", &errs.RemoteAPIError{Op: "scim.search_roles", Err: fmt.Errorf("failed to build URL: %w", err)}
	}

	req := searchRequest{
		Schemas:    []string{SearchRequestSchema},
		StartIndex: 1,
		Filter:     fmt.Sprintf("displayName eq %q", displayName),
	}
	var resp searchResponse
	if err := c.post(ctx, "scim.search_roles", searchURL, token, req, &resp); err != nil {
		return "", err
	}

	for _, role := range resp.Resources {
		if role.ID != "" {
			c.roleCache.Add(cacheKey, role.ID)
			return role.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRoleNotFound, displayName)
}

// AddUserToRole adds userID to the members of roleID with a single bulk
// PATCH that fails as a whole on the first error.
func (c *Client) AddUserToRole(ctx context.Context, token *oauth2.Token, roleID, userID string) error {
	req := bulkRequest{
		Operations: []bulkOperation{{
			Method: http.MethodPatch,
			Path:   "/v2/Roles/" + roleID,
			Data: patchData{Operations: []patchOp{{
				Op:    "add",
				Value: membersValue{Users: []memberRef{{Value: userID}}},
			}}},
		}},
		FailOnErrors: 1,
		Schemas:      []string{BulkRequestSchema},
	}

	var resp bulkResponse
	if err := c.post(ctx, "scim.bulk", c.config.BulkURL, token, req, &resp); err != nil {
		return err
	}
	for _, op := range resp.Operations {
		if code, ok := statusCode(op.Status); ok && (code < 200 || code > 299) {
			return &errs.RemoteAPIError{Op: "scim.bulk", StatusCode: code, Body: string(op.Status)}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, token *oauth2.Token, body, out interface{}) (err error) {
	if token == nil || token.AccessToken == "" {
		return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("organization token is required")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(op, err == nil, time.Since(start))
	}()

	data, err := json.Marshal(body)
	if err != nil {
		return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/scim+json")
	req.Header.Set("Accept", "application/scim+json, application/json")
	token.SetAuthHeader(req)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return &errs.RemoteAPIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &errs.RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"operation": op,
			"status":    resp.StatusCode,
		}).Warn("SCIM call failed")
		errBody := respBody
		if len(errBody) > maxErrorBodySize {
			errBody = errBody[:maxErrorBodySize]
		}
		return &errs.RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &errs.RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}
