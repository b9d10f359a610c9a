package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

const (
	defaultReadTimeout   = 10 * time.Second
	defaultMutateTimeout = 60 * time.Second

	// maxErrorBodySize bounds the response body kept on a RemoteAPIError
	maxErrorBodySize = 512

	maxResponseBodySize = 1 << 20
)

// Config configures the directory client
type Config struct {
	// BaseURL is the API root that /organizations is resolved against
	BaseURL string

	// Username and Password are the administrative basic-auth credentials
	Username string
	Password string

	// ReadTimeout bounds GET calls, MutateTimeout bounds POST and PATCH
	ReadTimeout   time.Duration
	MutateTimeout time.Duration

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

// Validate checks that the required fields are set
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base URL is not a valid URL: %w", err)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("admin credentials are required")
	}
	return nil
}

// Client is a stateless wrapper around the organization directory API
type Client struct {
	config  Config
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewClient creates a directory client
func NewClient(config Config, logger *logrus.Logger, metrics *observability.Metrics) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.MutateTimeout <= 0 {
		config.MutateTimeout = defaultMutateTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}

	return &Client{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Get fetches one organization
func (c *Client) Get(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	if err := c.do(ctx, "directory.get", http.MethodGet, organizationPath(id), nil, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// List returns organizations matching filter (see NameEquals and
// NameStartsWith). A zero limit leaves the page size to the server.
func (c *Client) List(ctx context.Context, filter string, limit int) ([]Organization, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp listResponse
	if err := c.do(ctx, "directory.list", http.MethodGet, "organizations", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Organizations, nil
}

// Exists reports whether an organization with exactly this name exists
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	orgs, err := c.List(ctx, NameEquals(name), 1)
	if err != nil {
		return false, err
	}
	return len(orgs) > 0, nil
}

// Create registers a new organization
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Organization, error) {
	if req.Attributes == nil {
		req.Attributes = []Attribute{}
	}
	var org Organization
	if err := c.do(ctx, "directory.create", http.MethodPost, "organizations", nil, req, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// Patch sends ops as a single PATCH request. Either the whole list is
// accepted or the call fails.
func (c *Client) Patch(ctx context.Context, id string, ops []PatchOperation) error {
	if len(ops) == 0 {
		return nil
	}
	return c.do(ctx, "directory.patch", http.MethodPatch, organizationPath(id), nil, ops, nil)
}

// PatchAttributes upserts updates, choosing ADD or REPLACE per key from
// the caller's snapshot of existing attributes.
func (c *Client) PatchAttributes(ctx context.Context, id string, snapshot, updates map[string]string) error {
	return c.Patch(ctx, id, BuildAttributeOperations(snapshot, updates))
}

// Rename replaces the organization name
func (c *Client) Rename(ctx context.Context, id, name string) error {
	return c.Patch(ctx, id, []PatchOperation{{Operation: OperationReplace, Path: PathName, Value: name}})
}

// Ping checks that the directory answers an authenticated read
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.List(ctx, "", 1)
	return err
}

func organizationPath(id string) string {
	return "organizations/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (err error) {
	timeout := c.config.MutateTimeout
	if method == http.MethodGet {
		timeout = c.config.ReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(op, err == nil, time.Since(start))
	}()

	endpoint, err := url.JoinPath(c.config.BaseURL, path)
	if err != nil {
		return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("failed to build URL: %w", err)}
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &errs.RemoteAPIError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
		}).Warn("Directory call failed")
		return &errs.RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(respBody, maxErrorBodySize)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &errs.RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
