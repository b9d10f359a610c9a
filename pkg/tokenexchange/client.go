package tokenexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

const (
	// GrantClientCredentials is the grant used to obtain the service token
	GrantClientCredentials = "client_credentials"

	// GrantOrganizationSwitch narrows a service token to one organization
	GrantOrganizationSwitch = "organization_switch"

	// DefaultScope is the system scope requested at both hops
	DefaultScope = "SYSTEM"

	// serviceTokenCacheKey is the single global cache key for the service token
	serviceTokenCacheKey = "service_token"

	// defaultServiceTokenTTL applies when the token endpoint omits expires_in
	defaultServiceTokenTTL = 3300 * time.Second

	// minServiceTokenTTL is the lower bound of the cache TTL
	minServiceTokenTTL = 60 * time.Second

	// expiryBuffer is subtracted from expires_in when computing the cache TTL
	expiryBuffer = 60 * time.Second

	// usageBuffer treats a cached token as expired this long before its expiry
	usageBuffer = 30 * time.Second

	defaultTimeout          = 10 * time.Second
	defaultMaxAttempts      = 3
	defaultRetryInitialWait = 500 * time.Millisecond

	// maxResponseBodySize is the maximum size for reading response bodies (1 MB)
	maxResponseBodySize = 1 << 20
)

// Config configures the token exchange client
type Config struct {
	// TokenURL is the OAuth 2.0 token endpoint shared by both grants
	TokenURL string

	ClientID     string
	ClientSecret string

	// Scope defaults to SYSTEM
	Scope string

	// Timeout bounds each token endpoint request
	Timeout time.Duration

	// MaxAttempts bounds client_credentials attempts on transport failure
	MaxAttempts int

	// RetryInitialInterval is the first backoff delay between attempts
	RetryInitialInterval time.Duration

	// HTTPClient is used for both grants; nil uses http.DefaultClient
	HTTPClient *http.Client
}

// Validate checks that the required fields are set
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if _, err := url.Parse(c.TokenURL); err != nil {
		return fmt.Errorf("token URL is not a valid URL: %w", err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = defaultRetryInitialWait
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Client obtains the service-wide token and exchanges it for
// organization-scoped tokens.
type Client struct {
	config  Config
	cache   TokenCache
	logger  *logrus.Logger
	metrics *observability.Metrics
	group   singleflight.Group
	now     func() time.Time
}

// NewClient creates a token exchange client. cache holds the service token;
// organization tokens are never cached.
func NewClient(config Config, cache TokenCache, logger *logrus.Logger, metrics *observability.Metrics) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token exchange config: %w", err)
	}
	if cache == nil {
		return nil, fmt.Errorf("token cache is required")
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	config.applyDefaults()

	return &Client{
		config:  config,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// GetServiceToken returns the cached service token, fetching a new one with
// the client_credentials grant when the cache is empty or the token is
// about to expire. Concurrent misses share one request.
func (c *Client) GetServiceToken(ctx context.Context) (*oauth2.Token, error) {
	if token, ok := c.cache.Get(ctx, serviceTokenCacheKey); ok && c.usable(token) {
		c.metrics.RecordTokenCacheHit()
		return token, nil
	}

	v, err, _ := c.group.Do(serviceTokenCacheKey, func() (interface{}, error) {
		return c.fetchServiceToken(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// usable reports whether a cached token has more than usageBuffer left
func (c *Client) usable(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return c.now().Add(usageBuffer).Before(token.Expiry)
}

func (c *Client) fetchServiceToken(ctx context.Context) (*oauth2.Token, error) {
	conf := &clientcredentials.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		TokenURL:     c.config.TokenURL,
		Scopes:       []string{c.config.Scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.config.HTTPClient)

	attempt := 0
	operation := func() (*oauth2.Token, error) {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		token, err := conf.Token(reqCtx)
		if err != nil {
			// The endpoint answered; retrying will not change its mind
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return nil, backoff.Permanent(err)
			}
			c.logger.WithError(err).Warnf("Service token request failed (attempt %d/%d)", attempt, c.config.MaxAttempts)
			return nil, err
		}
		return token, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.RetryInitialInterval
	expBackoff.MaxInterval = 10 * c.config.RetryInitialInterval
	expBackoff.Reset()

	token, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)), // #nosec G115 -- MaxAttempts is positive after applyDefaults
	)
	if err != nil {
		c.metrics.RecordTokenRequest(GrantClientCredentials, false)
		return nil, newAuthError(GrantClientCredentials, err)
	}
	c.metrics.RecordTokenRequest(GrantClientCredentials, true)

	ttl := serviceTokenTTL(token, c.now())
	if err := c.cache.Set(ctx, serviceTokenCacheKey, token, ttl); err != nil {
		// The token is still valid for this caller
		c.logger.WithError(err).Warn("Failed to cache service token")
	}
	c.logger.WithField("ttl", ttl.String()).Debug("Obtained service token")

	return token, nil
}

// serviceTokenTTL returns max(60s, expires_in-60s), or 3300s when the
// endpoint did not report a lifetime.
func serviceTokenTTL(token *oauth2.Token, now time.Time) time.Duration {
	if token.Expiry.IsZero() {
		return defaultServiceTokenTTL
	}
	ttl := token.Expiry.Sub(now) - expiryBuffer
	if ttl < minServiceTokenTTL {
		return minServiceTokenTTL
	}
	return ttl
}

func newAuthError(grant string, err error) *errs.AuthError {
	authErr := &errs.AuthError{Grant: grant, Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		authErr.OAuthCode = retrieveErr.ErrorCode
		authErr.Description = retrieveErr.ErrorDescription
	}
	return authErr
}

// oAuthError is an RFC 6749 section 5.2 error document
type oAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// switchResponse is the token endpoint reply to organization_switch
type switchResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// String redacts the access token
func (r switchResponse) String() string {
	accessToken := "[REDACTED]"
	if r.AccessToken == "" {
		accessToken = "<empty>"
	}
	return fmt.Sprintf("switchResponse{AccessToken: %s, TokenType: %s, ExpiresIn: %d, Scope: %s}",
		accessToken, r.TokenType, r.ExpiresIn, r.Scope)
}

// SwitchToOrganization exchanges serviceToken for a token scoped to
// organizationID. The request is sent once: the grant is not assumed to be
// safe to repeat. The result is never cached.
func (c *Client) SwitchToOrganization(ctx context.Context, serviceToken *oauth2.Token, organizationID string) (*oauth2.Token, error) {
	if serviceToken == nil || serviceToken.AccessToken == "" {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, Err: fmt.Errorf("service token is required")}
	}
	if organizationID == "" {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, Err: fmt.Errorf("organization ID is required")}
	}

	token, err := c.switchToOrganization(ctx, serviceToken, organizationID)
	c.metrics.RecordTokenRequest(GrantOrganizationSwitch, err == nil)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (c *Client) switchToOrganization(ctx context.Context, serviceToken *oauth2.Token, organizationID string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", GrantOrganizationSwitch)
	data.Set("token", serviceToken.AccessToken)
	data.Set("scope", c.config.Scope)
	data.Set("switching_organization", organizationID)
	data.Set("client_id", c.config.ClientID)
	encoded := data.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(encoded))
	if err != nil {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
	// Client credentials must be URL-encoded before basic auth per RFC 6749 section 2.3.1
	req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		authErr := &errs.AuthError{Grant: GrantOrganizationSwitch, StatusCode: resp.StatusCode}
		var oauthErr oAuthError
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			authErr.OAuthCode = oauthErr.Error
			authErr.Description = oauthErr.ErrorDescription
		}
		c.logger.WithFields(logrus.Fields{
			"organization_id": organizationID,
			"status":          resp.StatusCode,
			"oauth_error":     authErr.OAuthCode,
		}).Warn("Organization switch rejected")
		return nil, authErr
	}

	var switchResp switchResponse
	if err := json.Unmarshal(body, &switchResp); err != nil {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if switchResp.AccessToken == "" {
		return nil, &errs.AuthError{Grant: GrantOrganizationSwitch, StatusCode: resp.StatusCode, Err: fmt.Errorf("server returned empty access_token")}
	}
	c.logger.WithField("organization_id", organizationID).Debugf("Organization switch succeeded: %s", switchResp)

	token := &oauth2.Token{
		AccessToken: switchResp.AccessToken,
		TokenType:   switchResp.TokenType,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if switchResp.ExpiresIn > 0 {
		token.Expiry = c.now().Add(time.Duration(switchResp.ExpiresIn) * time.Second)
	}
	return token, nil
}

// OrganizationToken runs both hops: it obtains (or reuses) the service
// token and exchanges it for a fresh organization-scoped token.
func (c *Client) OrganizationToken(ctx context.Context, organizationID string) (*oauth2.Token, error) {
	serviceToken, err := c.GetServiceToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.SwitchToOrganization(ctx, serviceToken, organizationID)
}
