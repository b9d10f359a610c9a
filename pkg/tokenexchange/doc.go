// Package tokenexchange implements the two-hop credential flow required by
// the identity directory before any organization-scoped mutation.
//
// A service-wide token is obtained with the client_credentials grant and
// the SYSTEM scope, then narrowed to a single organization with the
// organization_switch extension grant:
//
//	client, _ := tokenexchange.NewClient(cfg, tokenexchange.NewMemoryCache(), logger, metrics)
//	orgToken, err := client.OrganizationToken(ctx, organizationID)
//
// The service token lives in an injected TokenCache (MemoryCache, or
// RedisCache when several instances share it) with a TTL of
// max(60s, expires_in-60s). Organization tokens are never cached.
package tokenexchange
