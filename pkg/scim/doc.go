// Package scim implements the organization-scoped SCIM 2.0 calls used to
// provision a customer's first user: user creation, role lookup by display
// name through a .search request, and role membership through a bulk PATCH.
//
// Calls are authenticated with an organization-scoped bearer token obtained
// by the caller; see package tokenexchange.
package scim
