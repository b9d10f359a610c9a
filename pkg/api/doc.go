// Package api exposes lead conversion over HTTP.
//
// Routes:
//
//	POST /api/v1/leads/{id}/convert             run a conversion
//	GET  /api/v1/conversions/{run_id}           audit entry of one run
//	GET  /api/v1/conversions/orphaned           failed runs that left a user behind
//	GET  /api/v1/organizations/{id}/conversions runs for one organization
//	GET  /healthz, /readyz, /metrics
//
// The convert response is always the run result. Its status is 200 on
// success, 409 while another conversion of the same organization runs,
// 422 when the organization cannot be converted, 500 on an internal error
// and 502 when the identity server failed.
package api
