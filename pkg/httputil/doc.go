// Package httputil provides the JSON response helpers, request parsing and
// middleware shared by the HTTP surface, plus the HTTP client factory used
// for calls to the identity server.
//
// Responses:
//
//	httputil.WriteSuccess(w, result)
//	httputil.WriteErrorMessage(w, http.StatusConflict, "conversion already in progress")
//
// Requests:
//
//	var req ConvertRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
