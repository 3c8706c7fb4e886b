// Package api groups the vendor's REST resources into typed services.
//
// Each service (AccountService, FrameService, AssetService,
// NotificationService) wraps the endpoints for one resource family and
// composes over a shared *rest.Client injected at construction time; the
// package does not reach for globals and expects callers to supply a fully
// configured transport. Services translate between Go values and the
// vendor's request/response shapes and return the transport's typed errors
// unchanged.
//
// Session headers, retries, and logging live in the rest client, not here.
// New endpoints should preserve that split: a service method builds the
// path and payload, the client does the rest.
package api
