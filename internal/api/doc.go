// Package api provides the pull-side HTTP client for the upstream market
// data service.
//
// Deployments disagree about whether the API base path carries a version
// segment, so every request walks a fixed candidate ladder: the configured
// base as-is, the base with its version segment stripped, and the bare
// host. The first success short-circuits; if every candidate fails the
// caller gets one aggregated error carrying all per-candidate failures.
package api
