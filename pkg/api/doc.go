// Package api exposes the broker's HTTP surface: bulk user import and alias
// import, user-data export, the per-user settings store, and the /me endpoint
// presenting an identity the way the calling application should see it.
//
// Callers are consuming applications authenticating with bearer app tokens;
// each route additionally requires a scope. The user a request acts on is
// resolved from the broker session cookie when present (browser traffic
// proxied by an application) or from the `user` query parameter (server-side
// calls), which accepts any alias of the identity.
package api
