// Package auth implements password accounts and stateless JWT sessions on top
// of a Bun backed credential store.
//
// Sessions:
//   - Login issues an access/refresh pair. Only the most recently issued
//     refresh token is stored per account, so refreshing rotates it with a
//     compare-and-swap and a replayed token is reported as revoked.
//   - Logout clears the stored refresh token. Outstanding access tokens stay
//     valid until they expire.
//
// Account lifecycle:
//   - State is derived from the persisted flags: unverified, active,
//     deactivated or deleted. AccountLifecycle owns every transition and emits
//     ActivityEvents through the configured ActivitySink.
//   - Password reset and email verification use single purpose tokens bound
//     to the account email. Changing the email invalidates them.
//
// HTTP:
//   - RegisterAccountRoutes mounts the account endpoints on a go-router router.
//     Tokens are delivered as JSON and as HttpOnly cookies, and ErrorHandler
//     renders the error envelope for every Kind.
package auth
