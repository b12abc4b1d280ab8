// Package identity is the local identity provider for School Docs Core.
//
// Provider verifies credentials against the accounts table (Argon2id PHC
// hashes) and issues Identity values. AuthState wraps a Provider for one
// application session and pushes every sign-in and sign-out to its
// OnAuthStateChange listeners, which is the stream the session listener
// consumes.
//
// Access tokens are HS256 JWTs carrying the user ID, email, and the
// application session ID they were issued for.
//
// Credential management (password reset, rotation, policy) is not handled
// here; the provider only creates accounts and verifies sign-ins.
package identity
