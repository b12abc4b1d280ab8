// Package session keeps the live role state of one application session.
//
// A Listener follows an identity.AuthState and a rolestore.Store. On
// sign-in it reads the user's stored record, resolves the effective roles
// through roles.Policy, writes allow-list corrections back, and then
// follows live record updates until sign-out. Consumers observe every
// change through Watch; the current value is always available from
// Snapshot.
//
// Manager owns one AuthState and Listener per application session ID.
package session
