// Package store persists users, their credentials and the permission catalog.
//
// # Architecture
//
// The store is split into small interfaces that CredentialStore composes:
//
//   - UserStore: user accounts and their privileges
//   - WebAuthnCredentialStore: authenticators and outstanding challenges
//   - ClientCredentialStore: machine clients with hashed secrets
//   - TokenCredentialStore: one signing slot per credential source
//   - PermissionStore: the scope catalog
//   - AuditStore: security events
//
// SQLStore implements every interface on database/sql and speaks both the
// SQLite (modernc.org/sqlite) and Postgres (pgx) dialects. Queries are
// written with ? placeholders and rebound to $n for Postgres.
//
// # Token slots
//
// A TokenCredential row is keyed by (source_id, source_type). Issuing a token
// overwrites the row's public key, which invalidates every token signed with
// the previous key. The row ID never changes and is used as the token jti.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConflict: a unique key is already taken
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore on a temp file for
// integration tests against real SQLite.
package store
