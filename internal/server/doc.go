// Package server exposes the authentication engine over HTTP and gRPC.
//
// # HTTP
//
// The WebAuthn ceremonies and the token endpoint live under /api/v1/auth:
//
//	PUT  /api/v1/auth/attestation?email=        begin registration
//	POST /api/v1/auth/attestation?credentialId= complete registration
//	GET  /api/v1/auth/assertion?challengeHash=  options for a verification link
//	PUT  /api/v1/auth/assertion?credentialId=   begin login (201, or 202 pending)
//	POST /api/v1/auth/assertion                 complete login, returns an authn token
//	POST /api/v1/auth/token                     grant exchange
//
// The user API under /api/v1/users requires an access token with a user
// scope. Errors are written as application/problem+json. Every response
// carries X-Trace-ID and X-Response-Time.
//
// # gRPC
//
// The gRPC listener serves grpc.health.v1 without authentication and
// warden.v1.Identity behind a bearer access token.
package server
