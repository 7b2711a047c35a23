// Package auth carries bearer tokens between the wire and the engine.
//
// # Tokens
//
// Codec signs and verifies compact ES384 tokens. Each token kind is named in
// the "typ" header:
//
//   - authn_token: produced by a WebAuthn login, carries no scope
//   - access_token: produced by an exchange, carries "scp"
//   - refresh_token: paired with an access token for trusted sources; its
//     "nbf" equals the access token's "exp"
//
// Every issuance signs with a fresh P-384 key. Only the public key is kept,
// in the token credential slot whose id is the token's "jti". Overwriting
// that slot revokes every earlier token of the same source.
//
// # Request authentication
//
// HTTPAuthMiddleware and the gRPC interceptors extract "Authorization: Bearer"
// and hand the token to a Verifier, which also re-checks the subject's live
// privileges. RequireScope layers a some-match scope check on top:
//
//	mux.Handle("GET /api/v1/users/{id}", auth.HTTPAuthMiddleware(engine)(
//		auth.RequireScope("user:read")(handler)))
//
// The gRPC health service is reachable without a token.
package auth
