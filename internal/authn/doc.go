// Package authn is the credential and token authentication engine.
//
// An Engine drives two WebAuthn ceremonies and an OAuth style token
// pipeline over a store.CredentialStore:
//
//   - registration: BeginRegistration creates a challenged credential row,
//     CompleteRegistration verifies the attestation and stores the key.
//   - login: BeginLogin writes a fresh challenge (emailing a verification
//     link for credentials that never logged in), CompleteLogin verifies the
//     assertion and issues an authn token.
//   - exchange: authn, refresh and client-credential grants are traded for
//     access tokens whose scope is the intersection of the request, the
//     source's privileges and the permission catalog.
//   - verification: tokens are checked against the single signing slot of
//     their source, and scoped tokens against the source's live privileges.
//
// Every token is signed with a fresh P-384 key whose public half overwrites
// the slot, so issuing a token revokes all earlier tokens of that source.
package authn
