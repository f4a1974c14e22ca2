// Package identity carries the owning-account identity into the domain
// authentication API.
//
// It provides:
//   - TokenIssuer: issues and verifies HS256 account session tokens
//   - RequireAccount: Gin middleware enforcing a Bearer account token
//   - AccountID: reads the authenticated account from the Gin context
//
// Session issuance proper (login, OAuth) lives outside this service; the
// issuer exists so operators and the CLI can mint tokens with the shared secret.
package identity
