// Package token decodes and issues the access tokens exchanged between the
// blood-donation clients and the API.
//
// # Decoding
//
// [Decode] splits the compact JWS and base64-decodes the claims segment
// without verifying the signature. The result is an [Identity] used for
// client-side introspection (who is signed in, when the token expires).
// Verification is the server's job and is delegated to golang-jwt through
// [Issuer.Verify].
//
// # Architecture boundaries
//
// This package is pure computation. It owns claim layout and expiry math.
// Persistence lives in tokenstore; refresh policy lives in refresh.
//
// # What this package must NOT do
//
//   - Perform I/O or hold token state.
//   - Trust decoded claims for authorization decisions.
//   - Panic on malformed input; malformed tokens yield [ErrDecode].
package token
