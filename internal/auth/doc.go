// Package auth holds the credential primitives of the devicelink core:
//   - Argon2id hashing of device secrets (PHC string format)
//   - HS256 bearer tokens for operators, whose numeric subject becomes the
//     issued_by of every command they send
//
// Token issuance belongs to the external login service; GenerateAccessToken
// exists for tooling and tests that need a token signed with the shared secret.
package auth
