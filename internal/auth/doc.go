// Package auth verifies the credentials presented by relay clients.
//
// # Overview
//
// The relay trusts exactly one identity: the allow-listed email address
// from configuration. Everything else, including tokens that verify
// cryptographically, is treated as unauthenticated.
//
// Verification uses signed ID tokens (RS256):
//
//  1. Signature against the provider's rotating key set (KeySet)
//  2. Audience must equal the configured OAuth client ID
//  3. Issuer must match (with or without the https:// prefix)
//  4. Token must carry an unexpired, verified email claim
//  5. Email must equal the allow-listed address, case-insensitively
//
// Any failure in any step yields an error; callers never receive a
// partial identity. Verification results are cached for a few minutes,
// bounded by the token's own expiry.
//
// # Usage
//
//	keys := auth.NewRemoteKeySet(cfg.Auth.CertsURL, logger)
//	verifier := auth.NewIDTokenVerifier(keys, cfg.Auth.Issuer, cfg.Auth.ClientID, cfg.Auth.AllowedEmail, logger)
//	ident, err := verifier.Verify(ctx, raw)
//
// Handlers retrieve the identity downstream via FromContext after the
// server's auth middleware has attached it with WithIdentity.
package auth
