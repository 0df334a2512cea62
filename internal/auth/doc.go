// Package auth verifies caller identity for the parley gateway.
//
// # Tokens
//
// Callers authenticate with HS256 JWTs signed with the configured jwt_secret.
// The "sub" claim is the owner id that scopes every conversation operation:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("user-123", 24*time.Hour)
//	ownerID, err := verifier.Verify(token)
//
// Every verification failure wraps ErrUnauthenticated.
//
// # HTTP
//
// HTTPAuthMiddleware extracts the bearer token, verifies it, and stores the
// owner id in the request context. Handlers read it back with RequireOwner.
// Requests without a valid token never reach a handler and never touch the
// store.
package auth
