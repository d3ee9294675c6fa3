// Package testutil holds shared test fixtures: deterministic keys and an
// OpenAI-compatible mock server.
package testutil

// Test-only keys. Length matters (≥32 bytes); values do not.
const (
	TestSigningKey = "test-signing-key-0123456789abcdef"
	TestAuthSecret = "test-auth-secret-0123456789abcdef"
)
