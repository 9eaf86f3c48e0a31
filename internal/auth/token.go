// Package auth resolves and decodes the bearer token this client presents to
// the platform. The client is a pure consumer: it never issues, validates, or
// refreshes tokens; expiry shows up as a 401 from the platform like any other
// auth failure.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenEnvVar overrides every other token source when set.
const TokenEnvVar = "CITYPULSE_TOKEN"

// TokenSource resolves the bearer token from, in order: the environment,
// the config value, the token file written by `citypulse login`. An empty
// result means the client runs anonymously.
type TokenSource struct {
	configToken string
	filePath    string
}

// NewTokenSource creates a token source. Either argument may be empty.
func NewTokenSource(configToken, filePath string) *TokenSource {
	return &TokenSource{
		configToken: configToken,
		filePath:    filePath,
	}
}

// Token returns the resolved bearer token, or "" for anonymous.
func (ts *TokenSource) Token() string {
	if v := strings.TrimSpace(os.Getenv(TokenEnvVar)); v != "" {
		return v
	}
	if ts.configToken != "" {
		return ts.configToken
	}
	if ts.filePath != "" {
		data, err := os.ReadFile(ts.filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// DefaultTokenPath returns the per-user token file location.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "citypulse", "token"), nil
}

// StoreToken writes the token file with owner-only permissions, creating
// parent directories as needed.
func StoreToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}
