package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, subject, role string, expiresAt time.Time) string {
	t.Helper()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unrelated-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenSourceResolutionOrder(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "token")
	if err := StoreToken(filePath, "from-file"); err != nil {
		t.Fatalf("store token: %v", err)
	}

	// File only.
	ts := NewTokenSource("", filePath)
	if got := ts.Token(); got != "from-file" {
		t.Errorf("token = %q, want from-file", got)
	}

	// Config beats file.
	ts = NewTokenSource("from-config", filePath)
	if got := ts.Token(); got != "from-config" {
		t.Errorf("token = %q, want from-config", got)
	}

	// Environment beats both.
	t.Setenv(TokenEnvVar, "from-env")
	if got := ts.Token(); got != "from-env" {
		t.Errorf("token = %q, want from-env", got)
	}
}

func TestTokenSourceAnonymous(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	ts := NewTokenSource("", filepath.Join(t.TempDir(), "missing"))
	if got := ts.Token(); got != "" {
		t.Errorf("token = %q, want empty for anonymous", got)
	}
}

func TestStoreTokenPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	if err := StoreToken(path, "  secret  "); err != nil {
		t.Fatalf("store token: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "secret\n" {
		t.Errorf("token file contents = %q", string(data))
	}

	// Round-trips through the source with whitespace trimmed.
	t.Setenv(TokenEnvVar, "")
	if got := NewTokenSource("", path).Token(); got != "secret" {
		t.Errorf("token = %q, want secret", got)
	}
}

func TestDecodeClaims(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "operator-7", "analyst", expires)

	info, err := DecodeClaims(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Subject != "operator-7" {
		t.Errorf("subject = %q, want operator-7", info.Subject)
	}
	if info.Role != "analyst" {
		t.Errorf("role = %q, want analyst", info.Role)
	}
	if !info.ExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", info.ExpiresAt, expires)
	}
	if info.Expired(time.Now()) {
		t.Error("token should not be expired yet")
	}
	if !info.Expired(expires.Add(time.Minute)) {
		t.Error("token should report expired after exp")
	}
}

func TestDecodeClaimsMalformed(t *testing.T) {
	if _, err := DecodeClaims("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestExpiredWithoutExpClaim(t *testing.T) {
	var info TokenInfo
	if info.Expired(time.Now()) {
		t.Error("token without exp must never report expired")
	}
}
