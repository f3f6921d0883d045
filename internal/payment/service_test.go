package payment

import (
	"regexp"
	"testing"
)

var apiKeyPattern = regexp.MustCompile(`^sk_[0-9a-f]{32}$`)

func TestGenerateAPIKeyFormat(t *testing.T) {
	key, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey failed: %v", err)
	}
	if !apiKeyPattern.MatchString(key) {
		t.Fatalf("expected sk_ + 32 lowercase hex chars, got %q", key)
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	a, _ := generateAPIKey()
	b, _ := generateAPIKey()
	if a == b {
		t.Fatalf("expected two distinct generated keys")
	}
}
