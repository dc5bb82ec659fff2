package token

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	secret := []byte("test-secret-key")

	t.Run("Empty session id rejected", func(t *testing.T) {
		if _, err := Generate("", secret); err == nil {
			t.Error("Expected error for empty session id, got nil")
		}
	})

	t.Run("Session id too long rejected", func(t *testing.T) {
		_, err := Generate(strings.Repeat("s", MaxSessionIDLength+1), secret)
		if err == nil {
			t.Fatal("Expected error for long session id, got nil")
		}
		if !strings.Contains(err.Error(), "session id too long") {
			t.Errorf("Expected 'session id too long' error, got: %v", err)
		}
	})

	t.Run("Session id at limit accepted", func(t *testing.T) {
		if _, err := Generate(strings.Repeat("s", MaxSessionIDLength), secret); err != nil {
			t.Errorf("Expected session id at limit to pass, got error: %v", err)
		}
	})
}
