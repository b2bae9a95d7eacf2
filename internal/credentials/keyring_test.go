package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestTokenStoreWithKeyring(t *testing.T) {
	keyring.MockInit()
	s := NewTokenStore("gamesim-test", filepath.Join(t.TempDir(), "tokens.json"))

	if _, err := s.Token("proj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before set, got %v", err)
	}
	if err := s.SetToken("proj", "tok-1"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	got, err := s.Token("proj")
	if err != nil || got != "tok-1" {
		t.Fatalf("Token: %q, %v", got, err)
	}
	if _, err := os.Stat(s.fallbackPath); !os.IsNotExist(err) {
		t.Fatal("fallback file must not be written when the keyring works")
	}

	if err := s.DeleteToken("proj"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.Token("proj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTokenStoreFallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: secret service not available"))
	t.Cleanup(keyring.MockInit)

	s := NewTokenStore("gamesim-test", filepath.Join(t.TempDir(), "nested", "tokens.json"))
	if err := s.SetToken("proj", "tok-2"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	info, err := os.Stat(s.fallbackPath)
	if err != nil {
		t.Fatalf("expected fallback file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 fallback file, got %v", info.Mode().Perm())
	}

	got, err := s.Token("proj")
	if err != nil || got != "tok-2" {
		t.Fatalf("Token: %q, %v", got, err)
	}
	if err := s.DeleteToken("proj"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.Token("proj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTokenStoreValidation(t *testing.T) {
	keyring.MockInit()
	s := NewTokenStore("", "")
	if s.service != DefaultService {
		t.Fatalf("expected default service, got %q", s.service)
	}
	if err := s.SetToken(" ", "x"); err == nil {
		t.Fatal("expected error for empty project id")
	}
	if err := s.SetToken("p", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
