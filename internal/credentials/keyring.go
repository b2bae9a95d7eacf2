// Package credentials keeps the Game Simulation access token in the OS
// keychain, falling back to a private JSON file where no keychain backend
// exists (headless CI machines, containers).
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	DefaultService = "gamesim"
	keyAccessToken = "access-token"
)

// ErrNotFound is returned when no token is stored for a project.
var ErrNotFound = keyring.ErrNotFound

type TokenStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

func NewTokenStore(service, fallbackPath string) *TokenStore {
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return &TokenStore{service: service, fallbackPath: fallbackPath}
}

func (s *TokenStore) key(projectID string) string {
	return projectID + "/" + keyAccessToken
}

// SetToken stores the access token used for projectID.
func (s *TokenStore) SetToken(projectID, token string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errors.New("credentials: project id is required")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("credentials: token is empty")
	}

	err := keyring.Set(s.service, s.key(projectID), token)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("credentials: keyring set: %w", err)
	}
	return s.setFallback(projectID, token)
}

// Token returns the stored access token, or ErrNotFound.
func (s *TokenStore) Token(projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", errors.New("credentials: project id is required")
	}

	val, err := keyring.Get(s.service, s.key(projectID))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("credentials: keyring get: %w", err)
	}

	fallback, ferr := s.getFallback(projectID)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) || errors.Is(ferr, ErrNotFound) {
		return "", ErrNotFound
	}
	return "", ferr
}

// DeleteToken removes the token from the keychain and the fallback file.
func (s *TokenStore) DeleteToken(projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errors.New("credentials: project id is required")
	}

	kerr := keyring.Delete(s.service, s.key(projectID))
	ferr := s.deleteFallback(projectID)
	if kerr != nil && !errors.Is(kerr, keyring.ErrNotFound) && !isKeyringUnavailable(kerr) {
		return fmt.Errorf("credentials: keyring delete: %w", kerr)
	}
	return ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// fallbackTokens maps project id to token.
type fallbackTokens map[string]string

func (s *TokenStore) setFallback(projectID, token string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return errors.New("credentials: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[projectID] = token
	return s.writeFallbackUnlocked(data)
}

func (s *TokenStore) getFallback(projectID string) (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	token, ok := data[projectID]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

func (s *TokenStore) deleteFallback(projectID string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[projectID]; !ok {
		return nil
	}
	delete(data, projectID)
	return s.writeFallbackUnlocked(data)
}

func (s *TokenStore) readFallbackUnlocked() (fallbackTokens, error) {
	out := fallbackTokens{}
	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("credentials: read fallback tokens: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("credentials: decode fallback tokens: %w", err)
	}
	return out, nil
}

func (s *TokenStore) writeFallbackUnlocked(data fallbackTokens) error {
	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("credentials: encode fallback tokens: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("credentials: write fallback tokens: %w", err)
	}
	return nil
}
