package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the pairing bundle the gateway hands out on a successful
// link. Persisted to disk so reconnects skip the QR dance.
type Credentials struct {
	SessionID  string `json:"session_id"`
	AuthToken  string `json:"auth_token"`
	DeviceID   string `json:"device_id"`
	PairedAt   int64  `json:"paired_at"`
	PhoneE164  string `json:"phone_e164"`
	GatewayURL string `json:"gateway_url"`
}

// CredStore persists one credential bundle per bot as a JSON file.
type CredStore struct {
	dir string
}

func NewCredStore(dir string) (*CredStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create creds dir: %w", err)
	}
	return &CredStore{dir: dir}, nil
}

func (s *CredStore) path(botID string) string {
	return filepath.Join(s.dir, botID+".json")
}

// Load returns the stored bundle, or nil when the bot was never paired.
func (s *CredStore) Load(botID string) (*Credentials, error) {
	data, err := os.ReadFile(s.path(botID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read creds: %w", err)
	}

	var creds Credentials
	if err = json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode creds: %w", err)
	}

	return &creds, nil
}

func (s *CredStore) Save(botID string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode creds: %w", err)
	}
	if err = os.WriteFile(s.path(botID), data, 0o600); err != nil {
		return fmt.Errorf("write creds: %w", err)
	}
	return nil
}

// Delete removes the bundle. Called only on a voluntary unlink.
func (s *CredStore) Delete(botID string) error {
	err := os.Remove(s.path(botID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
