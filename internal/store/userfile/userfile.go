// Package userfile keeps the account table in a JSON file on disk.
package userfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// DefaultPath is where the users file lives unless configured otherwise.
const DefaultPath = "resources/users.json"

// record is one element of the file. The layout matches files written by
// earlier releases.
type record struct {
	Username string         `json:"username"`
	Profile  domain.Account `json:"profile"`
}

// Store reads and writes the users file.
type Store struct {
	path string
}

// New creates a Store for path.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads every account. A missing file yields no accounts.
func (s *Store) Load(_ context.Context) ([]domain.Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("userfile: read %s: %w", s.path, err)
	}
	accounts, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("userfile: %s: %w", s.path, err)
	}
	return accounts, nil
}

// Save replaces the file with accounts. The write goes to a temporary file
// that is renamed over the old one, so readers never see a partial file.
func (s *Store) Save(_ context.Context, accounts []domain.Account) error {
	data, err := Encode(accounts)
	if err != nil {
		return fmt.Errorf("userfile: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("userfile: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("userfile: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("userfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("userfile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("userfile: close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("userfile: chmod temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("userfile: rename into place: %w", err)
	}
	return nil
}

// Encode renders accounts in the users file layout.
func Encode(accounts []domain.Account) ([]byte, error) {
	records := make([]record, 0, len(accounts))
	for _, acct := range accounts {
		records = append(records, record{Username: acct.Username, Profile: acct})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode users: %w", err)
	}
	return data, nil
}

// Decode parses the users file layout.
func Decode(data []byte) ([]domain.Account, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	accounts := make([]domain.Account, 0, len(records))
	for _, r := range records {
		acct := r.Profile
		if acct.Username == "" {
			acct.Username = r.Username
		}
		if acct.Username == "" {
			return nil, errors.New("decode users: record without username")
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

var _ domain.AccountStore = (*Store)(nil)
