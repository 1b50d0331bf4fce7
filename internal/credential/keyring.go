package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mail-outbox"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Store keeps account passwords in a keyring.
type Store struct {
	ring keyring.Keyring
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the system keyring, falling back to an
// encrypted file under fileDir.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-outbox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

func accountKey(accountID string) string {
	return "account:" + accountID
}

// Password returns the stored password of an account.
func (s *Store) Password(accountID string) (string, error) {
	item, err := s.ring.Get(accountKey(accountID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("password for %q: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", accountID, err)
	}

	return string(item.Data), nil
}

// SetPassword stores the password of an account, replacing any previous one.
func (s *Store) SetPassword(accountID, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   accountKey(accountID),
		Data:  []byte(password),
		Label: "mail-outbox " + accountID,
	})
	if err != nil {
		return fmt.Errorf("setting password for %q: %w", accountID, err)
	}

	return nil
}

// DeletePassword forgets the password of an account. Deleting a missing
// password is not an error, so sign-out can run more than once.
func (s *Store) DeletePassword(accountID string) error {
	err := s.ring.Remove(accountKey(accountID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting password for %q: %w", accountID, err)
	}

	return nil
}
