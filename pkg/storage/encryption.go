package storage

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFileName = "db.salt"
	saltSize     = 32
	// KeyDerivationIterations matches the iteration count used when the store was encrypted.
	KeyDerivationIterations = 600000
)

// DeriveEncryptionKey derives the 32-byte AES-256 key of an encrypted store from
// its password and the salt persisted next to the data files.
//
// The checker only opens existing stores, so a missing salt file is an error
// rather than a reason to generate a new one.
func DeriveEncryptionKey(dataDir, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption is enabled but no password was provided")
	}
	salt, err := os.ReadFile(filepath.Join(dataDir, saltFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("encryption salt has %d bytes, want %d", len(salt), saltSize)
	}
	return DeriveKey([]byte(password), salt, KeyDerivationIterations), nil
}

// DeriveKey runs PBKDF2-SHA256 producing a 32-byte key.
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, 32, sha256.New)
}
