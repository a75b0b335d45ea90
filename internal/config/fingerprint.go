package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// minFingerprintPrefix is the shortest abbreviated fingerprint accepted by
// VerifyFingerprint.
const minFingerprintPrefix = 8

// Fingerprint returns the hex BLAKE3 hash of raw config bytes.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileFingerprint hashes the file at path as it is on disk, before ${VAR}
// expansion.
func FileFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return Fingerprint(data), nil
}

// FingerprintMismatchError reports a config file whose content drifted from
// an expected fingerprint.
type FingerprintMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("fingerprint mismatch for %s: expected %s, got %s",
		filepath.Base(e.Path), e.Expected, e.Actual)
}

// VerifyFingerprint checks the file at path against expected. expected may be
// abbreviated to a prefix of at least eight hex characters; case is ignored.
func VerifyFingerprint(path, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if len(expected) < minFingerprintPrefix {
		return fmt.Errorf("fingerprint %q is too short (need at least %d hex characters)", expected, minFingerprintPrefix)
	}
	if _, err := hex.DecodeString(expected[:len(expected)&^1]); err != nil {
		return fmt.Errorf("fingerprint %q is not hex", expected)
	}

	actual, err := FileFingerprint(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(actual, expected) {
		return &FingerprintMismatchError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}
