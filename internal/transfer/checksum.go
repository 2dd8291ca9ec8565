package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileChecksum computes the hex-encoded SHA-256 digest of a local file.
// Hashing the complete file from byte zero keeps resumed transfers honest:
// the digest covers bytes written by earlier attempts too.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer: open %s for hashing: %w", path, err)
	}

	defer f.Close()

	h := sha256.New()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("transfer: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
