// Package hazard GPG-encrypts a suspect file's quarantined copy into
// the hazard archive under a collision-safe, timestamped name.
package hazard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// Encryptor encrypts quarantined files to a hazard archive directory
// using a single configured public key.
type Encryptor struct {
	archiveDir string
	keyRing    *crypto.KeyRing
}

// New loads the armored public key at keyPath and builds an Encryptor
// rooted at archiveDir.
func New(archiveDir, keyPath string) (*Encryptor, error) {
	armored, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("hazard: read public key %s: %w", keyPath, err)
	}

	key, err := crypto.NewKeyFromArmored(string(armored))
	if err != nil {
		return nil, fmt.Errorf("hazard: parse public key %s: %w", keyPath, err)
	}

	ring, err := crypto.NewKeyRing(key)
	if err != nil {
		return nil, fmt.Errorf("hazard: build keyring from %s: %w", keyPath, err)
	}

	return &Encryptor{archiveDir: archiveDir, keyRing: ring}, nil
}

// archiveName builds the collision-safe encrypted filename: an
// ISO-8601 timestamp followed by the sanitized relative subpath, so
// two suspect files with the same basename from different source
// subdirectories never collide in the flat hazard archive.
func archiveName(relSubpath string, at time.Time) string {
	sanitized := strings.ReplaceAll(relSubpath, string(filepath.Separator), "_")
	return fmt.Sprintf("%s_%s.gpg", at.UTC().Format("20060102T150405Z"), sanitized)
}

// Encrypt reads src in full, encrypts it to the configured public key,
// and writes the result under the hazard archive. It returns the
// archive path on success. The caller must not delete src until this
// returns nil AND the archive file is confirmed present and non-empty,
// which Encrypt itself verifies before returning.
func (e *Encryptor) Encrypt(src string, relSubpath string, at time.Time) (string, error) {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("hazard: read %s: %w", src, err)
	}

	pgpMessage, err := e.keyRing.Encrypt(crypto.NewPlainMessage(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("hazard: encrypt %s: %w", src, err)
	}

	if err := os.MkdirAll(e.archiveDir, 0o750); err != nil {
		return "", fmt.Errorf("hazard: mkdir %s: %w", e.archiveDir, err)
	}

	archivePath := filepath.Join(e.archiveDir, archiveName(relSubpath, at))
	tmpPath := archivePath + ".tmp"

	if err := writeAll(tmpPath, pgpMessage.GetBinary()); err != nil {
		return "", fmt.Errorf("hazard: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("hazard: rename %s -> %s: %w", tmpPath, archivePath, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("hazard: stat %s: %w", archivePath, err)
	}
	if info.Size() == 0 {
		os.Remove(archivePath)
		return "", fmt.Errorf("hazard: encrypted artifact %s is empty", archivePath)
	}

	return archivePath, nil
}

func writeAll(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return nil
}
