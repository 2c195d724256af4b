// Package hasher computes the streaming, content-addressed digest
// that gives every quarantined file its cryptographic identity. It
// never buffers a whole file in memory: every path goes through a
// bounded-size chunked copy into the hash state.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/sha3"
)

// Algorithm selects which hash construction backs Hash/HashAndCopy.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	SHA3256 Algorithm = "sha3-256"
)

// chunkSize bounds every read to at most 1 MiB.
const chunkSize = 1 << 20

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case "", SHA256:
		return sha256.New(), nil
	case SHA3256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("hasher: unknown algorithm %q", alg)
	}
}

// Hash streams path through alg and returns its hex digest. A
// zero-length file hashes to the canonical empty-input digest, never
// an error. Any read failure is returned wrapped, and no partial
// digest is ever returned on error.
func Hash(path string, alg Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	h, err := newHash(alg)
	if err != nil {
		return "", err
	}

	if _, err := io.CopyBuffer(h, f, make([]byte, chunkSize)); err != nil {
		return "", fmt.Errorf("hasher: read %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashAndCopy streams src into dst while computing its digest in the
// same pass, then fsyncs dst so the quarantined copy survives a crash
// immediately after staging. It returns the hex digest and the number
// of bytes copied.
func HashAndCopy(dst *os.File, src io.Reader, alg Algorithm) (digest string, n int64, err error) {
	h, err := newHash(alg)
	if err != nil {
		return "", 0, err
	}

	mw := io.MultiWriter(dst, h)
	n, err = io.CopyBuffer(mw, src, make([]byte, chunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("hasher: copy: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return "", 0, fmt.Errorf("hasher: fsync %s: %w", dst.Name(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
