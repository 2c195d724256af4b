// Package evidence signs end-of-run summaries with a persistent
// Ed25519 key, so a downstream consumer of the Notifier's webhook can
// verify a RunSummary actually came from this Shuttle instance and
// was not forged or replayed from a different host.
package evidence

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateSigningKey loads the Ed25519 private key at path, or
// generates and persists a new one if it doesn't exist yet. Returns
// the private key and its hex-encoded public key for out-of-band
// distribution to verifiers.
func LoadOrCreateSigningKey(path string) (ed25519.PrivateKey, string, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == ed25519.SeedSize {
		priv := ed25519.NewKeyFromSeed(data)
		pub := hex.EncodeToString(priv.Public().(ed25519.PublicKey))
		return priv, pub, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("evidence: generate signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, "", fmt.Errorf("evidence: create key dir: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, "", fmt.Errorf("evidence: write signing key: %w", err)
	}

	return priv, hex.EncodeToString(pub), nil
}

// Sign returns the hex-encoded Ed25519 signature of data.
func Sign(key ed25519.PrivateKey, data []byte) string {
	sig := ed25519.Sign(key, data)
	return hex.EncodeToString(sig)
}

// Verify reports whether sigHex is a valid Ed25519 signature of data
// under the hex-encoded public key pubHex.
func Verify(pubHex string, data []byte, sigHex string) bool {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), data, sigBytes)
}
