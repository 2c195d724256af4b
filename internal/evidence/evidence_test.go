package evidence

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateSigningKey_New(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "signing.key")

	priv, pubHex, err := LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigningKey: %v", err)
	}
	if priv == nil {
		t.Fatal("private key is nil")
	}
	if len(pubHex) != 64 {
		t.Fatalf("expected 64 hex chars for public key, got %d", len(pubHex))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if len(data) != ed25519.SeedSize {
		t.Fatalf("key file should be %d bytes (seed), got %d", ed25519.SeedSize, len(data))
	}
}

func TestLoadOrCreateSigningKey_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "signing.key")

	_, pub1, err := LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, pub2, err := LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if pub1 != pub2 {
		t.Fatalf("reloaded key has different public key: %s vs %s", pub1, pub2)
	}
}

func TestSignThenVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.key")

	priv, pubHex, err := LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigningKey: %v", err)
	}

	data := []byte(`{"run_id":"abc","admitted_count":3}`)
	sigHex := Sign(priv, data)

	if !Verify(pubHex, data, sigHex) {
		t.Fatal("signature did not verify under its own public key")
	}
}

func TestVerify_TamperedPayloadFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.key")

	priv, pubHex, err := LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigningKey: %v", err)
	}

	sigHex := Sign(priv, []byte("original payload"))

	if Verify(pubHex, []byte("tampered payload"), sigHex) {
		t.Fatal("verification should fail against a different payload")
	}
}

func TestVerify_MalformedInputsFail(t *testing.T) {
	if Verify("not-hex!!", []byte("x"), "alsonothex") {
		t.Fatal("expected malformed public key to fail verification")
	}
	if Verify("0000000000000000000000000000000000000000000000000000000000000000", []byte("x"), "alsonothex") {
		t.Fatal("expected malformed signature to fail verification")
	}
}
