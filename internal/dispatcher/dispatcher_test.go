package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/ProtonMail/gopenpgp/v2/helper"

	"github.com/shuttlehq/shuttle/internal/hasher"
	"github.com/shuttlehq/shuttle/internal/hazard"
	"github.com/shuttlehq/shuttle/internal/task"
	"github.com/shuttlehq/shuttle/internal/tracker"
)

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.Open(t.TempDir(), time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tracker.Open: %v", err)
	}
	return tr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDispatchClean_MovesAndVerifies(t *testing.T) {
	srcDir, quarantineDir, destDir := t.TempDir(), t.TempDir(), t.TempDir()

	srcPath := filepath.Join(srcDir, "a.txt")
	quarantinePath := filepath.Join(quarantineDir, "a.txt")
	writeFile(t, srcPath, "hello\n")
	writeFile(t, quarantinePath, "hello\n")

	digest, err := hasher.Hash(quarantinePath, hasher.SHA256)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	tr := newTestTracker(t)
	if err := tr.Admit(digest, srcPath, 6); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	d := New(Config{DeleteSourceAfterCopy: true, HashAlgo: hasher.SHA256}, tr, nil)

	v := task.Verdict{
		Task: task.FileTask{
			SourcePath:      srcPath,
			QuarantinePath:  quarantinePath,
			RelativeSubpath: "a.txt",
			ContentHash:     digest,
			SizeBytes:       6,
		},
		Kind: task.VerdictClean,
	}

	if err := d.Dispatch(v, destDir); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	destPath := filepath.Join(destDir, "a.txt")
	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("dest content = %q", got)
	}
	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Fatal("expected source to be removed after delete_source_files_after_copying")
	}

	snap := tr.Snapshot()
	if snap.SuccessCount != 1 {
		t.Fatalf("snapshot = %+v, want 1 success", snap)
	}
}

func TestDispatchClean_HashMismatchRejectsDelivery(t *testing.T) {
	srcDir, quarantineDir, destDir := t.TempDir(), t.TempDir(), t.TempDir()

	srcPath := filepath.Join(srcDir, "a.txt")
	quarantinePath := filepath.Join(quarantineDir, "a.txt")
	writeFile(t, srcPath, "hello\n")
	writeFile(t, quarantinePath, "hello\n")

	tr := newTestTracker(t)
	bogusHash := "0000000000000000000000000000000000000000000000000000000000000"
	if err := tr.Admit(bogusHash, srcPath, 6); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	d := New(Config{HashAlgo: hasher.SHA256}, tr, nil)

	v := task.Verdict{
		Task: task.FileTask{
			SourcePath:      srcPath,
			QuarantinePath:  quarantinePath,
			RelativeSubpath: "a.txt",
			ContentHash:     bogusHash,
		},
		Kind: task.VerdictClean,
	}

	if err := d.Dispatch(v, destDir); err == nil {
		t.Fatal("expected hash mismatch to reject delivery")
	}

	if _, err := os.Stat(filepath.Join(destDir, "a.txt")); !os.IsNotExist(err) {
		t.Fatal("destination copy should have been removed on hash mismatch")
	}
	if _, err := os.Stat(srcPath); err != nil {
		t.Fatal("source must be left untouched on hash mismatch")
	}

	snap := tr.Snapshot()
	if snap.FailureCount != 1 {
		t.Fatalf("snapshot = %+v, want 1 failure", snap)
	}
}

func writeTestPublicKey(t *testing.T) string {
	t.Helper()
	armoredPriv, err := helper.GenerateKey("shuttle-test", "shuttle-test@example.invalid", nil, "rsa", 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key, err := crypto.NewKeyFromArmored(armoredPriv)
	if err != nil {
		t.Fatalf("NewKeyFromArmored: %v", err)
	}
	pub, err := key.GetArmoredPublicKey()
	if err != nil {
		t.Fatalf("GetArmoredPublicKey: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "pub.asc")
	if err := os.WriteFile(path, []byte(pub), 0o644); err != nil {
		t.Fatalf("write pubkey: %v", err)
	}
	return path
}

func TestDispatchSuspect_NoHazardConfiguredKeepsQuarantine(t *testing.T) {
	srcDir, quarantineDir := t.TempDir(), t.TempDir()
	srcPath := filepath.Join(srcDir, "eicar.com")
	quarantinePath := filepath.Join(quarantineDir, "eicar.com")
	writeFile(t, srcPath, "EICAR test content\n")
	writeFile(t, quarantinePath, "EICAR test content\n")

	tr := newTestTracker(t)
	if err := tr.Admit("hash1", srcPath, 20); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	d := New(Config{HashAlgo: hasher.SHA256}, tr, nil)

	v := task.Verdict{
		Task: task.FileTask{
			SourcePath:      srcPath,
			QuarantinePath:  quarantinePath,
			RelativeSubpath: "eicar.com",
			ContentHash:     "hash1",
		},
		Kind: task.VerdictSuspect,
	}

	if err := d.Dispatch(v, t.TempDir()); err == nil {
		t.Fatal("expected dispatch to fail when no hazard encryptor is configured")
	}

	if _, err := os.Stat(quarantinePath); err != nil {
		t.Fatal("quarantined copy must be left untouched for forensic recovery when no hazard encryptor is configured")
	}

	snap := tr.Snapshot()
	if snap.FailureCount != 1 {
		t.Fatalf("snapshot = %+v, want 1 failure", snap)
	}
}

func TestDispatchSuspect_EncryptionFailureKeepsQuarantine(t *testing.T) {
	srcDir, quarantineDir := t.TempDir(), t.TempDir()
	srcPath := filepath.Join(srcDir, "eicar.com")
	quarantinePath := filepath.Join(quarantineDir, "eicar.com")
	writeFile(t, srcPath, "EICAR test content\n")
	writeFile(t, quarantinePath, "EICAR test content\n")

	keyPath := writeTestPublicKey(t)

	// Pre-create a regular file where the hazard archive directory
	// should go, so Encrypt's os.MkdirAll fails and encryption errors.
	archiveParent := t.TempDir()
	archiveDir := filepath.Join(archiveParent, "blocked")
	writeFile(t, archiveDir, "not a directory")

	hz, err := hazard.New(archiveDir, keyPath)
	if err != nil {
		t.Fatalf("hazard.New: %v", err)
	}

	tr := newTestTracker(t)
	if err := tr.Admit("hash1", srcPath, 20); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	d := New(Config{HashAlgo: hasher.SHA256}, tr, hz)

	v := task.Verdict{
		Task: task.FileTask{
			SourcePath:      srcPath,
			QuarantinePath:  quarantinePath,
			RelativeSubpath: "eicar.com",
			ContentHash:     "hash1",
		},
		Kind: task.VerdictSuspect,
	}

	if err := d.Dispatch(v, t.TempDir()); err == nil {
		t.Fatal("expected dispatch to fail when hazard encryption fails")
	}

	if _, err := os.Stat(quarantinePath); err != nil {
		t.Fatal("quarantined copy must be left untouched for forensic recovery when encryption fails")
	}

	snap := tr.Snapshot()
	if snap.FailureCount != 1 {
		t.Fatalf("snapshot = %+v, want 1 failure", snap)
	}
}

func TestDispatchFailed_RemovesQuarantineLeavesSource(t *testing.T) {
	srcDir, quarantineDir := t.TempDir(), t.TempDir()
	srcPath := filepath.Join(srcDir, "a.txt")
	quarantinePath := filepath.Join(quarantineDir, "a.txt")
	writeFile(t, srcPath, "hello\n")
	writeFile(t, quarantinePath, "hello\n")

	tr := newTestTracker(t)
	if err := tr.Admit("hash1", srcPath, 6); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	d := New(Config{HashAlgo: hasher.SHA256}, tr, nil)

	v := task.Verdict{
		Task: task.FileTask{SourcePath: srcPath, QuarantinePath: quarantinePath, ContentHash: "hash1"},
		Kind: task.VerdictTimeout,
	}
	if err := d.Dispatch(v, t.TempDir()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, err := os.Stat(quarantinePath); !os.IsNotExist(err) {
		t.Fatal("expected quarantine copy removed")
	}
	if _, err := os.Stat(srcPath); err != nil {
		t.Fatal("expected source left in place on timeout")
	}

	snap := tr.Snapshot()
	if snap.FailureCount != 1 {
		t.Fatalf("snapshot = %+v, want 1 failure", snap)
	}
}
