package idp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateSigningKeyPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateSigningKey(dir, testLogger())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.Kid != SigningKid {
		t.Errorf("kid = %q, want %q", first.Kid, SigningKid)
	}

	info, err := os.Stat(filepath.Join(dir, "signing-key.json"))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	// A second start reads the same key back.
	second, err := LoadOrCreateSigningKey(dir, testLogger())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.Private.N.Cmp(first.Private.N) != 0 {
		t.Error("reloaded key differs from the generated one")
	}
}

func TestLoadSigningKeyRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "signing-key.json"), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateSigningKey(dir, testLogger()); err == nil {
		t.Fatal("expected an error for a corrupt key file")
	}
}
