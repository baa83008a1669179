package phi

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestParseKey(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		raw := testKey(t)
		key, err := ParseKey(hex.EncodeToString(raw))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(key) != KeySize {
			t.Errorf("got %d bytes, want %d", len(key), KeySize)
		}
	})

	t.Run("not hex", func(t *testing.T) {
		if _, err := ParseKey("zz"); err == nil {
			t.Fatal("expected error for non-hex input")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, err := ParseKey("deadbeef"); err == nil {
			t.Fatal("expected error for short key")
		}
	})
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.key")

	key1, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	if len(key1) != KeySize {
		t.Fatalf("got %d bytes, want %d", len(key1), KeySize)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	// A second load must return the persisted key, not a fresh one.
	key2, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("reload key file: %v", err)
	}
	if hex.EncodeToString(key1) != hex.EncodeToString(key2) {
		t.Error("reload returned a different key")
	}
}

func TestBlindIndexer(t *testing.T) {
	idx := NewBlindIndexer(testKey(t))

	t.Run("deterministic", func(t *testing.T) {
		if idx.Index("jane@example.com") != idx.Index("jane@example.com") {
			t.Error("same input should produce the same index")
		}
	})

	t.Run("normalized", func(t *testing.T) {
		if idx.Index("  Jane@Example.COM ") != idx.Index("jane@example.com") {
			t.Error("case and surrounding whitespace should not change the index")
		}
	})

	t.Run("distinct inputs", func(t *testing.T) {
		if idx.Index("jane@example.com") == idx.Index("john@example.com") {
			t.Error("different inputs should produce different indexes")
		}
	})

	t.Run("distinct keys", func(t *testing.T) {
		other := NewBlindIndexer(testKey(t))
		if idx.Index("jane@example.com") == other.Index("jane@example.com") {
			t.Error("different keys should produce different indexes")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if idx.Index("") != "" {
			t.Error("empty value should index to empty string")
		}
	})
}
