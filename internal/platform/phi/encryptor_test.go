package phi

import (
	"crypto/rand"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestNewEncryptor(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		enc, err := NewEncryptor(testKey(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if enc == nil {
			t.Fatal("expected non-nil encryptor")
		}
	})

	t.Run("key too short", func(t *testing.T) {
		if _, err := NewEncryptor(make([]byte, 16)); err == nil {
			t.Fatal("expected error for 16-byte key")
		}
	})

	t.Run("key too long", func(t *testing.T) {
		if _, err := NewEncryptor(make([]byte, 64)); err == nil {
			t.Fatal("expected error for 64-byte key")
		}
	})

	t.Run("empty key", func(t *testing.T) {
		if _, err := NewEncryptor(nil); err == nil {
			t.Fatal("expected error for empty key")
		}
	})
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}

	cases := []string{
		"Jane Doe",
		"jane.doe@example.com",
		"severe headache for the past 3 days, worse in the mornings",
		"+1 555 0100",
		"\x00\x01\x02binary data\xff\xfe",
	}

	for _, plaintext := range cases {
		t.Run(plaintext, func(t *testing.T) {
			token, err := enc.Encrypt(plaintext)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if token == plaintext {
				t.Fatal("token should differ from plaintext")
			}

			decrypted, err := enc.Decrypt(token)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if decrypted != plaintext {
				t.Errorf("roundtrip failed: got %q, want %q", decrypted, plaintext)
			}
		})
	}
}

func TestEncryptProducesDifferentTokens(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}

	plaintext := "recurring chest pain, 7/10"
	t1, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	t2, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}

	if t1 == t2 {
		t.Error("encrypting the same plaintext twice should produce different tokens due to unique nonces")
	}

	d1, _ := enc.Decrypt(t1)
	d2, _ := enc.Decrypt(t2)
	if d1 != plaintext || d2 != plaintext {
		t.Error("both tokens should decrypt to the original plaintext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}

	t.Run("not base64", func(t *testing.T) {
		if _, err := enc.Decrypt("!!not base64!!"); err == nil {
			t.Fatal("expected error for malformed token")
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := enc.Decrypt("QUJD"); err == nil {
			t.Fatal("expected error for truncated token")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := enc.Encrypt("confidential")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		other, err := NewEncryptor(testKey(t))
		if err != nil {
			t.Fatalf("create second encryptor: %v", err)
		}
		if _, err := other.Decrypt(token); err == nil {
			t.Fatal("expected auth failure decrypting with a different key")
		}
	})
}
