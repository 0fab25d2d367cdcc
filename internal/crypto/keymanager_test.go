package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("round trip = %s, want %s", got, testKeyHex)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("DecryptKey accepted the wrong password")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := EncryptKey("zzzz", "pw"); err == nil {
		t.Error("non-hex key accepted")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Error("short key accepted")
	}
}

func TestLoadKey(t *testing.T) {
	// Raw key wins and loses its prefix.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	if err != nil || got != testKeyHex {
		t.Errorf("LoadKey raw = (%s, %v)", got, err)
	}

	// Encrypted file path.
	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || got != testKeyHex {
		t.Errorf("LoadKey encrypted = (%s, %v)", got, err)
	}

	// No source.
	if _, err := LoadKey(KeyConfig{}); err == nil || !strings.Contains(err.Error(), "no key source") {
		t.Errorf("LoadKey empty = %v, want no-source error", err)
	}
}
