// Package crypto resolves the signing key for the execution wallet. Keys
// sit on disk encrypted; the raw-hex path exists for development setups.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations follows the OWASP minimum for PBKDF2-HMAC-SHA256.
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32

	// fileVersion is bumped whenever the key file layout changes.
	fileVersion = 1
)

// keyFile is the on-disk layout of an encrypted wallet key. All binary
// fields are standard base64.
type keyFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the sources LoadKey may resolve the wallet key from.
type KeyConfig struct {
	// RawPrivateKey is a hex key, 0x prefix optional. When set it wins
	// over the encrypted file.
	RawPrivateKey string
	// EncryptedKeyPath points at a file written by EncryptKey.
	EncryptedKeyPath string
	// KeyPassword unlocks the file at EncryptedKeyPath.
	KeyPassword string
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New)
}

func newGCM(derived []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under a password with PBKDF2 and
// AES-256-GCM, returning the JSON key file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: want a 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	out := keyFile{
		Version:    fileVersion,
		KDF:        "pbkdf2-sha256",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a key file written by EncryptKey and returns the hex
// private key without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if stored.Version != fileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt failed, check the password: %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the wallet key: the raw hex key when configured, the
// encrypted file otherwise.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no key source configured, set a raw key or an encrypted key path")
}
