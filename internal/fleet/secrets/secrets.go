// Package secrets encrypts workload game tokens at rest. The token must be
// replayed verbatim to the remote process, so this is deliberately symmetric
// encryption, not hashing: AES-256-GCM under a PBKDF2-derived key, stored as
// "salt:iv:tag:ciphertext" in hex.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/haxhost/fleet/pkg/errors"
)

const (
	saltLength = 64
	ivLength   = 16
	tagLength  = 16
	keyLength  = 32
	iterations = 100_000

	minMasterKeyLength = 32
)

// Encrypt seals plaintext under masterKey with a fresh salt and IV.
func Encrypt(plaintext, masterKey string) (string, error) {
	if err := checkKey(masterKey); err != nil {
		return "", err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens a payload produced by Encrypt. Tampered or truncated
// payloads fail authentication.
func Decrypt(payload, masterKey string) (string, error) {
	if err := checkKey(masterKey); err != nil {
		return "", err
	}

	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return "", errors.New("invalid encrypted payload format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(masterKey string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(masterKey), salt, iterations, keyLength, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func checkKey(masterKey string) error {
	if masterKey == "" {
		return errors.New("encryption key is not configured")
	}
	if len(masterKey) < minMasterKeyLength {
		return fmt.Errorf("encryption key must be at least %d characters", minMasterKeyLength)
	}
	return nil
}

// GenerateRoomToken returns a random token in the game's headless-token
// shape: thr1.<22 chars>.<16 chars>.
func GenerateRoomToken() string {
	return fmt.Sprintf("thr1.%s.%s", randomToken(22), randomToken(16))
}

func randomToken(length int) string {
	// base64 of N bytes yields ~4N/3 chars; over-provision, strip the
	// URL-unsafe characters and trim.
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	s := base64.RawStdEncoding.EncodeToString(raw)
	s = strings.NewReplacer("+", "", "/", "").Replace(s)
	for len(s) < length {
		more := make([]byte, length)
		if _, err := rand.Read(more); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		extra := base64.RawStdEncoding.EncodeToString(more)
		s += strings.NewReplacer("+", "", "/", "").Replace(extra)
	}
	return s[:length]
}
