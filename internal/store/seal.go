package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealingKey derives a 32-byte AES-256 key from the server's master secret
// via HKDF-SHA256, binding the derivation to a fixed info string so the
// same master secret could later be used to derive keys for other purposes
// without key reuse across them.
func sealingKey(masterSecret []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte("gotham-party-one/store/artifact-seal"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext with AES-256-GCM, prepending the nonce to the
// ciphertext so open() is self-contained.
func seal(masterSecret, plaintext []byte) ([]byte, error) {
	key, err := sealingKey(masterSecret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a blob produced by seal.
func open(masterSecret, sealed []byte) ([]byte, error) {
	key, err := sealingKey(masterSecret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed artifact shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
