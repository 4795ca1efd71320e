package services

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// ivSize is the AES block size; a fresh random IV is generated per record
// and prepended to the ciphertext, so the stored blob is
// base64(iv || ciphertext).
const ivSize = aes.BlockSize

// Cipher provides AES-256-CBC encryption for credential material at rest.
// If nil, storage runs in degraded mode: blobs are base64-encoded
// plaintext. Callers must surface that mode to operators loudly.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a Cipher from a hex-encoded 32-byte key.
// Returns nil if hexKey is empty (encryption disabled).
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	return &Cipher{block: block}, nil
}

// Seal encrypts a plaintext credential into the stored blob format.
// If the cipher is nil, the plaintext is only base64-encoded.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if c == nil {
		return base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, ivSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[ivSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a stored blob back to the plaintext credential.
// If the cipher is nil, the blob is treated as base64-encoded plaintext.
func (c *Cipher) Open(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: not valid base64: %v", ErrDecryption, err)
	}

	if c == nil {
		return string(data), nil
	}

	if len(data) < ivSize || (len(data)-ivSize)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: malformed blob (%d bytes)", ErrDecryption, len(data))
	}

	iv, ciphertext := data[:ivSize], data[ivSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(unpadded), nil
}

// Enabled reports whether real encryption is configured.
func (c *Cipher) Enabled() bool {
	return c != nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
