package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Format compatible with `openssl enc -aes256 -base64 -pbkdf2 -iter 100000`:
// base64 of "Salted__" + 8-byte salt + AES-256-CBC ciphertext, with the key
// and IV derived via PBKDF2-SHA256. Archives written by the openssl CLI
// remain restorable and vice versa.
const (
	kdfIterations = 100000
	saltSize      = 8
	keySize       = 32
	base64Cols    = 64
)

var opensslMagic = []byte("Salted__")

// Encrypt encrypts plaintext with the given password
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, iv := deriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	raw := make([]byte, 0, len(opensslMagic)+saltSize+len(ciphertext))
	raw = append(raw, opensslMagic...)
	raw = append(raw, salt...)
	raw = append(raw, ciphertext...)

	return wrapBase64(raw), nil
}

// Decrypt decrypts data produced by Encrypt or by the openssl CLI
func Decrypt(data []byte, password string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(string(data))
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}

	if len(raw) < len(opensslMagic)+saltSize || !bytes.HasPrefix(raw, opensslMagic) {
		return nil, fmt.Errorf("archive has no salt header")
	}
	salt := raw[len(opensslMagic) : len(opensslMagic)+saltSize]
	ciphertext := raw[len(opensslMagic)+saltSize:]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("archive ciphertext has invalid length %d", len(ciphertext))
	}

	key, iv := deriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt archive (wrong key?): %w", err)
	}

	return unpadded, nil
}

func deriveKeyIV(password string, salt []byte) (key, iv []byte) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, keySize+aes.BlockSize, sha256.New)
	return derived[:keySize], derived[keySize:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}

// wrapBase64 encodes with line breaks every 64 columns, matching the
// openssl base64 writer so its CLI can decode our output
func wrapBase64(raw []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(raw)
	var buf bytes.Buffer
	for len(encoded) > base64Cols {
		buf.WriteString(encoded[:base64Cols])
		buf.WriteByte('\n')
		encoded = encoded[base64Cols:]
	}
	buf.WriteString(encoded)
	buf.WriteByte('\n')
	return buf.Bytes()
}
