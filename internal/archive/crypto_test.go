package archive

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintext := []byte("acme account state and certificates")

	encrypted, err := Encrypt(plaintext, "correct horse")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	decrypted, err := Decrypt(encrypted, "correct horse")
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncrypt_OpenSSLFormat(t *testing.T) {
	encrypted, err := Encrypt([]byte("payload"), "pw")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	// Base64 with 64-column wrapping and a trailing newline
	text := string(encrypted)
	if !strings.HasSuffix(text, "\n") {
		t.Error("Expected trailing newline")
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if len(line) > 64 {
			t.Errorf("Line exceeds 64 columns: %d", len(line))
		}
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(text, "\n", ""))
	if err != nil {
		t.Fatalf("Output is not valid base64: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("Salted__")) {
		t.Error("Expected Salted__ header")
	}
	if len(raw) < 8+8+16 {
		t.Errorf("Encrypted payload too short: %d", len(raw))
	}
}

func TestEncrypt_FreshSaltPerCall(t *testing.T) {
	a, err := Encrypt([]byte("same input"), "pw")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("same input"), "pw")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("Expected distinct ciphertexts for the same input")
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	encrypted, err := Encrypt([]byte("secret state"), "right")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(encrypted, "wrong"); err == nil {
		t.Error("Expected error with wrong password")
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not base64", []byte("!!! not base64 !!!")},
		{"no header", []byte(base64.StdEncoding.EncodeToString([]byte("plain garbage content")))},
		{"truncated", []byte(base64.StdEncoding.EncodeToString([]byte("Salted__1234")))},
		{"empty", []byte("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.data, "pw"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEncryptDecrypt_LargePayload(t *testing.T) {
	plaintext := bytes.Repeat([]byte("0123456789abcdef"), 8192)

	encrypted, err := Encrypt(plaintext, "pw")
	if err != nil {
		t.Fatal(err)
	}
	decrypted, err := Decrypt(encrypted, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("Large payload round trip mismatch")
	}
}
