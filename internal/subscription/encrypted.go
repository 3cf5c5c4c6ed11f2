package subscription

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"strings"

	pkgerrors "corpvpn/pkg/errors"
)

// The encrypted list is a 16-byte IV followed by AES-256-CBC ciphertext
// with PKCS#7 padding. The key is the SHA-256 of a shared passphrase.

// LoadEncryptedList reads and decrypts the list file at path.
func LoadEncryptedList(path, passphrase string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted list: %w", err)
	}
	return DecryptList(data, passphrase)
}

// DecryptList returns the distinct absolute URLs of an encrypted list.
// Blank lines and # comments are skipped; duplicates compare
// case-insensitively. A file too short to hold ciphertext is an empty list.
func DecryptList(data []byte, passphrase string) ([]string, error) {
	if len(data) <= aes.BlockSize {
		return nil, nil
	}
	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", pkgerrors.ErrSubscriptionDecodeFailed)
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (wrong key?)", pkgerrors.ErrSubscriptionDecodeFailed, err)
	}
	return parseList(string(plain)), nil
}

// EncryptList builds an encrypted list file from urls, one per line.
func EncryptList(urls []string, passphrase string) ([]byte, error) {
	plain := pad([]byte(strings.Join(urls, "\n")))

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, aes.BlockSize+len(plain))
	if _, err := rand.Read(out[:aes.BlockSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], plain)
	return out, nil
}

func parseList(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || !u.IsAbs() || u.Host == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		urls = append(urls, line)
	}
	return urls
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
