// Package fieldcrypt encrypts the free-text fields of a report.
//
// Ciphertext uses the OpenSSL "Salted__" envelope (AES-256-CBC, PKCS#7,
// EVP_BytesToKey with MD5) encoded as standard base64, which is the format
// the mobile client writes with a passphrase key. Records produced by either
// side decrypt on the other.
package fieldcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"safereport/internal/domain/apperr"
)

const (
	saltHeader = "Salted__"
	saltLen    = 8
	keyLen     = 32
)

// KeySource returns the current passphrase. It is consulted on every call so
// a key removed from configuration fails the next operation instead of being
// remembered.
type KeySource func() string

// StaticKey returns a KeySource for a fixed passphrase
func StaticKey(key string) KeySource {
	return func() string { return key }
}

// Codec encrypts and decrypts report text fields
type Codec struct {
	key  KeySource
	rand io.Reader
}

// NewCodec creates a codec reading its passphrase from key
func NewCodec(key KeySource) *Codec {
	return &Codec{key: key, rand: rand.Reader}
}

func (c *Codec) passphrase(op string) ([]byte, error) {
	if c == nil || c.key == nil {
		return nil, apperr.Configuration(op, "encryption key source not configured")
	}
	k := c.key()
	if k == "" {
		return nil, apperr.Configuration(op, "encryption key is not set")
	}
	return []byte(k), nil
}

// Encrypt returns the base64 envelope for plaintext
func (c *Codec) Encrypt(plaintext string) (string, error) {
	pass, err := c.passphrase("encrypt")
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", apperr.Crypto("encrypt", err, "read salt")
	}

	key, iv := deriveKeyIV(pass, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Crypto("encrypt", err, "init cipher")
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(saltHeader)+saltLen+len(padded))
	copy(out, saltHeader)
	copy(out[len(saltHeader):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(saltHeader)+saltLen:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed input fails with a crypto error.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	pass, err := c.passphrase("decrypt")
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperr.Crypto("decrypt", err, "invalid base64")
	}
	prefix := len(saltHeader) + saltLen
	if len(raw) < prefix+aes.BlockSize || !bytes.HasPrefix(raw, []byte(saltHeader)) {
		return "", apperr.Crypto("decrypt", nil, "missing salted envelope")
	}
	body := raw[prefix:]
	if len(body)%aes.BlockSize != 0 {
		return "", apperr.Crypto("decrypt", nil, "ciphertext is not a whole number of blocks")
	}

	key, iv := deriveKeyIV(pass, raw[len(saltHeader):prefix])
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Crypto("decrypt", err, "init cipher")
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", apperr.Crypto("decrypt", err, "bad padding")
	}
	if !utf8.Valid(plain) {
		return "", apperr.Crypto("decrypt", nil, "plaintext is not valid UTF-8")
	}
	return string(plain), nil
}

// deriveKeyIV is OpenSSL's EVP_BytesToKey with MD5 and one iteration
func deriveKeyIV(pass, salt []byte) (key, iv []byte) {
	var (
		out  []byte
		prev []byte
	)
	for len(out) < keyLen+aes.BlockSize {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen], out[keyLen : keyLen+aes.BlockSize]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

var errPadding = errors.New("invalid PKCS#7 padding")

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: length byte %d", errPadding, n)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errPadding
		}
	}
	return b[:len(b)-n], nil
}
