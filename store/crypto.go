package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

const encPrefix = "enc:"

var ErrEmptyToken = errors.New("token is empty")

// TokenCodec encodes integration tokens for storage. With a key it seals them with AES-GCM,
// otherwise it only base64 encodes them. Decode accepts all stored forms, including legacy
// plain text.
type TokenCodec struct {
	gcm cipher.AEAD
}

func NewTokenCodec(key string) (*TokenCodec, error) {
	if key == "" {
		return &TokenCodec{}, nil
	}
	encKey := sha256.Sum256([]byte("enc:" + key))
	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCodec{gcm: gcm}, nil
}

func (c *TokenCodec) Encode(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if c == nil || c.gcm == nil {
		return base64.StdEncoding.EncodeToString([]byte(token)), nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nil, nonce, []byte(token), nil)
	return encPrefix + base64.RawStdEncoding.EncodeToString(nonce) + ":" + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *TokenCodec) Decode(stored string) (string, error) {
	if stored == "" {
		return "", ErrEmptyToken
	}
	if strings.HasPrefix(stored, encPrefix) {
		if c == nil || c.gcm == nil {
			return "", errors.New("encrypted token but no data key configured")
		}
		parts := strings.SplitN(strings.TrimPrefix(stored, encPrefix), ":", 2)
		if len(parts) != 2 {
			return "", errors.New("invalid encrypted payload")
		}
		nonce, err := base64.RawStdEncoding.DecodeString(parts[0])
		if err != nil {
			return "", err
		}
		sealed, err := base64.RawStdEncoding.DecodeString(parts[1])
		if err != nil {
			return "", err
		}
		plain, err := c.gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return "", err
		}
		return string(plain), nil
	}
	if raw, err := base64.StdEncoding.DecodeString(stored); err == nil && utf8.Valid(raw) {
		return string(raw), nil
	}
	return stored, nil
}

// ValidToken reports whether token looks like a Notion integration secret.
func ValidToken(token string) bool {
	return len(token) > 20
}
