// Package fieldcrypt encrypts individual sensitive text columns.
//
// Values are serialized as hex(iv) ":" hex(ciphertext).  New values use
// AES-256-GCM with a 12-byte nonce.  Values written by the earlier Node
// deployment use AES-256-CBC with a 16-byte IV and PKCS#7 padding; they are
// recognised by IV length and still decrypt.
package fieldcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	delimiter = ":"
	gcmNonce  = 12
	cbcIV     = aes.BlockSize
)

// ErrKeySize is returned by New for keys that are not 32 bytes.
var ErrKeySize = errors.New("fieldcrypt: key must be 32 bytes")

// Cipher is safe for concurrent use; the key is fixed at construction.
type Cipher struct {
	block cipher.Block
	aead  cipher.AEAD
}

// New builds a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, aead: aead}, nil
}

// NewFromHex parses a 64-character hex key, the form ENCRYPTION_KEY is configured in.
func NewFromHex(s string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: decode key: %w", err)
	}
	return New(key)
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonce)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + delimiter + hex.EncodeToString(ct), nil
}

// Decrypt opens a serialized value.  Anything that fails to decrypt (wrong
// shape, bad hex, wrong key, tampered ciphertext, bad padding) yields "".
func (c *Cipher) Decrypt(serialized string) string {
	pt, err := c.Open(serialized)
	if err != nil {
		return ""
	}
	return pt
}

// Open is the strict form of Decrypt for callers that need the reason.
func (c *Cipher) Open(serialized string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(serialized, delimiter)
	if !ok || ivHex == "" || ctHex == "" {
		return "", errors.New("fieldcrypt: malformed value")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: iv: %w", err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: ciphertext: %w", err)
	}
	switch len(iv) {
	case gcmNonce:
		pt, err := c.aead.Open(nil, iv, ct, nil)
		if err != nil {
			return "", err
		}
		return string(pt), nil
	case cbcIV:
		return c.openCBC(iv, ct)
	}
	return "", fmt.Errorf("fieldcrypt: unexpected iv length %d", len(iv))
}

func (c *Cipher) openCBC(iv, ct []byte) (string, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.New("fieldcrypt: ciphertext not block aligned")
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(pt, ct)
	n := int(pt[len(pt)-1])
	if n == 0 || n > aes.BlockSize || !bytes.Equal(pt[len(pt)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return "", errors.New("fieldcrypt: bad padding")
	}
	return string(pt[:len(pt)-n]), nil
}
