package fieldcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	for _, s := range []string{"x", "Type 2 diabetes", "notes: ünïcödé ✓", strings.Repeat("long ", 500)} {
		enc, err := c.Encrypt(s)
		require.NoError(t, err)
		assert.NotContains(t, enc, s)
		assert.Equal(t, s, c.Decrypt(enc))
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	ivA, _, _ := strings.Cut(a, ":")
	ivB, _, _ := strings.Cut(b, ":")
	assert.NotEqual(t, ivA, ivB)
}

func TestDecrypt_GarbageYieldsEmpty(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	for _, in := range []string{
		"",
		"plain text",
		":",
		"zz:zz",
		"00112233445566778899aabb:",
		"0011:deadbeef",
		"00112233445566778899aabb:deadbeef",
		"00112233445566778899aabbccddeeff:00",
		strings.Repeat("ab", 12) + ":" + strings.Repeat("cd", 32),
	} {
		assert.Equal(t, "", c.Decrypt(in), in)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, err := New(testKey(1))
	require.NoError(t, err)
	b, err := New(testKey(2))
	require.NoError(t, err)

	enc, err := a.Encrypt("secret diagnosis")
	require.NoError(t, err)
	assert.Equal(t, "", b.Decrypt(enc))
}

func TestDecrypt_Tampered(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)
	enc, err := c.Encrypt("secret diagnosis")
	require.NoError(t, err)

	b := []byte(enc)
	last := len(b) - 1
	if b[last] == '0' {
		b[last] = '1'
	} else {
		b[last] = '0'
	}
	assert.Equal(t, "", c.Decrypt(string(b)))
}

// legacyEncrypt reproduces the aes-256-cbc format of existing rows.
func legacyEncrypt(t *testing.T, key []byte, iv []byte, text string) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	pad := aes.BlockSize - len(text)%aes.BlockSize
	pt := append([]byte(text), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ct := make([]byte, len(pt))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, pt)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
}

func TestDecrypt_LegacyCBC(t *testing.T) {
	key := testKey(7)
	c, err := New(key)
	require.NoError(t, err)

	iv := bytes.Repeat([]byte{9}, aes.BlockSize)
	for _, s := range []string{"a", "exactly sixteen!", "hypertension, follow-up in 3 months"} {
		assert.Equal(t, s, c.Decrypt(legacyEncrypt(t, key, iv, s)))
	}
}

func TestNew_KeySize(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = NewFromHex("not-hex")
	assert.Error(t, err)

	c, err := NewFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.NotNil(t, c)
}
