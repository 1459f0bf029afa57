// Package cissa implements the DVB CISSA profile: AES-128-CBC over TS packet
// payloads with a fixed, public IV. The IV is reset for every packet, so each
// packet descrambles independently. Only the leading whole 16-byte blocks of
// a payload are ciphered; a trailing 1–15 bytes stay cleartext.
package cissa

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// iv is the fixed CISSA initialization vector ("DVBTMCPTAESCISSA").
var iv = [aes.BlockSize]byte{
	0x44, 0x56, 0x42, 0x54, 0x4D, 0x43, 0x50, 0x54,
	0x41, 0x45, 0x53, 0x43, 0x49, 0x53, 0x53, 0x41,
}

// ErrKeySize is returned for keys that are not 16 bytes.
var ErrKeySize = errors.New("cissa: key must be 16 bytes")

// Cipher holds one opened AES key.
type Cipher struct {
	block cipher.Block
}

// NewCipher opens an AES-128 key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cissa: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Decrypt deciphers a payload in place over the largest multiple of the AES
// block size. The IV is re-initialized per call.
func (c *Cipher) Decrypt(payload []byte) {
	n := len(payload) &^ (aes.BlockSize - 1)
	if n == 0 {
		return
	}
	cbcIV := iv
	cipher.NewCBCDecrypter(c.block, cbcIV[:]).CryptBlocks(payload[:n], payload[:n])
}

// Encrypt is the inverse of Decrypt; used by round-trip tests and stream
// generators.
func (c *Cipher) Encrypt(payload []byte) {
	n := len(payload) &^ (aes.BlockSize - 1)
	if n == 0 {
		return
	}
	cbcIV := iv
	cipher.NewCBCEncrypter(c.block, cbcIV[:]).CryptBlocks(payload[:n], payload[:n])
}
