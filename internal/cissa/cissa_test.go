package cissa

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

var testKey = []byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
}

func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 3)
	}
	return p
}

func TestNewCipher_keySize(t *testing.T) {
	for _, n := range []int{0, 8, 15, 17, 32} {
		if _, err := NewCipher(make([]byte, n)); err == nil {
			t.Errorf("NewCipher(len=%d) accepted a bad key", n)
		}
	}
	if _, err := NewCipher(testKey); err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{16, 32, 160, 176, 184} {
		plain := testPayload(n)
		buf := append([]byte(nil), plain...)
		c.Encrypt(buf)
		if bytes.Equal(buf[:16], plain[:16]) {
			t.Errorf("len=%d: Encrypt left the first block unchanged", n)
		}
		c.Decrypt(buf)
		if !bytes.Equal(buf, plain) {
			t.Errorf("len=%d: round trip mismatch", n)
		}
	}
}

func TestTrailingBytesUntouched(t *testing.T) {
	c, _ := NewCipher(testKey)
	// 184-byte TS payload: 176 bytes ciphered, last 8 untouched.
	plain := testPayload(184)
	buf := append([]byte(nil), plain...)
	c.Encrypt(buf)
	if !bytes.Equal(buf[176:], plain[176:]) {
		t.Error("Encrypt touched the trailing partial block")
	}
	c.Decrypt(buf)
	if !bytes.Equal(buf, plain) {
		t.Error("round trip mismatch")
	}
}

func TestSubBlockPayloadUntouched(t *testing.T) {
	c, _ := NewCipher(testKey)
	for _, n := range []int{0, 1, 15} {
		plain := testPayload(n)
		buf := append([]byte(nil), plain...)
		c.Decrypt(buf)
		if !bytes.Equal(buf, plain) {
			t.Errorf("len=%d: Decrypt touched a sub-block payload", n)
		}
	}
}

// TestFixedIV pins the ciphertext to a reference CBC pass with the published
// IV so an accidental IV change cannot slip through.
func TestFixedIV(t *testing.T) {
	wantIV := []byte("DVBTMCPTAESCISSA")
	block, err := aes.NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}
	plain := testPayload(48)
	want := make([]byte, 48)
	cipher.NewCBCEncrypter(block, wantIV).CryptBlocks(want, plain)

	c, _ := NewCipher(testKey)
	got := append([]byte(nil), plain...)
	c.Encrypt(got)
	if !bytes.Equal(got, want) {
		t.Errorf("ciphertext does not match CBC with the CISSA IV\n got %X\nwant %X", got, want)
	}
}

// TestIVResetPerPacket verifies two identical payloads produce identical
// ciphertext: no CBC state leaks across packets.
func TestIVResetPerPacket(t *testing.T) {
	c, _ := NewCipher(testKey)
	a := testPayload(64)
	b := testPayload(64)
	c.Encrypt(a)
	c.Encrypt(b)
	if !bytes.Equal(a, b) {
		t.Error("ciphertext differs across packets: IV not reset")
	}
}
