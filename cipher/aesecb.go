// Package cipher implements AES-128-ECB with PKCS#7 padding, the one
// symmetric-encryption scheme Futu OpenD speaks. ECB is what the gateway
// uses on the wire; interoperability requires matching its exact
// padding semantics, including the full-block pad case a block-aligned
// input gets.
//
// Go's golang.org/x/crypto deliberately does not expose ECB mode (it is
// unsafe for general-purpose use), so this is built directly on
// crypto/aes + crypto/cipher's block primitives, the same layer
// other_examples' rlpx framing reaches for when it needs block-level
// control no higher-level library offers.
package cipher

import (
	stdcipher "crypto/cipher"

	"crypto/aes"

	"futuopend/ferrors"
)

const blockSize = 16

// AESECB encrypts and decrypts bodies with a fixed 16-byte key.
type AESECB struct {
	block stdcipher.Block
}

// New constructs an AESECB from a 16-byte key.
func New(key []byte) (*AESECB, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ferrors.New(ferrors.KindIO, err)
	}
	return &AESECB{block: block}, nil
}

// Encrypt pads data with PKCS#7 and encrypts it one block at a time.
// A multiple-of-16 input still gets a full 16-byte pad block, so the
// output is always strictly longer than the input.
func (c *AESECB) Encrypt(data []byte) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	for off := 0; off < len(out); off += blockSize {
		c.block.Encrypt(out[off:off+blockSize], out[off:off+blockSize])
	}
	return out
}

// Decrypt decrypts data one block at a time and strips PKCS#7 padding.
func (c *AESECB) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ferrors.New(ferrors.KindInvalidCiphertext, nil)
	}

	out := make([]byte, len(data))
	for off := 0; off < len(data); off += blockSize {
		c.block.Decrypt(out[off:off+blockSize], data[off:off+blockSize])
	}

	padLen := int(out[len(out)-1])
	if padLen < 1 || padLen > blockSize || padLen > len(out) {
		return nil, ferrors.New(ferrors.KindInvalidPadding, nil)
	}
	for _, b := range out[len(out)-padLen:] {
		if int(b) != padLen {
			return nil, ferrors.New(ferrors.KindInvalidPadding, nil)
		}
	}
	return out[:len(out)-padLen], nil
}
