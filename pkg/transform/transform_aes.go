package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

type aesCBCTransform struct {
	key []byte
	iv  []byte
}

// NewAESCBCTransform returns an AES-CBC stage with PKCS#7 padding. The key
// must be 16, 24 or 32 bytes and the IV exactly one block. Every message is
// encrypted under the same IV.
func NewAESCBCTransform(key, iv []byte) (Transform, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV length %d, want %d", ErrCipherConfiguration, len(iv), aes.BlockSize)
	}
	if _, err := aes.NewCipher(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherConfiguration, err)
	}
	t := &aesCBCTransform{
		key: make([]byte, len(key)),
		iv:  make([]byte, len(iv)),
	}
	copy(t.key, key)
	copy(t.iv, iv)
	return t, nil
}

func (t *aesCBCTransform) Name() string { return "aes-cbc" }

func (t *aesCBCTransform) NewCodec() (Codec, error) {
	block, err := aes.NewCipher(t.key)
	if err != nil {
		return nil, fmt.Errorf("aes-cbc: failed to create cipher block: %w", err)
	}
	return &cbcCodec{
		enc: cipher.NewCBCEncrypter(block, t.iv),
		dec: cipher.NewCBCDecrypter(block, t.iv),
	}, nil
}

type cbcCodec struct {
	enc cipher.BlockMode
	dec cipher.BlockMode
	// held is the last decrypted block, kept back until we know whether it
	// carries the padding.
	held []byte
}

func (c *cbcCodec) BlockSize(Direction) int { return aes.BlockSize }

func (c *cbcCodec) Encode(p []byte) ([]byte, error) {
	if len(p)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aes-cbc encode: misaligned input of %d bytes", len(p))
	}
	dst := make([]byte, len(p))
	c.enc.CryptBlocks(dst, p)
	return dst, nil
}

func (c *cbcCodec) Decode(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if len(p)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes is not block aligned", ErrPadding, len(p))
	}
	plain := make([]byte, len(p))
	c.dec.CryptBlocks(plain, p)

	last := len(plain) - aes.BlockSize
	out := make([]byte, 0, len(c.held)+last)
	out = append(out, c.held...)
	out = append(out, plain[:last]...)
	c.held = append(c.held[:0], plain[last:]...)
	return out, nil
}

func (c *cbcCodec) Finalize(dir Direction, tail []byte) ([]byte, error) {
	if dir == Encode {
		padded := pkcs7Pad(tail, aes.BlockSize)
		dst := make([]byte, len(padded))
		c.enc.CryptBlocks(dst, padded)
		return dst, nil
	}
	if len(tail) != 0 {
		return nil, fmt.Errorf("%w: ciphertext truncated by %d bytes", ErrPadding, aes.BlockSize-len(tail))
	}
	if len(c.held) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrPadding)
	}
	out, err := pkcs7Unpad(c.held, aes.BlockSize)
	c.held = nil
	return out, err
}

// pkcs7Pad pads data using PKCS#7 to a multiple of blockSize.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	for i := 0; i < padding; i++ {
		out = append(out, byte(padding))
	}
	return out
}

// pkcs7Unpad removes PKCS#7 padding from data.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid data size %d", ErrPadding, len(data))
	}
	padding := data[len(data)-1]
	if int(padding) > blockSize || padding == 0 {
		return nil, fmt.Errorf("%w: invalid padding size %d", ErrPadding, padding)
	}
	// Verify that all padding bytes are equal.
	for i := len(data) - int(padding); i < len(data); i++ {
		if data[i] != padding {
			return nil, fmt.Errorf("%w: inconsistent padding bytes", ErrPadding)
		}
	}
	return data[:len(data)-int(padding)], nil
}
