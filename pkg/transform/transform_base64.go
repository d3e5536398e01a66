package transform

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

var b64 = base64.StdEncoding.Strict()

type base64Transform struct{}

// NewBase64Transform maps every 3 raw bytes to 4 characters of the standard
// alphabet, padding only the final group.
func NewBase64Transform() Transform { return base64Transform{} }

func (base64Transform) Name() string             { return "base64" }
func (base64Transform) NewCodec() (Codec, error) { return &base64Codec{}, nil }

type base64Codec struct {
	// padded is set once a group carrying '=' has been decoded; nothing may follow it.
	padded bool
}

func (c *base64Codec) BlockSize(dir Direction) int {
	if dir == Decode {
		return 4
	}
	return 3
}

func (c *base64Codec) Encode(p []byte) ([]byte, error) {
	if len(p)%3 != 0 {
		return nil, fmt.Errorf("base64 encode: misaligned input of %d bytes", len(p))
	}
	dst := make([]byte, b64.EncodedLen(len(p)))
	b64.Encode(dst, p)
	return dst, nil
}

func (c *base64Codec) Decode(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if len(p)%4 != 0 {
		return nil, fmt.Errorf("%w: base64 input of %d bytes is not a multiple of 4", ErrMalformedInput, len(p))
	}
	if c.padded {
		return nil, fmt.Errorf("%w: base64 data after padding", ErrMalformedInput)
	}
	// The stdlib decoder skips line breaks, which would desynchronise alignment.
	if i := bytes.IndexAny(p, "\r\n"); i >= 0 {
		return nil, fmt.Errorf("%w: base64 line break at offset %d", ErrMalformedInput, i)
	}
	dst := make([]byte, b64.DecodedLen(len(p)))
	n, err := b64.Decode(dst, p)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %w", ErrMalformedInput, err)
	}
	c.padded = p[len(p)-1] == '='
	return dst[:n], nil
}

func (c *base64Codec) Finalize(dir Direction, tail []byte) ([]byte, error) {
	if dir == Decode {
		if len(tail) != 0 {
			return nil, fmt.Errorf("%w: base64 input ends with %d dangling bytes", ErrMalformedInput, len(tail))
		}
		return nil, nil
	}
	if len(tail) == 0 {
		return nil, nil
	}
	dst := make([]byte, b64.EncodedLen(len(tail)))
	b64.Encode(dst, tail)
	return dst, nil
}
