package transform

import "fmt"

// Direction selects which way a payload flows through the pipeline.
type Direction uint8

const (
	Encode Direction = iota
	Decode
)

func (d Direction) String() string {
	switch d {
	case Encode:
		return "encode"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Codec is a reversible byte transform bound to a single message.
//
// Encode and Decode only ever receive inputs whose length is a multiple of
// BlockSize for that direction. Whatever is left at end of stream (always
// shorter than one unit) is handed to Finalize exactly once.
type Codec interface {
	BlockSize(dir Direction) int
	Encode(p []byte) ([]byte, error)
	Decode(p []byte) ([]byte, error)
	Finalize(dir Direction, tail []byte) ([]byte, error)
}

// Transform is the process-wide, read-only description of one pipeline
// stage. NewCodec returns a fresh Codec owned by one message.
type Transform interface {
	Name() string
	NewCodec() (Codec, error)
}

type noOpTransform struct{}

func NewNoOpTransform() Transform { return noOpTransform{} }

func (noOpTransform) Name() string             { return "noop" }
func (noOpTransform) NewCodec() (Codec, error) { return noOpCodec{}, nil }

type noOpCodec struct{}

func (noOpCodec) BlockSize(Direction) int                    { return 1 }
func (noOpCodec) Encode(p []byte) ([]byte, error)            { return p, nil }
func (noOpCodec) Decode(p []byte) ([]byte, error)            { return p, nil }
func (noOpCodec) Finalize(Direction, []byte) ([]byte, error) { return nil, nil }
