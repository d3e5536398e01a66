package transform

import (
	"errors"
	"fmt"
	"strings"
)

type PayloadProcessor struct {
	// Pipeline transforms: Applied 0..N for encode, N..0 for decode.
	transforms []Transform
}

// NewPayloadProcessor creates a processor with a defined pipeline.
// Requires at least one transform. Use NewNoOpTransform() for an explicitly empty pipeline.
func NewPayloadProcessor(pipelineTransforms []Transform) (*PayloadProcessor, error) {
	if len(pipelineTransforms) == 0 {
		return nil, errors.New("payload processor requires at least one transform; use NewNoOpTransform() for an empty pipeline")
	}

	s := make([]Transform, len(pipelineTransforms))
	copy(s, pipelineTransforms)

	return &PayloadProcessor{
		transforms: s,
	}, nil
}

// NewStream builds fresh codec instances for one message. Encode walks the
// pipeline forward, decode walks it backward.
func (p *PayloadProcessor) NewStream(dir Direction) (*Stream, error) {
	stages := make([]stage, len(p.transforms))
	for i, t := range p.transforms {
		codec, err := t.NewCodec()
		if err != nil {
			return nil, fmt.Errorf("new stream: transform %d (%s): %w", i, t.Name(), err)
		}
		pos := i
		if dir == Decode {
			pos = len(p.transforms) - 1 - i
		}
		stages[pos] = stage{
			name:    t.Name(),
			codec:   codec,
			aligner: NewAligner(codec.BlockSize(dir)),
		}
	}
	return &Stream{dir: dir, stages: stages}, nil
}

// String lists the stage names in encode order.
func (p *PayloadProcessor) String() string {
	names := make([]string, len(p.transforms))
	for i, t := range p.transforms {
		names[i] = t.Name()
	}
	return strings.Join(names, "+")
}

// PrepareOutput encodes a whole payload in one pass.
func (p *PayloadProcessor) PrepareOutput(payload []byte) ([]byte, error) {
	return p.run(Encode, payload)
}

// ParseInput decodes a whole payload in one pass.
func (p *PayloadProcessor) ParseInput(payload []byte) ([]byte, error) {
	return p.run(Decode, payload)
}

func (p *PayloadProcessor) run(dir Direction, payload []byte) ([]byte, error) {
	s, err := p.NewStream(dir)
	if err != nil {
		return nil, err
	}
	head, err := s.Push(payload)
	if err != nil {
		return nil, err
	}
	// head may alias payload.
	out := make([]byte, len(head))
	copy(out, head)
	tail, err := s.Finish()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}
