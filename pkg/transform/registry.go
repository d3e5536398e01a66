package transform

import (
	"fmt"
	"strings"
)

// Names of the available pipeline stages.
const (
	NameBase64 = "base64"
	NameAESCBC = "aes-cbc"
	NameNoOp   = "noop"
)

// Key carries the cipher material shared by every message.
type Key struct {
	Key []byte
	IV  []byte
}

// FromName builds the named stage. Only the cipher stage reads key.
func FromName(name string, key Key) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameBase64:
		return NewBase64Transform(), nil
	case NameAESCBC, "aes":
		return NewAESCBCTransform(key.Key, key.IV)
	case NameNoOp, "":
		return NewNoOpTransform(), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

// NewProcessorFromNames builds a processor whose encode order follows names.
func NewProcessorFromNames(names []string, key Key) (*PayloadProcessor, error) {
	transforms := make([]Transform, 0, len(names))
	for _, name := range names {
		t, err := FromName(name, key)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}
	return NewPayloadProcessor(transforms)
}
