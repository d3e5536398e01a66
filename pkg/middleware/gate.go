package middleware

import (
	"mime"
	"strings"
)

// Mode is the treatment chosen for one message body.
type Mode uint8

const (
	Passthrough Mode = iota
	ModeEncode
	ModeDecode
)

func (m Mode) String() string {
	switch m {
	case ModeEncode:
		return "encode"
	case ModeDecode:
		return "decode"
	default:
		return "passthrough"
	}
}

// Gate decides whether a body goes through the pipeline by looking at its
// declared media type. Exactly one media type selects the transform.
type Gate struct {
	mediaType string
}

func NewGate(mediaType string) Gate {
	return Gate{mediaType: normalizeMediaType(mediaType)}
}

// Matches reports whether a Content-Type header value declares the
// transform media type. Parameters are ignored.
func (g Gate) Matches(contentType string) bool {
	if contentType == "" || g.mediaType == "" {
		return false
	}
	return normalizeMediaType(contentType) == g.mediaType
}

// ClassifyRequest returns ModeDecode for transformed request bodies.
func (g Gate) ClassifyRequest(contentType string) Mode {
	if g.Matches(contentType) {
		return ModeDecode
	}
	return Passthrough
}

// ClassifyResponse returns ModeEncode for responses the handler declared
// with the transform media type. Call it only after the handler has run.
func (g Gate) ClassifyResponse(contentType string) Mode {
	if g.Matches(contentType) {
		return ModeEncode
	}
	return Passthrough
}

func normalizeMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		// A malformed parameter list still yields the bare token.
		mt, _, _ = strings.Cut(v, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
