package wire

import "fmt"

// CodecErrorCode enumerates the ways decode can fail.
type CodecErrorCode int

const (
	BadMagic CodecErrorCode = iota
	TruncatedPayload
	UnknownField
	LengthMismatch
)

func (c CodecErrorCode) String() string {
	switch c {
	case BadMagic:
		return "bad_magic"
	case TruncatedPayload:
		return "truncated_payload"
	case UnknownField:
		return "unknown_field"
	case LengthMismatch:
		return "length_mismatch"
	default:
		return "unknown"
	}
}

// CodecError is returned by Decode; it never panics on malformed input.
type CodecError struct {
	Code    CodecErrorCode
	Message string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("wire: %s: %s", e.Code, e.Message)
}

func newCodecError(code CodecErrorCode, format string, args ...any) *CodecError {
	return &CodecError{Code: code, Message: fmt.Sprintf(format, args...)}
}
