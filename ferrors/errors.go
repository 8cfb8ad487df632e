// Package ferrors defines the tagged error kinds surfaced by the Futu
// OpenD gateway client core. Every package in this module wraps its
// failures in an *Error so callers can branch on Kind with errors.As
// instead of matching on error strings.
package ferrors

import "fmt"

// Kind identifies one of the error categories the core can surface.
type Kind int

const (
	// KindIO covers any socket read/write failure.
	KindIO Kind = iota
	// KindInvalidMagic is raised when the decoder sees the wrong magic bytes.
	KindInvalidMagic
	// KindBodyTooLarge is raised when a header declares a body over MAX_BODY_SIZE.
	KindBodyTooLarge
	// KindChecksumMismatch is raised when SHA-1 of the received body disagrees with the header.
	KindChecksumMismatch
	// KindInvalidCiphertext is raised when decryption input length is invalid.
	KindInvalidCiphertext
	// KindInvalidPadding is raised when PKCS#7 verification fails.
	KindInvalidPadding
	// KindDisconnected is raised when the read side hit EOF or the client tore down.
	KindDisconnected
	// KindSend is raised when a framed write failed.
	KindSend
	// KindReceive is raised on a non-EOF read failure.
	KindReceive
	// KindUnexpectedProto is raised when a handshake reply carries a different proto_id than requested.
	KindUnexpectedProto
	// KindServerError is raised when a handshake or domain reply carries a non-zero top-level code.
	KindServerError
	// KindInvalidState is raised when a client operation runs in a lifecycle state that doesn't permit it.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInvalidMagic:
		return "invalid_magic"
	case KindBodyTooLarge:
		return "body_too_large"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindInvalidCiphertext:
		return "invalid_ciphertext"
	case KindInvalidPadding:
		return "invalid_padding"
	case KindDisconnected:
		return "disconnected"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindUnexpectedProto:
		return "unexpected_proto"
	case KindServerError:
		return "server_error"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is the tagged error type every package in this module returns.
type Error struct {
	Kind     Kind
	Err      error  // underlying cause, may be nil
	ProtoID  uint32 // 0 when not applicable
	SerialNo uint32 // 0 when not applicable
	Code     int32  // ServerError top-level return code, when applicable
	Msg      string // ServerError message, when applicable
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindChecksumMismatch:
		return fmt.Sprintf("ferrors: checksum mismatch proto_id=%d serial_no=%d", e.ProtoID, e.SerialNo)
	case KindUnexpectedProto:
		return fmt.Sprintf("ferrors: unexpected proto_id=%d", e.ProtoID)
	case KindServerError:
		return fmt.Sprintf("ferrors: server error code=%d msg=%q", e.Code, e.Msg)
	case KindDisconnected:
		return "ferrors: disconnected"
	case KindInvalidState:
		return fmt.Sprintf("ferrors: invalid state: %s", e.Msg)
	default:
		if e.Err != nil {
			return fmt.Sprintf("ferrors: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("ferrors: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ferrors.Disconnected) match any *Error of that Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Disconnected is the sentinel every pending awaiter observes on teardown.
var Disconnected = &Error{Kind: KindDisconnected}

// New wraps err under the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ChecksumMismatch builds the tagged checksum-mismatch error for a frame.
func ChecksumMismatch(protoID, serialNo uint32) *Error {
	return &Error{Kind: KindChecksumMismatch, ProtoID: protoID, SerialNo: serialNo}
}

// UnexpectedProto builds the tagged error for a handshake reply with the wrong proto_id.
func UnexpectedProto(protoID uint32) *Error {
	return &Error{Kind: KindUnexpectedProto, ProtoID: protoID}
}

// ServerError builds the tagged error for a non-zero top-level return code.
func ServerError(code int32, msg string) *Error {
	return &Error{Kind: KindServerError, Code: code, Msg: msg}
}

// InvalidState builds the tagged error for an operation attempted in a
// lifecycle state that doesn't permit it.
func InvalidState(msg string) *Error {
	return &Error{Kind: KindInvalidState, Msg: msg}
}
