// Package protocol implements the Futu OpenD wire frame: a 44-byte
// header carrying a SHA-1 body checksum, followed by a variable-length
// body. It solves TCP's sticky packet problem by reading the fixed
// header first to learn the body length — but the header here
// additionally integrity-checks the body, since the gateway has no
// transport-level framing guarantees of its own.
//
// Frame format:
//
//	0   2        6  7  8        12         16              36      44
//	┌───┬────────┬──┬──┬────────┬──────────┬───────────────┬───────┬────────...
//	│FT │proto_id│ft│v │serial  │ body_len │   body_sha1    │ rsvd  │  body
//	│2  │u32 LE  │1 │1 │u32 LE  │ u32 LE   │   20 bytes     │8 zero │ body_len bytes
//	└───┴────────┴──┴──┴────────┴──────────┴───────────────┴───────┴────────...
package protocol

import (
	"crypto/sha1"
	"encoding/binary"
	"io"

	"futuopend/ferrors"
)

const (
	headerMagic0 byte = 'F'
	headerMagic1 byte = 'T'

	// HeaderSize is the fixed on-wire size of a frame header in bytes.
	HeaderSize = 44

	shaSize = 20

	// MaxBodySize is the largest body the codec will accept, in bytes.
	MaxBodySize = 100_000_000

	// fixed payload-encoding discriminators the core always writes.
	protoFmtType = 0
	protoVer     = 0
)

// Frame is one decoded wire message. BodyLen and BodySHA1 are wire
// details recomputed by Encode and verified by Decode — callers only
// ever see ProtoID, SerialNo, and Body.
type Frame struct {
	ProtoID  uint32
	SerialNo uint32
	Body     []byte
}

// Encode writes a complete frame (header + body) to w. The SHA-1 is
// computed over Body exactly as given — callers encrypt before calling
// Encode if the connection has an active cipher, so the checksum always
// covers the bytes that actually cross the wire.
func Encode(w io.Writer, f *Frame) error {
	buf := make([]byte, HeaderSize)

	buf[0], buf[1] = headerMagic0, headerMagic1
	binary.LittleEndian.PutUint32(buf[2:6], f.ProtoID)
	buf[6] = protoFmtType
	buf[7] = protoVer
	binary.LittleEndian.PutUint32(buf[8:12], f.SerialNo)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(f.Body)))
	sum := sha1.Sum(f.Body)
	copy(buf[16:36], sum[:])
	// buf[36:44] stays zero (reserved)

	if _, err := w.Write(buf); err != nil {
		return ferrors.New(ferrors.KindIO, err)
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return ferrors.New(ferrors.KindIO, err)
		}
	}
	return nil
}

// Decoder accumulates bytes from a streaming connection and emits
// complete Frames. It never consumes a partial frame: Decode returns
// (nil, nil) when more bytes are needed, leaving the internal buffer
// untouched from the caller's point of view.
type Decoder struct {
	buf []byte
}

// Feed appends newly-read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Decode attempts to extract one complete frame from the buffered
// bytes. It returns (nil, nil) if not enough data is buffered yet.
// A non-nil error is always connection-fatal per spec: the stream
// cannot be safely re-aligned after InvalidMagic, BodyTooLarge, or a
// checksum mismatch.
func (d *Decoder) Decode() (*Frame, error) {
	if len(d.buf) < HeaderSize {
		return nil, nil
	}

	if d.buf[0] != headerMagic0 || d.buf[1] != headerMagic1 {
		return nil, ferrors.New(ferrors.KindInvalidMagic, nil)
	}

	protoID := binary.LittleEndian.Uint32(d.buf[2:6])
	serialNo := binary.LittleEndian.Uint32(d.buf[8:12])
	bodyLen := binary.LittleEndian.Uint32(d.buf[12:16])

	if bodyLen > MaxBodySize {
		return nil, ferrors.New(ferrors.KindBodyTooLarge, nil)
	}

	total := HeaderSize + int(bodyLen)
	if len(d.buf) < total {
		return nil, nil
	}

	var bodySHA1 [shaSize]byte
	copy(bodySHA1[:], d.buf[16:36])

	body := make([]byte, bodyLen)
	copy(body, d.buf[HeaderSize:total])

	// Shift the remaining bytes to the front rather than reslicing, so
	// the buffer doesn't grow unbounded across many small frames.
	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]

	sum := sha1.Sum(body)
	if sum != bodySHA1 {
		return nil, ferrors.ChecksumMismatch(protoID, serialNo)
	}

	return &Frame{ProtoID: protoID, SerialNo: serialNo, Body: body}, nil
}
