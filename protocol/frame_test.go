package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"futuopend/ferrors"
)

func encodeBytes(t *testing.T, f *Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	want := &Frame{ProtoID: 1001, SerialNo: 42, Body: []byte("test body data")}
	wire := encodeBytes(t, want)

	var d Decoder
	d.Feed(wire)
	got, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if len(d.buf) != 0 {
		t.Errorf("expected empty buffer after decode, got %d bytes left", len(d.buf))
	}
}

func TestRoundTripEmptyBody(t *testing.T) {
	want := &Frame{ProtoID: 1004, SerialNo: 1}
	var d Decoder
	d.Feed(encodeBytes(t, want))
	got, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Body) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(got.Body))
	}
}

func TestChecksumTamper(t *testing.T) {
	wire := encodeBytes(t, &Frame{ProtoID: 1001, SerialNo: 42, Body: []byte("test body data")})
	wire[HeaderSize] ^= 0xFF // flip first body byte

	var d Decoder
	d.Feed(wire)
	_, err := d.Decode()
	var fe *ferrors.Error
	if !errors.As(err, &fe) || fe.Kind != ferrors.KindChecksumMismatch {
		t.Fatalf("expected KindChecksumMismatch, got %v", err)
	}
	if fe.ProtoID != 1001 || fe.SerialNo != 42 {
		t.Errorf("got ProtoID=%d SerialNo=%d, want 1001/42", fe.ProtoID, fe.SerialNo)
	}
}

func TestInvalidMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1] = 'X', 'X'
	var d Decoder
	d.Feed(buf)
	_, err := d.Decode()
	var fe *ferrors.Error
	if !errors.As(err, &fe) || fe.Kind != ferrors.KindInvalidMagic {
		t.Fatalf("expected KindInvalidMagic, got %v", err)
	}
}

func TestBodyTooLarge(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1] = 'F', 'T'
	// body_len field declares MaxBodySize+1
	buf[12], buf[13], buf[14], buf[15] = 0x01, 0xE1, 0xF5, 0x05 // 0x05F5E101 == MaxBodySize+1
	var d Decoder
	d.Feed(buf)
	_, err := d.Decode()
	var fe *ferrors.Error
	if !errors.As(err, &fe) || fe.Kind != ferrors.KindBodyTooLarge {
		t.Fatalf("expected KindBodyTooLarge, got %v", err)
	}
}

func TestDecodeNeedMoreLeavesBufferUntouched(t *testing.T) {
	wire := encodeBytes(t, &Frame{ProtoID: 1001, SerialNo: 1, Body: []byte("hello")})
	prefix := wire[:HeaderSize+2]

	var d Decoder
	d.Feed(prefix)
	frame, err := d.Decode()
	if err != nil {
		t.Fatalf("expected nil error on partial frame, got %v", err)
	}
	if frame != nil {
		t.Fatalf("expected nil frame on partial input, got %+v", frame)
	}
	if !bytes.Equal(d.buf, prefix) {
		t.Errorf("expected buffer untouched by partial decode")
	}
}

func TestMaxBodySizeMinusOneAccepted(t *testing.T) {
	body := make([]byte, MaxBodySize-1)
	want := &Frame{ProtoID: 1, SerialNo: 1, Body: body}
	var d Decoder
	d.Feed(encodeBytes(t, want))
	got, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Body) != len(body) {
		t.Errorf("got body len %d, want %d", len(got.Body), len(body))
	}
}

func TestTwoFramesConcatenated(t *testing.T) {
	f1 := &Frame{ProtoID: 1001, SerialNo: 1, Body: []byte("first")}
	f2 := &Frame{ProtoID: 3001, SerialNo: 2, Body: []byte("second")}

	var d Decoder
	d.Feed(encodeBytes(t, f1))
	d.Feed(encodeBytes(t, f2))

	got1, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode 1 failed: %v", err)
	}
	got2, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode 2 failed: %v", err)
	}
	if diff := cmp.Diff(f1, got1); diff != "" {
		t.Errorf("frame 1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f2, got2); diff != "" {
		t.Errorf("frame 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOnEmptyBufferNeedsMore(t *testing.T) {
	var d Decoder
	frame, err := d.Decode()
	if err != nil || frame != nil {
		t.Fatalf("expected (nil, nil) on empty buffer, got (%+v, %v)", frame, err)
	}
}
