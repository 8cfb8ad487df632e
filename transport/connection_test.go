package transport

import (
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"

	"futuopend/config"
	"futuopend/ferrors"
	"futuopend/metrics"
	"futuopend/protocol"
)

func listenAndDial(t *testing.T) (net.Listener, *Connection) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.Config{Host: "127.0.0.1", Port: uint16(addr.Port)}

	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(cfg, zap.NewNop(), metrics.NewNoop())
		ch <- result{c, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	res := <-ch
	if res.err != nil {
		t.Fatalf("Connect: %v", res.err)
	}
	t.Cleanup(func() { res.c.Close() })

	return ln, res.c
}

func TestSendReturnsNonzeroSerial(t *testing.T) {
	ln, client := listenAndDial(t)
	defer ln.Close()

	serialNo, err := client.Send(1001, []byte("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if serialNo == 0 {
		t.Error("expected nonzero serial number")
	}
}

func TestNextSerialMonotonic(t *testing.T) {
	_, client := listenAndDial(t)

	a := client.NextSerial()
	b := client.NextSerial()
	c := client.NextSerial()
	if !(a < b && b < c) {
		t.Fatalf("serials not monotonic: %d %d %d", a, b, c)
	}
}

func TestRecvRoundTripsFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.Config{Host: "127.0.0.1", Port: uint16(addr.Port)}

	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(cfg, zap.NewNop(), metrics.NewNoop())
		ch <- result{c, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	res := <-ch
	if res.err != nil {
		t.Fatalf("Connect: %v", res.err)
	}
	client := res.c
	defer client.Close()

	if err := protocol.Encode(server, &protocol.Frame{ProtoID: 1004, SerialNo: 7, Body: []byte("pong")}); err != nil {
		t.Fatalf("server encode: %v", err)
	}

	frame, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame.ProtoID != 1004 || frame.SerialNo != 7 || string(frame.Body) != "pong" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestSetCipherEncryptsOutbound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.Config{Host: "127.0.0.1", Port: uint16(addr.Port)}

	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(cfg, zap.NewNop(), metrics.NewNoop())
		ch <- result{c, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	res := <-ch
	if res.err != nil {
		t.Fatalf("Connect: %v", res.err)
	}
	client := res.c
	defer client.Close()

	key := []byte("0123456789abcdef")
	if err := client.SetCipher(key); err != nil {
		t.Fatalf("SetCipher: %v", err)
	}

	done := make(chan struct{})
	var decoder protocol.Decoder
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				decoder.Feed(buf[:n])
				if f, _ := decoder.Decode(); f != nil {
					if len(f.Body)%16 != 0 {
						t.Errorf("expected encrypted body to be block-aligned, got %d bytes", len(f.Body))
					}
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	if _, err := client.Send(1001, []byte("plaintext request")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-done
}

func TestRecvDowngradesOnNonAlignedBodyWithCipherActive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.Config{Host: "127.0.0.1", Port: uint16(addr.Port)}

	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(cfg, zap.NewNop(), metrics.NewNoop())
		ch <- result{c, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	res := <-ch
	if res.err != nil {
		t.Fatalf("Connect: %v", res.err)
	}
	client := res.c
	defer client.Close()

	if err := client.SetCipher([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("SetCipher: %v", err)
	}

	// Server sends a 5-byte plaintext body: not a multiple of 16.
	if err := protocol.Encode(server, &protocol.Frame{ProtoID: 1001, SerialNo: 1, Body: []byte("plain")}); err != nil {
		t.Fatalf("server encode: %v", err)
	}

	frame, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(frame.Body) != "plain" {
		t.Errorf("got body %q, want plain passthrough after downgrade", frame.Body)
	}

	client.cipherMu.Lock()
	stillActive := client.cipher != nil
	client.cipherMu.Unlock()
	if stillActive {
		t.Error("expected cipher to be cleared after non-aligned inbound body")
	}
}

func TestRecvDetectsChecksumMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.Config{Host: "127.0.0.1", Port: uint16(addr.Port)}

	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(cfg, zap.NewNop(), metrics.NewNoop())
		ch <- result{c, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	res := <-ch
	if res.err != nil {
		t.Fatalf("Connect: %v", res.err)
	}
	client := res.c
	defer client.Close()

	frame := &protocol.Frame{ProtoID: 1, SerialNo: 1, Body: []byte("hi")}
	// Build a frame by hand then tamper a body byte after the checksum is computed.
	w := &captureWriter{}
	if err := protocol.Encode(w, frame); err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf := w.buf
	buf[protocol.HeaderSize] ^= 0xFF

	if _, err := server.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = client.Recv()
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	var fe *ferrors.Error
	if !errors.As(err, &fe) || fe.Kind != ferrors.KindChecksumMismatch {
		t.Errorf("expected checksum mismatch kind, got %v", err)
	}
}

type captureWriter struct{ buf []byte }

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}
