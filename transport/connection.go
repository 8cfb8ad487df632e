// Package transport owns the TCP socket to a Futu OpenD gateway: it
// serializes writes, serializes reads, tracks the optional AES-ECB
// cipher (including its mid-session downgrade), and hands out
// monotonic serial numbers. It is a thin contract over the protocol
// codec, built on a sending mutex plus an atomic sequence counter.
// Connection does
// not dispatch; routing decoded frames to waiting callers is
// dispatcher.Dispatcher's job, kept as a separate component.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"futuopend/cipher"
	"futuopend/config"
	"futuopend/ferrors"
	"futuopend/metrics"
	"futuopend/protocol"
)

// Connection owns one TCP socket to the gateway.
type Connection struct {
	conn net.Conn

	readMu  sync.Mutex
	decoder protocol.Decoder
	readBuf []byte

	writeMu sync.Mutex

	serial atomic.Uint32

	cipherMu sync.Mutex
	cipher   *cipher.AESECB

	connID atomic.Uint64

	logger  *zap.Logger
	metrics *metrics.Collectors
}

// Connect dials the gateway at cfg.Host:cfg.Port with TCP_NODELAY set.
func Connect(cfg config.Config, logger *zap.Logger, mc *metrics.Collectors) (*Connection, error) {
	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))
	logger.Info("dialing futu opend", zap.String("addr", addr))

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, ferrors.New(ferrors.KindIO, err)
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			raw.Close()
			return nil, ferrors.New(ferrors.KindIO, err)
		}
	}

	c := &Connection{
		conn:    raw,
		readBuf: make([]byte, 64*1024),
		logger:  logger,
		metrics: mc,
	}
	c.serial.Store(1)
	return c, nil
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// NextSerial draws the next monotonic serial number. Serials start at 1
// and are unique and strictly increasing per connection. request()
// calls this to register the pending slot before the frame is sent.
func (c *Connection) NextSerial() uint32 {
	return c.serial.Add(1) - 1
}

// Send assigns a fresh serial number, encrypts the body if a cipher is
// active, and writes one frame. Returns the serial number used.
func (c *Connection) Send(protoID uint32, body []byte) (uint32, error) {
	serialNo := c.NextSerial()
	return serialNo, c.SendWithSerial(protoID, body, serialNo)
}

// SendWithSerial writes one frame using a caller-chosen serial number.
// request() uses this to register the pending slot before the frame
// hits the wire.
func (c *Connection) SendWithSerial(protoID uint32, body []byte, serialNo uint32) error {
	wireBody := c.maybeEncrypt(body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := protocol.Encode(c.conn, &protocol.Frame{
		ProtoID:  protoID,
		SerialNo: serialNo,
		Body:     wireBody,
	})
	if err != nil {
		return ferrors.New(ferrors.KindSend, err)
	}
	if c.metrics != nil {
		c.metrics.FramesOut.Inc()
		c.metrics.BytesOut.Add(float64(len(wireBody)))
	}
	return nil
}

// Recv blocks for the next complete frame, decrypting the body if a
// cipher is active. It detects and applies the mid-session downgrade:
// if the cipher is active but the inbound body length isn't a multiple
// of 16, the gateway silently sent plaintext (no RSA material
// configured) and the cipher is dropped for the rest of the session.
func (c *Connection) Recv() (*protocol.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		frame, err := c.decoder.Decode()
		if err != nil {
			var fe *ferrors.Error
			if errors.As(err, &fe) && fe.Kind == ferrors.KindChecksumMismatch && c.metrics != nil {
				c.metrics.ChecksumFailures.Inc()
			}
			return nil, err
		}
		if frame != nil {
			if c.metrics != nil {
				c.metrics.FramesIn.Inc()
				c.metrics.BytesIn.Add(float64(len(frame.Body)))
			}
			if err := c.maybeDecrypt(frame); err != nil {
				return nil, err
			}
			return frame, nil
		}

		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.decoder.Feed(c.readBuf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ferrors.Disconnected
			}
			return nil, ferrors.New(ferrors.KindReceive, err)
		}
	}
}

func (c *Connection) maybeEncrypt(body []byte) []byte {
	c.cipherMu.Lock()
	defer c.cipherMu.Unlock()
	if c.cipher == nil {
		return body
	}
	return c.cipher.Encrypt(body)
}

// maybeDecrypt mutates frame.Body in place, applying the downgrade
// transition when the inbound body isn't block-aligned.
func (c *Connection) maybeDecrypt(frame *protocol.Frame) error {
	c.cipherMu.Lock()
	defer c.cipherMu.Unlock()

	if c.cipher == nil {
		return nil
	}
	if len(frame.Body) == 0 {
		return nil
	}
	if len(frame.Body)%16 != 0 {
		c.logger.Warn("gateway sent non-block-aligned body with cipher active; downgrading to plaintext for the rest of the session",
			zap.Uint32("proto_id", frame.ProtoID), zap.Int("body_len", len(frame.Body)))
		c.cipher = nil
		if c.metrics != nil {
			c.metrics.Downgrades.Inc()
		}
		return nil
	}

	plain, err := c.cipher.Decrypt(frame.Body)
	if err != nil {
		return err
	}
	frame.Body = plain
	return nil
}

// SetCipher installs the AES-ECB cipher after a successful encrypted
// handshake. Thread-safe against concurrent Send/Recv.
func (c *Connection) SetCipher(key []byte) error {
	aes, err := cipher.New(key)
	if err != nil {
		return err
	}
	c.cipherMu.Lock()
	c.cipher = aes
	c.cipherMu.Unlock()
	return nil
}

// SetConnID stores the connection id assigned by the handshake.
func (c *Connection) SetConnID(id uint64) { c.connID.Store(id) }

// ConnID returns the connection id assigned by the handshake, or 0
// before the handshake completes.
func (c *Connection) ConnID() uint64 { return c.connID.Load() }

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if err := c.conn.Close(); err != nil {
		return ferrors.New(ferrors.KindIO, err)
	}
	return nil
}
