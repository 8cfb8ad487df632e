// Package message encodes and decodes the two control-plane messages
// the core itself must understand — InitConnect and KeepAlive — using
// the Protocol Buffers wire format at the tag/wire-type level via
// google.golang.org/protobuf/encoding/protowire. Every other proto_id
// stays opaque bytes moved verbatim by transport.Connection; the
// hundred-plus domain schemas (quotes, orders, accounts) are out of
// scope per the core's own charter, so there is no generated message
// set here, only the two the handshake and keepalive require.
package message

import (
	"google.golang.org/protobuf/encoding/protowire"

	"futuopend/ferrors"
)

// Proto IDs for the control messages the core speaks directly.
const (
	ProtoIDInitConnect uint32 = 1001
	ProtoIDKeepAlive   uint32 = 1004
)

// Encryption algorithm selectors for HandshakeRequest.PacketEncAlgo.
const (
	EncAlgoNone   int32 = -1
	EncAlgoAESECB int32 = 0
)

// PushProtoFmt is the push/body encoding selector; the core only speaks
// the tagged field (protobuf) encoding.
const PushProtoFmtTagged int32 = 0

// HandshakeRequest is the InitConnect request body.
type HandshakeRequest struct {
	ClientVer           int32
	ClientID            string
	RecvNotify          bool
	PacketEncAlgo       int32
	PushProtoFmt        int32
	ProgrammingLanguage string
}

// HandshakeResponse is the InitConnect response body, with the
// top-level return code pulled out separately so callers check it
// before looking at the rest of the fields — mirroring
// FutuOpenD's Response{retType, retMsg, errCode, s2c} envelope.
type HandshakeResponse struct {
	RetType int32
	RetMsg  string
	ErrCode int32

	// The following are only meaningful when RetType == 0.
	ServerVer         int32
	LoginUserID       uint64
	ConnID            uint64
	ConnAESKey        string
	KeepAliveInterval int32
}

// EncodeHandshakeRequest serializes a HandshakeRequest as
// Request{ c2s: C2S{...} } at field number 1.
func EncodeHandshakeRequest(req *HandshakeRequest) []byte {
	var c2s []byte
	c2s = protowire.AppendTag(c2s, 1, protowire.VarintType)
	c2s = protowire.AppendVarint(c2s, uint64(int64(req.ClientVer)))
	c2s = protowire.AppendTag(c2s, 2, protowire.BytesType)
	c2s = protowire.AppendString(c2s, req.ClientID)
	c2s = protowire.AppendTag(c2s, 3, protowire.VarintType)
	c2s = protowire.AppendVarint(c2s, boolVarint(req.RecvNotify))
	c2s = protowire.AppendTag(c2s, 4, protowire.VarintType)
	c2s = protowire.AppendVarint(c2s, uint64(int64(req.PacketEncAlgo)))
	c2s = protowire.AppendTag(c2s, 5, protowire.VarintType)
	c2s = protowire.AppendVarint(c2s, uint64(int64(req.PushProtoFmt)))
	c2s = protowire.AppendTag(c2s, 6, protowire.BytesType)
	c2s = protowire.AppendString(c2s, req.ProgrammingLanguage)

	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, c2s)
	return out
}

// DecodeHandshakeResponse parses a Response{retType, retMsg, errCode, s2c} body.
func DecodeHandshakeResponse(body []byte) (*HandshakeResponse, error) {
	resp := &HandshakeResponse{}
	var s2c []byte

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
		}
		body = body[n:]

		switch num {
		case 1: // ret_type
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.RetType = int32(v)
			body = body[n:]
		case 2: // ret_msg
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.RetMsg = v
			body = body[n:]
		case 3: // err_code
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.ErrCode = int32(v)
			body = body[n:]
		case 4: // s2c
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			s2c = v
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	if s2c != nil {
		if err := decodeS2C(s2c, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func decodeS2C(body []byte, resp *HandshakeResponse) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
		}
		body = body[n:]

		switch num {
		case 1: // server_ver
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.ServerVer = int32(v)
			body = body[n:]
		case 2: // login_user_id
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.LoginUserID = v
			body = body[n:]
		case 3: // conn_id
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.ConnID = v
			body = body[n:]
		case 4: // conn_aes_key
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.ConnAESKey = v
			body = body[n:]
		case 5: // keep_alive_interval
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			resp.KeepAliveInterval = int32(v)
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return ferrors.New(ferrors.KindIO, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}
	return nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
