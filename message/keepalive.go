package message

import "google.golang.org/protobuf/encoding/protowire"

// EncodeKeepAlive serializes Request{ c2s: C2S{ time: epochSeconds } }
// at field number 1, matching the InitConnect envelope shape.
func EncodeKeepAlive(epochSeconds int64) []byte {
	var c2s []byte
	c2s = protowire.AppendTag(c2s, 1, protowire.VarintType)
	c2s = protowire.AppendVarint(c2s, uint64(epochSeconds))

	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, c2s)
	return out
}
