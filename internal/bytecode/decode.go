package bytecode

import (
	"encoding/binary"

	herrors "github.com/h6lang/h6/internal/errors"
)

// Decode reads a linear opcode stream starting at offset until it sees a
// Terminate tag (which is not itself included in the result). Constant
// pools, the entry routine and every Const/ConstDso target are decoded
// this way, lazily, at the point of use.
func Decode(data []byte, offset int64) ([]Op, error) {
	var ops []Op
	p := offset
	for {
		if p < 0 || p >= int64(len(data)) {
			return nil, herrors.New(herrors.MalformedModule, "opcode stream ran past end of module before Terminate")
		}
		k := Kind(data[p])
		p++
		if k == Terminate {
			return ops, nil
		}
		op := Op{Kind: k}
		if HasArg(k) {
			if p+4 > int64(len(data)) {
				return nil, herrors.New(herrors.MalformedModule, "truncated immediate in opcode stream")
			}
			op.Arg = int32(binary.LittleEndian.Uint32(data[p : p+4]))
			p += 4
		}
		ops = append(ops, op)
	}
}

// U16Pool reads a u16-length-prefixed array of raw bytes ("U8-array pool
// entry" in the container format) at the given offset.
func U16Pool(data []byte, offset int64) ([]byte, error) {
	if offset < 0 || offset+2 > int64(len(data)) {
		return nil, herrors.New(herrors.MalformedModule, "u8 array pool entry out of bounds")
	}
	n := int64(binary.LittleEndian.Uint16(data[offset : offset+2]))
	start := offset + 2
	end := start + n
	if end > int64(len(data)) {
		return nil, herrors.New(herrors.MalformedModule, "u8 array pool entry truncated")
	}
	return data[start:end], nil
}

// I16Pool reads a u16-length-prefixed array of little-endian 16-bit
// values ("I16-array pool entry") at the given offset.
func I16Pool(data []byte, offset int64) ([]int32, error) {
	if offset < 0 || offset+2 > int64(len(data)) {
		return nil, herrors.New(herrors.MalformedModule, "i16 array pool entry out of bounds")
	}
	n := int64(binary.LittleEndian.Uint16(data[offset : offset+2]))
	start := offset + 2
	end := start + n*2
	if end > int64(len(data)) {
		return nil, herrors.New(herrors.MalformedModule, "i16 array pool entry truncated")
	}
	out := make([]int32, n)
	for i := int64(0); i < n; i++ {
		out[i] = int32(int16(binary.LittleEndian.Uint16(data[start+i*2 : start+i*2+2])))
	}
	return out, nil
}
