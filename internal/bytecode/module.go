package bytecode

import (
	"encoding/binary"

	herrors "github.com/h6lang/h6/internal/errors"
)

// HeaderSize is the fixed size of the module header in bytes.
const HeaderSize = 16

// Header is the fixed 16-byte prefix of every H6 module. Bytes 0-5 are
// unused by the core; an implementation may read them as a future
// magic/version field but must not reject a module solely on their
// contents.
type Header struct {
	Reserved        [6]byte
	GlobalsCount    uint16
	GlobalsOffset   uint32 // relative to header end
	ExHeaderOffset  uint32 // absolute, 0 if absent
}

// GlobalEntry is one row of a globals table: a name and the offset of a
// decodable op stream, both relative to the end of the header.
type GlobalEntry struct {
	NameOffset  uint32
	ValueOffset uint32
}

// ParseHeader reads the fixed header from the start of module bytes.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, herrors.Newf(herrors.MalformedModule, "module shorter than %d-byte header", HeaderSize)
	}
	var h Header
	copy(h.Reserved[:], data[0:6])
	h.GlobalsCount = binary.LittleEndian.Uint16(data[6:8])
	h.GlobalsOffset = binary.LittleEndian.Uint32(data[8:12])
	h.ExHeaderOffset = binary.LittleEndian.Uint32(data[12:16])
	return h, nil
}

// GlobalsTableOffset is the absolute offset of the first globals entry.
func (h Header) GlobalsTableOffset() int64 {
	return int64(HeaderSize) + int64(h.GlobalsOffset)
}

// EntryOffset is the absolute offset of the entry routine: the bytes
// immediately following the globals table.
func (h Header) EntryOffset() int64 {
	return h.GlobalsTableOffset() + 8*int64(h.GlobalsCount)
}

// Globals decodes the globals table named by the header.
func Globals(data []byte, h Header) ([]GlobalEntry, error) {
	out := make([]GlobalEntry, 0, h.GlobalsCount)
	base := h.GlobalsTableOffset()
	for i := uint16(0); i < h.GlobalsCount; i++ {
		off := base + 8*int64(i)
		if off < 0 || off+8 > int64(len(data)) {
			return nil, herrors.Newf(herrors.MalformedModule, "globals entry %d out of bounds", i)
		}
		out = append(out, GlobalEntry{
			NameOffset:  binary.LittleEndian.Uint32(data[off : off+4]),
			ValueOffset: binary.LittleEndian.Uint32(data[off+4 : off+8]),
		})
	}
	return out, nil
}

// GlobalName reads the NUL-terminated name string for a globals entry.
func GlobalName(data []byte, g GlobalEntry) (string, error) {
	start := int64(HeaderSize) + int64(g.NameOffset)
	if start < 0 || start >= int64(len(data)) {
		return "", herrors.New(herrors.MalformedModule, "global name offset out of bounds")
	}
	end := start
	for end < int64(len(data)) && data[end] != 0 {
		end++
	}
	if end >= int64(len(data)) {
		return "", herrors.New(herrors.MalformedModule, "unterminated global name")
	}
	return string(data[start:end]), nil
}

// FindGlobal looks up a global by exact name match, used by the DSO linker.
func FindGlobal(data []byte, globals []GlobalEntry, name string) (GlobalEntry, bool, error) {
	for _, g := range globals {
		n, err := GlobalName(data, g)
		if err != nil {
			return GlobalEntry{}, false, err
		}
		if n == name {
			return g, true, nil
		}
	}
	return GlobalEntry{}, false, nil
}

// ExtensionHeader describes a main module's DSO reference table.
type ExtensionHeader struct {
	Offset      int64
	Len         uint16
	DsoRefCount uint32
}

// HasExtensionHeader reports whether the module declares one.
func HasExtensionHeader(h Header) bool {
	return h.ExHeaderOffset != 0
}

// ParseExtensionHeader reads the extension header at its declared offset.
func ParseExtensionHeader(data []byte, h Header) (ExtensionHeader, error) {
	off := int64(h.ExHeaderOffset)
	if off < 0 || off+6 > int64(len(data)) {
		return ExtensionHeader{}, herrors.New(herrors.MalformedModule, "extension header out of bounds")
	}
	return ExtensionHeader{
		Offset:      off,
		Len:         binary.LittleEndian.Uint16(data[off : off+2]),
		DsoRefCount: binary.LittleEndian.Uint32(data[off+2 : off+6]),
	}, nil
}

// DsoRefNameOffsets reads the dso_ref_count name offsets immediately
// following the extension header's declared length.
func DsoRefNameOffsets(data []byte, ex ExtensionHeader) ([]uint32, error) {
	base := ex.Offset + int64(ex.Len)
	out := make([]uint32, 0, ex.DsoRefCount)
	for i := uint32(0); i < ex.DsoRefCount; i++ {
		off := base + 4*int64(i)
		if off < 0 || off+4 > int64(len(data)) {
			return nil, herrors.New(herrors.MalformedModule, "dso ref table out of bounds")
		}
		out = append(out, binary.LittleEndian.Uint32(data[off:off+4]))
	}
	return out, nil
}
