package bytecode

import "encoding/binary"

// Builder assembles an in-memory module byte-for-byte: a header, a
// globals table, and one or more named op streams. It exists for tests
// and tooling that need to produce real H6 modules without hand-laying-out
// offsets, mirroring the append-as-you-go Chunk builder idiom used
// elsewhere in this codebase for bytecode streams.
type Builder struct {
	pool    []byte // everything that lives after the 16-byte header
	globals []builderGlobal
	entry   []byte
	dsoRefs []string
}

type builderGlobal struct {
	name  string
	value []byte
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetEntry installs the op stream for the entry routine. stream must already
// end with a Terminate encoding; use Ops to build one.
func (b *Builder) SetEntry(stream []byte) {
	b.entry = stream
}

// AddGlobal registers a named global whose value is a decodable op stream.
func (b *Builder) AddGlobal(name string, stream []byte) {
	b.globals = append(b.globals, builderGlobal{name: name, value: stream})
}

// AddPool appends an arbitrary blob (e.g. a U8/I16 array pool entry) to
// the module's data area and returns its offset relative to the header
// end, suitable for a Const/U8ArrAt/I16ArrAt immediate.
func (b *Builder) AddPool(blob []byte) uint32 {
	off := uint32(len(b.pool))
	b.pool = append(b.pool, blob...)
	return off
}

// AddDsoRef declares a named DSO import and returns its index, which is
// the operand ConstDso uses to call it. The name is resolved against
// the DSO's globals table at link time.
func (b *Builder) AddDsoRef(name string) uint32 {
	b.dsoRefs = append(b.dsoRefs, name)
	return uint32(len(b.dsoRefs) - 1)
}

// Ops encodes a sequence of ops into a Terminate-capped byte stream.
func Ops(ops ...Op) []byte {
	var out []byte
	for _, o := range ops {
		out = append(out, byte(o.Kind))
		if HasArg(o.Kind) {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(o.Arg))
			out = append(out, buf[:]...)
		}
	}
	out = append(out, byte(Terminate))
	return out
}

// U16Prefixed builds a u16-length-prefixed byte pool entry.
func U16Prefixed(bytes []byte) []byte {
	out := make([]byte, 2+len(bytes))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(bytes)))
	copy(out[2:], bytes)
	return out
}

// U16PrefixedI16 builds a u16-length-prefixed pool entry of little-endian
// 16-bit values.
func U16PrefixedI16(vals []int32) []byte {
	out := make([]byte, 2+len(vals)*2)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(vals)))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2+i*2:4+i*2], uint16(int16(v)))
	}
	return out
}

// Build lays the module out as: header | data pool | globals table |
// entry routine | global values | global names. The data pool comes
// first and immediately after the header so that offsets handed out by
// AddPool earlier stay valid regardless of how many globals or how big
// the entry routine turns out to be.
func (b *Builder) Build() []byte {
	globalsTableLen := 8 * len(b.globals)
	globalsTableOff := len(b.pool)
	entryOff := globalsTableOff + globalsTableLen
	valuesOff := entryOff + len(b.entry)

	type placed struct {
		nameOff  uint32
		valueOff uint32
	}
	placed_ := make([]placed, len(b.globals))
	var values []byte
	for i, g := range b.globals {
		placed_[i].valueOff = uint32(valuesOff + len(values))
		values = append(values, g.value...)
	}
	namesOff := valuesOff + len(values)
	var nameBlob []byte
	for i, g := range b.globals {
		placed_[i].nameOff = uint32(namesOff + len(nameBlob))
		nameBlob = append(nameBlob, []byte(g.name)...)
		nameBlob = append(nameBlob, 0)
	}

	// DSO import names live in the same name pool, right after the
	// globals' own names.
	dsoNameOffs := make([]uint32, len(b.dsoRefs))
	for i, name := range b.dsoRefs {
		dsoNameOffs[i] = uint32(namesOff + len(nameBlob))
		nameBlob = append(nameBlob, []byte(name)...)
		nameBlob = append(nameBlob, 0)
	}

	bodyLen := len(b.pool) + globalsTableLen + len(b.entry) + len(values) + len(nameBlob)

	var exHeader []byte
	var exHeaderOff uint32
	if len(b.dsoRefs) > 0 {
		const exHeaderLen = 6 // ex_header_len(u16) + dso_ref_count(u32)
		exHeaderOff = uint32(HeaderSize + bodyLen)
		exHeader = make([]byte, exHeaderLen+4*len(b.dsoRefs))
		binary.LittleEndian.PutUint16(exHeader[0:2], exHeaderLen)
		binary.LittleEndian.PutUint32(exHeader[2:6], uint32(len(b.dsoRefs)))
		for i, off := range dsoNameOffs {
			binary.LittleEndian.PutUint32(exHeader[exHeaderLen+4*i:exHeaderLen+4*i+4], off)
		}
	}

	out := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(b.globals)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(globalsTableOff))
	binary.LittleEndian.PutUint32(out[12:16], exHeaderOff)

	table := make([]byte, globalsTableLen)
	for i, p := range placed_ {
		binary.LittleEndian.PutUint32(table[i*8:i*8+4], p.nameOff)
		binary.LittleEndian.PutUint32(table[i*8+4:i*8+8], p.valueOff)
	}

	out = append(out, b.pool...)
	out = append(out, table...)
	out = append(out, b.entry...)
	out = append(out, values...)
	out = append(out, nameBlob...)
	out = append(out, exHeader...)
	return out
}
