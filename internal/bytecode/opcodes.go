// Package bytecode defines the H6 opcode tags and the binary module
// container format (header, globals table, extension header).
package bytecode

// Kind is a single opcode tag. The numeric values are part of the wire
// format: they are read directly out of module bytes and written back out
// by OpsOf, so they must never be renumbered.
type Kind uint8

const (
	Terminate Kind = 0
	Const     Kind = 2
	TypeId    Kind = 3
	Push      Kind = 8

	Add  Kind = 9
	Sub  Kind = 10
	Mul  Kind = 11
	Dup  Kind = 12
	Swap Kind = 14
	Pop  Kind = 15
	Exec Kind = 16

	Select Kind = 17
	Lt     Kind = 18
	Gt     Kind = 19
	Eq     Kind = 20
	Not    Kind = 21
	RoL    Kind = 22
	RoR    Kind = 24
	Reach  Kind = 25

	ArrBegin Kind = 26
	ArrEnd   Kind = 27
	ArrCat   Kind = 29
	ArrFirst Kind = 30
	ArrLen   Kind = 31
	ArrSkip1 Kind = 32
	Pack     Kind = 33
	Mod      Kind = 34
	Div      Kind = 36

	System      Kind = 41
	Materialize Kind = 42
	OpsOf       Kind = 43
	ConstAt     Kind = 44 // reserved, fatal if executed

	ConstDso Kind = 45
	U8ArrAt  Kind = 46
	I16ArrAt Kind = 47

	// CustomPushArr never appears in a decoded opcode stream; it is the
	// runtime value tag used for array references once they are pushed
	// on a stack.
	CustomPushArr Kind = 100
)

// HasArg reports whether a tag carries a 4-byte little-endian immediate
// in the opcode stream.
func HasArg(k Kind) bool {
	switch k {
	case Const, Push, Reach, System, ConstDso, U8ArrAt, I16ArrAt:
		return true
	default:
		return false
	}
}

// String names a tag for diagnostics; unnamed tags print as "?".
func (k Kind) String() string {
	switch k {
	case Terminate:
		return "Terminate"
	case Const:
		return "Const"
	case TypeId:
		return "TypeId"
	case Push:
		return "Push"
	case Add:
		return "Add"
	case Sub:
		return "Sub"
	case Mul:
		return "Mul"
	case Dup:
		return "Dup"
	case Swap:
		return "Swap"
	case Pop:
		return "Pop"
	case Exec:
		return "Exec"
	case Select:
		return "Select"
	case Lt:
		return "Lt"
	case Gt:
		return "Gt"
	case Eq:
		return "Eq"
	case Not:
		return "Not"
	case RoL:
		return "RoL"
	case RoR:
		return "RoR"
	case Reach:
		return "Reach"
	case ArrBegin:
		return "ArrBegin"
	case ArrEnd:
		return "ArrEnd"
	case ArrCat:
		return "ArrCat"
	case ArrFirst:
		return "ArrFirst"
	case ArrLen:
		return "ArrLen"
	case ArrSkip1:
		return "ArrSkip1"
	case Pack:
		return "Pack"
	case Mod:
		return "Mod"
	case Div:
		return "Div"
	case System:
		return "System"
	case Materialize:
		return "Materialize"
	case OpsOf:
		return "OpsOf"
	case ConstAt:
		return "ConstAt"
	case ConstDso:
		return "ConstDso"
	case U8ArrAt:
		return "U8ArrAt"
	case I16ArrAt:
		return "I16ArrAt"
	case CustomPushArr:
		return "CustomPushArr"
	default:
		return "?"
	}
}

// Op is a single decoded bytecode instruction: a tag plus its optional
// 4-byte immediate. Once pushed onto an operand stack, an Op with tag
// Push doubles as a Num value and one with tag CustomPushArr doubles as
// an array reference (see package vm) — the bytecode format re-uses the
// same record for code and data, as the original implementation does.
type Op struct {
	Kind Kind
	Arg  int32
}
