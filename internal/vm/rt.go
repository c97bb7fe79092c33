package vm

import (
	"errors"

	"github.com/google/uuid"

	"github.com/h6lang/h6/internal/bytecode"
)

// ErrAlreadyLinked is returned by AttachDSO when a Rt already has one
// attached; linking is a one-shot setup step, not a runtime operation.
var ErrAlreadyLinked = errors.New("h6/vm: dso already attached")

// SyscallFunc is the host trapdoor a Rt calls for the single System
// opcode. id is the System opcode's immediate operand; userdata is
// whatever opaque value was supplied to New, threaded through unchanged.
type SyscallFunc func(rt *Rt, id uint32, userdata any) error

// Tracer receives a callback for every executed op and every syscall, for
// hosts that want to observe execution without altering it (see
// internal/trace and internal/debugserver).
type Tracer interface {
	TraceOp(rt *Rt, op bytecode.Op, depth int)
	TraceSyscall(rt *Rt, id uint32)
}

// Rt is one H6 execution context: a data stack plus the module bytes and
// optional DSO it was built against. A Rt is not safe for concurrent use;
// callers that need concurrent execution should build one Rt per
// goroutine, as they would any non-thread-safe interpreter state.
type Rt struct {
	Stack *Array

	Bytecode []byte
	dso      []byte

	dsoResolved []int64
	linked      bool

	syscall  SyscallFunc
	userdata any

	// buildDepth/building track an in-flight ArrBegin...ArrEnd
	// quotation literal. buildDepth counts nested ArrBegins; building
	// holds the array under construction once depth is nonzero.
	buildDepth int
	building   *Array

	// ID correlates this run's trace/debug events across internal/trace
	// and internal/debugserver.
	ID uuid.UUID

	Tracer Tracer
}

// New constructs a Rt ready to run the entry routine of moduleBytes.
// syscall may be nil if the module never executes a System opcode.
func New(moduleBytes []byte, syscall SyscallFunc, userdata any) *Rt {
	return &Rt{
		Stack:    NewArray(),
		Bytecode: moduleBytes,
		syscall:  syscall,
		userdata: userdata,
		ID:       uuid.New(),
	}
}

// AttachDSO links rt's module against a single shared module, resolving
// every declared DSO reference by name. It must be called at most once,
// before RunEntry.
func (rt *Rt) AttachDSO(dsoBytes []byte) error {
	if rt.linked {
		return ErrAlreadyLinked
	}
	resolved, err := Link(rt.Bytecode, dsoBytes)
	if err != nil {
		return err
	}
	rt.dso = dsoBytes
	rt.dsoResolved = resolved
	rt.linked = true
	return nil
}

func toValues(ops []bytecode.Op) []Value {
	out := make([]Value, len(ops))
	for i, o := range ops {
		out[i] = Value{Kind: o.Kind, Arg: o.Arg}
	}
	return out
}

// RunEntry decodes and executes rt's entry routine against rt.Stack.
func (rt *Rt) RunEntry() error {
	h, err := bytecode.ParseHeader(rt.Bytecode)
	if err != nil {
		return err
	}
	ops, err := bytecode.Decode(rt.Bytecode, h.EntryOffset())
	if err != nil {
		return err
	}
	return rt.exec(toValues(ops))
}

// RunGlobal decodes and executes the named global's op stream, appending
// its stack effect onto rt.Stack. Used by hosts that want to call into a
// module without going through its entry routine (e.g. a debug console).
func (rt *Rt) RunGlobal(name string) error {
	h, err := bytecode.ParseHeader(rt.Bytecode)
	if err != nil {
		return err
	}
	globals, err := bytecode.Globals(rt.Bytecode, h)
	if err != nil {
		return err
	}
	g, ok, err := bytecode.FindGlobal(rt.Bytecode, globals, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGlobalNotFound(name)
	}
	ops, err := bytecode.Decode(rt.Bytecode, int64(bytecode.HeaderSize)+int64(g.ValueOffset))
	if err != nil {
		return err
	}
	return rt.exec(toValues(ops))
}

// ErrGlobalNotFound reports a RunGlobal lookup miss.
type ErrGlobalNotFound string

func (e ErrGlobalNotFound) Error() string { return "h6/vm: global not found: " + string(e) }
