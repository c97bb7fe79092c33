package vm

import (
	"github.com/h6lang/h6/internal/bytecode"
	herrors "github.com/h6lang/h6/internal/errors"
)

// exec runs a decoded op stream against rt, honoring whatever array-literal
// construction is already in flight (buildDepth/building persist across
// calls, since Const/ConstDso inline another module's op stream into the
// current execution without resetting that state).
func (rt *Rt) exec(ops []Value) error {
	for _, op := range ops {
		depth := rt.buildDepth
		err := rt.step(op)
		if rt.Tracer != nil {
			rt.Tracer.TraceOp(rt, bytecode.Op{Kind: op.Kind, Arg: op.Arg}, depth)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// step executes one op. ArrBegin/ArrEnd are handled first and
// unconditionally, since they manage buildDepth itself; every other op is
// either quoted as data (buildDepth > 0) or actually interpreted.
func (rt *Rt) step(op Value) error {
	switch op.Kind {
	case bytecode.ArrBegin:
		if rt.buildDepth == 0 {
			rt.building = NewArray()
		} else {
			rt.building.Push(op)
		}
		rt.buildDepth++
		return nil

	case bytecode.ArrEnd:
		rt.buildDepth--
		if rt.buildDepth < 0 {
			return herrors.New(herrors.MalformedModule, "ArrEnd without matching ArrBegin")
		}
		if rt.buildDepth == 0 {
			rt.Stack.Push(MkArr(rt.building))
			rt.building = nil
		} else {
			rt.building.Push(op)
		}
		return nil
	}

	if rt.buildDepth > 0 {
		rt.building.Push(op)
		return nil
	}

	return rt.dispatch(op)
}

// dispatch interprets a single non-quoting op against the live stack.
func (rt *Rt) dispatch(op Value) error {
	switch op.Kind {
	case bytecode.Const:
		return rt.runInlineConst(rt.Bytecode, int64(bytecode.HeaderSize)+int64(uint32(op.Arg)))

	case bytecode.ConstDso:
		idx := int(uint32(op.Arg))
		if idx < 0 || idx >= len(rt.dsoResolved) {
			return herrors.Newf(herrors.DsoMissing, "ConstDso index %d out of range", idx)
		}
		return rt.runInlineConst(rt.dso, rt.dsoResolved[idx])

	case bytecode.U8ArrAt, bytecode.I16ArrAt:
		return rt.execArrAt(op)

	case bytecode.Push:
		rt.Stack.Push(MkNum(op.Arg))
		return nil

	case bytecode.CustomPushArr:
		rt.Stack.Push(op)
		return nil

	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Mod,
		bytecode.Lt, bytecode.Gt, bytecode.Eq:
		return rt.execArith(op.Kind)

	case bytecode.Not:
		return rt.execNot()

	case bytecode.Dup:
		v, err := rt.Stack.Last()
		if err != nil {
			return err
		}
		rt.Stack.Push(Clone(v))
		return nil

	case bytecode.Swap:
		b, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		a, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		rt.Stack.Push(b)
		rt.Stack.Push(a)
		return nil

	case bytecode.Pop:
		v, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		Drop(v)
		return nil

	case bytecode.Exec:
		return rt.execExec()

	case bytecode.Select:
		return rt.execSelect()

	case bytecode.RoL:
		return rt.execRoL()

	case bytecode.RoR:
		return rt.execRoR()

	case bytecode.Reach:
		v, err := rt.Stack.Reach(int(op.Arg))
		if err != nil {
			return err
		}
		rt.Stack.Push(v)
		return nil

	case bytecode.ArrCat:
		return rt.execArrCat()

	case bytecode.ArrFirst:
		return rt.execArrFirst()

	case bytecode.ArrLen:
		return rt.execArrLen()

	case bytecode.ArrSkip1:
		return rt.execArrSkip1()

	case bytecode.Pack:
		v, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		r := NewArray()
		r.Push(v)
		rt.Stack.Push(MkArr(r))
		return nil

	case bytecode.System:
		return rt.execSystem(uint32(op.Arg))

	case bytecode.TypeId:
		v, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		id := int32(1)
		if IsNum(v) {
			id = 0
		}
		Drop(v)
		rt.Stack.Push(MkNum(id))
		return nil

	case bytecode.Materialize:
		return rt.execMaterialize()

	case bytecode.OpsOf:
		return rt.execOpsOf()

	case bytecode.ConstAt:
		return herrors.New(herrors.UnsupportedOp, "ConstAt is reserved and always fatal")

	default:
		return herrors.Newf(herrors.UnsupportedOp, "unknown opcode %d", op.Kind)
	}
}

// runInlineConst decodes an op stream embedded in moduleBytes at offset
// and runs it in the current context, the way Const/ConstDso inline a
// pool entry as if it appeared at this point in the instruction stream.
func (rt *Rt) runInlineConst(moduleBytes []byte, offset int64) error {
	ops, err := bytecode.Decode(moduleBytes, offset)
	if err != nil {
		return err
	}
	return rt.exec(toValues(ops))
}

func (rt *Rt) execArrAt(op Value) error {
	var vals []int32
	var err error
	offset := int64(bytecode.HeaderSize) + int64(uint32(op.Arg))
	if op.Kind == bytecode.U8ArrAt {
		var raw []byte
		raw, err = bytecode.U16Pool(rt.Bytecode, offset)
		if err == nil {
			vals = make([]int32, len(raw))
			for i, b := range raw {
				vals[i] = int32(b)
			}
		}
	} else {
		vals, err = bytecode.I16Pool(rt.Bytecode, offset)
	}
	if err != nil {
		return err
	}
	out := NewArray()
	for _, v := range vals {
		out.Push(MkNum(v))
	}
	rt.Stack.Push(MkArr(out))
	return nil
}

func (rt *Rt) execArith(kind bytecode.Kind) error {
	bv, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	av, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	b, err := AsNum(bv)
	if err != nil {
		return err
	}
	a, err := AsNum(av)
	if err != nil {
		return err
	}

	var res int32
	switch kind {
	case bytecode.Add:
		res = a + b
	case bytecode.Sub:
		res = a - b
	case bytecode.Mul:
		res = a * b
	case bytecode.Div:
		if b == 0 {
			return herrors.New(herrors.Arithmetic, "division by zero")
		}
		res = a / b
	case bytecode.Mod:
		if b == 0 {
			return herrors.New(herrors.Arithmetic, "modulo by zero")
		}
		res = a % b
	case bytecode.Lt:
		res = boolNum(a < b)
	case bytecode.Gt:
		res = boolNum(a > b)
	case bytecode.Eq:
		res = boolNum(a == b)
	}
	rt.Stack.Push(MkNum(res))
	return nil
}

func boolNum(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// execNot negates the stack's BOTTOM element in place. This mirrors the
// reference runtime exactly: Not indexes items[0], not the top of stack.
func (rt *Rt) execNot() error {
	if rt.Stack.Len() == 0 {
		return herrors.New(herrors.StackUnderflow, "Not on empty stack")
	}
	bottom := rt.Stack.items[0]
	n, err := AsNum(bottom)
	if err != nil {
		return err
	}
	rt.Stack.items[0] = MkNum(boolNum(n == 0))
	return nil
}

// execExec pops a quotation, drops the popped reference, then executes
// its op list. The drop happens before the run: if the caller did not
// retain a second reference (e.g. via Dup), the quotation's backing array
// can be freed mid-execution, clearing nested quotations embedded in it.
// This is a faithful, intentional replication of the reference runtime's
// behavior, not a bug to fix.
func (rt *Rt) execExec() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	ops := a.items
	Drop(v)
	return rt.exec(ops)
}

func (rt *Rt) execSelect() error {
	condV, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	cond, err := AsNum(condV)
	if err != nil {
		return err
	}
	a, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	b, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	v, notv := b, a
	if cond != 0 {
		v, notv = a, b
	}
	Drop(notv)
	rt.Stack.Push(v)
	return nil
}

func (rt *Rt) execRoL() error {
	t0, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	t1, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	t2, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	rt.Stack.Push(t1)
	rt.Stack.Push(t0)
	rt.Stack.Push(t2)
	return nil
}

func (rt *Rt) execRoR() error {
	t0, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	t1, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	t2, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	rt.Stack.Push(t0)
	rt.Stack.Push(t2)
	rt.Stack.Push(t1)
	return nil
}

// execArrCat pops b then a, COW-clones a if shared, appends clones of b's
// elements into it, drops b, and pushes the result. Cloning b's elements
// (rather than the reference runtime's raw memcpy) keeps reference counts
// sound once b's own container is dropped immediately after.
func (rt *Rt) execArrCat() error {
	bv, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	b, err := AsArr(bv)
	if err != nil {
		return err
	}
	av, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(av)
	if err != nil {
		return err
	}
	a = Cow(a)
	a.appendItemsCloned(b)
	Drop(bv)
	rt.Stack.Push(MkArr(a))
	return nil
}

// execArrFirst pops an array, destructively removes and returns its front
// element, and drops the (now-shortened) array outright — even if other
// holders still reference it. This asymmetry with ArrSkip1 (which does
// COW first) is deliberate and matches the reference runtime precisely.
func (rt *Rt) execArrFirst() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	first, err := a.PopFront()
	if err != nil {
		return err
	}
	Drop(v)
	rt.Stack.Push(first)
	return nil
}

func (rt *Rt) execArrLen() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	n := a.Len()
	Drop(v)
	rt.Stack.Push(MkNum(int32(n)))
	return nil
}

func (rt *Rt) execArrSkip1() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	a = Cow(a)
	first, err := a.PopFront()
	if err != nil {
		return err
	}
	Drop(first)
	rt.Stack.Push(MkArr(a))
	return nil
}

func (rt *Rt) execSystem(id uint32) error {
	if rt.syscall == nil {
		return herrors.Newf(herrors.HostError, "System(%d) with no syscall handler attached", id)
	}
	err := rt.syscall(rt, id, rt.userdata)
	if rt.Tracer != nil {
		rt.Tracer.TraceSyscall(rt, id)
	}
	return err
}

// execMaterialize runs a quotation against a fresh, empty stack and
// captures whatever it leaves behind as a new array, pushed onto the
// outer stack. Unlike Exec, the quotation is dropped only after it runs.
func (rt *Rt) execMaterialize() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	outer := rt.Stack
	rt.Stack = NewArray()
	runErr := rt.exec(a.items)
	captured := rt.Stack
	rt.Stack = outer
	Drop(v)
	if runErr != nil {
		return runErr
	}
	rt.Stack.Push(MkArr(captured))
	return nil
}

// execOpsOf reifies a quotation's op list as an array of numbers: each
// op's Kind tag, followed by its 4-byte little-endian immediate if it
// carries one. Byte order is normalized to little-endian regardless of
// host architecture, unlike the reference runtime's raw memory read.
func (rt *Rt) execOpsOf() error {
	v, err := rt.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := AsArr(v)
	if err != nil {
		return err
	}
	out := NewArray()
	for i := 0; i < a.Len(); i++ {
		item := a.At(i)
		out.Push(MkNum(int32(item.Kind)))
		if bytecode.HasArg(item.Kind) {
			u := uint32(item.Arg)
			out.Push(MkNum(int32(int8(u))))
			out.Push(MkNum(int32(int8(u >> 8))))
			out.Push(MkNum(int32(int8(u >> 16))))
			out.Push(MkNum(int32(int8(u >> 24))))
		}
	}
	Drop(v)
	rt.Stack.Push(MkArr(out))
	return nil
}
