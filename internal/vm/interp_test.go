package vm_test

import (
	"testing"

	"github.com/h6lang/h6/internal/bytecode"
	herrors "github.com/h6lang/h6/internal/errors"
	"github.com/h6lang/h6/internal/vm"
)

func runEntry(t *testing.T, ops ...bytecode.Op) *vm.Rt {
	t.Helper()
	b := bytecode.NewBuilder()
	b.SetEntry(bytecode.Ops(ops...))
	rt := vm.New(b.Build(), nil, nil)
	if err := rt.RunEntry(); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}
	return rt
}

func wantNums(t *testing.T, rt *vm.Rt, want ...int32) {
	t.Helper()
	if rt.Stack.Len() != len(want) {
		t.Fatalf("stack len = %d, want %d", rt.Stack.Len(), len(want))
	}
	for i, w := range want {
		v := rt.Stack.At(i)
		n, err := vm.AsNum(v)
		if err != nil {
			t.Fatalf("stack[%d]: %v", i, err)
		}
		if n != w {
			t.Fatalf("stack[%d] = %d, want %d", i, n, w)
		}
	}
}

func TestArithmetic(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.Push, Arg: 3},
		bytecode.Op{Kind: bytecode.Add},
	)
	wantNums(t, rt, 5)
}

func TestSelectOperandOrderCondATopBBottom(t *testing.T) {
	// Push(0) = b, Push(5) = a, Push(6) = cond; cond != 0 picks a.
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 0},
		bytecode.Op{Kind: bytecode.Push, Arg: 5},
		bytecode.Op{Kind: bytecode.Push, Arg: 6},
		bytecode.Op{Kind: bytecode.Select},
	)
	wantNums(t, rt, 5)
}

func TestNotOperatesOnStackBottom(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 0},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Not},
	)
	// items[0] (the first Push(0)) becomes !0 == 1; the rest is untouched.
	wantNums(t, rt, 1, 1, 1)
}

func TestRoLRoR(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.Push, Arg: 3},
		bytecode.Op{Kind: bytecode.RoL},
	)
	wantNums(t, rt, 2, 3, 1)

	rt = runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.Push, Arg: 3},
		bytecode.Op{Kind: bytecode.RoR},
	)
	// t0=3 (top), t1=2, t2=1 (bottom); push t0, t2, t1.
	wantNums(t, rt, 3, 1, 2)
}

func TestArrayLiteralAndLen(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.Push, Arg: 3},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrLen},
	)
	wantNums(t, rt, 3)
}

func TestNestedArrayLiteralCapturesRawOpsFlat(t *testing.T) {
	// Construction only ever collapses the outermost matching ArrEnd: a
	// nested ArrBegin/ArrEnd pair is recorded as literal data alongside
	// everything else, and is only really rebuilt into its own array the
	// next time this op list is executed (e.g. via Exec or Materialize).
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrLen},
	)
	// Push(1), ArrBegin, Push(2), ArrEnd: four raw entries.
	wantNums(t, rt, 4)
}

func TestNestedArrayLiteralRebuildsOnExec(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 5},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.Dup},
		bytecode.Op{Kind: bytecode.Exec},
	)
	// Executing the outer quotation replays ArrBegin/Push(5)/ArrEnd,
	// which this time really does build a one-element inner array.
	if rt.Stack.Len() != 2 {
		t.Fatalf("stack len = %d, want 2", rt.Stack.Len())
	}
	inner, err := vm.AsArr(rt.Stack.At(1))
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if inner.Len() != 1 {
		t.Fatalf("inner len = %d, want 1", inner.Len())
	}
}

func TestArrCatConcatenatesArrays(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrCat},
		bytecode.Op{Kind: bytecode.ArrLen},
	)
	wantNums(t, rt, 2)
}

func TestArrFirstIsDestructive(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 7},
		bytecode.Op{Kind: bytecode.Push, Arg: 8},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.ArrFirst},
	)
	wantNums(t, rt, 7)
}

func TestArrFirstMutatesSharedArray(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 7},
		bytecode.Op{Kind: bytecode.Push, Arg: 8},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.Dup},
		bytecode.Op{Kind: bytecode.ArrFirst},
	)
	// Top of stack: the popped-front value (7). Below it: the *same*
	// shared array, now also missing its first element, since ArrFirst
	// never COWs before mutating.
	if rt.Stack.Len() != 2 {
		t.Fatalf("stack len = %d, want 2", rt.Stack.Len())
	}
	n, err := vm.AsNum(rt.Stack.At(1))
	if err != nil || n != 7 {
		t.Fatalf("top = %d, %v, want 7", n, err)
	}
	a, err := vm.AsArr(rt.Stack.At(0))
	if err != nil {
		t.Fatalf("bottom: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("shared array len = %d, want 1 (front popped in place)", a.Len())
	}
}

func TestExecDropsReferenceBeforeRunning(t *testing.T) {
	// Dup retains a second reference before Exec drops the popped one, so
	// the quotation survives to run. Quotation body: Push(9).
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 9},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.Dup},
		bytecode.Op{Kind: bytecode.Exec},
	)
	// One leftover ArrRef (the retained Dup'd copy) plus the pushed 9.
	if rt.Stack.Len() != 2 {
		t.Fatalf("stack len = %d, want 2", rt.Stack.Len())
	}
	n, err := vm.AsNum(rt.Stack.At(1))
	if err != nil || n != 9 {
		t.Fatalf("top = %d, %v, want 9", n, err)
	}
}

func TestMaterializeCapturesSubStack(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.Push, Arg: 100},
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 2},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.Materialize},
		bytecode.Op{Kind: bytecode.ArrLen},
	)
	wantNums(t, rt, 100, 2)
}

func TestOpsOfNormalizesLittleEndian(t *testing.T) {
	rt := runEntry(t,
		bytecode.Op{Kind: bytecode.ArrBegin},
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.ArrEnd},
		bytecode.Op{Kind: bytecode.OpsOf},
	)
	if rt.Stack.Len() != 1 {
		t.Fatalf("stack len = %d, want 1", rt.Stack.Len())
	}
	reified, err := vm.AsArr(rt.Stack.At(0))
	if err != nil {
		t.Fatalf("AsArr: %v", err)
	}
	// Kind(Push) then 4 LE bytes of Arg=1: 1,0,0,0.
	want := []int32{int32(bytecode.Push), 1, 0, 0, 0}
	if reified.Len() != len(want) {
		t.Fatalf("reified len = %d, want %d", reified.Len(), len(want))
	}
	for i, w := range want {
		n, err := vm.AsNum(reified.At(i))
		if err != nil || n != w {
			t.Fatalf("reified[%d] = %d, %v, want %d", i, n, err, w)
		}
	}
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	b.SetEntry(bytecode.Ops(
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Push, Arg: 0},
		bytecode.Op{Kind: bytecode.Div},
	))
	rt := vm.New(b.Build(), nil, nil)
	err := rt.RunEntry()
	if !herrors.Is(err, herrors.Arithmetic) {
		t.Fatalf("err = %v, want Arithmetic", err)
	}
}

func TestReachPastBottomIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	b.SetEntry(bytecode.Ops(
		bytecode.Op{Kind: bytecode.Push, Arg: 1},
		bytecode.Op{Kind: bytecode.Reach, Arg: 5},
	))
	rt := vm.New(b.Build(), nil, nil)
	err := rt.RunEntry()
	if !herrors.Is(err, herrors.StackUnderflow) {
		t.Fatalf("err = %v, want StackUnderflow", err)
	}
}

func TestPopOnEmptyStackIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	b.SetEntry(bytecode.Ops(bytecode.Op{Kind: bytecode.Pop}))
	rt := vm.New(b.Build(), nil, nil)
	err := rt.RunEntry()
	if !herrors.Is(err, herrors.StackUnderflow) {
		t.Fatalf("err = %v, want StackUnderflow", err)
	}
}

func TestConstDsoWithoutAttachIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	b.AddDsoRef("helper")
	b.SetEntry(bytecode.Ops(bytecode.Op{Kind: bytecode.ConstDso, Arg: 0}))
	rt := vm.New(b.Build(), nil, nil)
	err := rt.RunEntry()
	if !herrors.Is(err, herrors.DsoMissing) {
		t.Fatalf("err = %v, want DsoMissing", err)
	}
}

func TestConstDsoResolvesAfterLink(t *testing.T) {
	dso := bytecode.NewBuilder()
	dso.AddGlobal("helper", bytecode.Ops(bytecode.Op{Kind: bytecode.Push, Arg: 42}))
	dso.SetEntry(bytecode.Ops())
	dsoBytes := dso.Build()

	main := bytecode.NewBuilder()
	idx := main.AddDsoRef("helper")
	main.SetEntry(bytecode.Ops(bytecode.Op{Kind: bytecode.ConstDso, Arg: int32(idx)}))
	mainBytes := main.Build()

	rt := vm.New(mainBytes, nil, nil)
	if err := rt.AttachDSO(dsoBytes); err != nil {
		t.Fatalf("AttachDSO: %v", err)
	}
	if err := rt.RunEntry(); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}
	wantNums(t, rt, 42)
}

func TestUnknownOpcodeIsFatal(t *testing.T) {
	data := append(make([]byte, bytecode.HeaderSize), byte(99), byte(bytecode.Terminate))
	rt := vm.New(data, nil, nil)
	err := rt.RunEntry()
	if !herrors.Is(err, herrors.UnsupportedOp) {
		t.Fatalf("err = %v, want UnsupportedOp", err)
	}
}
