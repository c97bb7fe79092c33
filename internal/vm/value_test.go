package vm_test

import (
	"testing"

	"github.com/h6lang/h6/internal/vm"
)

func TestCloneSharesArrayIncrementsRc(t *testing.T) {
	a := vm.NewArray()
	a.Push(vm.MkNum(1))
	v := vm.MkArr(a)

	clone := vm.Clone(v)
	if a.Rc != 2 {
		t.Fatalf("Rc = %d, want 2", a.Rc)
	}

	vm.Drop(clone)
	if a.Rc != 1 {
		t.Fatalf("Rc after one drop = %d, want 1", a.Rc)
	}
	vm.Drop(v)
	if a.Rc != 0 {
		t.Fatalf("Rc after second drop = %d, want 0", a.Rc)
	}
}

func TestDropCascadesIntoChildren(t *testing.T) {
	inner := vm.NewArray()
	inner.Push(vm.MkNum(5))
	outer := vm.NewArray()
	outer.Push(vm.MkArr(inner))

	vm.Drop(vm.MkArr(outer))
	if outer.Rc != 0 {
		t.Fatalf("outer Rc = %d, want 0", outer.Rc)
	}
	if inner.Rc != 0 {
		t.Fatalf("inner Rc = %d, want 0 (dropped by cascade)", inner.Rc)
	}
}

func TestCowClonesOnlyWhenShared(t *testing.T) {
	a := vm.NewArray()
	a.Push(vm.MkNum(1))

	unique := vm.Cow(a)
	if unique != a {
		t.Fatal("Cow on an uniquely-held array should return the same pointer")
	}

	shared := vm.Clone(vm.MkArr(a)) // a.Rc == 2 now
	fresh := vm.Cow(a)
	if fresh == a {
		t.Fatal("Cow on a shared array should return a distinct array")
	}
	if fresh.Len() != a.Len() {
		t.Fatalf("cloned array len = %d, want %d", fresh.Len(), a.Len())
	}
	vm.Drop(shared)
}

func TestPopFrontAndPopOrdering(t *testing.T) {
	a := vm.NewArray()
	a.Push(vm.MkNum(1))
	a.Push(vm.MkNum(2))
	a.Push(vm.MkNum(3))

	front, err := a.PopFront()
	if err != nil {
		t.Fatalf("PopFront: %v", err)
	}
	if n, _ := vm.AsNum(front); n != 1 {
		t.Fatalf("front = %d, want 1", n)
	}

	back, err := a.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if n, _ := vm.AsNum(back); n != 3 {
		t.Fatalf("back = %d, want 3", n)
	}
	if a.Len() != 1 {
		t.Fatalf("remaining len = %d, want 1", a.Len())
	}
}

func TestReachClonesArrayElements(t *testing.T) {
	inner := vm.NewArray()
	a := vm.NewArray()
	a.Push(vm.MkNum(1))
	a.Push(vm.MkArr(inner))

	v, err := a.Reach(0)
	if err != nil {
		t.Fatalf("Reach: %v", err)
	}
	if inner.Rc != 2 {
		t.Fatalf("inner Rc after Reach = %d, want 2", inner.Rc)
	}
	vm.Drop(v)
}
