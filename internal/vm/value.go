// Package vm implements the H6 interpreter core: the value model, the
// dispatch loop, and the DSO linker.
package vm

import (
	"github.com/h6lang/h6/internal/bytecode"
	herrors "github.com/h6lang/h6/internal/errors"
)

// Value is a runtime datum: a tagged union of a signed 32-bit number
// (Kind == bytecode.Push) and a reference-counted array (Kind ==
// bytecode.CustomPushArr). Any other Kind only ever appears inside a
// quotation's op list, never as a value proper.
type Value struct {
	Kind bytecode.Kind
	Arg  int32
	Arr  *Array
}

// Array is a reference-counted, mutable, ordered sequence of values.
// ArrCat and ArrSkip1 mutate only an array with Rc == 1, using Cow to
// produce a unique copy first whenever that does not hold. ArrFirst is
// the exception: it pops the front of the array it is given even when
// other holders share it.
type Array struct {
	items []Value
	Rc    int
}

// NewArray returns a fresh, empty array with one owned reference.
func NewArray() *Array {
	return &Array{Rc: 1}
}

// Len reports the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns the element at idx without changing its reference count.
func (a *Array) At(idx int) Value { return a.items[idx] }

// Push appends v, taking ownership of whatever reference v carries.
func (a *Array) Push(v Value) { a.items = append(a.items, v) }

// Pop removes and returns the last element.
func (a *Array) Pop() (Value, error) {
	if len(a.items) == 0 {
		return Value{}, herrors.New(herrors.StackUnderflow, "pop on empty array")
	}
	v := a.items[len(a.items)-1]
	a.items = a.items[:len(a.items)-1]
	return v, nil
}

// PopFront removes and returns the first element, shifting the rest down.
func (a *Array) PopFront() (Value, error) {
	if len(a.items) == 0 {
		return Value{}, herrors.New(herrors.StackUnderflow, "pop-front on empty array")
	}
	v := a.items[0]
	a.items = a.items[1:]
	return v, nil
}

// Last returns the top element without removing it.
func (a *Array) Last() (Value, error) {
	if len(a.items) == 0 {
		return Value{}, herrors.New(herrors.StackUnderflow, "peek on empty array")
	}
	return a.items[len(a.items)-1], nil
}

// Reach returns a clone of the element k positions from the top (k=0 is
// the top element itself).
func (a *Array) Reach(k int) (Value, error) {
	if k < 0 || k >= len(a.items) {
		return Value{}, herrors.New(herrors.StackUnderflow, "reach past bottom of stack")
	}
	return Clone(a.items[len(a.items)-1-k]), nil
}

// appendItemsCloned appends clones of other's items into a — used when
// merging one array's contents into another that may keep its own
// independent lifetime (ArrCat). Every appended item's reference count is
// bumped so the two arrays can diverge safely afterward.
func (a *Array) appendItemsCloned(other *Array) {
	for _, it := range other.items {
		a.items = append(a.items, Clone(it))
	}
}

// MkNum builds a Num value.
func MkNum(n int32) Value {
	return Value{Kind: bytecode.Push, Arg: n}
}

// MkArr builds an ArrRef value that takes ownership of one reference to a
// (the caller must already hold that reference, e.g. from NewArray).
func MkArr(a *Array) Value {
	return Value{Kind: bytecode.CustomPushArr, Arr: a}
}

// IsNum reports whether v holds a Num.
func IsNum(v Value) bool { return v.Kind == bytecode.Push }

// IsArr reports whether v holds an ArrRef.
func IsArr(v Value) bool { return v.Kind == bytecode.CustomPushArr }

// Clone duplicates a value: a bitwise copy for Num, an incremented
// reference for ArrRef.
func Clone(v Value) Value {
	if v.Kind == bytecode.CustomPushArr && v.Arr != nil {
		v.Arr.Rc++
	}
	return v
}

// Drop releases a value's reference. When an ArrRef's count reaches
// zero, its elements are recursively dropped in turn.
func Drop(v Value) {
	if v.Kind != bytecode.CustomPushArr || v.Arr == nil {
		return
	}
	a := v.Arr
	a.Rc--
	if a.Rc == 0 {
		items := a.items
		a.items = nil
		for _, it := range items {
			Drop(it)
		}
	}
}

// Cow returns an array safe to mutate: a itself if uniquely held (Rc ==
// 1), or a freshly cloned, uniquely-held copy otherwise. In the latter
// case the caller's reference to the original a is released, matching
// "the original reference is released" in the value model's arr_cow.
func Cow(a *Array) *Array {
	if a.Rc == 1 {
		return a
	}
	fresh := NewArray()
	fresh.appendItemsCloned(a)
	Drop(MkArr(a))
	return fresh
}

// AsNum extracts the number from a Num value, erroring on any other kind.
func AsNum(v Value) (int32, error) {
	if !IsNum(v) {
		return 0, herrors.New(herrors.TypeMismatch, "expected Num")
	}
	return v.Arg, nil
}

// AsArr extracts the array from an ArrRef value, erroring on any other kind.
func AsArr(v Value) (*Array, error) {
	if !IsArr(v) {
		return nil, herrors.New(herrors.TypeMismatch, "expected ArrRef")
	}
	return v.Arr, nil
}
