package vm

import (
	"fmt"
	"io"

	"github.com/h6lang/h6/internal/bytecode"
)

// PrintValue writes v in the reference runtime's textual form: a Num as a
// signed decimal, an ArrRef as a brace-delimited, space-separated list of
// its elements (recursively), and any other tag as "<op N>" — a quoted
// instruction that was never pushed as Num or ArrRef, which can only
// happen when printing a quotation's own raw op list (e.g. via OpsOf's
// input before reification).
func PrintValue(w io.Writer, v Value) {
	switch {
	case IsNum(v):
		fmt.Fprintf(w, "%d", v.Arg)
	case IsArr(v):
		fmt.Fprint(w, "{ ")
		for i := 0; i < v.Arr.Len(); i++ {
			PrintValue(w, v.Arr.At(i))
			fmt.Fprint(w, " ")
		}
		fmt.Fprint(w, "}")
	default:
		fmt.Fprintf(w, "<op %d>", v.Kind)
	}
}

// PrintStack writes rt.Stack in the "BOT\n  v1\n  v2\nTOP\n" form the
// reference CLI uses, bottom-to-top, one value per line. It writes
// nothing at all for an empty stack, matching the reference CLI's
// behavior of only printing the banner when there is something to show.
func PrintStack(w io.Writer, rt *Rt) {
	if rt.Stack.Len() == 0 {
		return
	}
	fmt.Fprint(w, "BOT\n")
	for i := 0; i < rt.Stack.Len(); i++ {
		fmt.Fprint(w, "  ")
		PrintValue(w, rt.Stack.At(i))
		fmt.Fprint(w, "\n")
	}
	fmt.Fprint(w, "TOP\n")
}

// DescribeKind names an opcode tag for diagnostics, delegating to the
// bytecode package's own stringer so callers outside that package can
// name a Value's Kind without importing it just for this.
func DescribeKind(k bytecode.Kind) string { return k.String() }
