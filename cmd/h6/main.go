// cmd/h6/main.go
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/h6lang/h6/internal/bytecode"
	"github.com/h6lang/h6/internal/debugserver"
	herrors "github.com/h6lang/h6/internal/errors"
	"github.com/h6lang/h6/internal/trace"
	"github.com/h6lang/h6/internal/vm"
)

const version = "0.1.0"

var buildDate = time.Now().Format("2006-01-02")

// commandAliases lets short single-letter invocations stand in for the
// full command name, same convention as the rest of this toolchain.
var commandAliases = map[string]string{
	"r": "run",
	"i": "inspect",
	"w": "watch",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		showVersion()
	case "run":
		runCmd(args[1:])
	case "inspect":
		inspectCmd(args[1:])
	default:
		// Bare form `h6 <file> [--dso FILE]`: a first argument naming an
		// existing file runs it as if `run` had been given.
		if _, err := os.Stat(args[0]); err == nil {
			runCmd(args)
			return
		}
		fmt.Fprintf(os.Stderr, "h6: unknown command %q\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println("h6 - a stack-oriented bytecode interpreter")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  h6 run <file.h6b> [options]        Run a compiled module     (alias: r)")
	fmt.Println("  h6 inspect <file.h6b>               Decode and print a module (alias: i)")
	fmt.Println("  h6 version                          Print version info")
	fmt.Println()
	fmt.Println("run options:")
	fmt.Println("  --dso <file.h6b>       Link against a shared module")
	fmt.Println("  --trace-db <path>      Record executed ops to a SQLite trace database")
	fmt.Println("  --watch <addr>         Serve live execution events over WebSocket at addr")
}

func showVersion() {
	fmt.Printf("h6 %s (built %s)\n", version, buildDate)
}

func readModule(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "h6: %v\n", err)
		os.Exit(1)
	}
	return data
}

func runCmd(args []string) {
	var inputFile, dsoFile, traceDB, watchAddr string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dso":
			i++
			dsoFile = args[i]
		case "--trace-db":
			i++
			traceDB = args[i]
		case "--watch":
			i++
			watchAddr = args[i]
		case "--help", "-h":
			showUsage()
			return
		default:
			inputFile = args[i]
		}
	}
	if inputFile == "" {
		fmt.Fprintln(os.Stderr, "h6 run: missing input file")
		os.Exit(1)
	}

	moduleBytes := readModule(inputFile)
	rt := vm.New(moduleBytes, syscallback, nil)

	if dsoFile != "" {
		dsoBytes := readModule(dsoFile)
		if err := rt.AttachDSO(dsoBytes); err != nil {
			fatal(err)
		}
	}

	var rec *trace.Recorder
	if traceDB != "" {
		var err error
		rec, err = trace.Open(traceDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "h6: opening trace db: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
		if err := rec.BeginRun(rt); err != nil {
			fmt.Fprintf(os.Stderr, "h6: trace db: %v\n", err)
			os.Exit(1)
		}
		rt.Tracer = rec
	}

	if watchAddr != "" {
		srv := debugserver.New()
		if rt.Tracer != nil {
			rt.Tracer = multiTracer{rt.Tracer, srv}
		} else {
			rt.Tracer = srv
		}
		go func() {
			if err := http.ListenAndServe(watchAddr, srv); err != nil {
				fmt.Fprintf(os.Stderr, "h6: debug server: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "h6: serving live execution events on ws://%s\n", watchAddr)
	}

	if err := rt.RunEntry(); err != nil {
		fatal(err)
	}

	vm.PrintStack(os.Stdout, rt)
}

func inspectCmd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "h6 inspect: missing input file")
		os.Exit(1)
	}
	data := readModule(args[0])
	h, err := bytecode.ParseHeader(data)
	if err != nil {
		fatal(err)
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd())
	label := func(s string) string {
		if colorize {
			return "\x1b[1m" + s + "\x1b[0m"
		}
		return s
	}

	fmt.Printf("%s %s\n", label("size:"), humanize.Bytes(uint64(len(data))))
	fmt.Printf("%s %d\n", label("globals:"), h.GlobalsCount)
	fmt.Printf("%s %v\n", label("has dso refs:"), bytecode.HasExtensionHeader(h))

	globals, err := bytecode.Globals(data, h)
	if err != nil {
		fatal(err)
	}
	for _, g := range globals {
		name, err := bytecode.GlobalName(data, g)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("  global %s @ %d\n", name, g.ValueOffset)
	}

	ops, err := bytecode.Decode(data, h.EntryOffset())
	if err != nil {
		fatal(err)
	}
	fmt.Println(label("entry:"))
	for _, op := range ops {
		if bytecode.HasArg(op.Kind) {
			fmt.Printf("  %s %d\n", op.Kind, op.Arg)
		} else {
			fmt.Printf("  %s\n", op.Kind)
		}
	}
}

// syscallback implements the two syscalls the reference CLI defines: 0
// writes a byte to stdout, 1 reads a byte from stdin. Both operate on a
// "stream" argument that must be 1 (stdout/stdin respectively).
func syscallback(rt *vm.Rt, id uint32, _ any) error {
	switch id {
	case 0:
		byteV, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		b, err := vm.AsNum(byteV)
		if err != nil {
			return err
		}
		streamV, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		stream, err := vm.AsNum(streamV)
		if err != nil {
			return err
		}
		if stream != 1 {
			return herrors.Newf(herrors.HostError, "syscall 0: unsupported stream %d", stream)
		}
		_, err = os.Stdout.Write([]byte{byte(b)})
		return err

	case 1:
		streamV, err := rt.Stack.Pop()
		if err != nil {
			return err
		}
		stream, err := vm.AsNum(streamV)
		if err != nil {
			return err
		}
		if stream != 1 {
			return herrors.Newf(herrors.HostError, "syscall 1: unsupported stream %d", stream)
		}
		var buf [1]byte
		n, _ := os.Stdin.Read(buf[:])
		v := int32(-1)
		if n == 1 {
			v = int32(buf[0])
		}
		rt.Stack.Push(vm.MkNum(v))
		return nil

	default:
		return herrors.Newf(herrors.HostError, "unknown syscall %d", id)
	}
}

// multiTracer fans TraceOp/TraceSyscall calls out to every tracer in
// order, letting --trace-db and --watch be used together.
type multiTracer []vm.Tracer

func (m multiTracer) TraceOp(rt *vm.Rt, op bytecode.Op, depth int) {
	for _, t := range m {
		t.TraceOp(rt, op, depth)
	}
}

func (m multiTracer) TraceSyscall(rt *vm.Rt, id uint32) {
	for _, t := range m {
		t.TraceSyscall(rt, id)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "h6: %v\n", err)
	os.Exit(1)
}
