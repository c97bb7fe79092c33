package vm

import (
	"github.com/h6lang/h6/internal/bytecode"
	herrors "github.com/h6lang/h6/internal/errors"
)

// Link resolves every DSO reference declared in mainBytes' extension
// header against dsoBytes' own globals table, by exact name match. It
// returns one absolute offset into dsoBytes per reference, in
// declaration order, ready to index with a ConstDso operand. dsoBytes
// itself must already be fully self-contained: it may not declare DSO
// references of its own.
func Link(mainBytes, dsoBytes []byte) ([]int64, error) {
	h, err := bytecode.ParseHeader(mainBytes)
	if err != nil {
		return nil, err
	}
	if !bytecode.HasExtensionHeader(h) {
		return nil, nil
	}
	ex, err := bytecode.ParseExtensionHeader(mainBytes, h)
	if err != nil {
		return nil, err
	}
	nameOffs, err := bytecode.DsoRefNameOffsets(mainBytes, ex)
	if err != nil {
		return nil, err
	}

	dh, err := bytecode.ParseHeader(dsoBytes)
	if err != nil {
		return nil, err
	}
	dsoGlobals, err := bytecode.Globals(dsoBytes, dh)
	if err != nil {
		return nil, err
	}

	resolved := make([]int64, len(nameOffs))
	for i, off := range nameOffs {
		name, err := readCString(mainBytes, int64(bytecode.HeaderSize)+int64(off))
		if err != nil {
			return nil, err
		}
		g, ok, err := bytecode.FindGlobal(dsoBytes, dsoGlobals, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, herrors.WithName(herrors.DsoUnresolved, "dso global not found", name)
		}
		resolved[i] = int64(bytecode.HeaderSize) + int64(g.ValueOffset)
	}
	return resolved, nil
}

func readCString(data []byte, start int64) (string, error) {
	if start < 0 || start >= int64(len(data)) {
		return "", herrors.New(herrors.MalformedModule, "dso reference name offset out of bounds")
	}
	end := start
	for end < int64(len(data)) && data[end] != 0 {
		end++
	}
	if end >= int64(len(data)) {
		return "", herrors.New(herrors.MalformedModule, "unterminated dso reference name")
	}
	return string(data[start:end]), nil
}
