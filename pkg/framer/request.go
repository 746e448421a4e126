package framer

import (
	"io"

	"github.com/cuemby/shardbroker/pkg/types"
)

// Request is a fully decoded management request: its header plus validated
// typed arguments.
type Request struct {
	Header Header
	Args   []Arg
}

// ReadRequest reads one framed request from r: header, then exactly
// Header.PayloadLength bytes of argument payload.
func ReadRequest(r io.Reader) (Request, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Request{}, err
	}
	if !h.Opcode.Known() {
		return Request{}, Err(ErrInvalidOpcode, "opcode %d", h.Opcode)
	}
	payload := make([]byte, h.PayloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Request{}, Err(ErrCommunication, "read payload: %v", err)
	}
	args, err := DecodeArgs(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Header: h, Args: args}, nil
}

// WriteRequest frames and writes a request built from an ArgWriter.
func WriteRequest(w io.Writer, opcode Opcode, clientVersion types.ProtocolVersion, args *ArgWriter) error {
	payload := args.Finish()
	h := Header{
		Opcode:        opcode,
		ClientVersion: clientVersion,
		PayloadLength: uint32(len(payload)),
	}
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// IntArg returns the Int value of args[i], erroring if out of range or the
// wrong type.
func IntArg(args []Arg, i int) (int32, error) {
	a, err := at(args, i)
	if err != nil {
		return 0, err
	}
	if a.Type != ArgInt {
		return 0, Err(ErrInvalidArgument, "arg[%d] expected INT, got type %d", i, a.Type)
	}
	return a.Int, nil
}

// Int64Arg returns the Int64 value of args[i].
func Int64Arg(args []Arg, i int) (int64, error) {
	a, err := at(args, i)
	if err != nil {
		return 0, err
	}
	if a.Type != ArgInt64 {
		return 0, Err(ErrInvalidArgument, "arg[%d] expected INT64, got type %d", i, a.Type)
	}
	return a.Int64, nil
}

// StrArg returns the Str value of args[i].
func StrArg(args []Arg, i int) (string, error) {
	a, err := at(args, i)
	if err != nil {
		return "", err
	}
	if a.Type != ArgStr {
		return "", Err(ErrInvalidArgument, "arg[%d] expected STR, got type %d", i, a.Type)
	}
	return a.Str, nil
}

// IntArrayArg returns the IntArray value of args[i].
func IntArrayArg(args []Arg, i int) ([]int32, error) {
	a, err := at(args, i)
	if err != nil {
		return nil, err
	}
	if a.Type != ArgIntArray {
		return nil, Err(ErrInvalidArgument, "arg[%d] expected INT_ARRAY, got type %d", i, a.Type)
	}
	return a.IntArray, nil
}

// StrArrayArg returns the StrArray value of args[i].
func StrArrayArg(args []Arg, i int) ([]string, error) {
	a, err := at(args, i)
	if err != nil {
		return nil, err
	}
	if a.Type != ArgStrArray {
		return nil, Err(ErrInvalidArgument, "arg[%d] expected STR_ARRAY, got type %d", i, a.Type)
	}
	return a.StrArray, nil
}

// RequireCount asserts args (excluding the mandatory sentinel) has exactly n
// elements.
func RequireCount(args []Arg, n int) error {
	if len(args)-1 != n {
		return Err(ErrInvalidArgument, "expected %d arguments, got %d", n, len(args)-1)
	}
	return nil
}

func at(args []Arg, i int) (Arg, error) {
	if i < 0 || i >= len(args) {
		return Arg{}, Err(ErrInvalidArgument, "missing arg[%d]", i)
	}
	return args[i], nil
}
