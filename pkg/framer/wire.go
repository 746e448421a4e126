package framer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/shardbroker/pkg/types"
)

// HeaderSize is the fixed size of a request header in bytes (spec.md §6).
const HeaderSize = 16

// LastArgSentinel is the required value of the final INT argument of every
// request; its absence or mismatch is BR_ER_INVALID_ARGUMENT.
const LastArgSentinel int32 = 0x52594521 // "RYE!" in the original protocol's spirit

// ArgType tags one argument record in a request payload.
type ArgType uint8

const (
	ArgInt ArgType = iota + 1
	ArgInt64
	ArgStr
	ArgStrArray
	ArgIntArray
)

// Header is the 16-byte fixed request header.
type Header struct {
	Opcode        Opcode
	ClientVersion types.ProtocolVersion
	PayloadLength uint32
}

// EncodeHeader writes h in the canonical 16-byte big-endian layout:
// opcode(1) reserved(3) version(4) length(4) -- oh wait, spec says version
// is 4 bytes (major/minor/patch/build) and length is 4 bytes, reserved is 3,
// totalling 1+3+4+4=12; the remaining 4 bytes pad the header to the 16-byte
// size spec.md §6 specifies for alignment.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Opcode)
	// buf[1:4] reserved, left zero.
	buf[4] = h.ClientVersion.Major
	buf[5] = h.ClientVersion.Minor
	buf[6] = h.ClientVersion.Patch
	buf[7] = h.ClientVersion.Build
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLength)
	// buf[12:16] reserved, left zero.
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer produced by EncodeHeader.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, Err(ErrCommunication, "short header: %d bytes", len(buf))
	}
	return Header{
		Opcode: Opcode(buf[0]),
		ClientVersion: types.ProtocolVersion{
			Major: buf[4], Minor: buf[5], Patch: buf[6], Build: buf[7],
		},
		PayloadLength: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// ReadHeader reads and decodes one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, Err(ErrCommunication, "read header: %v", err)
	}
	return DecodeHeader(buf)
}

// Arg is one decoded argument.
type Arg struct {
	Type     ArgType
	Int      int32
	Int64    int64
	Str      string
	StrArray []string
	IntArray []int32
}

// ArgWriter accumulates arguments into a request payload buffer.
type ArgWriter struct {
	buf  bytes.Buffer
	n    int32
	last bool
}

// NewArgWriter returns an empty argument writer.
func NewArgWriter() *ArgWriter { return &ArgWriter{} }

func (w *ArgWriter) putType(t ArgType) { w.buf.WriteByte(byte(t)) }

// Int appends an INT argument.
func (w *ArgWriter) Int(v int32) *ArgWriter {
	w.putType(ArgInt)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
	w.n++
	return w
}

// Int64 appends an INT64 argument.
func (w *ArgWriter) Int64(v int64) *ArgWriter {
	w.putType(ArgInt64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
	w.n++
	return w
}

// Str appends a length-prefixed, null-terminated STR argument.
func (w *ArgWriter) Str(s string) *ArgWriter {
	w.putType(ArgStr)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(s)+1))
	w.buf.Write(lb[:])
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
	w.n++
	return w
}

// StrArray appends a STR_ARRAY argument (count + N strings).
func (w *ArgWriter) StrArray(ss []string) *ArgWriter {
	w.putType(ArgStrArray)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], uint32(len(ss)))
	w.buf.Write(cb[:])
	for _, s := range ss {
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(s)+1))
		w.buf.Write(lb[:])
		w.buf.WriteString(s)
		w.buf.WriteByte(0)
	}
	w.n++
	return w
}

// IntArray appends an INT_ARRAY argument (count + N ints).
func (w *ArgWriter) IntArray(is []int32) *ArgWriter {
	w.putType(ArgIntArray)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], uint32(len(is)))
	w.buf.Write(cb[:])
	for _, v := range is {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		w.buf.Write(b[:])
	}
	w.n++
	return w
}

// Finish appends the mandatory sentinel last argument and returns the full
// payload (arg count + arg records) ready to follow a Header.
func (w *ArgWriter) Finish() []byte {
	if !w.last {
		w.Int(LastArgSentinel)
		w.last = true
	}
	out := make([]byte, 0, 4+w.buf.Len())
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], uint32(w.n))
	out = append(out, nb[:]...)
	out = append(out, w.buf.Bytes()...)
	return out
}

// DecodeArgs parses a full argument payload (as produced by Finish) and
// validates that the last argument is the sentinel INT per spec.md §4.4.
func DecodeArgs(payload []byte) ([]Arg, error) {
	r := bytes.NewReader(payload)
	var numArgs int32
	if err := binary.Read(r, binary.BigEndian, &numArgs); err != nil {
		return nil, Err(ErrInvalidArgument, "missing arg count: %v", err)
	}
	if numArgs < 1 {
		return nil, Err(ErrInvalidArgument, "num_args must be >= 1, got %d", numArgs)
	}
	args := make([]Arg, 0, numArgs)
	for i := int32(0); i < numArgs; i++ {
		a, err := decodeOneArg(r)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	last := args[len(args)-1]
	if last.Type != ArgInt || last.Int != LastArgSentinel {
		return nil, Err(ErrInvalidArgument, "last argument must be INT sentinel %d", LastArgSentinel)
	}
	return args, nil
}

func decodeOneArg(r *bytes.Reader) (Arg, error) {
	tb, err := r.ReadByte()
	if err != nil {
		return Arg{}, Err(ErrInvalidArgument, "missing arg type: %v", err)
	}
	switch ArgType(tb) {
	case ArgInt:
		var v int32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return Arg{}, Err(ErrInvalidArgument, "short INT arg: %v", err)
		}
		return Arg{Type: ArgInt, Int: v}, nil
	case ArgInt64:
		var v int64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return Arg{}, Err(ErrInvalidArgument, "short INT64 arg: %v", err)
		}
		return Arg{Type: ArgInt64, Int64: v}, nil
	case ArgStr:
		s, err := readLenPrefixedStr(r)
		if err != nil {
			return Arg{}, err
		}
		return Arg{Type: ArgStr, Str: s}, nil
	case ArgStrArray:
		var count int32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return Arg{}, Err(ErrInvalidArgument, "short STR_ARRAY count: %v", err)
		}
		ss := make([]string, 0, count)
		for i := int32(0); i < count; i++ {
			s, err := readLenPrefixedStr(r)
			if err != nil {
				return Arg{}, err
			}
			ss = append(ss, s)
		}
		return Arg{Type: ArgStrArray, StrArray: ss}, nil
	case ArgIntArray:
		var count int32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return Arg{}, Err(ErrInvalidArgument, "short INT_ARRAY count: %v", err)
		}
		is := make([]int32, 0, count)
		for i := int32(0); i < count; i++ {
			var v int32
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return Arg{}, Err(ErrInvalidArgument, "short INT_ARRAY element: %v", err)
			}
			is = append(is, v)
		}
		return Arg{Type: ArgIntArray, IntArray: is}, nil
	default:
		return Arg{}, Err(ErrInvalidArgument, "unknown arg type %d", tb)
	}
}

func readLenPrefixedStr(r *bytes.Reader) (string, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", Err(ErrInvalidArgument, "short STR length: %v", err)
	}
	if length < 1 {
		return "", Err(ErrInvalidArgument, "STR length must include null terminator")
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", Err(ErrInvalidArgument, "short STR body: %v", err)
	}
	if b[length-1] != 0 {
		return "", Err(ErrInvalidArgument, "STR not null-terminated")
	}
	return string(b[:length-1]), nil
}

// Response is the framed reply to a management request: an error code plus
// zero or more opaque message blocks.
type Response struct {
	Code     Code
	Messages [][]byte
}

// Encode renders r in the canonical response layout: error_code(int32),
// num_additional(int32), then that many size(int32)+bytes blocks.
func (r Response) Encode() []byte {
	var buf bytes.Buffer
	var eb [4]byte
	binary.BigEndian.PutUint32(eb[:], uint32(int32(r.Code)))
	buf.Write(eb[:])
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], uint32(len(r.Messages)))
	buf.Write(nb[:])
	for _, m := range r.Messages {
		var sb [4]byte
		binary.BigEndian.PutUint32(sb[:], uint32(len(m)))
		buf.Write(sb[:])
	}
	for _, m := range r.Messages {
		buf.Write(m)
	}
	return buf.Bytes()
}

// DecodeResponse parses a Response from a full response buffer.
func DecodeResponse(buf []byte) (Response, error) {
	r := bytes.NewReader(buf)
	var code int32
	if err := binary.Read(r, binary.BigEndian, &code); err != nil {
		return Response{}, fmt.Errorf("short response code: %w", err)
	}
	var numAdditional int32
	if err := binary.Read(r, binary.BigEndian, &numAdditional); err != nil {
		return Response{}, fmt.Errorf("short response count: %w", err)
	}
	sizes := make([]int32, numAdditional)
	for i := range sizes {
		if err := binary.Read(r, binary.BigEndian, &sizes[i]); err != nil {
			return Response{}, fmt.Errorf("short response size[%d]: %w", i, err)
		}
	}
	msgs := make([][]byte, numAdditional)
	for i, sz := range sizes {
		b := make([]byte, sz)
		if _, err := io.ReadFull(r, b); err != nil {
			return Response{}, fmt.Errorf("short response body[%d]: %w", i, err)
		}
		msgs[i] = b
	}
	return Response{Code: Code(code), Messages: msgs}, nil
}

// WriteResponse writes r's encoded form to w.
func WriteResponse(w io.Writer, r Response) error {
	_, err := w.Write(r.Encode())
	return err
}

// ReadResponse reads one framed response directly off r: error_code(int32),
// num_additional(int32), then num_additional size(int32)+body blocks — the
// streaming counterpart to DecodeResponse for callers (pkg/client) that
// don't already have the full buffer in hand.
func ReadResponse(r io.Reader) (Response, error) {
	var codeBuf [4]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return Response{}, fmt.Errorf("short response code: %w", err)
	}
	code := Code(int32(binary.BigEndian.Uint32(codeBuf[:])))

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return Response{}, fmt.Errorf("short response count: %w", err)
	}
	numAdditional := binary.BigEndian.Uint32(countBuf[:])

	sizes := make([]uint32, numAdditional)
	for i := range sizes {
		var sb [4]byte
		if _, err := io.ReadFull(r, sb[:]); err != nil {
			return Response{}, fmt.Errorf("short response size[%d]: %w", i, err)
		}
		sizes[i] = binary.BigEndian.Uint32(sb[:])
	}

	msgs := make([][]byte, numAdditional)
	for i, sz := range sizes {
		b := make([]byte, sz)
		if _, err := io.ReadFull(r, b); err != nil {
			return Response{}, fmt.Errorf("short response body[%d]: %w", i, err)
		}
		msgs[i] = b
	}
	return Response{Code: code, Messages: msgs}, nil
}
