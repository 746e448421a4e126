package framer

import (
	"bytes"
	"testing"

	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Opcode:        OpInit,
		ClientVersion: types.ProtocolVersion{Major: 1, Minor: 2, Patch: 3, Build: 4},
		PayloadLength: 42,
	}
	got, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestArgRoundTrip(t *testing.T) {
	w := NewArgWriter().
		Int(7).
		Int64(-123456789).
		Str("hello").
		StrArray([]string{"a", "bb", "ccc"}).
		IntArray([]int32{1, 2, 3})
	payload := w.Finish()

	args, err := DecodeArgs(payload)
	require.NoError(t, err)
	require.Len(t, args, 6) // 5 + sentinel

	require.Equal(t, ArgInt, args[0].Type)
	require.EqualValues(t, 7, args[0].Int)

	require.Equal(t, ArgInt64, args[1].Type)
	require.EqualValues(t, -123456789, args[1].Int64)

	require.Equal(t, ArgStr, args[2].Type)
	require.Equal(t, "hello", args[2].Str)

	require.Equal(t, ArgStrArray, args[3].Type)
	require.Equal(t, []string{"a", "bb", "ccc"}, args[3].StrArray)

	require.Equal(t, ArgIntArray, args[4].Type)
	require.Equal(t, []int32{1, 2, 3}, args[4].IntArray)

	require.Equal(t, ArgInt, args[5].Type)
	require.EqualValues(t, LastArgSentinel, args[5].Int)
}

func TestArgRoundTripManyShapes(t *testing.T) {
	// num_args <= 64, mixing every supported shape repeatedly.
	w := NewArgWriter()
	for i := 0; i < 15; i++ {
		w.Int(int32(i)).Str("x").IntArray([]int32{int32(i), int32(i + 1)}).StrArray([]string{"p", "q"})
	}
	payload := w.Finish()
	args, err := DecodeArgs(payload)
	require.NoError(t, err)
	require.Len(t, args, 15*4+1)
}

func TestDecodeArgsRejectsMissingSentinel(t *testing.T) {
	// One INT argument with a value that is not the sentinel.
	payload := []byte{
		0, 0, 0, 1, // num_args = 1
		byte(ArgInt), 0, 0, 0, 5, // INT = 5
	}
	_, err := DecodeArgs(payload)
	require.Error(t, err)
	require.Equal(t, ErrInvalidArgument, CodeOf(err))
}

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	args := NewArgWriter().Int(4).Str("G")
	err := WriteRequest(&buf, OpInit, types.ProtocolVersion{Major: 1}, args)
	require.NoError(t, err)

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpInit, req.Header.Opcode)

	n, err := IntArg(req.Args, 0)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	s, err := StrArg(req.Args, 1)
	require.NoError(t, err)
	require.Equal(t, "G", s)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{Code: ErrFreeServer, Messages: [][]byte{[]byte("hi"), {}}}
	got, err := DecodeResponse(resp.Encode())
	require.NoError(t, err)
	require.Equal(t, resp.Code, got.Code)
	require.Equal(t, resp.Messages, got.Messages)
}

func TestUnknownOpcodeRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(Header{Opcode: Opcode(250), PayloadLength: 0}))
	_, err := ReadRequest(&buf)
	require.Error(t, err)
	require.Equal(t, ErrInvalidOpcode, CodeOf(err))
}
