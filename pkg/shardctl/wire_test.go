package shardctl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/framer"
)

func encodeArgs(w *framer.ArgWriter) []framer.Arg {
	payload := w.Finish()
	args, err := framer.DecodeArgs(payload)
	if err != nil {
		panic(err)
	}
	return args
}

func TestDecodeRequestAddNode(t *testing.T) {
	args := encodeArgs(framer.NewArgWriter().Int(3).Str("d").Str("10.0.0.3").Int(8001))
	req, err := DecodeRequest(framer.OpAddNode, args)
	require.NoError(t, err)
	require.Equal(t, KindAddNode, req.Kind)
	require.Equal(t, 3, req.AddNode.Node.NodeID)
	require.Equal(t, "10.0.0.3", req.AddNode.Node.Host)
	require.Equal(t, 8001, req.AddNode.Node.Port)
}

func TestDecodeRequestInit(t *testing.T) {
	args := encodeArgs(framer.NewArgWriter().
		Str("dba_pw").Str("G").Int(4).Str("meta_pw").
		IntArray([]int32{1, 2}).
		StrArray([]string{"d", "d"}).
		StrArray([]string{"10.0.0.1", "10.0.0.2"}).
		IntArray([]int32{8001, 8001}))
	req, err := DecodeRequest(framer.OpInit, args)
	require.NoError(t, err)
	require.Equal(t, KindInit, req.Kind)
	require.Len(t, req.Init.InitNodes, 2)
	require.Equal(t, 2, req.Init.InitNodes[1].NodeID)
	require.Equal(t, 4, req.Init.GroupIDCount)
}

func TestDecodeRequestRebalanceReq(t *testing.T) {
	args := encodeArgs(framer.NewArgWriter().
		IntArray(nil).
		IntArray([]int32{3}).
		Int(0).
		Int(0))
	req, err := DecodeRequest(framer.OpRebalanceReq, args)
	require.NoError(t, err)
	require.Equal(t, KindRebalanceReq, req.Kind)
	require.Empty(t, req.RebalanceReq.SrcNodes)
	require.Equal(t, []int{3}, req.RebalanceReq.DestNodes)
}

func TestDecodeRequestUnknownOpcode(t *testing.T) {
	_, err := DecodeRequest(framer.OpPing, nil)
	require.Error(t, err)
	require.Equal(t, framer.ErrInvalidOpcode, framer.CodeOf(err))
}

func TestDecodeRequestWrongArgCount(t *testing.T) {
	args := encodeArgs(framer.NewArgWriter().Int(1))
	_, err := DecodeRequest(framer.OpAddNode, args)
	require.Error(t, err)
	require.Equal(t, framer.ErrInvalidArgument, framer.CodeOf(err))
}
