package slotkeeperv1

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	b, err := c.Marshal(&GenerateRequest{SlotIndex: 2, Prompt: "a boat", ReferenceImage: []byte{1, 2}})
	require.NoError(t, err)
	require.JSONEq(t, `{"slotIndex":2,"prompt":"a boat","referenceImage":"AQI="}`, string(b))

	var out GenerateRequest
	require.NoError(t, c.Unmarshal(b, &out))
	require.Equal(t, []byte{1, 2}, out.ReferenceImage)

	var empty Empty
	require.NoError(t, c.Unmarshal(nil, &empty))
	require.Error(t, c.Unmarshal([]byte("{"), &out))
}

func TestServiceDescCoversServer(t *testing.T) {
	require.Len(t, ServiceDesc.Methods, 13)
	require.Len(t, ServiceDesc.Streams, 1)
	names := map[string]bool{}
	for _, m := range ServiceDesc.Methods {
		names[m.MethodName] = true
	}
	for _, n := range []string{"Login", "Generate", "ExitSlot", "ResetSlot", "SetLoginLocked", "GetPresence"} {
		require.True(t, names[n], n)
	}
}
