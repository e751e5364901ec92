package program

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefinitionEncodeDecodeRoundTrip(t *testing.T) {
	def := Definition{Name: "fanout-orders", Source: "on orders-* do publish", Streams: []string{"orders-1", "orders-2"}}

	b, err := Encode(def)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, def, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}
