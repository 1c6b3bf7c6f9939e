package signaling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.Connect()
	b := bus.Connect()

	require.NoError(t, a.Publish(context.Background(), []byte("hello")))

	assert.Equal(t, []byte("hello"), <-a.Messages())
	assert.Equal(t, []byte("hello"), <-b.Messages())
}

func TestMemoryTransportCloseIsIdempotent(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.Connect()
	b := bus.Connect()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-b.Messages()
	assert.False(t, open)

	require.NoError(t, a.Publish(context.Background(), []byte("still here")))
	assert.Equal(t, []byte("still here"), <-a.Messages())
}

func TestMemoryBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewMemoryBus()
	slow := bus.Connect()
	pub := bus.Connect()
	for i := 0; i < memoryBuffer+10; i++ {
		require.NoError(t, pub.Publish(context.Background(), []byte{byte(i)}))
	}
	assert.Len(t, slow.Messages(), memoryBuffer)
}
