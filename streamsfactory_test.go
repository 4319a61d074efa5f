package rsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_StreamsFactory_ClientParity(t *testing.T) {
	sf := NewStreamsFactory(RoleClient)
	var last StreamID
	for i := 0; i < 100; i++ {
		id, err := sf.NextStreamID()
		require.NoError(t, err)
		assert.Equal(t, StreamID(1), id%2, "client stream ids are odd")
		assert.True(t, id > last, "ids are monotonically increasing")
		last = id
	}
}

func Test_StreamsFactory_ServerParity(t *testing.T) {
	sf := NewStreamsFactory(RoleServer)
	var last StreamID
	for i := 0; i < 100; i++ {
		id, err := sf.NextStreamID()
		require.NoError(t, err)
		assert.Equal(t, StreamID(0), id%2, "server stream ids are even")
		assert.True(t, id > last)
		last = id
	}
}

func Test_StreamsFactory_Exhaustion(t *testing.T) {
	sf := NewStreamsFactory(RoleClient)
	sf.nextID = MaxStreamID // odd
	id, err := sf.NextStreamID()
	assert.NoError(t, err)
	assert.Equal(t, MaxStreamID, id)
	_, err = sf.NextStreamID()
	assert.Error(t, err)
}

func Test_StreamsFactory_ValidPeerStreamID(t *testing.T) {
	client := NewStreamsFactory(RoleClient)
	assert.False(t, client.ValidPeerStreamID(0))
	assert.False(t, client.ValidPeerStreamID(1))
	assert.True(t, client.ValidPeerStreamID(2))

	server := NewStreamsFactory(RoleServer)
	assert.False(t, server.ValidPeerStreamID(0))
	assert.True(t, server.ValidPeerStreamID(1))
	assert.False(t, server.ValidPeerStreamID(2))
}
