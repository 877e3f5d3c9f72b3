package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidal/internal/asyncrt"
)

func TestChannelTableMakeAndDrop(t *testing.T) {
	tbl := NewChannelTable(4, 8)

	id, capacity, errno := tbl.Make()
	require.Equal(t, asyncrt.ErrnoSuccess, errno)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, uint32(8), capacity)
	assert.True(t, tbl.Has(id))

	assert.Equal(t, asyncrt.ErrnoSuccess, tbl.Drop(id))
	assert.False(t, tbl.Has(id))
	assert.Equal(t, asyncrt.ErrnoInval, tbl.Drop(id), "second drop")
	assert.Equal(t, asyncrt.ErrnoInval, tbl.Drop(99), "unknown id")
}

func TestChannelTableFull(t *testing.T) {
	tbl := NewChannelTable(2, 1)
	for range 2 {
		_, _, errno := tbl.Make()
		require.Equal(t, asyncrt.ErrnoSuccess, errno)
	}
	_, _, errno := tbl.Make()
	assert.Equal(t, asyncrt.ErrnoNoBufs, errno)
	assert.Equal(t, 2, tbl.Len())
}

func TestChannelTableIDsAreNotReusedImmediately(t *testing.T) {
	tbl := NewChannelTable(4, 1)
	a, _, _ := tbl.Make()
	require.Equal(t, asyncrt.ErrnoSuccess, tbl.Drop(a))
	b, _, errno := tbl.Make()
	require.Equal(t, asyncrt.ErrnoSuccess, errno)
	assert.NotEqual(t, a, b)
	assert.Equal(t, []uint32{b}, tbl.IDs())
}

func TestChannelTableInjectBounds(t *testing.T) {
	tbl := NewChannelTable(4, 2)
	id, _, _ := tbl.Make()

	require.NoError(t, tbl.Inject(id, []byte("a")))
	require.NoError(t, tbl.Inject(id, []byte("b")))
	assert.ErrorIs(t, tbl.Inject(id, []byte("c")), ErrQueueFull)
	assert.ErrorIs(t, tbl.Inject(id+1, []byte("x")), ErrUnknownChannel)
	assert.Equal(t, 2, tbl.Pending())
}

func TestChannelTableInjectCopies(t *testing.T) {
	tbl := NewChannelTable(1, 1)
	id, _, _ := tbl.Make()
	msg := []byte("abc")
	require.NoError(t, tbl.Inject(id, msg))
	msg[0] = 'X'

	_, got, ok := tbl.pop()
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)
}

func TestChannelTablePopOrder(t *testing.T) {
	tbl := NewChannelTable(4, 4)
	a, _, _ := tbl.Make()
	b, _, _ := tbl.Make()
	require.NoError(t, tbl.Inject(b, []byte("b1")))
	require.NoError(t, tbl.Inject(a, []byte("a1")))
	require.NoError(t, tbl.Inject(a, []byte("a2")))

	var got []string
	for {
		_, msg, ok := tbl.pop()
		if !ok {
			break
		}
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{"a1", "a2", "b1"}, got)
}

func TestChannelTableDropDiscardsQueue(t *testing.T) {
	tbl := NewChannelTable(1, 4)
	id, _, _ := tbl.Make()
	require.NoError(t, tbl.Inject(id, []byte("lost")))
	require.Equal(t, asyncrt.ErrnoSuccess, tbl.Drop(id))
	assert.Zero(t, tbl.Pending())
	_, _, ok := tbl.pop()
	assert.False(t, ok)
}

func TestChannelTableBroadcast(t *testing.T) {
	tbl := NewChannelTable(4, 1)
	a, _, _ := tbl.Make()
	tbl.Make()
	require.NoError(t, tbl.Inject(a, []byte("fill")))

	assert.Equal(t, 1, tbl.Broadcast([]byte("hi")), "full channel skipped")
	assert.Equal(t, 2, tbl.Pending())
}

func TestChannelTableReceive(t *testing.T) {
	tbl := NewChannelTable(1, 1)

	_, errno := tbl.Receive(3)
	assert.Equal(t, asyncrt.ErrnoInval, errno, "nothing staged")

	tbl.stage([]byte("abc"))
	_, errno = tbl.Receive(2)
	assert.Equal(t, asyncrt.ErrnoMsgSize, errno)

	msg, errno := tbl.Receive(3)
	require.Equal(t, asyncrt.ErrnoSuccess, errno)
	assert.Equal(t, []byte("abc"), msg)

	tbl.unstage()
	_, errno = tbl.Receive(3)
	assert.Equal(t, asyncrt.ErrnoInval, errno)
}
