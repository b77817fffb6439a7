package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hdr(srcIdx uint16, typ MessageType, subtype uint8) Header {
	return Header{Src: Address{Interface: 1, Index: srcIdx}, Type: typ, Subtype: subtype}
}

func TestQueueFIFOInAppendMode(t *testing.T) {
	q := NewQueue(0, false)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, uint8(i)), nil, nil)))
	}
	for i := 0; i < 3; i++ {
		m, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, uint8(i), m.Header.Subtype)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueReplacePreservesLatest(t *testing.T) {
	q := NewQueue(8, true)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, 7), []byte{byte(i)}, nil)))
	}
	m, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{4}, m.Payload)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueReplaceDistinguishesSourceIndex(t *testing.T) {
	q := NewQueue(8, true)
	require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, 1), []byte("a"), nil)))
	require.NoError(t, q.Push(NewMessage(hdr(1, TypeData, 1), []byte("b"), nil)))
	assert.Equal(t, 2, q.Len())
}

func TestQueueAppendDropsOldestOnOverflow(t *testing.T) {
	var warned bool
	q := NewQueue(2, false)
	q.SetWarner(func(msg string, args ...any) { warned = true })
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, uint8(i)), nil, nil)))
	}
	assert.True(t, warned)
	assert.Equal(t, 2, q.Len())
	m, _ := q.Pop()
	assert.Equal(t, uint8(1), m.Header.Subtype)
}

func TestQueueReplaceFullReturnsErrQueueFull(t *testing.T) {
	q := NewQueue(1, true)
	require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, 1), nil, nil)))
	err := q.Push(NewMessage(hdr(1, TypeData, 1), nil, nil))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueFilterOnlyMatchesInstalledMask(t *testing.T) {
	q := NewQueue(8, false)
	require.NoError(t, q.Push(NewMessage(hdr(0, TypeRespAck, 5), nil, nil)))
	require.NoError(t, q.Push(NewMessage(hdr(0, TypeRespAck, 9), nil, nil)))
	want := uint8(9)
	q.SetFilter(Filter{Subtype: &want})
	m, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, uint8(9), m.Header.Subtype)
	_, ok = q.Pop()
	assert.False(t, ok, "the non-matching message must stay queued while the filter is installed")
}

func TestQueueBlockingPopWakesOnPush(t *testing.T) {
	q := NewQueue(0, false)
	done := make(chan *Message, 1)
	go func() {
		m, ok := q.BlockingPop()
		if ok {
			done <- m
		} else {
			done <- nil
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(NewMessage(hdr(0, TypeData, 1), nil, nil)))

	select {
	case m := <-done:
		require.NotNil(t, m)
	case <-time.After(time.Second):
		t.Fatal("BlockingPop never woke up")
	}
}

func TestQueueCloseReleasesQueuedMessagesAndWakesWaiters(t *testing.T) {
	q := NewQueue(0, false)
	m := NewMessage(hdr(0, TypeData, 1), nil, nil)
	require.NoError(t, q.Push(m))
	// The queued message does not match this filter, so the waiter below
	// blocks until Close instead of popping it.
	other := uint8(2)
	q.SetFilter(Filter{Subtype: &other})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.BlockingPop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close never woke BlockingPop")
	}
	assert.True(t, q.Closed())
	assert.Equal(t, int64(0), m.RefCount())
}

func TestQueuePushAfterCloseIsSilentNoOp(t *testing.T) {
	q := NewQueue(0, false)
	q.Close()
	m := NewMessage(hdr(0, TypeData, 1), nil, nil)
	assert.NoError(t, q.Push(m))
	assert.Equal(t, int64(0), m.RefCount())
}
