package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRefcountSoundness(t *testing.T) {
	m := NewMessage(hdr(0, TypeData, 1), []byte("x"), nil)
	assert.Equal(t, int64(1), m.RefCount())

	clones := []*Message{m.Clone(), m.Clone(), m.Clone()}
	assert.Equal(t, int64(4), m.RefCount())

	for _, c := range clones {
		assert.False(t, c.Release())
	}
	assert.Equal(t, int64(1), m.RefCount())
	assert.True(t, m.Release())
	assert.Equal(t, int64(0), m.RefCount())
}

func TestMessageReleaseUnderflowPanics(t *testing.T) {
	m := NewMessage(hdr(0, TypeData, 1), nil, nil)
	m.Release()
	assert.Panics(t, func() { m.Release() })
}

func TestMessageCloneAfterReleasePanics(t *testing.T) {
	m := NewMessage(hdr(0, TypeData, 1), nil, nil)
	m.Release()
	assert.Panics(t, func() { m.Clone() })
}

func TestMessageOriginDegradesWhenQueueClosed(t *testing.T) {
	q := NewQueue(0, false)
	m := NewMessage(hdr(0, TypeRequest, 1), nil, q)
	assert.Equal(t, q, m.Origin())
	q.Close()
	assert.Nil(t, m.Origin())
}

func TestMessageOriginNilWhenNoneGiven(t *testing.T) {
	m := NewMessage(hdr(0, TypeData, 1), nil, nil)
	assert.Nil(t, m.Origin())
}
