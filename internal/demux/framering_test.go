package demux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRingPutGet(t *testing.T) {
	r := NewFrameRing(1024, 4)

	n := r.Put([]byte("hello world"))
	require.Equal(t, 11, n)
	require.Equal(t, 11, r.Available())

	buf := r.Get()
	require.NotNil(t, buf)
	assert.Equal(t, []byte("hello world"), buf)

	r.Del(6)
	buf = r.Get()
	assert.Equal(t, []byte("world"), buf)
}

func TestFrameRingClear(t *testing.T) {
	r := NewFrameRing(1024, 64)
	r.Put([]byte("data"))
	r.Clear()

	assert.Equal(t, 0, r.Available())
	assert.Nil(t, r.Get())
}

func TestFrameRingOverflowTruncates(t *testing.T) {
	r := NewFrameRing(128, 16)

	big := bytes.Repeat([]byte{0xAA}, 256)
	n := r.Put(big)

	assert.Less(t, n, len(big))
	assert.Greater(t, n, 0)
}

func TestFrameRingContiguousAcrossWrap(t *testing.T) {
	r := NewFrameRing(256, 32)

	chunk := bytes.Repeat([]byte{0x11}, 100)

	// fill and drain repeatedly to force the head past the wrap point
	for i := 0; i < 10; i++ {
		put := r.Put(chunk)
		require.Greater(t, put, 0)

		buf := r.Get()
		require.NotNil(t, buf)

		// the returned view is always contiguous
		for _, b := range buf {
			require.Equal(t, byte(0x11), b)
		}

		r.Del(len(buf))
	}
}

func TestFrameRingGetWaitsForMargin(t *testing.T) {
	r := NewFrameRing(1024, 64)

	r.Put(bytes.Repeat([]byte{1}, 32))
	assert.Nil(t, r.Get())

	r.Put(bytes.Repeat([]byte{1}, 32))
	buf := r.Get()
	require.NotNil(t, buf)
	assert.Equal(t, 64, len(buf))
}

func TestFrameRingFree(t *testing.T) {
	r := NewFrameRing(256, 16)
	free := r.Free()
	require.Greater(t, free, 0)

	r.Put(bytes.Repeat([]byte{1}, 64))
	assert.Equal(t, free-64, r.Free())
}
