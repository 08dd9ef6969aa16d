package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBundlePidKeyMatchesStream(t *testing.T) {
	b := NewStreamBundle()
	b.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	b.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	b.AddStream(NewStreamInfo(0x102, TypeDvbSub, "ger"))

	for _, pid := range b.Pids() {
		s, ok := b.Get(pid)
		require.True(t, ok)
		assert.Equal(t, pid, s.Pid)
	}
}

func TestStreamBundleRejectsSecondVideoStream(t *testing.T) {
	b := NewStreamBundle()
	b.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	b.AddStream(NewStreamInfo(0x200, TypeMpeg2Video, ""))

	assert.Equal(t, 1, b.Len())

	_, ok := b.Get(0x200)
	assert.False(t, ok)

	// the same PID may change its video type
	b.AddStream(NewStreamInfo(0x100, TypeH265, ""))
	assert.Equal(t, 1, b.Len())

	s, _ := b.Get(0x100)
	assert.Equal(t, TypeH265, s.Type)
}

func TestStreamBundleIgnoresInvalidStreams(t *testing.T) {
	b := NewStreamBundle()
	b.AddStream(NewStreamInfo(0, TypeH264, ""))
	b.AddStream(NewStreamInfo(0x100, TypeNone, ""))

	assert.True(t, b.Empty())
}

func TestStreamBundleChangedFlag(t *testing.T) {
	b := NewStreamBundle()

	b.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	assert.True(t, b.Changed())

	// identical insert
	b.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	assert.False(t, b.Changed())

	// differing descriptors
	changed := NewStreamInfo(0x101, TypeAc3, "eng")
	changed.Channels = 6
	b.AddStream(changed)
	assert.True(t, b.Changed())
}

func TestStreamBundleIterationOrderIsPidOrder(t *testing.T) {
	b := NewStreamBundle()
	b.AddStream(NewStreamInfo(0x300, TypeAc3, "eng"))
	b.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	b.AddStream(NewStreamInfo(0x200, TypeMpeg2Audio, "ger"))

	assert.Equal(t, []int{0x100, 0x200, 0x300}, b.Pids())
}

func TestStreamInfoIsMetaOf(t *testing.T) {
	a := NewStreamInfo(0x101, TypeAc3, "eng")
	e := NewStreamInfo(0x101, TypeEac3, "eng")

	// AC3 and EAC3 are meta compatible
	assert.True(t, a.IsMetaOf(&e))
	assert.True(t, e.IsMetaOf(&a))

	other := NewStreamInfo(0x102, TypeAc3, "eng")
	assert.False(t, a.IsMetaOf(&other))

	aac := NewStreamInfo(0x101, TypeAac, "eng")
	assert.False(t, a.IsMetaOf(&aac))
}

func TestStreamInfoEqualComparesDescriptors(t *testing.T) {
	a := NewStreamInfo(0x101, TypeAc3, "eng")
	a.Channels = 2
	a.SampleRate = 48000

	b := a
	assert.True(t, a.Equal(&b))

	b.SampleRate = 44100
	assert.False(t, a.Equal(&b))
}

func TestStreamBundleIsMetaOf(t *testing.T) {
	a := NewStreamBundle()
	a.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	a.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))

	b := NewStreamBundle()
	parsed := NewStreamInfo(0x100, TypeH264, "")
	parsed.Width = 1280
	parsed.Height = 720
	parsed.Parsed = true
	b.AddStream(parsed)
	b.AddStream(NewStreamInfo(0x101, TypeEac3, "eng"))

	// descriptors are ignored, AC3/EAC3 are compatible
	assert.True(t, a.IsMetaOf(b))

	b.AddStream(NewStreamInfo(0x102, TypeTeletext, ""))
	assert.False(t, a.IsMetaOf(b))
}
