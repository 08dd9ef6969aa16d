package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopListener discards packets and change requests.
type nopListener struct{}

func (nopListener) OnStreamPacket(p *Packet) {}
func (nopListener) OnStreamChange()          {}

func testBundle() *StreamBundle {
	b := NewStreamBundle()
	b.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	b.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	b.AddStream(NewStreamInfo(0x102, TypeMpeg2Audio, "ger"))
	b.AddStream(NewStreamInfo(0x103, TypeDvbSub, "eng"))
	return b
}

func TestDemuxerBundleUpdateFromMatchesMembershipAndOrder(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})
	bundle := testBundle()

	d.UpdateFrom(bundle)

	require.Equal(t, bundle.Len(), d.Len())

	pids := make([]int, 0, d.Len())
	for _, dmx := range d.Demuxers() {
		pids = append(pids, dmx.Pid)
	}
	assert.Equal(t, bundle.Pids(), pids)
}

func TestDemuxerBundleUpdateFromCarriesParsedState(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})
	d.UpdateFrom(testBundle())

	// simulate a parsed video stream
	video := d.Find(0x100)
	require.NotNil(t, video)
	video.setVideoInformation(1, 25, 720, 1280, 17777)
	require.True(t, video.Parsed)

	// a PMT version bump with the same layout keeps the parsed state
	d.UpdateFrom(testBundle())

	video = d.Find(0x100)
	require.NotNil(t, video)
	assert.True(t, video.Parsed)
	assert.Equal(t, 1280, video.Width)

	// a changed type on the same PID starts over
	changed := testBundle()
	changed.AddStream(NewStreamInfo(0x100, TypeMpeg2Video, ""))
	d.UpdateFrom(changed)

	video = d.Find(0x100)
	require.NotNil(t, video)
	assert.False(t, video.Parsed)
}

func TestDemuxerBundleUpdateFromDropsRemovedPids(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})
	d.UpdateFrom(testBundle())

	smaller := NewStreamBundle()
	smaller.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	d.UpdateFrom(smaller)

	assert.Equal(t, 1, d.Len())
	assert.Nil(t, d.Find(0x101))
}

func TestDemuxerBundleIsReady(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})
	assert.False(t, d.IsReady())

	bundle := NewStreamBundle()
	bundle.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	bundle.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	d.UpdateFrom(bundle)

	assert.False(t, d.IsReady())

	d.Find(0x100).setVideoInformation(1, 25, 720, 1280, 17777)
	assert.False(t, d.IsReady())

	d.Find(0x101).setAudioInformation(2, 48000, 64000)
	assert.True(t, d.IsReady())
}

func TestDemuxerBundleReorderStreams(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})

	bundle := NewStreamBundle()
	bundle.AddStream(NewStreamInfo(0x104, TypeDvbSub, "eng"))
	bundle.AddStream(NewStreamInfo(0x103, TypeMpeg2Audio, "eng"))
	bundle.AddStream(NewStreamInfo(0x102, TypeAc3, "ger"))
	bundle.AddStream(NewStreamInfo(0x101, TypeAc3, "eng"))
	bundle.AddStream(NewStreamInfo(0x100, TypeH264, ""))
	d.UpdateFrom(bundle)

	d.ReorderStreams("eng", TypeAc3)

	types := make([]Type, 0, d.Len())
	pids := make([]int, 0, d.Len())
	for _, dmx := range d.Demuxers() {
		types = append(types, dmx.Type)
		pids = append(pids, dmx.Pid)
	}

	// video first, then audio by preference, subtitles last
	assert.Equal(t, TypeH264, types[0])
	assert.Equal(t, 0x101, pids[1]) // eng AC3: language + stream type match
	assert.Equal(t, TypeDvbSub, types[len(types)-1])

	// the preferred language audio outranks the other AC3 stream
	assert.Less(t, indexOf(pids, 0x101), indexOf(pids, 0x102))

	// weights are monotonically decreasing
	prev := ^uint32(0)
	for _, dmx := range d.Demuxers() {
		w := streamWeight(dmx, "eng", TypeAc3)
		assert.LessOrEqual(t, w, prev)
		prev = w
	}
}

func TestDemuxerBundleReorderPidTiebreak(t *testing.T) {
	d := NewDemuxerBundle(nopListener{})

	bundle := NewStreamBundle()
	bundle.AddStream(NewStreamInfo(0x202, TypeMpeg2Audio, "fra"))
	bundle.AddStream(NewStreamInfo(0x201, TypeMpeg2Audio, "ita"))
	d.UpdateFrom(bundle)

	d.ReorderStreams("eng", TypeAc3)

	// same class and no preference match: lower PID wins
	assert.Equal(t, 0x201, d.Demuxers()[0].Pid)
	assert.Equal(t, 0x202, d.Demuxers()[1].Pid)
}

func indexOf(haystack []int, needle int) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}
