package demux

import (
	"testing"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pipelka/robotv-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestH264ParseSps(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x100, TypeH264, ""))
	p := newH264Parser(dmx)

	sps := testutil.H264Sps()

	aspect, width, height, ok := p.parseSps(sps)
	require.True(t, ok)

	assert.Equal(t, 1280, width)
	assert.Equal(t, 720, height)
	assert.Equal(t, 1, aspect.num)
	assert.Equal(t, 1, aspect.den)
	assert.True(t, p.progressiveFrame)
	assert.Equal(t, 0, p.log2MaxFrameNumMinus4)

	// 90000 * 1800 * 2 / 90000 = 3600 ticks per frame (25 fps)
	assert.Equal(t, int64(3600), p.duration)
	assert.Equal(t, 90000, p.rate)
	assert.Equal(t, 3600, p.scale)
}

// TestH264SpsMatchesMediacommon cross-checks the hand parser against the
// mediacommon SPS decoder on the same parameter set.
func TestH264SpsMatchesMediacommon(t *testing.T) {
	payload := testutil.H264Sps()

	var ref mch264.SPS
	require.NoError(t, ref.Unmarshal(append([]byte{0x67}, payload...)))

	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x100, TypeH264, ""))
	p := newH264Parser(dmx)

	_, width, height, ok := p.parseSps(payload)
	require.True(t, ok)

	assert.Equal(t, ref.Width(), width)
	assert.Equal(t, ref.Height(), height)
	assert.Equal(t, int(ref.Log2MaxFrameNumMinus4), p.log2MaxFrameNumMinus4)
}

func TestH264ParseSpsRejectsUnknownProfile(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x100, TypeH264, ""))
	p := newH264Parser(dmx)

	sps := testutil.H264Sps()
	sps[0] = 13 // bogus profile idc

	_, _, _, ok := p.parseSps(sps)
	assert.False(t, ok)
}

func TestNalUnescape(t *testing.T) {
	escaped := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00, 0xAB}
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0xAB}, nalUnescape(escaped))

	plain := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, plain, nalUnescape(plain))
}

func TestH264ParsePayloadExtractsParameters(t *testing.T) {
	listener := &collectListener{}
	dmx := NewPidDemuxer(listener, NewStreamInfo(0x100, TypeH264, ""))
	p := newH264Parser(dmx)

	payload := h264AccessUnit(true)

	n := p.parsePayload(payload)
	assert.Equal(t, len(payload), n)

	// SPS published to the stream info
	assert.True(t, dmx.Parsed)
	assert.Equal(t, 1280, dmx.Width)
	assert.Equal(t, 720, dmx.Height)
	assert.Equal(t, int64(17777), dmx.Aspect)
	assert.NotEmpty(t, dmx.Sps)
	assert.NotEmpty(t, dmx.Pps)
	assert.Empty(t, dmx.Vps)

	// IDR makes it a keyframe
	assert.Equal(t, FrameTypeI, p.frameType)
	assert.Equal(t, 1, listener.changes)
}

func TestH264SliceHeaderFrameTypes(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x100, TypeH264, ""))
	p := newH264Parser(dmx)
	p.progressiveFrame = true
	p.log2MaxFrameNumMinus4 = 0

	cases := []struct {
		sliceType uint32
		expect    FrameType
	}{
		{0, FrameTypeP},
		{1, FrameTypeB},
		{2, FrameTypeI},
		{7, FrameTypeI}, // 5..9 alias 0..4
	}

	for _, tc := range cases {
		w := &testutil.BitWriter{}
		w.WriteGolombUe(0)            // first_mb_in_slice
		w.WriteGolombUe(tc.sliceType) // slice_type
		w.WriteGolombUe(0)            // pic_parameter_set_id
		w.WriteBits(0, 4)             // frame_num
		w.WriteBits(0, 8)             // padding

		p.frameType = FrameTypeUnknown
		p.parseSlh(w.Bytes())
		assert.Equal(t, tc.expect, p.frameType, "slice type %d", tc.sliceType)
	}
}

// h264AccessUnit builds an annex B access unit with SPS, PPS and an IDR
// slice.
func h264AccessUnit(withSps bool) []byte {
	var au []byte

	if withSps {
		au = append(au, 0x00, 0x00, 0x00, 0x01, 0x67)
		au = append(au, testutil.H264Sps()...)
	}

	// PPS
	au = append(au, 0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80)

	// IDR slice with a minimal slice header (slice_type 7 = I)
	slh := &testutil.BitWriter{}
	slh.WriteGolombUe(0) // first_mb_in_slice
	slh.WriteGolombUe(7) // slice_type
	slh.WriteGolombUe(0) // pic_parameter_set_id
	slh.WriteBits(0, 4)  // frame_num
	slh.WriteBits(0, 16) // slice data filler

	au = append(au, 0x00, 0x00, 0x00, 0x01, 0x65)
	au = append(au, slh.Bytes()...)

	return au
}
