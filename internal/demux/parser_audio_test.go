package demux

import (
	"testing"

	"github.com/pipelka/robotv-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectListener records emitted packets and change requests.
type collectListener struct {
	packets []Packet
	changes int
}

func (l *collectListener) OnStreamPacket(p *Packet) {
	cp := *p
	cp.Data = append([]byte(nil), p.Data...)
	l.packets = append(l.packets, cp)
}

func (l *collectListener) OnStreamChange() {
	l.changes++
}

func TestAc3ParserAlignmentHeader(t *testing.T) {
	listener := &collectListener{}
	dmx := NewPidDemuxer(listener, NewStreamInfo(0x101, TypeAc3, "eng"))
	p := newAc3Parser(dmx)

	frame := testutil.Ac3Frame()

	framesize, ok := p.checkAlignmentHeader(frame, true)
	require.True(t, ok)

	assert.Equal(t, 256, framesize)
	assert.Equal(t, 48000, p.sampleRate)
	assert.Equal(t, 64000, p.bitRate)
	assert.Equal(t, 2, p.channels)
	// 256 bytes at 64 kbit/s = 32 ms = 2880 ticks
	assert.Equal(t, int64(2880), p.duration)

	// parse=true publishes the audio parameters
	assert.True(t, dmx.Parsed)
	assert.Equal(t, 1, listener.changes)
	assert.Equal(t, 2, dmx.Channels)
	assert.Equal(t, 48000, dmx.SampleRate)
}

func TestAc3ParserRejectsBadSync(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x101, TypeAc3, "eng"))
	p := newAc3Parser(dmx)

	frame := testutil.Ac3Frame()
	frame[0] = 0x0C

	_, ok := p.checkAlignmentHeader(frame, false)
	assert.False(t, ok)
}

func TestAc3ParserEmitsFramesFromPes(t *testing.T) {
	listener := &collectListener{}
	dmx := NewPidDemuxer(listener, NewStreamInfo(0x101, TypeAc3, "eng"))

	// enough frames inside one PES packet to pass the scan margin,
	// 90000 ticks pts
	var payload []byte
	for i := 0; i < 20; i++ {
		payload = append(payload, testutil.Ac3Frame()...)
	}
	pes := testutil.Pes(0xBD, 90000, testutil.NoTimestamp, payload)

	for _, pkt := range testutil.Packetize(0x101, 0, pes) {
		require.True(t, dmx.ProcessTsPacket(pkt))
	}

	require.GreaterOrEqual(t, len(listener.packets), 2)

	first := listener.packets[0]
	assert.Equal(t, TypeAc3, first.Type)
	assert.Equal(t, ContentAudio, first.Content)
	assert.Equal(t, 0x101, first.Pid)
	assert.Equal(t, 256, len(first.Data))
	// 90000 ticks rescaled to microseconds
	assert.Equal(t, int64(1000000), first.Pts)

	// the second frame extrapolates pts by one frame duration (32 ms)
	second := listener.packets[1]
	assert.Equal(t, int64(1032000), second.Pts)
}

func TestAdtsParserAlignmentHeader(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x102, TypeAac, "eng"))
	p := newAdtsParser(dmx)

	// craft a 9 byte ADTS header: 48 kHz, 2 channels, frame length 512
	w := &testutil.BitWriter{}
	w.WriteBits(0xFFF, 12) // sync
	w.WriteBits(0, 1)      // MPEG-4
	w.WriteBits(0, 2)      // layer
	w.WriteBits(0, 1)      // protection absent (CRC present)
	w.WriteBits(1, 2)      // AOT AAC-LC
	w.WriteBits(3, 4)      // samplerate index 48 kHz
	w.WriteBits(0, 1)      // private
	w.WriteBits(2, 3)      // channel configuration
	w.WriteBits(0, 4)      // original/home/copyright
	w.WriteBits(512, 13)   // frame length
	w.WriteBits(0x7FF, 11) // buffer fullness
	w.WriteBits(0, 2)      // raw blocks
	w.WriteBits(0, 16)     // crc

	framesize, ok := p.checkAlignmentHeader(w.Bytes(), true)
	require.True(t, ok)

	assert.Equal(t, 512, framesize)
	assert.Equal(t, 48000, p.sampleRate)
	assert.Equal(t, 2, p.channels)
	// 1024 samples at 48 kHz = 1920 ticks
	assert.Equal(t, int64(1920), p.duration)
	assert.True(t, dmx.Parsed)
}

func TestAdtsParserRejectsReservedValues(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x102, TypeAac, "eng"))
	p := newAdtsParser(dmx)

	w := &testutil.BitWriter{}
	w.WriteBits(0xFFF, 12)
	w.WriteBits(0, 1)
	w.WriteBits(0, 2)
	w.WriteBits(0, 1)
	w.WriteBits(1, 2)
	w.WriteBits(15, 4) // reserved samplerate index
	w.WriteBits(0, 1)
	w.WriteBits(2, 3)
	w.WriteBits(0, 4)
	w.WriteBits(512, 13)
	w.WriteBits(0, 13)
	w.WriteBits(0, 16)

	_, ok := p.checkAlignmentHeader(w.Bytes(), false)
	assert.False(t, ok)
}

func TestLatmParserAlignmentHeader(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x103, TypeLatm, "fra"))
	p := newLatmParser(dmx)

	// LOAS sync + mux length + StreamMuxConfig with 48 kHz stereo
	w := &testutil.BitWriter{}
	w.WriteBits(0x2B7, 11) // sync
	w.WriteBits(500, 13)   // audioMuxLengthBytes
	w.WriteBits(0, 1)      // useSameStreamMux = 0 -> config follows
	w.WriteBits(0, 1)      // audioMuxVersion
	w.WriteBits(1, 1)      // allStreamSameTimeFraming
	w.WriteBits(0, 6)      // numSubFrames
	w.WriteBits(0, 4)      // numProgram
	w.WriteBits(0, 3)      // numLayer
	w.WriteBits(2, 5)      // AOT AAC-LC
	w.WriteBits(3, 4)      // samplerate index 48 kHz
	w.WriteBits(2, 4)      // channel configuration
	w.WriteBits(0, 8)      // remainder

	framesize, ok := p.checkAlignmentHeader(w.Bytes(), true)
	require.True(t, ok)

	assert.Equal(t, 503, framesize)
	assert.Equal(t, 48000, p.sampleRate)
	assert.Equal(t, 2, p.channels)
	assert.Equal(t, int64(1920), p.duration)
}

func TestMpegAudioParserAlignmentHeader(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x104, TypeMpeg2Audio, "ger"))
	p := newMpegAudioParser(dmx)

	// MPEG-1 layer II, 192 kbit/s, 48 kHz, stereo
	w := &testutil.BitWriter{}
	w.WriteBits(0x7FF, 11) // sync
	w.WriteBits(3, 2)      // MPEG-1
	w.WriteBits(2, 2)      // layer II
	w.WriteBits(1, 1)      // no CRC
	w.WriteBits(10, 4)     // bitrate index -> 192 kbit/s
	w.WriteBits(1, 2)      // samplerate index -> 48 kHz
	w.WriteBits(0, 1)      // padding
	w.WriteBits(0, 1)      // private
	w.WriteBits(0, 2)      // stereo
	w.WriteBits(0, 6)      // mode extension etc.

	framesize, ok := p.checkAlignmentHeader(w.Bytes(), true)
	require.True(t, ok)

	// 144 * 192000 / 48000 = 576 bytes
	assert.Equal(t, 576, framesize)
	assert.Equal(t, 48000, p.sampleRate)
	assert.Equal(t, 192000, p.bitRate)
	assert.Equal(t, 2, p.channels)
	// 1152 samples at 48 kHz = 2160 ticks
	assert.Equal(t, int64(2160), p.duration)
}

func TestMpegAudioParserRejectsBadHeader(t *testing.T) {
	dmx := NewPidDemuxer(&collectListener{}, NewStreamInfo(0x104, TypeMpeg2Audio, "ger"))
	p := newMpegAudioParser(dmx)

	_, ok := p.checkAlignmentHeader([]byte{0x12, 0x34, 0x56, 0x78}, false)
	assert.False(t, ok)
}
