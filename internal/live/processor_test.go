package live

import (
	"testing"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/msg"
	"github.com/pipelka/robotv-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHooks records every outbound message of a processor.
type captureHooks struct {
	messages []*msg.Message
	now      int64
}

func (h *captureHooks) currentTime(p *demux.Packet) int64 {
	return h.now
}

func (h *captureHooks) onPacket(m *msg.Message, content demux.Content, pts int64) {
	h.messages = append(h.messages, m)
}

func (h *captureHooks) createStreamChangePacket(bundle *demux.DemuxerBundle) *msg.Message {
	return CreateStreamChangePacket(bundle)
}

// ac3Capture builds a TS capture with a PAT, a PMT carrying one AC-3
// stream on PID 0x101 and enough audio frames to exercise the parsers.
func ac3Capture(t *testing.T, pmtVersion, frames int) [][]byte {
	t.Helper()

	var pkts [][]byte

	pkts = append(pkts, testutil.SectionPackets(0, testutil.Pat(0, 0x20))...)
	pkts = append(pkts, testutil.SectionPackets(0x20, testutil.Pmt(pmtVersion, 0x101, []testutil.PmtStream{
		{StreamType: 0x06, Pid: 0x101, Descriptors: append(
			testutil.LanguageDescriptor("eng", 0),
			0x6A, 0x01, 0x00,
		)},
	}))...)

	var payload []byte
	for i := 0; i < frames; i++ {
		payload = append(payload, testutil.Ac3Frame()...)
	}
	pes := testutil.Pes(0xBD, 90000, testutil.NoTimestamp, payload)
	pkts = append(pkts, testutil.Packetize(0x101, 0, pes)...)

	return pkts
}

func TestProcessorEmitsStreamChangeBeforePayload(t *testing.T) {
	hooks := &captureHooks{now: 1234}
	p := newProcessor(hooks, nil)

	for _, pkt := range ac3Capture(t, 0, 40) {
		p.PutTsPacket(pkt, 0)
	}

	require.NotEmpty(t, hooks.messages)

	// the stream change packet precedes every mux packet
	first := hooks.messages[0]
	assert.Equal(t, uint16(msg.StreamChange), first.MsgId())

	for _, m := range hooks.messages[1:] {
		assert.Equal(t, uint16(msg.StreamMuxPacket), m.MsgId())
	}
}

func TestProcessorStreamChangeBody(t *testing.T) {
	hooks := &captureHooks{}
	p := newProcessor(hooks, nil)

	for _, pkt := range ac3Capture(t, 0, 40) {
		p.PutTsPacket(pkt, 0)
	}

	require.NotEmpty(t, hooks.messages)
	change := hooks.messages[0]

	assert.Equal(t, uint8(1), change.GetU8())       // stream count
	assert.Equal(t, uint32(0x101), change.GetU32()) // pid
	assert.Equal(t, "AC3", change.GetString())      // type name
	assert.Equal(t, "eng", change.GetString())      // language
	assert.Equal(t, uint32(2), change.GetU32())     // channels
	assert.Equal(t, uint32(48000), change.GetU32()) // sample rate
	assert.Equal(t, uint32(0), change.GetU32())     // unused
	assert.Equal(t, uint32(64000), change.GetU32()) // bit rate
	assert.Equal(t, uint32(0), change.GetU32())     // unused
	assert.True(t, change.Eop())
}

func TestProcessorMuxPacketBody(t *testing.T) {
	hooks := &captureHooks{now: 99999}
	p := newProcessor(hooks, nil)

	for _, pkt := range ac3Capture(t, 0, 40) {
		p.PutTsPacket(pkt, 0)
	}

	require.Greater(t, len(hooks.messages), 1)
	mux := hooks.messages[1]

	assert.Equal(t, uint16(msg.ChannelStream), mux.Channel())

	pid := mux.GetU16()
	pts := mux.GetS64()
	dts := mux.GetS64()
	duration := mux.GetU32()
	size := mux.GetU32()
	payload := mux.GetBlob(int(size))
	wallclock := mux.GetS64()

	assert.Equal(t, uint16(0x101), pid)
	assert.Equal(t, int64(1000000), pts) // 90000 ticks in microseconds
	assert.Equal(t, int64(1000000), dts)
	assert.Equal(t, uint32(32000), duration) // 2880 ticks in microseconds
	assert.Equal(t, 256, len(payload))
	assert.Equal(t, int64(99999), wallclock)
	assert.True(t, mux.Eop())
}

func TestProcessorPmtVersionBumpEmitsSecondStreamChange(t *testing.T) {
	hooks := &captureHooks{}
	p := newProcessor(hooks, nil)

	for _, pkt := range ac3Capture(t, 0, 40) {
		p.PutTsPacket(pkt, 0)
	}

	first := len(hooks.messages)
	require.Greater(t, first, 0)

	// same capture again with a bumped PMT version
	for _, pkt := range ac3Capture(t, 1, 40) {
		p.PutTsPacket(pkt, 0)
	}

	var changes int
	for _, m := range hooks.messages {
		if m.MsgId() == msg.StreamChange {
			changes++
		}
	}
	assert.Equal(t, 2, changes)

	// the second stream change precedes all packets of the new version
	assert.Equal(t, uint16(msg.StreamChange), hooks.messages[first].MsgId())
}

func TestProcessorPreQueueBound(t *testing.T) {
	hooks := &captureHooks{}
	p := newProcessor(hooks, nil)

	// feed only PAT/PMT so the bundle exists but never becomes ready
	for _, pkt := range testutil.SectionPackets(0, testutil.Pat(0, 0x20)) {
		p.PutTsPacket(pkt, 0)
	}
	for _, pkt := range testutil.SectionPackets(0x20, testutil.Pmt(0, 0x101, []testutil.PmtStream{
		{StreamType: 0x06, Pid: 0x101, Descriptors: append(
			testutil.LanguageDescriptor("eng", 0), 0x6A, 0x01, 0x00,
		)},
		{StreamType: 0x1B, Pid: 0x100},
	})) {
		p.PutTsPacket(pkt, 0)
	}

	// the video stream never parses, so every audio frame is pre-queued
	pkt := &demux.Packet{
		Content: demux.ContentAudio,
		Type:    demux.TypeAc3,
		Pid:     0x101,
		Data:    []byte{1, 2, 3},
	}

	for i := 0; i < preQueueLimit+50; i++ {
		p.OnStreamPacket(pkt)
	}

	assert.Equal(t, preQueueLimit, len(p.preQueue))
	assert.Empty(t, hooks.messages)
}

func TestProcessorReset(t *testing.T) {
	hooks := &captureHooks{}
	p := newProcessor(hooks, nil)

	for _, pkt := range ac3Capture(t, 0, 40) {
		p.PutTsPacket(pkt, 0)
	}

	p.Reset()

	assert.Equal(t, -1, p.patVersion)
	assert.Equal(t, -1, p.pmtVersion)
	assert.True(t, p.requestStreamChange)
	assert.Empty(t, p.preQueue)
	assert.Equal(t, 0, p.Demuxers().Len())
}
