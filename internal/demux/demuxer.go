package demux

// Packet is one coded access unit emitted by an element parser, timestamped
// in microseconds and tagged with its origin stream.
type Packet struct {
	FrameType FrameType
	Type      Type
	Content   Content

	Pid int

	// Dts and Pts are in microseconds after the demuxer rescaled them, or
	// NoPts.
	Dts int64
	Pts int64

	// Duration of the access unit in microseconds.
	Duration int64

	// StreamPosition is the wall-clock tagged sequence position the packet
	// was captured at.
	StreamPosition int64

	Data []byte
}

// Listener receives parsed elementary packets and stream change requests
// from the demuxers.
type Listener interface {
	OnStreamPacket(p *Packet)
	OnStreamChange()
}

// elementParser is the per-codec parse entry point driven by a PidDemuxer.
type elementParser interface {
	parse(data []byte, pusi bool)
	flush()
	reset()
}

// dvdTimeBase is the microsecond clock packets are rescaled to.
const dvdTimeBase = 1000000

// PidDemuxer demultiplexes one TS PID: it strips TS headers, reassembles
// PES payloads, drives the element parser for its codec and owns the
// current stream parameters.
type PidDemuxer struct {
	StreamInfo

	listener       Listener
	parser         elementParser
	streamPosition int64
}

// NewPidDemuxer creates a demuxer for the stream described by info.
// Streams with an unsupported type degrade to a no-op demuxer with
// content NONE.
func NewPidDemuxer(listener Listener, info StreamInfo) *PidDemuxer {
	d := &PidDemuxer{
		StreamInfo: info,
		listener:   listener,
	}
	d.parser = d.createParser(info.Type)
	return d
}

func (d *PidDemuxer) createParser(t Type) elementParser {
	switch t {
	case TypeMpeg2Video:
		return newMpeg2VideoParser(d)

	case TypeH264:
		return newH264Parser(d)

	case TypeH265:
		return newH265Parser(d)

	case TypeMpeg2Audio:
		return newMpegAudioParser(d)

	case TypeAac:
		return newAdtsParser(d)

	case TypeLatm:
		return newLatmParser(d)

	case TypeAc3, TypeEac3:
		return newAc3Parser(d)

	case TypeTeletext:
		d.Parsed = true
		return newPesParser(d, 64*1024)

	case TypeDvbSub:
		return newSubtitleParser(d)

	default:
		d.Content = ContentNone
		d.Type = TypeNone
	}

	return nil
}

// rescale converts 90 kHz ticks to microseconds.
func rescale(a int64) int64 {
	return a * dvdTimeBase / 90000
}

// sendPacket stamps a parsed packet with the stream identity, rescales its
// timestamps to microseconds and forwards it to the listener.
func (d *PidDemuxer) sendPacket(pkt *Packet) {
	pkt.Type = d.Type
	pkt.Content = d.Content
	pkt.Pid = d.Pid
	pkt.StreamPosition = d.streamPosition

	if pkt.Pts != NoPts {
		pkt.Pts = rescale(pkt.Pts)
	}
	if pkt.Dts != NoPts {
		pkt.Dts = rescale(pkt.Dts)
	}
	pkt.Duration = rescale(pkt.Duration)

	d.listener.OnStreamPacket(pkt)
}

// SetStreamPosition tags subsequent packets with the given capture position.
func (d *PidDemuxer) SetStreamPosition(position int64) {
	d.streamPosition = position
}

// ProcessTsPacket feeds one 188 byte TS packet into the demuxer. Errored,
// scrambled and payload-less packets are dropped.
func (d *PidDemuxer) ProcessTsPacket(data []byte) bool {
	if len(data) != TsSize {
		return false
	}

	pusi := TsPayloadStart(data)

	bytes := TsSize - TsPayloadOffset(data)
	if bytes < 0 || bytes >= TsSize {
		return false
	}

	if TsIsScrambled(data) {
		return false
	}

	if TsError(data) {
		return false
	}

	if !TsHasPayload(data) {
		return true
	}

	// strip ts header
	data = data[TsSize-bytes:]

	// first payload of a PES must carry the start code prefix
	if pusi && !PesIsHeader(data) {
		return false
	}

	if d.parser != nil {
		d.parser.parse(data, pusi)
	}

	return true
}

// setVideoInformation publishes parsed picture parameters. A stream change
// is requested only when the values actually differ from what has been
// published before.
func (d *PidDemuxer) setVideoInformation(fpsScale, fpsRate, height, width int, aspect int64) {
	// check for sane picture information
	if width < 320 || height < 240 || aspect < 0 {
		return
	}

	if width == d.Width && height == d.Height && aspect == d.Aspect &&
		fpsScale == d.FpsScale && fpsRate == d.FpsRate {
		return
	}

	d.FpsScale = fpsScale
	d.FpsRate = fpsRate
	d.Height = height
	d.Width = width
	d.Aspect = aspect
	d.Parsed = true

	d.listener.OnStreamChange()
}

// setAudioInformation publishes parsed audio parameters, requesting a
// stream change only on an actual difference.
func (d *PidDemuxer) setAudioInformation(channels, sampleRate, bitRate int) {
	if channels == d.Channels && sampleRate == d.SampleRate && bitRate == d.BitRate {
		return
	}

	d.Channels = channels
	d.SampleRate = sampleRate
	d.BitRate = bitRate
	d.Parsed = true

	d.listener.OnStreamChange()
}

// setVideoDecoderData stores SPS/PPS/VPS decoder blobs on the stream.
func (d *PidDemuxer) setVideoDecoderData(sps, pps, vps []byte) {
	d.setDecoderData(sps, pps, vps)
}

// Flush drains the parser.
func (d *PidDemuxer) Flush() {
	if d.parser != nil {
		d.parser.flush()
	}
}

// Reset drops all parser state.
func (d *PidDemuxer) Reset() {
	if d.parser != nil {
		d.parser.reset()
	}
}
