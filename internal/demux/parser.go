package demux

// parserHooks is the per-codec contract of the scan loop: header alignment
// checking, payload parsing and frame emission.
type parserHooks interface {
	// checkAlignmentHeader validates a frame header at the start of buf and
	// returns the frame size. With parse set, extracted parameters are
	// published to the demuxer.
	checkAlignmentHeader(buf []byte, parse bool) (framesize int, ok bool)

	// parsePayload inspects a complete frame and returns how many bytes of
	// it should be sent.
	parsePayload(buf []byte) int

	// sendPayload emits a parsed frame.
	sendPayload(buf []byte)
}

// parser is the common element parser state: a FrameRing holding
// PES-assembled bytes, the current and previous timestamps and the scan
// loop locating aligned frames. Concrete parsers own a parser value and
// plug in their codec specifics through parserHooks.
type parser struct {
	demuxer *PidDemuxer
	ring    *FrameRing
	hooks   parserHooks

	curPts int64
	curDts int64

	lastPts int64
	lastDts int64

	sampleRate int
	bitRate    int
	channels   int
	duration   int64 // frame duration in 90 kHz ticks
	headerSize int
	frameType  FrameType

	startup bool
}

func newParser(demuxer *PidDemuxer, buffersize, packetsize int, hooks parserHooks) parser {
	return parser{
		demuxer: demuxer,
		ring:    NewFrameRing(buffersize, packetsize),
		hooks:   hooks,
		curPts:  NoPts,
		curDts:  NoPts,
		lastPts: NoPts,
		lastDts: NoPts,
		startup: true,
	}
}

// parsePesHeader extracts PTS/DTS from a leading PES header and returns the
// header length.
func (p *parser) parsePesHeader(buf []byte) int {
	hdrLen := PesPayloadOffset(buf)

	pts := NoPts
	if PesHasPts(buf) {
		pts = PesGetPts(buf)
	}

	dts := NoPts
	if PesHasDts(buf) {
		dts = PesGetDts(buf)
	}

	if dts == NoPts {
		dts = pts
	}

	if p.curDts == NoPts {
		p.curDts = dts
	}
	if p.curPts == NoPts {
		p.curPts = pts
	}

	return hdrLen
}

// sendPayload is the default frame emission: build an elementary packet
// from the current parser state and hand it to the demuxer.
func (p *parser) sendPayload(payload []byte) {
	if len(payload) == 0 {
		return
	}

	pkt := Packet{
		FrameType: p.frameType,
		Data:      payload,
		Duration:  p.duration,
		Dts:       p.curDts,
		Pts:       p.curPts,
	}

	p.demuxer.sendPacket(&pkt)
}

// parsePayload is the default payload hook: send the whole frame.
func (p *parser) parsePayload(payload []byte) int {
	return len(payload)
}

// putData strips the PES header on payload start and appends the remaining
// bytes to the ring. On overflow the ring is cleared.
func (p *parser) putData(data []byte, pusi bool) {
	if pusi {
		offset := p.parsePesHeader(data)
		data = data[offset:]
		p.startup = false
	}

	if !p.startup && len(data) > 0 {
		if put := p.ring.Put(data); put < len(data) {
			p.ring.Clear()
		}
	}
}

// parse feeds PES payload bytes into the scan loop: locate an aligned frame
// header, verify the following header, emit the frame, or skip forward
// byte-by-byte until alignment is found.
func (p *parser) parse(data []byte, pusi bool) {
	buffer := p.ring.Get()
	length := len(buffer)

	if length > p.headerSize && buffer != nil {
		if framesize, ok := p.hooks.checkAlignmentHeader(buffer, true); ok {
			if framesize > 0 && length >= framesize+p.headerSize {
				// check the next header to eliminate false positives
				if _, ok := p.hooks.checkAlignmentHeader(buffer[framesize:], false); ok {
					// extrapolate missing timestamps
					if p.curPts == NoPts {
						p.curPts = PtsAdd(p.lastPts, p.duration)
					}
					if p.curDts == NoPts {
						p.curDts = PtsAdd(p.lastDts, p.duration)
					}

					n := p.hooks.parsePayload(buffer[:framesize])
					p.hooks.sendPayload(buffer[:n])

					p.lastPts = p.curPts
					p.lastDts = p.curDts

					p.curPts = NoPts
					p.curDts = NoPts

					p.ring.Del(framesize)
					p.putData(data, pusi)
					return
				}
			}
		}
	}

	// try to find sync
	if offset := p.findAlignmentOffset(buffer, 1); offset != -1 {
		p.ring.Del(offset)
	} else if length > p.headerSize {
		p.ring.Del(length - p.headerSize)
	}

	p.putData(data, pusi)
}

// flush sends whatever remains in the ring.
func (p *parser) flush() {
	buffer := p.ring.Get()
	if len(buffer) > 0 {
		n := p.hooks.parsePayload(buffer)
		p.hooks.sendPayload(buffer[:n])
	}
	p.ring.Clear()
}

// reset drops buffered bytes and timestamps.
func (p *parser) reset() {
	p.ring.Clear()

	p.curPts = NoPts
	p.curDts = NoPts
	p.lastPts = NoPts
	p.lastDts = NoPts

	p.startup = true
}

// findAlignmentOffset seeks the next valid frame header at or after offset o.
func (p *parser) findAlignmentOffset(buffer []byte, o int) int {
	framesize := 0
	ok := false

	for o < len(buffer)-p.headerSize {
		if framesize, ok = p.hooks.checkAlignmentHeader(buffer[o:], false); ok {
			break
		}
		o++
	}

	if o >= len(buffer)-p.headerSize || framesize <= 0 {
		return -1
	}

	return o
}

// findStartCode scans buffer for a 32 bit start code and returns its offset,
// or -1 when not found.
func findStartCode(buffer []byte, offset int, startcode, mask uint32) int {
	sc := uint32(0xFFFFFFFF)

	for offset < len(buffer) {
		sc = sc<<8 | uint32(buffer[offset])
		offset++

		if sc&mask == startcode {
			return offset - 4
		}
	}

	return -1
}
