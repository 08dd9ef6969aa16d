package demux

// pesParser assembles whole PES packets and emits them once the following
// payload start arrives. It is the base of the video parsers and is used
// directly for teletext, which travels as opaque PES.
type pesParser struct {
	parser
}

func newPesParser(demuxer *PidDemuxer, buffersize int) *pesParser {
	p := &pesParser{}
	p.parser = newParser(demuxer, buffersize, 0, p)
	return p
}

// checkAlignmentHeader always matches: PES payloads have no inner framing.
func (p *pesParser) checkAlignmentHeader(buffer []byte, parse bool) (int, bool) {
	return 0, true
}

func (p *pesParser) parse(data []byte, pusi bool) {
	p.parseWith(p.hooks, data, pusi)
}

// parseWith runs the PES assembly loop against the given hooks. The video
// parsers reuse it with their own payload handling.
func (p *pesParser) parseWith(hooks parserHooks, data []byte, pusi bool) {
	// packet completely assembled ?
	if !p.startup && pusi {
		buffer := p.ring.Get()

		if len(buffer) > 0 {
			n := hooks.parsePayload(buffer)
			hooks.sendPayload(buffer[:n])
		}

		if buffer != nil {
			p.curDts = NoPts
			p.curPts = NoPts
		}
	}

	// new packet
	if pusi {
		// strip PES header
		offset := p.parsePesHeader(data)
		data = data[offset:]
		p.startup = false

		// reset buffer
		p.ring.Clear()
	}

	// we start with the beginning of a packet
	if !p.startup {
		p.ring.Put(data)
	}
}

// subtitleParser carries DVB subtitles as opaque PES payloads; the page ids
// come from the PMT descriptor, not from the payload.
type subtitleParser struct {
	pesParser
}

func newSubtitleParser(demuxer *PidDemuxer) *subtitleParser {
	p := &subtitleParser{}
	p.parser = newParser(demuxer, 64*1024, 0, p)
	return p
}
