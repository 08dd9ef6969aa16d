package demux

// latmParser handles AAC audio in LOAS/LATM framing.
type latmParser struct {
	parser
}

func newLatmParser(demuxer *PidDemuxer) *latmParser {
	p := &latmParser{}
	p.parser = newParser(demuxer, 64*1024, 8192, p)
	p.headerSize = 3
	return p
}

func (p *latmParser) checkAlignmentHeader(buffer []byte, parse bool) (int, bool) {
	bs := NewBitReader(buffer, 24*8)

	// read sync
	if bs.GetBits(11) != 0x2B7 {
		return 0, false
	}

	// read frame size
	framesize := int(bs.GetBits(13)) + 3

	if bs.GetBit() == 0 {
		p.readStreamMuxConfig(bs)
	}

	if parse {
		p.demuxer.setAudioInformation(p.channels, p.sampleRate, 0)
	}

	return framesize, true
}

func (p *latmParser) readStreamMuxConfig(bs *BitReader) {
	audioMuxVersion := bs.GetBit()

	if audioMuxVersion != 0 {
		return
	}

	bs.SkipBits(1) // allStreamSameTimeFraming = 1
	bs.SkipBits(6) // numSubFrames = 0
	bs.SkipBits(4) // numPrograms = 0
	bs.SkipBits(3) // numLayer = 0

	aot := bs.GetBits(5)
	if aot == 31 {
		bs.SkipBits(6)
	}

	sampleRateIndex := bs.GetBits(4)

	if sampleRateIndex == 0xF {
		p.sampleRate = int(bs.GetBits(24))
	} else {
		p.sampleRate = aacSampleRates[sampleRateIndex]
	}

	channelIndex := bs.GetBits(4)

	if channelIndex < 8 {
		p.channels = aacChannels[channelIndex]
	}

	if p.sampleRate > 0 {
		p.duration = 1024 * 90000 / int64(p.sampleRate)
	}
}
