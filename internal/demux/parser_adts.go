package demux

// aacSampleRates indexes the sampling_frequency_index field of ADTS and
// LATM headers.
var aacSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// aacChannels indexes the channel_configuration field.
var aacChannels = [8]int{0, 1, 2, 3, 4, 5, 6, 8}

// adtsParser handles AAC audio framed in ADTS headers.
type adtsParser struct {
	parser
}

func newAdtsParser(demuxer *PidDemuxer) *adtsParser {
	p := &adtsParser{}
	p.parser = newParser(demuxer, 64*1024, 8192, p)
	p.headerSize = 9 // header is 9 bytes long (with CRC)
	return p
}

func (p *adtsParser) parseAudioHeader(buffer []byte) (int, bool) {
	bs := NewBitReader(buffer, p.headerSize*8)

	// sync
	if bs.GetBits(12) != 0xFFF {
		return 0, false
	}

	bs.SkipBits(1) // MPEG Version (0 = MPEG4 / 1 = MPEG2)

	// layer is always 0
	if bs.GetBits(2) != 0 {
		return 0, false
	}

	bs.SkipBits(1) // Protection absent
	bs.SkipBits(2) // AOT
	samplerateIndex := bs.GetBits(4)

	if samplerateIndex == 15 {
		return 0, false
	}

	bs.SkipBits(1) // Private bit

	channelIndex := bs.GetBits(3)

	if channelIndex > 7 {
		return 0, false
	}

	bs.SkipBits(4) // original, copy, copyright, ...

	framesize := int(bs.GetBits(13))

	p.sampleRate = aacSampleRates[samplerateIndex]
	p.channels = aacChannels[channelIndex]
	p.duration = 1024 * 90000 / int64(p.sampleRate)

	return framesize, true
}

func (p *adtsParser) checkAlignmentHeader(buffer []byte, parse bool) (int, bool) {
	framesize, ok := p.parseAudioHeader(buffer)
	if !ok {
		return 0, false
	}

	if parse {
		p.demuxer.setAudioInformation(p.channels, p.sampleRate, 0)
	}

	return framesize, true
}
