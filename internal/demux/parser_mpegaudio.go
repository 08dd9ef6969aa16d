package demux

// MPEG audio header tables, indexed by the version/layer fields of the
// 32 bit frame header.

// mpaBitrateTable holds kbit/s values for [version][layer-1][bitrateIndex].
// Version 0 is MPEG-1, version 1 covers MPEG-2 and MPEG-2.5.
var mpaBitrateTable = [2][3][16]int{
	{ // MPEG-1
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	{ // MPEG-2 / MPEG-2.5
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

// mpaSampleRateTable holds MPEG-1 sample rates per samplerateIndex;
// MPEG-2 divides by two, MPEG-2.5 by four.
var mpaSampleRateTable = [4]int{44100, 48000, 32000, 0}

// mpegAudioParser handles MPEG-1/2 layer I/II/III audio frames.
type mpegAudioParser struct {
	parser
}

func newMpegAudioParser(demuxer *PidDemuxer) *mpegAudioParser {
	p := &mpegAudioParser{}
	p.parser = newParser(demuxer, 64*1024, 8192, p)
	p.headerSize = 4
	return p
}

func (p *mpegAudioParser) checkAlignmentHeader(buffer []byte, parse bool) (int, bool) {
	bs := NewBitReader(buffer, p.headerSize*8)

	// frame sync
	if bs.GetBits(11) != 0x7FF {
		return 0, false
	}

	versionBits := bs.GetBits(2) // 0 = MPEG-2.5, 2 = MPEG-2, 3 = MPEG-1
	if versionBits == 1 {
		return 0, false
	}

	layerBits := bs.GetBits(2) // 1 = layer III, 2 = layer II, 3 = layer I
	if layerBits == 0 {
		return 0, false
	}
	layer := 4 - int(layerBits)

	bs.SkipBits(1) // protection

	bitrateIndex := bs.GetBits(4)
	if bitrateIndex == 0 || bitrateIndex == 15 {
		return 0, false
	}

	samplerateIndex := bs.GetBits(2)
	if samplerateIndex == 3 {
		return 0, false
	}

	padding := int(bs.GetBits(1))
	bs.SkipBits(1) // private bit
	channelMode := bs.GetBits(2)

	versionTable := 0
	sampleRate := mpaSampleRateTable[samplerateIndex]

	switch versionBits {
	case 2: // MPEG-2
		versionTable = 1
		sampleRate /= 2
	case 0: // MPEG-2.5
		versionTable = 1
		sampleRate /= 4
	}

	bitRate := mpaBitrateTable[versionTable][layer-1][bitrateIndex] * 1000
	if bitRate == 0 || sampleRate == 0 {
		return 0, false
	}

	var framesize, samplesPerFrame int

	switch layer {
	case 1:
		framesize = (12*bitRate/sampleRate + padding) * 4
		samplesPerFrame = 384
	case 2:
		framesize = 144*bitRate/sampleRate + padding
		samplesPerFrame = 1152
	default: // layer III
		samplesPerFrame = 1152
		if versionTable == 1 {
			samplesPerFrame = 576
		}
		framesize = samplesPerFrame/8*bitRate/sampleRate + padding
	}

	if framesize < p.headerSize {
		return 0, false
	}

	p.sampleRate = sampleRate
	p.bitRate = bitRate
	if channelMode == 3 {
		p.channels = 1
	} else {
		p.channels = 2
	}
	p.duration = int64(samplesPerFrame) * 90000 / int64(sampleRate)

	if parse {
		p.demuxer.setAudioInformation(p.channels, p.sampleRate, p.bitRate)
	}

	return framesize, true
}
