package demux

const (
	mpeg2SequenceStart = 0x000001B3
	mpeg2PictureStart  = 0x00000100
)

// frame durations in 90 kHz ticks, indexed by the frame rate code
var mpeg2FrameDurations = [16]int64{
	0, 3753, 3750, 3600, 3003, 3000, 1800, 1501, 1500, 0, 0, 0, 0, 0, 0, 0,
}

// frame rates as rate/scale pairs, indexed by the frame rate code
var mpeg2FrameRates = [16][2]int{
	{0, 0}, {24000, 1001}, {24, 1}, {25, 1}, {30000, 1001}, {30, 1}, {50, 1}, {60000, 1001}, {60, 1},
	{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0},
}

// display aspect ratios indexed by the aspect ratio code
var mpeg2AspectRatios = [16]float64{
	0, 1.0, 1.333333333, 1.777777778, 2.21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func mpeg2FrameTypeOf(data []byte) int {
	bs := NewBitReader(data, len(data)*8)
	bs.SkipBits(32) // skip picture start code
	bs.SkipBits(10) // skip temporal reference

	return int(bs.GetBits(3))
}

func convertMpeg2FrameType(frametype int) FrameType {
	switch frametype {
	case 1:
		return FrameTypeI
	case 2:
		return FrameTypeP
	case 3:
		return FrameTypeB
	case 4:
		return FrameTypeD
	}
	return FrameTypeUnknown
}

// mpeg2VideoParser splits assembled PES packets on picture start codes and
// extrapolates DTS/PTS across the pictures of one packet.
type mpeg2VideoParser struct {
	pesParser
	frameDifference int64
	lastDts         int64
}

func newMpeg2VideoParser(demuxer *PidDemuxer) *mpeg2VideoParser {
	p := &mpeg2VideoParser{lastDts: NoPts}
	p.parser = newParser(demuxer, 512*1024, 0, p)
	return p
}

func (p *mpeg2VideoParser) parse(data []byte, pusi bool) {
	p.parseWith(p, data, pusi)
}

// parsePicture derives the frame type and fills in missing timestamps.
func (p *mpeg2VideoParser) parsePicture(data []byte) FrameType {
	frametype := mpeg2FrameTypeOf(data)

	// get I,P frames distance
	if frametype < 3 && p.curDts != NoPts && p.curPts != NoPts {
		p.frameDifference = p.curPts - p.curDts
		p.lastDts = p.curDts
		return convertMpeg2FrameType(frametype)
	}

	// extrapolate DTS
	if p.curDts == NoPts && p.duration != 0 {
		p.curDts = PtsAdd(p.lastDts, p.duration)
		p.lastDts = p.curDts
	}

	// B frames have DTS = PTS
	if frametype == 3 && p.curPts == NoPts {
		p.curPts = p.curDts
	}

	// extrapolate PTS of I/P frame
	if frametype < 3 && p.curPts == NoPts {
		p.curPts = PtsAdd(p.curDts, p.frameDifference)
	}

	return convertMpeg2FrameType(frametype)
}

func (p *mpeg2VideoParser) parsePayload(data []byte) int {
	length := len(data)

	// lookup sequence start code
	o := findStartCode(data, 0, mpeg2SequenceStart, 0xFFFFFFFF)

	if o >= 0 {
		// parse picture sequence (width, height, aspect, duration)
		p.parseSequenceStart(data[o+4:])
	}

	// exit if there isn't any duration
	if p.duration == 0 {
		return length
	}

	// check for picture start codes
	s := findStartCode(data, 0, mpeg2PictureStart, 0xFFFFFFFF)

	// abort if there isn't any picture information
	if s == -1 {
		return length
	}

	e := findStartCode(data, s+4, mpeg2PictureStart, 0xFFFFFFFF)
	o = s
	s = 0

	// divide this packet into frames
	for e != -1 {
		p.frameType = p.parsePicture(data[o:e])
		p.parser.sendPayload(data[s:e])

		s = e
		o = s
		e = findStartCode(data, s+4, mpeg2PictureStart, 0xFFFFFFFF)

		// increment timestamps
		p.curPts = NoPts
		p.curDts = PtsAdd(p.curDts, p.duration)
	}

	// append last part
	p.frameType = p.parsePicture(data[o:])
	p.parser.sendPayload(data[s:])

	return length
}

// sendPayload is a no-op: frames are emitted per picture from parsePayload.
func (p *mpeg2VideoParser) sendPayload(payload []byte) {
}

func (p *mpeg2VideoParser) parseSequenceStart(data []byte) {
	bs := NewBitReader(data, len(data)*8)

	if len(data)*8 < 32 {
		return
	}

	width := int(bs.GetBits(12))
	height := int(bs.GetBits(12))

	// display aspect ratio
	dar := mpeg2AspectRatios[bs.GetBits(4)]

	// frame rate / duration
	index := bs.GetBits(4)
	p.duration = mpeg2FrameDurations[index]

	p.demuxer.setVideoInformation(mpeg2FrameRates[index][1], mpeg2FrameRates[index][0], height, width, int64(dar*10000))
}
