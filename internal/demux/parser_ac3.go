package demux

// ac3HeaderSize covers the (E-)AC-3 syncinfo and bitstream info fields
// needed for alignment checking.
const ac3HeaderSize = 7

const (
	eac3FrameTypeReserved = 3
	ac3ChannelModeStereo  = 2
	ac3ChannelModeMono    = 1
)

var ac3SampleRateTable = [3]int{48000, 44100, 32000}

var ac3BitrateTable = [19]int{
	32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 448, 512, 576, 640,
}

var ac3ChannelsTable = [8]int{2, 1, 2, 3, 3, 4, 4, 5}

// ac3FrameSizeTable maps frmsizecod x fscod to the frame size in 16 bit
// words. Odd frmsizecod values add one padding word at 44.1 kHz.
var ac3FrameSizeTable [38][3]int

func init() {
	base := [19][3]int{
		{64, 69, 96}, {80, 87, 120}, {96, 104, 144}, {112, 121, 168},
		{128, 139, 192}, {160, 174, 240}, {192, 208, 288}, {224, 243, 336},
		{256, 278, 384}, {320, 348, 480}, {384, 417, 576}, {448, 487, 672},
		{512, 557, 768}, {640, 696, 960}, {768, 835, 1152}, {896, 975, 1344},
		{1024, 1114, 1536}, {1152, 1253, 1728}, {1280, 1393, 1920},
	}
	for i, row := range base {
		ac3FrameSizeTable[2*i] = row
		ac3FrameSizeTable[2*i+1] = [3]int{row[0], row[1] + 1, row[2]}
	}
}

var eac3Blocks = [4]int{1, 2, 3, 6}

// ac3Parser handles AC-3 and E-AC-3 elementary streams. The bsid field of
// each sync frame selects the classic or the enhanced header layout.
type ac3Parser struct {
	parser
	enhanced bool
}

func newAc3Parser(demuxer *PidDemuxer) *ac3Parser {
	p := &ac3Parser{}
	p.parser = newParser(demuxer, 64*1024, 4096, p)
	p.headerSize = ac3HeaderSize
	return p
}

func (p *ac3Parser) checkAlignmentHeader(buffer []byte, parse bool) (int, bool) {
	bs := NewBitReader(buffer, ac3HeaderSize*8)

	if bs.GetBits(16) != 0x0B77 {
		return 0, false
	}

	bs.SkipBits(24) // FFWD to bsid
	bsid := bs.GetBits(5)

	p.enhanced = bsid > 10

	bs.Reset()
	bs.SkipBits(16) // skip syncword

	var framesize int

	if p.enhanced {
		frametype := bs.GetBits(2)

		if frametype == eac3FrameTypeReserved {
			return 0, false
		}

		bs.SkipBits(3) // substream id

		framesize = (int(bs.GetBits(11)) + 1) << 1

		if framesize < ac3HeaderSize {
			return 0, false
		}

		numBlocks := 6
		srCode := bs.GetBits(2)

		if srCode == 3 {
			srCode2 := bs.GetBits(2)

			if srCode2 == 3 {
				return 0, false
			}

			p.sampleRate = ac3SampleRateTable[srCode2] / 2
		} else {
			numBlocks = eac3Blocks[bs.GetBits(2)]
			p.sampleRate = ac3SampleRateTable[srCode]
		}

		channelMode := bs.GetBits(3)
		lfeon := bs.GetBits(1)

		p.bitRate = int(8.0 * float64(framesize) * float64(p.sampleRate) / (float64(numBlocks) * 256.0))
		p.channels = ac3ChannelsTable[channelMode] + int(lfeon)
		p.duration = int64(framesize) * 8 * 1000 * 90 / int64(p.bitRate)
	} else {
		bs.SkipBits(16) // CRC
		fscod := bs.GetBits(2)
		frmsizecod := bs.GetBits(6)
		bs.GetBits(5) // bsid

		bs.SkipBits(3) // bitstream mode
		acmod := bs.GetBits(3)

		if fscod == 3 || frmsizecod > 37 {
			return 0, false
		}

		if acmod == ac3ChannelModeStereo {
			bs.SkipBits(2) // skip dsurmod
		} else {
			if acmod&1 != 0 && acmod != ac3ChannelModeMono {
				bs.SkipBits(2)
			}
			if acmod&4 != 0 {
				bs.SkipBits(2)
			}
		}

		lfeon := bs.GetBits(1)

		p.sampleRate = ac3SampleRateTable[fscod]
		p.bitRate = ac3BitrateTable[frmsizecod>>1] * 1000
		p.channels = ac3ChannelsTable[acmod] + int(lfeon)

		framesize = ac3FrameSizeTable[frmsizecod][fscod] * 2

		p.duration = int64(framesize) * 8 * 1000 * 90 / int64(p.bitRate)
	}

	if parse {
		p.demuxer.setAudioInformation(p.channels, p.sampleRate, p.bitRate)
	}

	return framesize, true
}
