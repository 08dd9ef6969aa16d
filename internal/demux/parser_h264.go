package demux

// H264 profiles
const (
	h264ProfileBaseline = 66
	h264ProfileMain     = 77
	h264ProfileExtended = 88
	h264ProfileHigh     = 100
	h264ProfileHigh10   = 110
	h264ProfileHigh422  = 122
	h264ProfileHigh444  = 244
	h264ProfileCavlc444 = 44
)

// NAL unit types
const (
	nalSlh = 0x01
	nalIdr = 0x05
	nalSei = 0x06
	nalSps = 0x07
	nalPps = 0x08
)

type pixelAspect struct {
	num int
	den int
}

// sample aspect ratios indexed by aspect_ratio_idc
var h264AspectRatios = [17]pixelAspect{
	{0, 1}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11}, {32, 11},
	{80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2}, {2, 1},
}

// h264Parser splits assembled PES packets into NAL units, tracks SPS/PPS
// and slice headers, and assembles interlaced field pairs into frames.
type h264Parser struct {
	pesParser

	scale                 int
	rate                  int
	log2MaxFrameNumMinus4 int
	progressiveFrame      bool
	picFieldFlag          bool
	bottomField           bool

	// framebuffer to assemble fields
	frameBuffer       []byte
	frameBufferOffset int
}

func newH264Parser(demuxer *PidDemuxer) *h264Parser {
	p := &h264Parser{
		log2MaxFrameNumMinus4: -1,
		frameBuffer:           make([]byte, 1024*1024),
	}
	p.parser = newParser(demuxer, 512*1024, 0, p)
	return p
}

func (p *h264Parser) parse(data []byte, pusi bool) {
	p.parseWith(p, data, pusi)
}

// nalUnescape removes emulation prevention bytes (00 00 03 -> 00 00).
func nalUnescape(src []byte) []byte {
	dst := make([]byte, 0, len(src))

	for s := 0; s < len(src); s++ {
		if s >= 2 && s < len(src)-1 {
			if src[s-2] == 0 && src[s-1] == 0 && src[s] == 3 {
				s++ // skip 03
				if s >= len(src) {
					break
				}
			}
		}
		dst = append(dst, src[s])
	}

	return dst
}

// extractNal returns the unescaped NAL unit payload starting at nalOffset.
func extractNal(packet []byte, nalOffset int) []byte {
	e := findStartCode(packet, nalOffset, 0x00000001, 0xFFFFFFFF)

	if e == -1 {
		e = len(packet)
	}

	if e-nalOffset <= 0 {
		return nil
	}

	return nalUnescape(packet[nalOffset:e])
}

func (p *h264Parser) parsePayload(data []byte) int {
	length := len(data)

	if length < 4 {
		return length
	}

	spsStart := -1
	ppsStart := -1
	slhStart := -1
	idrFrame := false

	// iterate through all NAL units
	o := 0
	for {
		o = findStartCode(data, o, 0x00000001, 0xFFFFFFFF)
		if o < 0 {
			break
		}
		o += 4

		if o >= length {
			return length
		}

		nalType := data[o] & 0x1F

		switch {
		case nalType == nalSlh && length-o > 1:
			o++
			slhStart = o

		case nalType == nalPps && length-o > 1:
			o++
			ppsStart = o

		case nalType == nalSps && length-o > 1:
			o++
			spsStart = o

		case nalType == nalIdr:
			idrFrame = true
		}
	}

	// extract and register PPS data (decoder specific data)
	if ppsStart != -1 {
		if ppsData := extractNal(data, ppsStart); ppsData != nil {
			p.demuxer.setVideoDecoderData(nil, ppsData, nil)
		}
	}

	// skip packet if we do not have SPS data (and never seen SPS before)
	if spsStart == -1 && p.log2MaxFrameNumMinus4 == -1 {
		return 0
	}

	// extract SPS
	if spsStart != -1 {
		if spsData := extractNal(data, spsStart); spsData != nil {
			// register SPS data (decoder specific data)
			p.demuxer.setVideoDecoderData(spsData, nil, nil)

			if aspect, width, height, ok := p.parseSps(spsData); ok {
				par := float64(aspect.num) / float64(aspect.den)
				dar := par * float64(width) / float64(height)

				p.demuxer.setVideoInformation(p.scale, p.rate, height, width, int64(dar*10000))
			}
		}
	}

	// extract slh
	if slhStart != -1 {
		if slhData := extractNal(data, slhStart); slhData != nil {
			p.parseSlh(slhData)
		}
	}

	// IDR frame ?
	if p.frameType != FrameTypeI && idrFrame {
		p.frameType = FrameTypeI
	}

	// progressive frame (no need to assemble anything)
	if p.progressiveFrame {
		return length
	}

	// no fields present
	if !p.picFieldFlag {
		return length
	}

	// top field -> start new frame
	if !p.bottomField {
		copy(p.frameBuffer, data)
		p.frameBufferOffset = length
		return 0
	}

	// bottom field -> finalize frame
	copy(p.frameBuffer[p.frameBufferOffset:], data)
	p.frameBufferOffset += length
	return length
}

func (p *h264Parser) sendPayload(payload []byte) {
	// send parsed frame (field)
	if p.progressiveFrame || !p.picFieldFlag {
		p.parser.sendPayload(payload)
		return
	}

	// top field is still waiting for its bottom field
	if len(payload) == 0 {
		return
	}

	// send assembled frame
	p.parser.sendPayload(p.frameBuffer[:p.frameBufferOffset])
	p.frameBufferOffset = 0
}

// parseSlh extracts the slice type and field flags from a slice header.
func (p *h264Parser) parseSlh(buf []byte) {
	// limit bitstream parsing to the slice header
	if len(buf) > 20 {
		buf = buf[:20]
	}

	bs := NewBitReader(buf, len(buf)*8)

	bs.GetGolombUe() // first_mb_in_slice
	sliceType := int(bs.GetGolombUe())

	if sliceType > 4 {
		sliceType -= 5
	}

	bs.GetGolombUe()                        // pic_parameter_set_id
	bs.GetBits(p.log2MaxFrameNumMinus4 + 4) // frame_num

	p.picFieldFlag = false
	p.bottomField = false

	if !p.progressiveFrame {
		p.picFieldFlag = bs.GetBit() == 1

		if p.picFieldFlag {
			p.bottomField = bs.GetBit() == 1
		}
	}

	// do not set frametype for bottomfield
	if p.bottomField {
		return
	}

	switch sliceType {
	case 0:
		p.frameType = FrameTypeP
	case 1:
		p.frameType = FrameTypeB
	case 2:
		p.frameType = FrameTypeI
	default:
		p.frameType = FrameTypeUnknown
	}
}

// parseSps extracts picture dimensions, pixel aspect and timing from a
// sequence parameter set.
func (p *h264Parser) parseSps(buf []byte) (pixelAspect, int, int, bool) {
	aspect := pixelAspect{1, 1}
	bs := NewBitReader(buf, len(buf)*8)

	profileIdc := int(bs.GetBits(8))

	// check for valid profile
	switch profileIdc {
	case h264ProfileBaseline, h264ProfileMain, h264ProfileExtended,
		h264ProfileHigh, h264ProfileHigh10, h264ProfileHigh422,
		h264ProfileHigh444, h264ProfileCavlc444:
	default:
		return aspect, 0, 0, false
	}

	bs.SkipBits(8)   // constraint set flags 0-5, 2 bits reserved
	bs.SkipBits(8)   // level idc
	bs.GetGolombUe() // sequence parameter set id

	// high profile ?
	switch profileIdc {
	case h264ProfileHigh, h264ProfileHigh10, h264ProfileHigh422,
		h264ProfileHigh444, h264ProfileCavlc444:
		if bs.GetGolombUe() == 3 { // chroma_format_idc
			bs.GetBit() // residual_colour_transform_flag
		}

		bs.GetGolombUe() // bit_depth_luma - 8
		bs.GetGolombUe() // bit_depth_chroma - 8
		bs.SkipBits(1)   // transform_bypass

		if bs.GetBit() == 1 { // seq_scaling_matrix_present
			for i := 0; i < 8; i++ {
				if bs.GetBit() == 1 { // seq_scaling_list_present
					last, next := 8, 8
					size := 16
					if i >= 6 {
						size = 64
					}

					for j := 0; j < size; j++ {
						if next != 0 {
							next = (last + int(bs.GetGolombSe())) & 0xFF
						}
						if next != 0 {
							last = next
						}
					}
				}
			}
		}
	}

	p.log2MaxFrameNumMinus4 = int(bs.GetGolombUe())

	picOrderCntType := bs.GetGolombUe()

	switch picOrderCntType {
	case 0:
		bs.GetGolombUe() // log2_max_poc_lsb - 4
	case 1:
		bs.SkipBits(1)   // delta_pic_order_always_zero
		bs.GetGolombSe() // offset_for_non_ref_pic
		bs.GetGolombSe() // offset_for_top_to_bottom_field

		cycles := bs.GetGolombUe() // num_ref_frames_in_pic_order_cnt_cycle
		for i := uint32(0); i < cycles; i++ {
			bs.GetGolombSe() // offset_for_ref_frame
		}
	case 2:
	default:
		return aspect, 0, 0, false
	}

	bs.GetGolombUe() // ref_frames
	bs.SkipBits(1)   // gaps_in_frame_num_allowed

	width := int(bs.GetGolombUe()) + 1
	height := int(bs.GetGolombUe()) + 1
	p.progressiveFrame = bs.GetBit() == 1

	width *= 16
	if p.progressiveFrame {
		height *= 16
	} else {
		height *= 32
	}

	if !p.progressiveFrame {
		bs.SkipBits(1) // mb_adaptive_frame_field_flag
	}

	bs.SkipBits(1) // direct_8x8_inference_flag

	// frame_cropping_flag
	if bs.GetBit() == 1 {
		cropLeft := int(bs.GetGolombUe())
		cropRight := int(bs.GetGolombUe())
		cropTop := int(bs.GetGolombUe())
		cropBottom := int(bs.GetGolombUe())

		width -= 2 * (cropLeft + cropRight)

		if p.progressiveFrame {
			height -= 2 * (cropTop + cropBottom)
		} else {
			height -= 4 * (cropTop + cropBottom)
		}
	}

	// VUI parameters
	aspect.num = 0

	if bs.GetBit() == 1 { // vui_parameters_present flag
		if bs.GetBit() == 1 { // aspect_ratio_info_present
			aspectRatioIdc := bs.GetBits(8)

			if aspectRatioIdc == 255 { // Extended_SAR
				aspect.num = int(bs.GetBits(16)) // sar width
				aspect.den = int(bs.GetBits(16)) // sar height
			} else if int(aspectRatioIdc) < len(h264AspectRatios) {
				aspect = h264AspectRatios[aspectRatioIdc]
			}
		}

		// overscan info
		if bs.GetBit() == 1 {
			bs.SkipBits(1) // overscan appropriate flag
		}

		// video signal type present
		if bs.GetBit() == 1 {
			bs.SkipBits(3) // video format
			bs.SkipBits(1) // video full range flag

			// color description present
			if bs.GetBit() == 1 {
				bs.SkipBits(8) // color primaries
				bs.SkipBits(8) // transfer characteristics
				bs.SkipBits(8) // matrix coefficients
			}
		}

		// chroma loc info present
		if bs.GetBit() == 1 {
			bs.GetGolombUe() // type top field
			bs.GetGolombUe() // type bottom field
		}

		// timing info present
		if bs.GetBit() == 1 {
			numUnitsInTick := bs.GetBits(32)
			timeScale := bs.GetBits(32)

			// fixed frame rate flag
			if bs.GetBit() == 1 {
				numUnitsInTick *= 2
				if timeScale > 0 {
					p.duration = int64(90000) * int64(numUnitsInTick) / int64(timeScale)
				}
				p.rate = int(timeScale)
				p.scale = int(numUnitsInTick)
			}
		}
	}

	if aspect.num == 0 {
		aspect = pixelAspect{1, 1}
	}

	return aspect, width, height, true
}
