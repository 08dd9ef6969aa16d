package demux

// H.265 NAL unit types
const (
	hevcNalBlaWLp  = 16
	hevcNalRsvIrap = 23
	hevcNalVps     = 32
	hevcNalSps     = 33
	hevcNalPps     = 34
)

// h265Parser extends the H.264 parser with the HEVC NAL layout, the VPS and
// the extended SPS syntax (scaling lists, short term reference picture
// sets).
type h265Parser struct {
	h264Parser
}

func newH265Parser(demuxer *PidDemuxer) *h265Parser {
	p := &h265Parser{}
	p.log2MaxFrameNumMinus4 = -1
	p.frameBuffer = make([]byte, 1024*1024)
	// HEVC streams are coded frame-based, no field assembly needed
	p.progressiveFrame = true
	p.parser = newParser(demuxer, 512*1024, 0, p)
	return p
}

func (p *h265Parser) parse(data []byte, pusi bool) {
	p.parseWith(p, data, pusi)
}

func (p *h265Parser) parsePayload(data []byte) int {
	length := len(data)

	if length < 4 {
		return length
	}

	vpsStart := -1
	spsStart := -1
	ppsStart := -1
	sliceStart := -1
	irapFrame := false

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

		nalType := (data[o] >> 1) & 0x3F

		switch {
		case nalType == hevcNalVps && length-o > 2:
			vpsStart = o + 2

		case nalType == hevcNalSps && length-o > 2:
			spsStart = o + 2

		case nalType == hevcNalPps && length-o > 2:
			ppsStart = o + 2

		case nalType >= hevcNalBlaWLp && nalType <= hevcNalRsvIrap:
			irapFrame = true
			if sliceStart == -1 && length-o > 2 {
				sliceStart = o + 2
			}

		case nalType < hevcNalBlaWLp:
			if sliceStart == -1 && length-o > 2 {
				sliceStart = o + 2
			}
		}
	}

	// register decoder specific data
	if vpsStart != -1 {
		if vpsData := extractNal(data, vpsStart); vpsData != nil {
			p.demuxer.setVideoDecoderData(nil, nil, vpsData)
		}
	}

	if ppsStart != -1 {
		if ppsData := extractNal(data, ppsStart); ppsData != nil {
			p.demuxer.setVideoDecoderData(nil, ppsData, nil)
		}
	}

	if spsStart == -1 && p.log2MaxFrameNumMinus4 == -1 {
		return 0
	}

	if spsStart != -1 {
		if spsData := extractNal(data, spsStart); spsData != nil {
			p.demuxer.setVideoDecoderData(spsData, nil, nil)

			if aspect, width, height, ok := p.parseSps(spsData); ok {
				par := float64(aspect.num) / float64(aspect.den)
				dar := par * float64(width) / float64(height)

				p.demuxer.setVideoInformation(p.scale, p.rate, height, width, int64(dar*10000))
			}
		}
	}

	// frame type from the slice header, IRAP pictures are keyframes
	if irapFrame {
		p.frameType = FrameTypeI
	} else if sliceStart != -1 {
		if slhData := extractNal(data, sliceStart); slhData != nil {
			p.parseSliceHeader(slhData, irapFrame)
		}
	}

	return length
}

// parseSliceHeader extracts the slice type of the first slice segment.
func (p *h265Parser) parseSliceHeader(buf []byte, irap bool) {
	if len(buf) > 20 {
		buf = buf[:20]
	}

	bs := NewBitReader(buf, len(buf)*8)

	firstSlice := bs.GetBit() // first_slice_segment_in_pic_flag
	if firstSlice == 0 {
		return
	}

	if irap {
		bs.SkipBits(1) // no_output_of_prior_pics_flag
	}

	bs.GetGolombUe() // slice_pic_parameter_set_id

	switch bs.GetGolombUe() { // slice_type
	case 0:
		p.frameType = FrameTypeB
	case 1:
		p.frameType = FrameTypeP
	case 2:
		p.frameType = FrameTypeI
	default:
		p.frameType = FrameTypeUnknown
	}
}

// parseSps extracts dimensions, aspect and timing from an HEVC sequence
// parameter set.
func (p *h265Parser) parseSps(buf []byte) (pixelAspect, int, int, bool) {
	aspect := pixelAspect{1, 1}
	bs := NewBitReader(buf, len(buf)*8)

	bs.SkipBits(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := int(bs.GetBits(3))
	bs.SkipBits(1) // sps_temporal_id_nesting_flag

	p.skipProfileTierLevel(bs, maxSubLayersMinus1)

	bs.GetGolombUe() // sps_seq_parameter_set_id

	chromaFormatIdc := bs.GetGolombUe()
	if chromaFormatIdc == 3 {
		bs.SkipBits(1) // separate_colour_plane_flag
	}

	width := int(bs.GetGolombUe())  // pic_width_in_luma_samples
	height := int(bs.GetGolombUe()) // pic_height_in_luma_samples

	if bs.GetBit() == 1 { // conformance_window_flag
		left := int(bs.GetGolombUe())
		right := int(bs.GetGolombUe())
		top := int(bs.GetGolombUe())
		bottom := int(bs.GetGolombUe())

		subWidthC := 1
		subHeightC := 1
		if chromaFormatIdc == 1 {
			subWidthC, subHeightC = 2, 2
		} else if chromaFormatIdc == 2 {
			subWidthC = 2
		}

		width -= subWidthC * (left + right)
		height -= subHeightC * (top + bottom)
	}

	bs.GetGolombUe() // bit_depth_luma_minus8
	bs.GetGolombUe() // bit_depth_chroma_minus8

	log2MaxPocLsb := int(bs.GetGolombUe()) // log2_max_pic_order_cnt_lsb_minus4
	p.log2MaxFrameNumMinus4 = log2MaxPocLsb

	subLayerOrderingInfo := bs.GetBit() == 1
	start := 0
	if !subLayerOrderingInfo {
		start = maxSubLayersMinus1
	}
	for i := start; i <= maxSubLayersMinus1; i++ {
		bs.GetGolombUe() // sps_max_dec_pic_buffering_minus1
		bs.GetGolombUe() // sps_max_num_reorder_pics
		bs.GetGolombUe() // sps_max_latency_increase_plus1
	}

	bs.GetGolombUe() // log2_min_luma_coding_block_size_minus3
	bs.GetGolombUe() // log2_diff_max_min_luma_coding_block_size
	bs.GetGolombUe() // log2_min_luma_transform_block_size_minus2
	bs.GetGolombUe() // log2_diff_max_min_luma_transform_block_size
	bs.GetGolombUe() // max_transform_hierarchy_depth_inter
	bs.GetGolombUe() // max_transform_hierarchy_depth_intra

	if bs.GetBit() == 1 { // scaling_list_enabled_flag
		if bs.GetBit() == 1 { // sps_scaling_list_data_present_flag
			p.skipScalingList(bs)
		}
	}

	bs.SkipBits(1) // amp_enabled_flag
	bs.SkipBits(1) // sample_adaptive_offset_enabled_flag

	if bs.GetBit() == 1 { // pcm_enabled_flag
		bs.SkipBits(4)   // pcm_sample_bit_depth_luma_minus1
		bs.SkipBits(4)   // pcm_sample_bit_depth_chroma_minus1
		bs.GetGolombUe() // log2_min_pcm_luma_coding_block_size_minus3
		bs.GetGolombUe() // log2_diff_max_min_pcm_luma_coding_block_size
		bs.SkipBits(1)   // pcm_loop_filter_disabled_flag
	}

	numShortTermRefPicSets := int(bs.GetGolombUe())
	p.skipShortTermRefPicSets(bs, numShortTermRefPicSets)

	if bs.GetBit() == 1 { // long_term_ref_pics_present_flag
		numLtRefPics := int(bs.GetGolombUe())
		for i := 0; i < numLtRefPics; i++ {
			bs.SkipBits(log2MaxPocLsb + 4) // lt_ref_pic_poc_lsb_sps
			bs.SkipBits(1)                 // used_by_curr_pic_lt_sps_flag
		}
	}

	bs.SkipBits(1) // sps_temporal_mvp_enabled_flag
	bs.SkipBits(1) // strong_intra_smoothing_enabled_flag

	if bs.GetBit() == 1 { // vui_parameters_present_flag
		if bs.GetBit() == 1 { // aspect_ratio_info_present_flag
			aspectRatioIdc := bs.GetBits(8)

			if aspectRatioIdc == 255 { // Extended_SAR
				aspect.num = int(bs.GetBits(16))
				aspect.den = int(bs.GetBits(16))
			} else if int(aspectRatioIdc) < len(h264AspectRatios) {
				aspect = h264AspectRatios[aspectRatioIdc]
			}
		}

		if bs.GetBit() == 1 { // overscan_info_present_flag
			bs.SkipBits(1)
		}

		if bs.GetBit() == 1 { // video_signal_type_present_flag
			bs.SkipBits(3) // video_format
			bs.SkipBits(1) // video_full_range_flag

			if bs.GetBit() == 1 { // colour_description_present_flag
				bs.SkipBits(24)
			}
		}

		if bs.GetBit() == 1 { // chroma_loc_info_present_flag
			bs.GetGolombUe()
			bs.GetGolombUe()
		}

		bs.SkipBits(1) // neutral_chroma_indication_flag
		bs.SkipBits(1) // field_seq_flag
		bs.SkipBits(1) // frame_field_info_present_flag

		if bs.GetBit() == 1 { // default_display_window_flag
			bs.GetGolombUe()
			bs.GetGolombUe()
			bs.GetGolombUe()
			bs.GetGolombUe()
		}

		if bs.GetBit() == 1 { // vui_timing_info_present_flag
			numUnitsInTick := bs.GetBits(32)
			timeScale := bs.GetBits(32)

			if timeScale > 0 && numUnitsInTick > 0 {
				p.duration = int64(90000) * int64(numUnitsInTick) / int64(timeScale)
				p.rate = int(timeScale)
				p.scale = int(numUnitsInTick)
			}
		}
	}

	if width <= 0 || height <= 0 {
		return aspect, 0, 0, false
	}

	if aspect.num == 0 {
		aspect = pixelAspect{1, 1}
	}

	return aspect, width, height, true
}

func (p *h265Parser) skipProfileTierLevel(bs *BitReader, maxSubLayersMinus1 int) {
	bs.SkipBits(2)  // general_profile_space
	bs.SkipBits(1)  // general_tier_flag
	bs.SkipBits(5)  // general_profile_idc
	bs.SkipBits(32) // general_profile_compatibility_flags
	bs.SkipBits(48) // general constraint flags
	bs.SkipBits(8)  // general_level_idc

	subLayerProfilePresent := make([]bool, maxSubLayersMinus1)
	subLayerLevelPresent := make([]bool, maxSubLayersMinus1)

	for i := 0; i < maxSubLayersMinus1; i++ {
		subLayerProfilePresent[i] = bs.GetBit() == 1
		subLayerLevelPresent[i] = bs.GetBit() == 1
	}

	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			bs.SkipBits(2) // reserved_zero_2bits
		}
	}

	for i := 0; i < maxSubLayersMinus1; i++ {
		if subLayerProfilePresent[i] {
			bs.SkipBits(2 + 1 + 5)
			bs.SkipBits(32)
			bs.SkipBits(48)
		}
		if subLayerLevelPresent[i] {
			bs.SkipBits(8)
		}
	}
}

func (p *h265Parser) skipScalingList(bs *BitReader) {
	for sizeId := 0; sizeId < 4; sizeId++ {
		step := 1
		if sizeId == 3 {
			step = 3
		}
		for matrixId := 0; matrixId < 6; matrixId += step {
			if bs.GetBit() == 0 { // scaling_list_pred_mode_flag
				bs.GetGolombUe() // scaling_list_pred_matrix_id_delta
			} else {
				coefNum := 64
				if sizeId == 0 {
					coefNum = 16
				}
				if sizeId > 1 {
					bs.GetGolombSe() // scaling_list_dc_coef_minus8
				}
				for i := 0; i < coefNum; i++ {
					bs.GetGolombSe() // scaling_list_delta_coef
				}
			}
		}
	}
}

func (p *h265Parser) skipShortTermRefPicSets(bs *BitReader, count int) {
	numDeltaPocs := 0

	for idx := 0; idx < count; idx++ {
		interRefPicSetPrediction := false
		if idx > 0 {
			interRefPicSetPrediction = bs.GetBit() == 1
		}

		if interRefPicSetPrediction {
			bs.SkipBits(1)   // delta_rps_sign
			bs.GetGolombUe() // abs_delta_rps_minus1

			prevNumDeltaPocs := numDeltaPocs
			numDeltaPocs = 0

			for i := 0; i <= prevNumDeltaPocs; i++ {
				usedByCurrPic := bs.GetBit() == 1
				useDelta := true
				if !usedByCurrPic {
					useDelta = bs.GetBit() == 1
				}
				if usedByCurrPic || useDelta {
					numDeltaPocs++
				}
			}
		} else {
			numNegativePics := int(bs.GetGolombUe())
			numPositivePics := int(bs.GetGolombUe())

			if bs.Eof() {
				return
			}

			for i := 0; i < numNegativePics; i++ {
				bs.GetGolombUe() // delta_poc_s0_minus1
				bs.SkipBits(1)   // used_by_curr_pic_s0_flag
			}
			for i := 0; i < numPositivePics; i++ {
				bs.GetGolombUe() // delta_poc_s1_minus1
				bs.SkipBits(1)   // used_by_curr_pic_s1_flag
			}

			numDeltaPocs = numNegativePics + numPositivePics
		}
	}
}
