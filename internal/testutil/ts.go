// Package testutil provides transport stream construction helpers for
// tests: raw TS packetizing, PES framing, PSI sections and a bit writer
// for crafting codec headers.
package testutil

// BitWriter assembles MSB-first bit strings for synthetic codec headers.
type BitWriter struct {
	data []byte
	bits int
}

// WriteBits appends the low n bits of v.
func (w *BitWriter) WriteBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := byte(v>>uint(i)) & 1

		if w.bits%8 == 0 {
			w.data = append(w.data, 0)
		}
		if bit == 1 {
			w.data[len(w.data)-1] |= 1 << (7 - uint(w.bits%8))
		}
		w.bits++
	}
}

// WriteGolombUe appends an unsigned Exp-Golomb coded value.
func (w *BitWriter) WriteGolombUe(v uint32) {
	v++
	n := 0
	for tmp := v; tmp > 1; tmp >>= 1 {
		n++
	}
	w.WriteBits(0, n)
	w.WriteBits(v, n+1)
}

// Bytes returns the assembled bytes, zero padded to a byte boundary.
func (w *BitWriter) Bytes() []byte {
	return w.data
}

// TsPacket builds one 188 byte TS packet. Payload longer than the free
// space is truncated; shorter payloads are padded with an adaptation
// field.
func TsPacket(pid int, pusi bool, cc byte, payload []byte) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = byte(pid >> 8 & 0x1F)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)

	space := 184
	if len(payload) >= space {
		// payload only
		pkt[3] = 0x10 | cc&0x0F
		copy(pkt[4:], payload[:space])
		return pkt
	}

	// adaptation field pads the packet to 188 bytes
	pkt[3] = 0x30 | cc&0x0F
	afLen := space - len(payload) - 1
	pkt[4] = byte(afLen)
	if afLen > 0 {
		pkt[5] = 0x00
		for i := 0; i < afLen-1; i++ {
			pkt[6+i] = 0xFF
		}
	}
	copy(pkt[5+afLen:], payload)
	return pkt
}

// Packetize splits a payload over as many TS packets as needed, the first
// one carrying the payload unit start indicator.
func Packetize(pid int, startCc byte, payload []byte) [][]byte {
	var pkts [][]byte

	cc := startCc
	pusi := true

	for len(payload) > 0 {
		n := len(payload)
		if n > 184 {
			n = 184
		}
		pkts = append(pkts, TsPacket(pid, pusi, cc, payload[:n]))
		payload = payload[n:]
		pusi = false
		cc = (cc + 1) & 0x0F
	}

	return pkts
}

// NoTimestamp marks an absent PTS/DTS for Pes.
const NoTimestamp = int64(-1)

// Pes frames data as one PES packet with optional PTS and DTS.
func Pes(streamId byte, pts, dts int64, data []byte) []byte {
	headerData := []byte{}

	flags := byte(0)
	if pts != NoTimestamp {
		flags |= 0x80
		headerData = append(headerData, timestampBytes(0b0010, pts)...)
	}
	if dts != NoTimestamp {
		flags |= 0x40
		headerData[0] = 0b0011<<4 | headerData[0]&0x0F
		headerData = append(headerData, timestampBytes(0b0001, dts)...)
	}

	pes := []byte{0x00, 0x00, 0x01, streamId}

	length := 3 + len(headerData) + len(data)
	if length > 0xFFFF {
		length = 0 // unbounded, video style
	}
	pes = append(pes, byte(length>>8), byte(length))

	pes = append(pes, 0x80, flags, byte(len(headerData)))
	pes = append(pes, headerData...)
	pes = append(pes, data...)

	return pes
}

// timestampBytes encodes a 33 bit timestamp in the 5 byte PES layout.
func timestampBytes(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29&0x0E) | 1,
		byte(ts >> 22),
		byte(ts>>14&0xFE) | 1,
		byte(ts >> 7),
		byte(ts<<1&0xFE) | 1,
	}
}

// Section wraps a PSI table body into a section with header and a dummy
// CRC, ready to be packetized with a pointer field.
func Section(tableId byte, version int, body []byte) []byte {
	length := len(body) + 5 + 4 // body + header remainder + CRC

	section := []byte{
		tableId,
		0xB0 | byte(length>>8&0x0F),
		byte(length),
		0x00, 0x01, // table id extension
		0xC1 | byte(version<<1&0x3E),
		0x00, // section number
		0x00, // last section number
	}
	section = append(section, body...)
	section = append(section, 0xDE, 0xAD, 0xBE, 0xEF) // CRC placeholder

	return section
}

// SectionPackets packetizes a section with its pointer field.
func SectionPackets(pid int, section []byte) [][]byte {
	payload := append([]byte{0x00}, section...)
	return Packetize(pid, 0, payload)
}

// Pat builds a PAT section announcing one program on pmtPid.
func Pat(version, pmtPid int) []byte {
	body := []byte{
		0x00, 0x01, // program number 1
		byte(0xE0 | pmtPid>>8), byte(pmtPid),
	}
	return Section(0x00, version, body)
}

// PmtStream describes one elementary stream for Pmt.
type PmtStream struct {
	StreamType  byte
	Pid         int
	Descriptors []byte
}

// Pmt builds a PMT section for the given streams.
func Pmt(version, pcrPid int, streams []PmtStream) []byte {
	body := []byte{
		byte(0xE0 | pcrPid>>8), byte(pcrPid),
		0xF0, 0x00, // program info length
	}

	for _, s := range streams {
		body = append(body,
			s.StreamType,
			byte(0xE0|s.Pid>>8), byte(s.Pid),
			0xF0|byte(len(s.Descriptors)>>8&0x03), byte(len(s.Descriptors)),
		)
		body = append(body, s.Descriptors...)
	}

	return Section(0x02, version, body)
}

// LanguageDescriptor builds an ISO 639 descriptor.
func LanguageDescriptor(lang string, audioType byte) []byte {
	return []byte{0x0A, 0x04, lang[0], lang[1], lang[2], audioType}
}

// SubtitlingDescriptor builds a DVB subtitling descriptor.
func SubtitlingDescriptor(lang string, subtitlingType byte, compositionPage, ancillaryPage uint16) []byte {
	return []byte{
		0x59, 0x08,
		lang[0], lang[1], lang[2],
		subtitlingType,
		byte(compositionPage >> 8), byte(compositionPage),
		byte(ancillaryPage >> 8), byte(ancillaryPage),
	}
}

// Ac3Frame builds a classic AC-3 sync frame: 48 kHz, 64 kbit/s, stereo,
// 256 bytes. The body past the header is zero filled.
func Ac3Frame() []byte {
	frame := make([]byte, 256)
	frame[0] = 0x0B
	frame[1] = 0x77
	// frame[2:4] crc
	frame[4] = 0x08 // fscod=0 (48 kHz), frmsizecod=8 (64 kbit/s)
	frame[5] = 0x40 // bsid=8, bsmod=0
	frame[6] = 0x40 // acmod=2 (stereo), dsurmod=0, lfeon=0
	return frame
}

// H264Sps builds a baseline profile SPS NAL payload (without the NAL
// header byte) for a progressive 1280x720 stream.
func H264Sps() []byte {
	w := &BitWriter{}

	w.WriteBits(66, 8)     // profile_idc baseline
	w.WriteBits(0, 8)      // constraint flags + reserved
	w.WriteBits(30, 8)     // level_idc
	w.WriteGolombUe(0)     // seq_parameter_set_id
	w.WriteGolombUe(0)     // log2_max_frame_num_minus4
	w.WriteGolombUe(2)     // pic_order_cnt_type
	w.WriteGolombUe(1)     // max_num_ref_frames
	w.WriteBits(0, 1)      // gaps_in_frame_num_value_allowed_flag
	w.WriteGolombUe(79)    // pic_width_in_mbs_minus1 (1280)
	w.WriteGolombUe(44)    // pic_height_in_map_units_minus1 (720)
	w.WriteBits(1, 1)      // frame_mbs_only_flag
	w.WriteBits(0, 1)      // direct_8x8_inference_flag
	w.WriteBits(0, 1)      // frame_cropping_flag
	w.WriteBits(1, 1)      // vui_parameters_present_flag
	w.WriteBits(1, 1)      // aspect_ratio_info_present_flag
	w.WriteBits(1, 8)      // aspect_ratio_idc square
	w.WriteBits(0, 1)      // overscan_info_present_flag
	w.WriteBits(0, 1)      // video_signal_type_present_flag
	w.WriteBits(0, 1)      // chroma_loc_info_present_flag
	w.WriteBits(1, 1)      // timing_info_present_flag
	w.WriteBits(1800, 32)  // num_units_in_tick
	w.WriteBits(90000, 32) // time_scale
	w.WriteBits(1, 1)      // fixed_frame_rate_flag
	w.WriteBits(0, 1)      // nal_hrd_parameters_present_flag
	w.WriteBits(0, 1)      // vcl_hrd_parameters_present_flag
	w.WriteBits(0, 1)      // pic_struct_present_flag
	w.WriteBits(0, 1)      // bitstream_restriction_flag
	w.WriteBits(1, 1)      // rbsp stop bit

	return w.Bytes()
}
