package demux

// PSI table ids and descriptor tags used by the PAT/PMT parser.
const (
	tableIdPat = 0x00
	tableIdPmt = 0x02

	descIso639      = 0x0A
	descTeletext    = 0x56
	descSubtitling  = 0x59
	descAc3         = 0x6A
	descEnhancedAc3 = 0x7A
)

// sectionBuffer accumulates one PSI section across TS packets.
type sectionBuffer struct {
	data     []byte
	expected int
	active   bool
}

func (s *sectionBuffer) reset() {
	s.data = s.data[:0]
	s.expected = 0
	s.active = false
}

// feed appends payload bytes and returns the completed section, or nil.
func (s *sectionBuffer) feed(payload []byte, pusi bool) []byte {
	if pusi {
		// pointer field gives the offset of the section start
		if len(payload) < 1 {
			return nil
		}
		pointer := int(payload[0])
		if 1+pointer >= len(payload) {
			return nil
		}
		payload = payload[1+pointer:]

		s.data = append(s.data[:0], payload...)
		s.active = true
	} else {
		if !s.active {
			return nil
		}
		s.data = append(s.data, payload...)
	}

	if len(s.data) < 3 {
		return nil
	}

	s.expected = 3 + int(s.data[1]&0x0F)<<8 + int(s.data[2])

	if len(s.data) < s.expected {
		return nil
	}

	section := s.data[:s.expected]
	s.active = false
	return section
}

// pmtStream is one elementary stream entry of the current PMT.
type pmtStream struct {
	pid        int
	streamType uint8

	language  string
	audioType uint8

	hasAc3        bool
	hasEac3       bool
	hasTeletext   bool
	hasSubtitling bool

	subtitlingType    uint8
	compositionPageId uint16
	ancillaryPageId   uint16
}

// PatPmtParser accumulates PAT and PMT sections from TS packets on PID 0
// and the announced PMT PID, exposes the table version counters and
// snapshots the current PMT as a StreamBundle.
type PatPmtParser struct {
	patVersion int
	pmtVersion int
	pmtPid     int

	patSection sectionBuffer
	pmtSection sectionBuffer

	streams []pmtStream
}

// NewPatPmtParser creates a parser with unknown table versions.
func NewPatPmtParser() *PatPmtParser {
	return &PatPmtParser{
		patVersion: -1,
		pmtVersion: -1,
		pmtPid:     -1,
	}
}

// Reset drops all table state.
func (p *PatPmtParser) Reset() {
	p.patVersion = -1
	p.pmtVersion = -1
	p.pmtPid = -1
	p.patSection.reset()
	p.pmtSection.reset()
	p.streams = nil
}

// Versions returns the current PAT and PMT version counters. The bool is
// true once both tables have been seen.
func (p *PatPmtParser) Versions() (patVersion, pmtVersion int, ok bool) {
	return p.patVersion, p.pmtVersion, p.patVersion >= 0 && p.pmtVersion >= 0
}

// PmtPid returns the PID carrying the PMT, or -1 before the first PAT.
func (p *PatPmtParser) PmtPid() int {
	return p.pmtPid
}

// Feed processes one TS packet. Packets on other PIDs are ignored; the
// return value reports whether a complete section was parsed.
func (p *PatPmtParser) Feed(pkt []byte) bool {
	if len(pkt) != TsSize || TsError(pkt) || !TsHasPayload(pkt) {
		return false
	}

	pid := TsPid(pkt)
	offset := TsPayloadOffset(pkt)
	if offset >= TsSize {
		return false
	}

	payload := pkt[offset:]
	pusi := TsPayloadStart(pkt)

	switch pid {
	case 0:
		if section := p.patSection.feed(payload, pusi); section != nil {
			return p.parsePat(section)
		}
	case p.pmtPid:
		if section := p.pmtSection.feed(payload, pusi); section != nil {
			return p.parsePmt(section)
		}
	}

	return false
}

func (p *PatPmtParser) parsePat(section []byte) bool {
	if section[0] != tableIdPat || len(section) < 12 {
		return false
	}

	// current_next_indicator
	if section[5]&0x01 == 0 {
		return false
	}

	version := int(section[5] >> 1 & 0x1F)

	// program loop up to the CRC
	for o := 8; o+4 <= len(section)-4; o += 4 {
		programNumber := int(section[o])<<8 | int(section[o+1])
		pid := int(section[o+2]&0x1F)<<8 | int(section[o+3])

		if programNumber != 0 {
			if pid != p.pmtPid {
				p.pmtPid = pid
				p.pmtSection.reset()
			}
			p.patVersion = version
			return true
		}
	}

	p.patVersion = version
	return true
}

func (p *PatPmtParser) parsePmt(section []byte) bool {
	if section[0] != tableIdPmt || len(section) < 16 {
		return false
	}

	if section[5]&0x01 == 0 {
		return false
	}

	version := int(section[5] >> 1 & 0x1F)

	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])

	var streams []pmtStream

	o := 12 + programInfoLength
	end := len(section) - 4 // strip CRC

	for o+5 <= end {
		s := pmtStream{
			streamType: section[o],
			pid:        int(section[o+1]&0x1F)<<8 | int(section[o+2]),
		}

		esInfoLength := int(section[o+3]&0x0F)<<8 | int(section[o+4])
		o += 5

		descEnd := o + esInfoLength
		if descEnd > end {
			break
		}

		for o+2 <= descEnd {
			tag := section[o]
			length := int(section[o+1])
			body := section[o+2:]
			if len(body) > descEnd-o-2 {
				body = body[:descEnd-o-2]
			}

			switch tag {
			case descIso639:
				if len(body) >= 4 {
					s.language = languageTag(body[:3])
					s.audioType = body[3]
				}
			case descAc3:
				s.hasAc3 = true
			case descEnhancedAc3:
				s.hasEac3 = true
			case descTeletext:
				s.hasTeletext = true
			case descSubtitling:
				if len(body) >= 8 {
					s.hasSubtitling = true
					s.language = languageTag(body[:3])
					s.subtitlingType = body[3]
					s.compositionPageId = uint16(body[4])<<8 | uint16(body[5])
					s.ancillaryPageId = uint16(body[6])<<8 | uint16(body[7])
				}
			}

			o += 2 + length
		}

		o = descEnd
		streams = append(streams, s)
	}

	p.streams = streams
	p.pmtVersion = version
	return true
}

// languageTag trims a 3 byte ISO 639 field to a clean tag.
func languageTag(b []byte) string {
	tag := make([]byte, 0, 3)
	for _, c := range b {
		if c == 0 || c == ' ' {
			break
		}
		tag = append(tag, c)
	}
	return string(tag)
}

// Snapshot converts the current PMT into a stream bundle using the stream
// type and descriptor mapping of the head-end.
func (p *PatPmtParser) Snapshot() *StreamBundle {
	bundle := NewStreamBundle()

	if _, _, ok := p.Versions(); !ok {
		return bundle
	}

	for _, s := range p.streams {
		switch s.streamType {
		case 0x02:
			bundle.AddStream(NewStreamInfo(s.pid, TypeMpeg2Video, ""))

		case 0x1B:
			bundle.AddStream(NewStreamInfo(s.pid, TypeH264, ""))

		case 0x24:
			bundle.AddStream(NewStreamInfo(s.pid, TypeH265, ""))

		case 0x03, 0x04:
			info := NewStreamInfo(s.pid, TypeMpeg2Audio, s.language)
			info.AudioType = s.audioType
			bundle.AddStream(info)

		case 0x0F:
			info := NewStreamInfo(s.pid, TypeAac, s.language)
			info.AudioType = s.audioType
			bundle.AddStream(info)

		case 0x11:
			info := NewStreamInfo(s.pid, TypeLatm, s.language)
			info.AudioType = s.audioType
			bundle.AddStream(info)

		case 0x81:
			info := NewStreamInfo(s.pid, TypeAc3, s.language)
			info.AudioType = s.audioType
			bundle.AddStream(info)

		case 0x06:
			// private data, resolved through descriptors
			switch {
			case s.hasAc3:
				info := NewStreamInfo(s.pid, TypeAc3, s.language)
				info.AudioType = s.audioType
				bundle.AddStream(info)

			case s.hasEac3:
				info := NewStreamInfo(s.pid, TypeEac3, s.language)
				info.AudioType = s.audioType
				bundle.AddStream(info)

			case s.hasSubtitling:
				info := NewStreamInfo(s.pid, TypeDvbSub, s.language)
				info.SetSubtitlingDescriptor(s.subtitlingType, s.compositionPageId, s.ancillaryPageId)
				bundle.AddStream(info)

			case s.hasTeletext:
				bundle.AddStream(NewStreamInfo(s.pid, TypeTeletext, s.language))
			}
		}
	}

	return bundle
}
