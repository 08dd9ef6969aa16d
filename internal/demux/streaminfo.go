package demux

import (
	"fmt"
	"strings"
)

// Content classifies an elementary stream.
type Content int

// Content classes.
const (
	ContentNone Content = iota
	ContentVideo
	ContentAudio
	ContentSubtitle
	ContentTeletext
)

// Type identifies the codec of an elementary stream.
type Type int

// Stream types. The order defines the wire names sent in stream change
// packets and must stay stable.
const (
	TypeNone Type = iota
	TypeMpeg2Audio
	TypeAc3
	TypeEac3
	TypeAac
	TypeLatm
	TypeMpeg2Video
	TypeH264
	TypeDvbSub
	TypeTeletext
	TypeH265
)

var typeNames = []string{
	"NONE", "MPEG2AUDIO", "AC3", "EAC3", "AAC", "LATM", "MPEG2VIDEO", "H264", "DVBSUB", "TELETEXT", "H265",
}

var contentNames = []string{
	"NONE", "VIDEO", "AUDIO", "SUBTITLE", "TELETEXT",
}

// String returns the wire name of the type.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "NONE"
	}
	return typeNames[t]
}

// Content returns the content class of the type.
func (t Type) Content() Content {
	switch t {
	case TypeMpeg2Audio, TypeAc3, TypeEac3, TypeAac, TypeLatm:
		return ContentAudio
	case TypeMpeg2Video, TypeH264, TypeH265:
		return ContentVideo
	case TypeDvbSub:
		return ContentSubtitle
	case TypeTeletext:
		return ContentTeletext
	}
	return ContentNone
}

// String returns the name of the content class.
func (c Content) String() string {
	if c < 0 || int(c) >= len(contentNames) {
		return "NONE"
	}
	return contentNames[c]
}

// FrameType classifies a coded picture.
type FrameType int

// Frame types. The numeric values travel in the client id field of mux
// packets and must stay stable.
const (
	FrameTypeUnknown FrameType = iota
	FrameTypeI
	FrameTypeP
	FrameTypeB
	FrameTypeD
)

// maxDecoderDataLength bounds the SPS/PPS/VPS blobs carried per stream.
const maxDecoderDataLength = 128

// StreamInfo describes one elementary stream of a channel: its PID, codec,
// language and the content specific descriptors filled in by the parsers.
type StreamInfo struct {
	Pid     int
	Type    Type
	Content Content

	// Language is the three letter ISO 639 tag from the PMT.
	Language string

	// AudioType is the audio_type byte of the ISO 639 descriptor
	// (0 = main, higher values mark descriptions for the impaired).
	AudioType uint8

	// audio descriptors
	Channels   int
	SampleRate int
	BitRate    int

	// video descriptors
	FpsScale int
	FpsRate  int
	Width    int
	Height   int
	Aspect   int64 // display aspect ratio * 10000

	// subtitle descriptors
	SubtitlingType    uint8
	CompositionPageId uint16
	AncillaryPageId   uint16

	// decoder specific data
	Sps []byte
	Pps []byte
	Vps []byte

	// Parsed is set once the content specific descriptors are filled.
	Parsed bool
}

// NewStreamInfo creates a stream descriptor for the given PID and type.
func NewStreamInfo(pid int, t Type, lang string) StreamInfo {
	return StreamInfo{
		Pid:      pid,
		Type:     t,
		Content:  t.Content(),
		Language: lang,
	}
}

// SetSubtitlingDescriptor fills the DVB subtitle page ids. Subtitle streams
// count as parsed as soon as the PMT descriptor is known.
func (s *StreamInfo) SetSubtitlingDescriptor(subtitlingType uint8, compositionPageId, ancillaryPageId uint16) {
	s.SubtitlingType = subtitlingType
	s.CompositionPageId = compositionPageId
	s.AncillaryPageId = ancillaryPageId
	s.Parsed = true
}

// IsMetaOf reports whether s and rhs describe the same stream slot,
// ignoring the parsed descriptors. AC3 and EAC3 are considered compatible.
func (s *StreamInfo) IsMetaOf(rhs *StreamInfo) bool {
	if s.Content != rhs.Content {
		return false
	}

	if s.Type != rhs.Type && !(s.Type == TypeAc3 && rhs.Type == TypeEac3) && !(s.Type == TypeEac3 && rhs.Type == TypeAc3) {
		return false
	}

	return s.Pid == rhs.Pid
}

// Equal reports whether two descriptors match including their content
// specific descriptors.
func (s *StreamInfo) Equal(rhs *StreamInfo) bool {
	if !s.IsMetaOf(rhs) {
		return false
	}

	switch s.Content {
	case ContentAudio:
		return s.Language == rhs.Language &&
			s.Channels == rhs.Channels &&
			s.SampleRate == rhs.SampleRate
	case ContentVideo:
		return s.Width == rhs.Width &&
			s.Height == rhs.Height &&
			s.Aspect == rhs.Aspect &&
			s.FpsScale == rhs.FpsScale &&
			s.FpsRate == rhs.FpsRate
	case ContentSubtitle:
		return s.Language == rhs.Language &&
			s.SubtitlingType == rhs.SubtitlingType &&
			s.CompositionPageId == rhs.CompositionPageId &&
			s.AncillaryPageId == rhs.AncillaryPageId
	case ContentTeletext:
		return true
	}

	return false
}

// Info returns a single line description for logging.
func (s *StreamInfo) Info() string {
	var b strings.Builder

	scale := s.FpsScale
	if scale == 0 {
		scale = 1
	}

	switch s.Content {
	case ContentAudio:
		fmt.Fprintf(&b, "%d Hz, %d channels, Lang: %s", s.SampleRate, s.Channels, s.Language)
	case ContentVideo:
		fmt.Fprintf(&b, "%dx%d DAR: %.2f FPS: %.3f SPS/PPS/VPS: %d/%d/%d bytes",
			s.Width, s.Height, float64(s.Aspect)/10000, float64(s.FpsRate)/float64(scale),
			len(s.Sps), len(s.Pps), len(s.Vps))
	case ContentSubtitle:
		fmt.Fprintf(&b, "Lang: %s", s.Language)
	case ContentTeletext:
		b.WriteString("TXT")
	default:
		b.WriteString("None")
	}

	parsed := "no"
	if s.Parsed {
		parsed = "yes"
	}

	return fmt.Sprintf("Stream: %s PID: %d %s (parsed: %s)", s.Type, s.Pid, b.String(), parsed)
}

// setDecoderData stores SPS/PPS/VPS blobs, each capped at
// maxDecoderDataLength bytes. Nil arguments leave the previous value.
func (s *StreamInfo) setDecoderData(sps, pps, vps []byte) {
	if sps != nil && len(sps) <= maxDecoderDataLength {
		s.Sps = append(s.Sps[:0], sps...)
	}
	if pps != nil && len(pps) <= maxDecoderDataLength {
		s.Pps = append(s.Pps[:0], pps...)
	}
	if vps != nil && len(vps) <= maxDecoderDataLength {
		s.Vps = append(s.Vps[:0], vps...)
	}
}
