package demux

import "sort"

// DemuxerBundle is the set of PID demuxers of one streaming session. It
// routes TS packets by PID, rebuilds its membership when the PMT changes
// and orders its streams by client preference.
type DemuxerBundle struct {
	listener Listener
	demuxers []*PidDemuxer
	byPid    map[int]*PidDemuxer
}

// NewDemuxerBundle creates an empty bundle delivering to listener.
func NewDemuxerBundle(listener Listener) *DemuxerBundle {
	return &DemuxerBundle{
		listener: listener,
		byPid:    make(map[int]*PidDemuxer),
	}
}

// Clear destroys all demuxers.
func (b *DemuxerBundle) Clear() {
	b.demuxers = b.demuxers[:0]
	b.byPid = make(map[int]*PidDemuxer)
}

// Len returns the number of demuxers.
func (b *DemuxerBundle) Len() int {
	return len(b.demuxers)
}

// Find returns the demuxer for pid, or nil.
func (b *DemuxerBundle) Find(pid int) *PidDemuxer {
	return b.byPid[pid]
}

// Demuxers returns the demuxers in their current order.
func (b *DemuxerBundle) Demuxers() []*PidDemuxer {
	return b.demuxers
}

// IsReady reports whether the bundle is non-empty and every demuxer has its
// stream parameters parsed.
func (b *DemuxerBundle) IsReady() bool {
	if len(b.demuxers) == 0 {
		return false
	}

	for _, d := range b.demuxers {
		if !d.Parsed {
			return false
		}
	}

	return true
}

// UpdateFrom diff-merges the bundle against a new stream layout. Demuxers
// whose PID and type survive carry their stream information (and with it
// the parsed state and decoder blobs) into the new set; everything else is
// created fresh. Insertion order follows the bundle's PID order.
func (b *DemuxerBundle) UpdateFrom(bundle *StreamBundle) {
	old := NewStreamBundle()

	for _, d := range b.demuxers {
		old.AddStream(d.StreamInfo)
	}

	b.Clear()

	// create new stream demuxers
	for _, infonew := range bundle.Streams() {
		// reuse previous stream information
		if infoold, ok := old.Get(infonew.Pid); ok && infonew.Type == infoold.Type {
			infonew = infoold
		}

		dmx := NewPidDemuxer(b.listener, infonew)
		b.demuxers = append(b.demuxers, dmx)
		b.byPid[dmx.Pid] = dmx
	}
}

// ProcessTsPacket routes one TS packet to the demuxer owning its PID.
func (b *DemuxerBundle) ProcessTsPacket(packet []byte, position int64) bool {
	if len(packet) != TsSize {
		return false
	}

	demuxer := b.Find(TsPid(packet))
	if demuxer == nil {
		return false
	}

	demuxer.SetStreamPosition(position)
	return demuxer.ProcessTsPacket(packet)
}

// stream weight bit layout:
// V0000000ASLTXXXXPPPPPPPPPPPPPPPP
//
// VIDEO (V):      0x80000000
// AUDIO (A):      0x00800000
// SUBTITLE (S):   0x00400000
// LANGUAGE (L):   0x00200000
// STREAMTYPE (T): 0x00100000 (only audio)
// AUDIOTYPE (X):  0x000F0000 (only audio)
// PID (P):        0x0000FFFF
const (
	videoMask      = 0x80000000
	audioMask      = 0x00800000
	subtitleMask   = 0x00400000
	languageMask   = 0x00200000
	streamtypeMask = 0x00100000
	audiotypeMask  = 0x000F0000
	pidMask        = 0x0000FFFF
)

// streamWeight computes the ordering weight of one stream.
func streamWeight(stream *PidDemuxer, lang string, streamType Type) uint32 {
	// last resort ordering, the PID
	w := uint32(0xFFFF-stream.Pid) & pidMask

	switch stream.Content {
	case ContentVideo:
		w |= videoMask

	case ContentAudio:
		w |= audioMask

		// weight of audio stream type
		if stream.Type == streamType {
			w |= streamtypeMask
		}

		// weight of audio type
		w |= (uint32(4-stream.AudioType) << 16) & audiotypeMask

	case ContentSubtitle:
		w |= subtitleMask
	}

	// weight of language
	if stream.Language == lang {
		w |= languageMask
	}

	return w
}

// ReorderStreams sorts the demuxers by descending weight: video first, then
// audio (preferred language and stream type boosted), then subtitles, with
// the PID as a stable tiebreak.
func (b *DemuxerBundle) ReorderStreams(lang string, streamType Type) {
	sort.SliceStable(b.demuxers, func(i, j int) bool {
		return streamWeight(b.demuxers[i], lang, streamType) > streamWeight(b.demuxers[j], lang, streamType)
	})
}

// ToBundle snapshots the current stream information of all demuxers.
func (b *DemuxerBundle) ToBundle() *StreamBundle {
	bundle := NewStreamBundle()
	for _, d := range b.demuxers {
		bundle.AddStream(d.StreamInfo)
	}
	return bundle
}
