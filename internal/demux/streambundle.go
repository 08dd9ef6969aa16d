package demux

import "sort"

// StreamBundle is the set of elementary streams of one channel, keyed by
// PID. A bundle holds at most one video stream; iteration order is by
// ascending PID.
type StreamBundle struct {
	streams map[int]StreamInfo
	changed bool
}

// NewStreamBundle creates an empty bundle.
func NewStreamBundle() *StreamBundle {
	return &StreamBundle{streams: make(map[int]StreamInfo)}
}

// AddStream inserts a stream descriptor. Streams without PID or type are
// ignored, as is a second video stream on a different PID. The changed flag
// is set when the insert differs from the previous value at that PID.
func (b *StreamBundle) AddStream(s StreamInfo) {
	if s.Pid == 0 || s.Type == TypeNone {
		return
	}

	// allow only one video stream
	if s.Content == ContentVideo {
		for _, existing := range b.streams {
			if existing.Content == ContentVideo && existing.Pid != s.Pid {
				return
			}
		}
	}

	old, had := b.streams[s.Pid]
	b.streams[s.Pid] = s

	b.changed = !had || !old.Equal(&s)
}

// Get returns the descriptor stored for pid.
func (b *StreamBundle) Get(pid int) (StreamInfo, bool) {
	s, ok := b.streams[pid]
	return s, ok
}

// Len returns the number of streams in the bundle.
func (b *StreamBundle) Len() int {
	return len(b.streams)
}

// Empty reports whether the bundle holds no streams.
func (b *StreamBundle) Empty() bool {
	return len(b.streams) == 0
}

// Changed reports whether the most recent accepted insert differed from the
// previous value at its PID; an identical insert clears the flag.
func (b *StreamBundle) Changed() bool {
	return b.changed
}

// Pids returns the PIDs of the bundle in ascending order.
func (b *StreamBundle) Pids() []int {
	pids := make([]int, 0, len(b.streams))
	for pid := range b.streams {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Streams returns the descriptors of the bundle in PID order.
func (b *StreamBundle) Streams() []StreamInfo {
	streams := make([]StreamInfo, 0, len(b.streams))
	for _, pid := range b.Pids() {
		streams = append(streams, b.streams[pid])
	}
	return streams
}

// IsParsed reports whether the bundle is non-empty and every stream has its
// descriptors filled.
func (b *StreamBundle) IsParsed() bool {
	if b.Empty() {
		return false
	}
	for _, s := range b.streams {
		if !s.Parsed {
			return false
		}
	}
	return true
}

// Contains reports whether the bundle holds a stream equal to s.
func (b *StreamBundle) Contains(s *StreamInfo) bool {
	existing, ok := b.streams[s.Pid]
	if !ok {
		return false
	}
	return existing.Equal(s)
}

// Equal reports whether both bundles hold pairwise equal streams.
func (b *StreamBundle) Equal(rhs *StreamBundle) bool {
	if b.Len() != rhs.Len() {
		return false
	}
	for pid := range b.streams {
		s := b.streams[pid]
		if !rhs.Contains(&s) {
			return false
		}
	}
	return true
}

// IsMetaOf reports whether both bundles describe the same stream layout,
// ignoring parsed descriptors.
func (b *StreamBundle) IsMetaOf(rhs *StreamBundle) bool {
	if b.Len() != rhs.Len() {
		return false
	}
	for pid := range b.streams {
		s := b.streams[pid]
		other, ok := rhs.streams[pid]
		if !ok || !s.IsMetaOf(&other) {
			return false
		}
	}
	return true
}
