package demux

// FrameRing is a single-producer/single-consumer byte ring with a reserved
// margin, so Get always returns a contiguous buffer even when the payload
// wraps around the end. Element parsers own one FrameRing each and use it to
// reassemble frames from PES fragments.
type FrameRing struct {
	buffer []byte
	size   int
	margin int
	head   int
	tail   int
	gotten int
}

// NewFrameRing creates a ring of the given size with the given contiguous
// read margin. The margin must not exceed half the size.
func NewFrameRing(size, margin int) *FrameRing {
	r := &FrameRing{
		size:   size,
		margin: margin,
		head:   margin,
		tail:   margin,
	}
	if size > 1 && margin <= size/2 {
		r.buffer = make([]byte, size)
	}
	return r
}

// Available returns the number of readable bytes.
func (r *FrameRing) Available() int {
	diff := r.head - r.tail
	if diff >= 0 {
		return diff
	}
	return r.size + diff - r.margin
}

// Clear drops all buffered data.
func (r *FrameRing) Clear() {
	r.tail = r.margin
	r.head = r.margin
	r.gotten = 0
}

// Free returns the number of writable bytes.
func (r *FrameRing) Free() int {
	tail := r.tail
	rest := r.size - r.head
	diff := tail - r.head

	free := diff
	if tail < r.margin {
		free = rest
	} else if diff <= 0 {
		free = r.size + diff - r.margin
	}
	return free - 1
}

// Put appends data to the ring and returns how many bytes were accepted.
// On overflow the excess is discarded.
func (r *FrameRing) Put(data []byte) int {
	count := len(data)
	if count <= 0 || r.buffer == nil {
		return 0
	}

	free := r.Free()
	if free <= 0 {
		return 0
	}
	if free < count {
		count = free
	}

	rest := r.size - r.head
	if count >= rest {
		copy(r.buffer[r.head:], data[:rest])
		if count > rest {
			copy(r.buffer[r.margin:], data[rest:count])
		}
		r.head = r.margin + count - rest
	} else {
		copy(r.buffer[r.head:], data[:count])
		r.head += count
	}

	return count
}

// Get returns a contiguous view of the buffered data, or nil until at
// least margin bytes are buffered. When the readable region wraps, up to
// margin bytes are relocated in front of the tail so the returned slice
// stays contiguous. The margin gate batches the downstream frame scan:
// parsers only see the buffer once a whole frame can plausibly be inside.
func (r *FrameRing) Get() []byte {
	head := r.head
	rest := r.size - r.tail

	if rest < r.margin && head < r.tail {
		t := r.margin - rest
		copy(r.buffer[t:], r.buffer[r.tail:r.tail+rest])
		r.tail = t
		rest = head - r.tail
	}

	diff := head - r.tail
	cont := diff
	if diff < 0 {
		cont = r.size + diff - r.margin
	}
	if cont > rest {
		cont = rest
	}

	if cont <= 0 || cont < r.margin {
		return nil
	}

	r.gotten = cont
	return r.buffer[r.tail : r.tail+cont]
}

// Del consumes count bytes of the slice last returned by Get.
func (r *FrameRing) Del(count int) {
	if count > r.gotten {
		count = r.gotten
	}
	if count <= 0 {
		return
	}

	tail := r.tail + count
	r.gotten -= count

	if tail >= r.size {
		tail = r.margin
	}
	r.tail = tail
}
