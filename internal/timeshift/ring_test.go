package timeshift

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOpenRing creates a ring with an opened backing file and no writer
// goroutine, so tests can drive writes synchronously.
func newOpenRing(t *testing.T, size int64) *Ring {
	t.Helper()

	r := NewRing(Config{
		Dir:        t.TempDir(),
		BufferSize: size,
		Id:         1,
	})
	require.NoError(t, r.createRingBuffer())
	r.started = true // keep Queue from spawning the writer

	t.Cleanup(func() {
		r.writerRunning.Store(false)
		_ = r.Close()
	})

	return r
}

// muxMessage builds a mux packet of roughly the given payload size.
func muxMessage(frameType demux.FrameType, payloadSize int) *msg.Message {
	m := msg.New(msg.StreamMuxPacket, msg.ChannelStream)
	m.SetClientId(uint16(frameType))
	m.PutBlob(make([]byte, payloadSize))
	return m
}

func TestRingWriteReadRoundtrip(t *testing.T) {
	r := newOpenRing(t, 1<<20)

	for i := 0; i < 5; i++ {
		m := msg.New(msg.StreamMuxPacket, msg.ChannelStream)
		m.SetClientId(uint16(i))
		m.PutU32(uint32(i))
		require.NoError(t, r.write(entry{m: m, content: demux.ContentAudio}))
	}

	for i := 0; i < 5; i++ {
		m := r.Read()
		require.NotNil(t, m)
		assert.Equal(t, uint16(i), m.ClientId())
		assert.Equal(t, uint32(i), m.GetU32())
	}

	// caught up
	assert.Nil(t, r.Read())
}

func TestRingPause(t *testing.T) {
	r := newOpenRing(t, 1<<20)

	require.NoError(t, r.write(entry{m: muxMessage(demux.FrameTypeI, 64), content: demux.ContentVideo}))

	require.True(t, r.Pause(true))
	assert.False(t, r.Pause(true)) // idempotent
	assert.Nil(t, r.Read())
	assert.True(t, r.IsPaused())

	require.True(t, r.Pause(false))
	assert.NotNil(t, r.Read())
}

func TestRingQueueBoundDropsNewest(t *testing.T) {
	r := newOpenRing(t, 1<<20)

	// the writer goroutine is not running, so the queue only fills
	for i := 0; i < writerQueueLimit+1; i++ {
		r.Queue(muxMessage(demux.FrameTypeP, 16), demux.ContentVideo, 0)
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	assert.Equal(t, writerQueueLimit, len(r.queue))
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestRingSeekBoundaries(t *testing.T) {
	r := newOpenRing(t, 1<<20)

	base := time.Now().UnixMilli()

	for i := 0; i < 5; i++ {
		e := entry{
			m:       muxMessage(demux.FrameTypeI, 128),
			content: demux.ContentVideo,
			pts:     int64(1000 * (i + 1)),
		}
		require.NoError(t, r.write(e))
	}

	require.Equal(t, 5, len(r.index))

	// spread the index entries one second apart
	for i := range r.index {
		r.index[i].wallclockMs = base + int64(i*1000)
	}

	// before the earliest entry
	assert.Equal(t, int64(1000), r.Seek(base-5000))

	// after the latest entry
	assert.Equal(t, int64(5000), r.Seek(base+50000))

	// between entries: the latest keyframe at or before the target
	assert.Equal(t, int64(3000), r.Seek(base+2500))
}

func TestRingSeekEmptyIndex(t *testing.T) {
	r := newOpenRing(t, 1<<20)
	assert.Equal(t, int64(0), r.Seek(time.Now().UnixMilli()))
}

func TestRingSeekRepositionsReader(t *testing.T) {
	r := newOpenRing(t, 1<<20)

	for i := 0; i < 3; i++ {
		m := muxMessage(demux.FrameTypeI, 64)
		m.PutU32(uint32(i))
		require.NoError(t, r.write(entry{m: m, content: demux.ContentVideo, pts: int64(i)}))
	}

	// drain the reader
	for r.Read() != nil {
	}

	// seek back to the oldest keyframe and read again
	r.Seek(0)

	m := r.Read()
	require.NotNil(t, m)
}

func TestRingWrapTrimsIndexAndSetsEpoch(t *testing.T) {
	const size = 64 * 1024
	r := newOpenRing(t, size)

	// keyframes of 8 KiB until the writer wrapped twice
	payload := 8 * 1024
	writes := 0
	for r.WrapEpoch() < 2 {
		m := muxMessage(demux.FrameTypeI, payload)
		err := r.write(entry{m: m, content: demux.ContentVideo, pts: int64(writes)})
		require.NoError(t, err)
		writes++
		require.Less(t, writes, 100)
	}

	assert.True(t, r.HasWrapped())

	// overwritten keyframes have been trimmed: an entry surviving from an
	// older epoch still lies ahead of the write cursor
	r.mu.Lock()
	require.NotEmpty(t, r.index)
	oldest := r.index[0]
	writePos, err := r.writeFile.Seek(0, io.SeekCurrent)
	epoch := r.wrapEpoch
	r.mu.Unlock()
	require.NoError(t, err)

	if oldest.wrapEpoch < epoch {
		assert.GreaterOrEqual(t, oldest.filePosition, writePos)
	}

	// the start position follows the oldest surviving keyframe
	assert.Equal(t, oldest.wallclockMs, r.TimeshiftStartPosition())
}

func TestRingOverrunForcesReaderForward(t *testing.T) {
	const size = 64 * 1024
	r := newOpenRing(t, size)

	// writer laps the reader; the reader is forced past dropped packets
	for i := 0; i < 30; i++ {
		m := muxMessage(demux.FrameTypeI, 8*1024)
		m.PutU32(uint32(i))
		require.NoError(t, r.write(entry{m: m, content: demux.ContentVideo, pts: int64(i)}))
	}

	require.True(t, r.HasWrapped())

	// the reader sees a gap but stays in order
	var ids []uint32
	for {
		m := r.Read()
		if m == nil {
			break
		}
		m.GetBlob(8 * 1024)
		ids = append(ids, m.GetU32())
	}

	require.NotEmpty(t, ids)
	assert.NotEqual(t, uint32(0), ids[0]) // oldest packets were dropped

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestRingCloseRemovesFile(t *testing.T) {
	dir := t.TempDir()

	r := NewRing(Config{Dir: dir, BufferSize: 1 << 20, Id: 7})
	require.NoError(t, r.createRingBuffer())
	r.started = true
	r.writerRunning.Store(false)

	path := filepath.Join(dir, "robotv-ringbuffer-00007.data")
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, r.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
