// Package timeshift implements the file-backed ring buffer behind live
// pause and seek: a writer thread appends framed messages to a bounded
// on-disk ring while the session reader follows behind, with a keyframe
// index mapping wall-clock time to file positions.
package timeshift

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/msg"
	"golang.org/x/time/rate"
)

// FilePrefix names the per-session ring buffer files inside the timeshift
// directory. Stale files from prior runs are matched by this prefix.
const FilePrefix = "robotv-ringbuffer-"

// writerQueueLimit bounds the writer queue; the newest packet is dropped
// when the queue is full.
const writerQueueLimit = 400

// syncInterval is how often the write fd is flushed to disk. This keeps
// the write-back cache from stalling the writer on a buffer wrap.
const syncInterval = 2 * time.Second

// slack reserved past the nominal buffer size so a message starting just
// below the wrap point can finish writing.
const fileSlack = 1024 * 1024

// Config configures a ring.
type Config struct {
	// Dir is the directory the backing file is created in.
	Dir string

	// BufferSize is the ring size in bytes.
	BufferSize int64

	// Id distinguishes the backing files of concurrent sessions.
	Id int

	// Logger for structured logging.
	Logger *slog.Logger
}

// entry is one queued message with the metadata the keyframe index needs.
type entry struct {
	m       *msg.Message
	content demux.Content
	pts     int64
}

// keyframeIndexEntry maps a video keyframe to its position in the backing
// file and the wall-clock time it was written.
type keyframeIndexEntry struct {
	filePosition int64
	wallclockMs  int64
	pts          int64
	wrapEpoch    uint32
}

// Ring is the timeshift ring buffer. One lock guards cursors, index and
// pause flag; a second lock guards the writer queue. The write fd belongs
// to the writer goroutine, the read fd to the session reader; both are
// only touched under the ring lock.
type Ring struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	readFile  *os.File
	writeFile *os.File
	storage   string

	pause      bool
	wrapped    bool // parity: toggled by each cursor crossing the buffer end
	hasWrapped bool
	wrapEpoch  uint32

	index          []keyframeIndexEntry
	queueStartTime int64 // ms
	lastSyncTime   time.Time

	queueMu sync.Mutex
	queue   []entry

	writerRunning atomic.Bool
	writerDone    chan struct{}
	started       bool

	dropped     atomic.Uint64
	dropLimiter *rate.Limiter
}

// NewRing creates a ring buffer. The backing file is created lazily when
// the first packet is queued.
func NewRing(cfg Config) *Ring {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ring{
		cfg:         cfg,
		logger:      cfg.Logger,
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// start launches the writer goroutine on first use.
func (r *Ring) start() {
	if r.started {
		return
	}
	r.started = true

	r.queueStartTime = time.Now().UnixMilli()
	r.writerDone = make(chan struct{})
	r.writerRunning.Store(true)

	go r.writerLoop()
}

// writerLoop pops queued packets FIFO and writes them into the ring.
func (r *Ring) writerLoop() {
	defer close(r.writerDone)

	if err := r.createRingBuffer(); err != nil {
		r.logger.Error("failed to create timeshift ring buffer",
			slog.String("error", err.Error()))
		r.writerRunning.Store(false)
		return
	}

	for r.writerRunning.Load() {
		for r.writerRunning.Load() {
			r.queueMu.Lock()
			if len(r.queue) == 0 {
				r.queueMu.Unlock()
				break
			}
			e := r.queue[0]
			r.queue = r.queue[1:]
			r.queueMu.Unlock()

			if err := r.write(e); err != nil {
				r.logger.Error("timeshift write failed", slog.String("error", err.Error()))
			}
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// createRingBuffer opens and preallocates the backing file with separate
// read and write descriptors.
func (r *Ring) createRingBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pause = false
	length := r.cfg.BufferSize + fileSlack

	r.storage = filepath.Join(r.cfg.Dir, fmt.Sprintf("%s%05d.data", FilePrefix, r.cfg.Id))
	r.logger.Debug("timeshift file", slog.String("path", r.storage))

	writeFile, err := os.OpenFile(r.storage, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating timeshift file: %w", err)
	}

	if err := writeFile.Truncate(length); err != nil {
		r.logger.Debug("unable to pre-allocate timeshift ring buffer",
			slog.Int64("bytes", length),
			slog.String("error", err.Error()))
	}

	readFile, err := os.Open(r.storage)
	if err != nil {
		_ = writeFile.Close()
		return fmt.Errorf("opening timeshift file for reading: %w", err)
	}

	r.writeFile = writeFile
	r.readFile = readFile
	r.lastSyncTime = time.Now()

	return nil
}

// Queue pushes a message onto the writer queue. When the queue holds
// writerQueueLimit entries the packet is dropped rather than blocking the
// capture thread.
func (r *Ring) Queue(m *msg.Message, content demux.Content, pts int64) {
	r.mu.Lock()
	r.start()
	r.mu.Unlock()

	r.queueMu.Lock()
	if len(r.queue) >= writerQueueLimit {
		r.queueMu.Unlock()
		r.dropped.Add(1)
		if r.dropLimiter.Allow() {
			r.logger.Warn("timeshift writer queue full - dropping packet",
				slog.Uint64("dropped", r.dropped.Load()))
		}
		return
	}
	r.queue = append(r.queue, entry{m: m, content: content, pts: pts})
	r.queueMu.Unlock()
}

// write stores one message in the ring, forcing the reader forward when
// the writer is about to overtake it.
func (r *Ring) write(e entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writeFile == nil {
		return fmt.Errorf("ring buffer not open")
	}

	timestamp := time.Now().UnixMilli()

	// first packet sets the start time
	if len(r.index) == 0 {
		r.queueStartTime = timestamp
	}

	writePosition, err := r.writeFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("reading write position: %w", err)
	}

	if writePosition >= r.cfg.BufferSize {
		r.logger.Info("timeshift: write buffer wrap")
		if writePosition, err = r.writeFile.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("wrapping write position: %w", err)
		}

		r.wrapped = !r.wrapped
		r.hasWrapped = true
		r.wrapEpoch++
	}

	packetEnd := writePosition + int64(e.m.PacketLength())

	// when the reader sits in the region about to be overwritten, force it
	// forward by discarding packets
	for r.wrapped {
		readPosition, err := r.readFile.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("reading read position: %w", err)
		}
		if packetEnd < readPosition {
			break
		}

		if m, _ := r.internalRead(); m == nil {
			r.dropped.Add(1)
			if r.dropLimiter.Allow() {
				r.logger.Error("write overlap - wrapped read position behind write position")
			}
			return fmt.Errorf("ring overrun")
		}
	}

	r.trim(packetEnd)

	// add keyframe to the index
	keyFrame := e.m.ClientId() == uint16(demux.FrameTypeI)

	if keyFrame && e.content == demux.ContentVideo {
		r.index = append(r.index, keyframeIndexEntry{
			filePosition: writePosition,
			wallclockMs:  timestamp,
			pts:          e.pts,
			wrapEpoch:    r.wrapEpoch,
		})
	}

	// write packet
	if err := e.m.Write(r.writeFile, time.Second); err != nil {
		r.logger.Error("unable to write packet into timeshift ring buffer",
			slog.String("error", err.Error()))
		return err
	}

	// periodic durability sync; failure is non-fatal
	if now := time.Now(); now.Sub(r.lastSyncTime) >= syncInterval {
		if err := r.writeFile.Sync(); err != nil {
			r.logger.Error("failed to sync timeshift ring buffer",
				slog.String("error", err.Error()))
		}
		r.lastSyncTime = now
	}

	return nil
}

// trim removes overwritten keyframe index entries and advances the queue
// start time to the oldest surviving keyframe.
func (r *Ring) trim(position int64) {
	if !r.hasWrapped || len(r.index) == 0 {
		return
	}

	front := r.index[0]
	if front.filePosition < position && front.wrapEpoch < r.wrapEpoch {
		r.index = r.index[1:]
	}

	if len(r.index) > 0 {
		r.queueStartTime = r.index[0].wallclockMs
	}
}

// internalRead reads one message at the read cursor. Returns nil when the
// reader has caught up with the writer.
func (r *Ring) internalRead() (*msg.Message, error) {
	readPosition, err := r.readFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("reading read position: %w", err)
	}

	writePosition, err := r.writeFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("reading write position: %w", err)
	}

	if readPosition >= r.cfg.BufferSize {
		r.logger.Info("timeshift: read buffer wrap")
		if readPosition, err = r.readFile.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("wrapping read position: %w", err)
		}
		r.wrapped = !r.wrapped
	}

	// on the same parity the reader must stay behind the writer
	if readPosition >= writePosition && !r.wrapped {
		return nil, nil
	}

	m, err := msg.Read(r.readFile, time.Second)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Read returns the next buffered message, or nil while paused or caught
// up.
func (r *Ring) Read() *msg.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pause || r.readFile == nil {
		return nil
	}

	m, err := r.internalRead()
	if err != nil {
		r.logger.Error("timeshift read failed", slog.String("error", err.Error()))
		return nil
	}

	return m
}

// Pause sets the reader pause flag. Returns false when the flag already
// had the requested value. The writer keeps running while paused.
func (r *Ring) Pause(on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pause == on {
		return false
	}

	r.pause = on
	return true
}

// IsPaused reports the pause flag.
func (r *Ring) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pause
}

// Seek positions the reader at the last keyframe at or before the given
// wall-clock time and returns that keyframe's pts. Requests outside the
// buffered range clamp to the oldest or newest keyframe.
func (r *Ring) Seek(wallclockMs int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("timeshift seek", slog.Int64("wallclock_ms", wallclockMs))

	if len(r.index) == 0 || r.readFile == nil {
		r.logger.Error("empty timeshift queue - unable to seek")
		return 0
	}

	newest := r.index[len(r.index)-1]
	oldest := r.index[0]

	// ahead of buffer
	if wallclockMs >= newest.wallclockMs {
		return r.seekTo(newest)
	}

	// behind buffer
	if wallclockMs <= oldest.wallclockMs {
		return r.seekTo(oldest)
	}

	// in between: latest entry at or before the requested time
	for i := len(r.index) - 1; i >= 0; i-- {
		if r.index[i].wallclockMs <= wallclockMs {
			return r.seekTo(r.index[i])
		}
	}

	r.logger.Error("timeshift file position not found")
	return 0
}

func (r *Ring) seekTo(e keyframeIndexEntry) int64 {
	if _, err := r.readFile.Seek(e.filePosition, io.SeekStart); err != nil {
		r.logger.Error("timeshift seek failed", slog.String("error", err.Error()))
		return 0
	}

	// realign the reader parity with the target entry's epoch
	r.wrapped = e.wrapEpoch != r.wrapEpoch

	return e.pts
}

// TimeshiftStartPosition returns the wall-clock time in milliseconds of
// the oldest buffered keyframe.
func (r *Ring) TimeshiftStartPosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueStartTime
}

// HasWrapped reports whether the writer has wrapped at least once.
func (r *Ring) HasWrapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasWrapped
}

// WrapEpoch returns the monotonic count of writer wraps.
func (r *Ring) WrapEpoch() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wrapEpoch
}

// Dropped returns the number of packets dropped by queue bounds and
// overruns.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the writer, drains the queue and removes the backing file.
func (r *Ring) Close() error {
	r.mu.Lock()
	writerDone := r.writerDone
	r.mu.Unlock()

	r.writerRunning.Store(false)
	if writerDone != nil {
		<-writerDone
	}

	r.queueMu.Lock()
	r.queue = nil
	r.queueMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readFile != nil {
		_ = r.readFile.Close()
		r.readFile = nil
	}
	if r.writeFile != nil {
		_ = r.writeFile.Close()
		r.writeFile = nil
	}

	if r.storage != "" {
		if err := os.Remove(r.storage); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing timeshift file: %w", err)
		}
		r.storage = ""
	}

	r.logger.Info("timeshift ring buffer terminated")
	return nil
}
