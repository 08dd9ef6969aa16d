package live

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pipelka/robotv-go/internal/cache"
	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/msg"
	"github.com/pipelka/robotv-go/internal/timeshift"
)

// minPacketSize is the batching threshold of requested stream packets.
const minPacketSize = 128 * 1024

// StatusSink receives out-of-band status messages for direct delivery to
// the client, bypassing the timeshift ring.
type StatusSink interface {
	QueueMessage(m *msg.Message)
}

// PipelineConfig configures a live pipeline.
type PipelineConfig struct {
	// Devices acquires capture devices.
	Devices DeviceProvider

	// Channels resolves declared channel layouts.
	Channels ChannelLookup

	// Recordings reports active recording timers; optional.
	Recordings RecordingState

	// Cache seeds demuxers before the first PMT and stores parsed layouts.
	Cache *cache.ChannelCache

	// Status receives stream status events; optional.
	Status StatusSink

	// TimeshiftDir is the ring buffer directory.
	TimeshiftDir string

	// TimeshiftSize is the ring buffer size in bytes.
	TimeshiftSize int64

	// SessionId distinguishes ring buffer files of concurrent sessions.
	SessionId int

	// Logger for structured logging.
	Logger *slog.Logger
}

// Pipeline is one live streaming session: TsSource -> Processor -> framed
// messages -> TimeshiftRing -> client reader. It implements TsReceiver for
// the capture callback and owns the ring buffer.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger

	processor *Processor
	queue     *timeshift.Ring

	// mu guards the request/seek/pause surface shared with the session.
	mu           sync.Mutex
	streamPacket *msg.Message

	device     TsSource
	channelUid uint32

	language       string
	langStreamType demux.Type

	waitForKeyFrame bool
	sawKeyFrame     bool

	signalLost bool
}

// NewPipeline creates a pipeline. The ring buffer file is created lazily
// once packets arrive.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		cfg:            cfg,
		logger:         cfg.Logger,
		langStreamType: demux.TypeAc3,
	}

	p.processor = newProcessor(p, cfg.Logger)
	p.queue = timeshift.NewRing(timeshift.Config{
		Dir:        cfg.TimeshiftDir,
		BufferSize: cfg.TimeshiftSize,
		Id:         cfg.SessionId,
		Logger:     cfg.Logger,
	})

	return p
}

// SetLanguage stores the preferred audio language and stream type used
// when ordering streams.
func (p *Pipeline) SetLanguage(lang string, streamType demux.Type) {
	if lang == "" {
		return
	}

	p.language = lang
	p.langStreamType = streamType
}

// SetWaitForKeyFrame makes the pipeline withhold mux packets until the
// first video keyframe after a channel switch.
func (p *Pipeline) SetWaitForKeyFrame(wait bool) {
	p.waitForKeyFrame = wait
	p.sawKeyFrame = false
}

// SwitchChannel acquires a capture device for the channel, seeds the
// demuxers from the metadata cache and attaches as TS receiver. Returns a
// protocol return code.
func (p *Pipeline) SwitchChannel(channelUid uint32) uint32 {
	currentItem, ok := p.cfg.Channels.Bundle(channelUid)
	if !ok {
		p.logger.Error("unknown channel", slog.Uint64("channel_uid", uint64(channelUid)))
		return msg.RetDataInvalid
	}

	device, err := p.cfg.Devices.Acquire(channelUid, PriorityLive)
	if err != nil {
		// all devices busy: blame an active recording when there is one
		if p.cfg.Recordings != nil && p.cfg.Recordings.IsRecordingActive(time.Now()) {
			p.logger.Error("recording running")
			return msg.RetRecordingRunning
		}

		p.logger.Error("no device available")
		return msg.RetDataLocked
	}

	p.device = device
	p.channelUid = channelUid

	// get cached demuxer data
	cacheItem := p.cfg.Cache.Lookup(channelUid)

	if !cacheItem.Empty() {
		p.logger.Info("channel information found in cache")
	} else {
		p.logger.Info("adding channel to cache")
		cacheItem = currentItem
		p.cfg.Cache.Add(channelUid, cacheItem)
	}

	// recheck cache item against the declared layout
	if !currentItem.IsMetaOf(cacheItem) {
		p.logger.Info("current channel differs from cache item - updating")
		cacheItem = currentItem
		p.cfg.Cache.Add(channelUid, cacheItem)
	}

	if cacheItem.Empty() {
		p.logger.Error("channel doesn't have any stream information",
			slog.Uint64("channel_uid", uint64(channelUid)))
		return msg.RetError
	}

	p.logger.Info("creating demuxers")
	p.processor.Demuxers().UpdateFrom(cacheItem)
	p.processor.OnStreamChange()

	if err := device.Attach(p); err != nil {
		p.logger.Error("failed to attach receiver", slog.String("error", err.Error()))
		device.Detach()
		p.device = nil
		return msg.RetError
	}

	p.logger.Info("successfully switched channel",
		slog.Uint64("channel_uid", uint64(channelUid)))
	return msg.RetOk
}

// Receive implements TsReceiver; runs on the capture thread.
func (p *Pipeline) Receive(pkt []byte) {
	p.processor.PutTsPacket(pkt, time.Now().UnixMilli())
}

// currentTime implements processorHooks: stream packets carry the
// wall-clock capture position.
func (p *Pipeline) currentTime(pkt *demux.Packet) int64 {
	return pkt.StreamPosition
}

// onPacket implements processorHooks: finished messages go into the ring.
func (p *Pipeline) onPacket(m *msg.Message, content demux.Content, pts int64) {
	if p.waitForKeyFrame && !p.sawKeyFrame {
		if m.MsgId() == msg.StreamMuxPacket {
			if content != demux.ContentVideo || m.ClientId() != uint16(demux.FrameTypeI) {
				return
			}
			p.sawKeyFrame = true
		}
	}

	p.queue.Queue(m, content, pts)
}

// createStreamChangePacket implements processorHooks: persist the parsed
// bundle, order the streams by preference and build the wire packet.
func (p *Pipeline) createStreamChangePacket(bundle *demux.DemuxerBundle) *msg.Message {
	p.cfg.Cache.Add(p.channelUid, bundle.ToBundle())

	// reorder streams as preferred
	bundle.ReorderStreams(p.language, p.langStreamType)

	return CreateStreamChangePacket(bundle)
}

// RequestPacket accumulates ring messages into one wrapper message until
// it reaches the batching threshold. While paused, whatever has been
// collected is flushed immediately.
func (p *Pipeline) RequestPacket() *msg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	// create payload packet
	if p.streamPacket == nil {
		p.streamPacket = msg.New(msg.StreamMuxPacket, msg.ChannelStream)
		p.streamPacket.PutS64(p.queue.TimeshiftStartPosition())
		p.streamPacket.PutS64(time.Now().UnixMilli())
	}

	// request packets from the queue
	for {
		m := p.queue.Read()
		if m == nil {
			break
		}

		// add data
		p.streamPacket.PutU16(m.MsgId())
		p.streamPacket.PutU16(m.ClientId())
		p.streamPacket.PutBlob(m.Payload())

		// send payload packet once it's big enough
		if p.streamPacket.PayloadLength() >= minPacketSize {
			result := p.streamPacket
			p.streamPacket = nil
			return result
		}
	}

	if p.queue.IsPaused() {
		result := p.streamPacket
		p.streamPacket = nil
		return result
	}

	return nil
}

// Pause pauses or resumes the ring reader.
func (p *Pipeline) Pause(on bool) {
	p.queue.Pause(on)
}

// IsPaused reports the ring pause flag.
func (p *Pipeline) IsPaused() bool {
	return p.queue.IsPaused()
}

// Seek repositions the reader to the keyframe at or before the wall-clock
// time and returns its pts. The pending batch is discarded.
func (p *Pipeline) Seek(wallclockMs int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	// remove pending packet
	p.streamPacket = nil

	return p.queue.Seek(wallclockMs)
}

// RequestSignalInfo queues a signal info message. Nothing is sent while
// paused, so a timeshifted client is not polluted with live signal state.
func (p *Pipeline) RequestSignalInfo() {
	if p.device == nil {
		return
	}

	if p.IsPaused() {
		return
	}

	resp := msg.New(msg.StreamSignalInfo, msg.ChannelStream)

	strength := p.device.SignalStrength()
	quality := p.device.SignalQuality()

	resp.PutString(p.device.Name())
	resp.PutString(signalQualityString(quality))

	resp.PutU32(uint32(strength<<16) / 100)
	resp.PutU32(uint32(quality<<16) / 100)
	resp.PutU32(0)
	resp.PutU32(0)

	// provider & service information
	resp.PutString(p.cfg.Channels.Provider(p.channelUid))
	resp.PutString(p.cfg.Channels.ServiceName(p.channelUid))

	p.logger.Debug("request signal info")
	p.queue.Queue(resp, demux.ContentNone, 0)
}

// signalQualityString renders the lock flags of the frontend.
func signalQualityString(quality int) string {
	if quality < 0 {
		return "UNKNOWN (Incompatible device)"
	}

	flags := [5]string{"-", "-", "-", "-", "-"}
	names := [5]string{"LOCKED", "SIGNAL", "CARRIER", "VITERBI", "SYNC"}
	thresholds := [5]int{4, 0, 1, 2, 3}

	s := ""
	for i := range flags {
		v := flags[i]
		if quality > thresholds[i] {
			v = names[i]
		}
		if i > 0 {
			s += ":"
		}
		s += v
	}

	return s
}

// SetSignal reports device signal transitions; the matching stream status
// event is forwarded to the client.
func (p *Pipeline) SetSignal(present bool) {
	if p.cfg.Status == nil {
		return
	}

	switch {
	case !present && !p.signalLost:
		p.signalLost = true
		p.sendStatus(msg.StreamStatusSignalLost)
	case present && p.signalLost:
		p.signalLost = false
		p.sendStatus(msg.StreamStatusSignalRestored)
	}
}

func (p *Pipeline) sendStatus(status uint32) {
	m := msg.New(msg.StreamStatus, msg.ChannelStream)
	m.PutU32(status)
	p.cfg.Status.QueueMessage(m)
}

// TimeshiftStartPosition returns the wall-clock start of the buffered
// window in milliseconds.
func (p *Pipeline) TimeshiftStartPosition() int64 {
	return p.queue.TimeshiftStartPosition()
}

// Dropped returns the number of packets the ring had to drop.
func (p *Pipeline) Dropped() uint64 {
	return p.queue.Dropped()
}

// Close detaches the device, stops the ring writer and unlinks the ring
// file.
func (p *Pipeline) Close() {
	if p.device != nil {
		p.device.Detach()
		p.device = nil
	}

	p.processor.Reset()

	if err := p.queue.Close(); err != nil {
		p.logger.Warn("closing timeshift ring", slog.String("error", err.Error()))
	}

	p.logger.Info("live streamer terminated")
}
