// Package live glues the demuxer bundle to the client-facing stream: it
// turns TS packets into framed outbound messages, drives the stream change
// protocol and owns the timeshift ring of one streaming session.
package live

import (
	"log/slog"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/msg"
	"golang.org/x/time/rate"
)

// preQueueLimit bounds the number of messages held back until the stream
// change packet can be emitted.
const preQueueLimit = 200

// processorHooks are the pipeline-provided pieces of the packet processor.
type processorHooks interface {
	// currentTime returns the wall-clock time in milliseconds of a packet.
	currentTime(p *demux.Packet) int64

	// onPacket receives every finished outbound message.
	onPacket(m *msg.Message, content demux.Content, pts int64)

	// createStreamChangePacket builds the stream change message for the
	// current bundle.
	createStreamChangePacket(bundle *demux.DemuxerBundle) *msg.Message
}

// Processor feeds TS packets through PAT/PMT tracking and the demuxer
// bundle. On a PMT version bump it rebuilds the demuxers and guarantees
// that a STREAM_CHANGE packet precedes the first payload of the new
// configuration, holding early payloads in a bounded pre-queue until every
// demuxer has parsed its parameters.
type Processor struct {
	parser   *demux.PatPmtParser
	demuxers *demux.DemuxerBundle

	patVersion          int
	pmtVersion          int
	requestStreamChange bool

	preQueue []*msg.Message

	hooks       processorHooks
	logger      *slog.Logger
	dropLimiter *rate.Limiter
}

// newProcessor creates a processor delivering through hooks.
func newProcessor(hooks processorHooks, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		parser:              demux.NewPatPmtParser(),
		patVersion:          -1,
		pmtVersion:          -1,
		requestStreamChange: true,
		hooks:               hooks,
		logger:              logger,
		dropLimiter:         rate.NewLimiter(rate.Every(time.Second), 1),
	}
	p.demuxers = demux.NewDemuxerBundle(p)

	return p
}

// Demuxers exposes the demuxer bundle for seeding and reordering.
func (p *Processor) Demuxers() *demux.DemuxerBundle {
	return p.demuxers
}

// PutTsPacket processes a single transport stream packet. The position is
// passed through to the resulting elementary packets.
func (p *Processor) PutTsPacket(data []byte, position int64) bool {
	if p.parser.Feed(data) {
		if patVersion, pmtVersion, ok := p.parser.Versions(); ok {
			if pmtVersion > p.pmtVersion {
				p.logger.Info("found new PAT/PMT version",
					slog.Int("pat_version", patVersion),
					slog.Int("pmt_version", pmtVersion))

				p.cleanupQueue()
				p.demuxers.Clear()

				p.pmtVersion = pmtVersion
				p.patVersion = patVersion
				p.requestStreamChange = true

				p.logger.Info("updating demuxers")
				p.demuxers.UpdateFrom(p.parser.Snapshot())
			}
		}
	}

	// put packets into demuxer
	return p.demuxers.ProcessTsPacket(data, position)
}

// cleanupQueue drops all pre-queued messages.
func (p *Processor) cleanupQueue() {
	p.preQueue = p.preQueue[:0]
}

// Reset clears the parser, demuxers and pre-queue. Should be called on any
// channel switch.
func (p *Processor) Reset() {
	p.parser.Reset()
	p.demuxers.Clear()
	p.requestStreamChange = true
	p.patVersion = -1
	p.pmtVersion = -1

	p.cleanupQueue()
}

// OnStreamPacket implements demux.Listener: it packages elementary packets
// into mux messages, emitting the pending stream change first once all
// demuxers are ready.
func (p *Processor) OnStreamPacket(pkt *demux.Packet) {
	// skip empty packets
	if pkt == nil || len(pkt.Data) == 0 {
		return
	}

	// stream change needed / requested
	if p.requestStreamChange && p.demuxers.IsReady() {
		p.logger.Info("demuxers ready")

		for _, d := range p.demuxers.Demuxers() {
			p.logger.Info(d.Info())
		}

		p.logger.Info("create streamchange packet")
		p.requestStreamChange = false

		change := p.hooks.createStreamChangePacket(p.demuxers)
		p.hooks.onPacket(change, demux.ContentNone, 0)

		// push pre-queued packets
		p.logger.Debug("processing pre-queued packets", slog.Int("count", len(p.preQueue)))

		for _, queued := range p.preQueue {
			p.hooks.onPacket(queued, demux.ContentNone, 0)
		}
		p.preQueue = p.preQueue[:0]
	}

	// initialise stream packet
	m := msg.New(msg.StreamMuxPacket, msg.ChannelStream)

	// write stream data
	m.PutU16(uint16(pkt.Pid))

	m.PutS64(pkt.Pts)
	m.PutS64(pkt.Dts)
	m.PutU32(uint32(pkt.Duration))

	// write frame type into the unused client id header field
	m.SetClientId(uint16(pkt.FrameType))

	// write payload into stream packet
	m.PutU32(uint32(len(pkt.Data)))
	m.PutBlob(pkt.Data)

	// add timestamp (wallclock time in ms)
	m.PutS64(p.hooks.currentTime(pkt))

	// pre-queue packet until the bundle is ready
	if !p.demuxers.IsReady() {
		if len(p.preQueue) >= preQueueLimit {
			if p.dropLimiter.Allow() {
				p.logger.Warn("pre-queue full - skipping packet")
			}
			return
		}

		p.preQueue = append(p.preQueue, m)
		return
	}

	p.hooks.onPacket(m, pkt.Content, pkt.Pts)
}

// OnStreamChange implements demux.Listener; idempotent.
func (p *Processor) OnStreamChange() {
	if !p.requestStreamChange {
		p.logger.Info("stream change requested")
	}

	p.requestStreamChange = true
}

// CreateStreamChangePacket builds the STREAM_CHANGE message body from the
// current bundle: stream count, then per stream the PID and the content
// specific descriptors.
func CreateStreamChangePacket(bundle *demux.DemuxerBundle) *msg.Message {
	resp := msg.New(msg.StreamChange, msg.ChannelStream)

	resp.PutU8(uint8(bundle.Len()))

	for _, stream := range bundle.Demuxers() {
		resp.PutU32(uint32(stream.Pid))

		switch stream.Content {
		case demux.ContentAudio:
			resp.PutString(stream.Type.String())
			resp.PutString(stream.Language)
			resp.PutU32(uint32(stream.Channels))
			resp.PutU32(uint32(stream.SampleRate))
			resp.PutU32(0) // unused, binary compatibility
			resp.PutU32(uint32(stream.BitRate))
			resp.PutU32(0) // unused, binary compatibility

		case demux.ContentVideo:
			resp.PutString(stream.Type.String())
			resp.PutU32(uint32(stream.FpsScale))
			resp.PutU32(uint32(stream.FpsRate))
			resp.PutU32(uint32(stream.Height))
			resp.PutU32(uint32(stream.Width))
			resp.PutS64(stream.Aspect)

			// decoder blobs, u8 length each; zero length means absent
			resp.PutU8(uint8(len(stream.Sps)))
			resp.PutBlob(stream.Sps)

			resp.PutU8(uint8(len(stream.Pps)))
			resp.PutBlob(stream.Pps)

			resp.PutU8(uint8(len(stream.Vps)))
			resp.PutBlob(stream.Vps)

		case demux.ContentSubtitle:
			resp.PutString(stream.Type.String())
			resp.PutString(stream.Language)
			resp.PutU32(uint32(stream.CompositionPageId))
			resp.PutU32(uint32(stream.AncillaryPageId))

		case demux.ContentTeletext:
			resp.PutString(stream.Type.String())
		}
	}

	return resp
}
