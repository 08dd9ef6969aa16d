package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pipelka/robotv-go/internal/cache"
	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/live"
	"github.com/pipelka/robotv-go/internal/msg"
	"github.com/pipelka/robotv-go/internal/version"
)

// messageTimeout is the per-message socket timeout for both directions.
const messageTimeout = 10 * time.Second

// Session is one TCP client connection: an inbound request reader, an
// outbound writer and the dispatch onto a live pipeline.
type Session struct {
	id     int
	uuid   uuid.UUID
	conn   net.Conn
	deps   *SessionDeps
	logger *slog.Logger

	protocolVersion uint16
	loggedIn        bool
	statusEnabled   bool

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []*msg.Message
	closing   bool

	streamMu sync.Mutex
	streamer *live.Pipeline

	done chan struct{}
}

// SessionDeps are the collaborators a session hands to its pipelines.
type SessionDeps struct {
	Devices    live.DeviceProvider
	Channels   live.ChannelLookup
	Recordings live.RecordingState
	Cache      *cache.ChannelCache

	TimeshiftDir  string
	TimeshiftSize int64

	Metrics *Metrics
	Logger  *slog.Logger
}

// NewSession wraps an accepted connection.
func NewSession(id int, conn net.Conn, deps *SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:     id,
		uuid:   uuid.New(),
		conn:   conn,
		deps:   deps,
		logger: logger.With(slog.Int("client_id", id)),
		done:   make(chan struct{}),
	}
	s.queueCond = sync.NewCond(&s.queueMu)

	return s
}

// Run services the connection until the peer disconnects or the session is
// closed. It blocks; the caller runs it in its own goroutine.
func (s *Session) Run() {
	configureConn(s.conn, s.logger)

	go s.writeLoop()

	for {
		request, err := msg.Read(s.conn, messageTimeout)
		if err != nil {
			if errors.Is(err, msg.ErrTimeout) {
				// idle; keep listening
				continue
			}
			if !errors.Is(err, msg.ErrClosed) {
				s.logger.Debug("request read failed", slog.String("error", err.Error()))
			}
			break
		}

		if !s.processRequest(request) {
			break
		}
	}

	s.Close()
}

// configureConn applies keepalive and nodelay to the client socket.
func configureConn(conn net.Conn, logger *slog.Logger) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcp.SetNoDelay(true); err != nil {
		logger.Debug("setting TCP_NODELAY", slog.String("error", err.Error()))
	}

	err := tcp.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     30 * time.Second,
		Interval: 15 * time.Second,
		Count:    5,
	})
	if err != nil {
		logger.Debug("setting keepalive", slog.String("error", err.Error()))
	}
}

// writeLoop drains the outbound queue onto the socket, one message at a
// time with the per-message timeout.
func (s *Session) writeLoop() {
	for {
		s.queueMu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.queueCond.Wait()
		}

		if len(s.queue) == 0 && s.closing {
			s.queueMu.Unlock()
			return
		}

		m := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		if err := m.Write(s.conn, messageTimeout); err != nil {
			s.logger.Debug("outbound write failed", slog.String("error", err.Error()))
			return
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.BytesSent.Add(float64(m.PacketLength()))
		}
	}
}

// QueueMessage enqueues an outbound message; implements live.StatusSink.
func (s *Session) QueueMessage(m *msg.Message) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.closing {
		return
	}

	s.queue = append(s.queue, m)
	s.queueCond.Signal()
}

// processRequest dispatches one request. Returns false when the session
// must close.
func (s *Session) processRequest(request *msg.Message) bool {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RequestsHandled.Inc()
	}

	// the login defines the protocol version of all later messages
	if !s.loggedIn && request.MsgId() != msg.Login {
		s.logger.Warn("request before login", slog.Int("msg_id", int(request.MsgId())))
		return false
	}

	response := msg.NewResponse(request.MsgId(), request.Uid())
	response.SetProtocol(s.protocolVersion)

	send := true

	switch request.MsgId() {
	case msg.Login:
		if !s.processLogin(request, response) {
			return false
		}

	case msg.GetTime:
		now := time.Now()
		_, offset := now.Zone()
		response.PutU32(uint32(now.Unix()))
		response.PutS32(int32(offset))

	case msg.EnableStatusInterface:
		s.statusEnabled = request.GetU8() != 0
		response.PutU32(msg.RetOk)

	case msg.Ping:
		response.PutU32(msg.RetOk)

	case msg.ChannelStreamOpen:
		s.processStreamOpen(request, response)

	case msg.ChannelStreamClose:
		s.stopStreaming()

	case msg.ChannelStreamRequest:
		s.processStreamRequest(request, response)

	case msg.ChannelStreamPause:
		send = s.processStreamPause(request)

	case msg.ChannelStreamSignal:
		s.processStreamSignal()
		send = false

	case msg.ChannelStreamSeek:
		s.processStreamSeek(request, response)

	default:
		s.logger.Warn("unknown message id - closing session",
			slog.Int("msg_id", int(request.MsgId())))
		return false
	}

	if send {
		s.QueueMessage(response)
	}

	return true
}

// processLogin validates the protocol version and answers with server
// identity and time. Returns false on a version mismatch.
func (s *Session) processLogin(request *msg.Message, response *msg.Message) bool {
	protocol := request.Protocol()

	if protocol < msg.ProtocolVersionMin || protocol > msg.ProtocolVersionMax {
		if s.deps.Metrics != nil {
			s.deps.Metrics.LoginsRejected.Inc()
		}
		s.logger.Warn("rejected login with unsupported protocol version",
			slog.Int("protocol", int(protocol)))
		return false
	}

	request.GetU8() // compression level, unused
	clientName := request.GetString()

	s.protocolVersion = protocol
	s.loggedIn = true

	s.logger.Info("client login",
		slog.String("client_name", clientName),
		slog.Int("protocol", int(protocol)),
		slog.String("session", s.uuid.String()))

	now := time.Now()
	_, offset := now.Zone()

	response.SetProtocol(protocol)
	response.PutU32(uint32(now.Unix()))
	response.PutS32(int32(offset))
	response.PutString(version.ApplicationName + " server")
	response.PutString(version.Short())

	return true
}

// processStreamOpen switches the session onto a channel.
func (s *Session) processStreamOpen(request *msg.Message, response *msg.Message) {
	channelUid := request.GetU32()

	if !request.Eop() {
		request.GetS32() // priority, devices arbitrate internally
	}

	waitForKeyFrame := false
	if !request.Eop() {
		waitForKeyFrame = request.GetU8() != 0
	}

	language := ""
	langType := demux.TypeAc3
	if !request.Eop() {
		language = request.GetString()
		langType = demux.Type(request.GetU8())
	}

	s.stopStreaming()

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	streamer := live.NewPipeline(live.PipelineConfig{
		Devices:       s.deps.Devices,
		Channels:      s.deps.Channels,
		Recordings:    s.deps.Recordings,
		Cache:         s.deps.Cache,
		Status:        s,
		TimeshiftDir:  s.deps.TimeshiftDir,
		TimeshiftSize: s.deps.TimeshiftSize,
		SessionId:     s.id,
		Logger:        s.logger,
	})

	streamer.SetLanguage(language, langType)
	streamer.SetWaitForKeyFrame(waitForKeyFrame)

	status := streamer.SwitchChannel(channelUid)

	if status == msg.RetOk {
		s.streamer = streamer
		s.logger.Info("started streaming channel",
			slog.Uint64("channel_uid", uint64(channelUid)))
	} else {
		streamer.Close()
		s.logger.Error("can't stream channel",
			slog.Uint64("channel_uid", uint64(channelUid)),
			slog.Uint64("status", uint64(status)))
	}

	response.PutU32(status)
}

// processStreamRequest hands the next batched stream packet to the client.
func (s *Session) processStreamRequest(request *msg.Message, response *msg.Message) {
	s.streamMu.Lock()
	streamer := s.streamer
	s.streamMu.Unlock()

	if streamer == nil {
		return
	}

	request.GetU8() // keyframe mode flag of older clients

	p := streamer.RequestPacket()
	if p == nil {
		return
	}

	response.SetMsgId(p.MsgId())
	response.PutBlob(p.Payload())
}

func (s *Session) processStreamPause(request *msg.Message) bool {
	s.streamMu.Lock()
	streamer := s.streamer
	s.streamMu.Unlock()

	if streamer == nil {
		return false
	}

	on := request.GetU32() != 0
	if on {
		s.logger.Info("livestream paused")
	} else {
		s.logger.Info("livestream timeshifting")
	}

	streamer.Pause(on)
	return true
}

func (s *Session) processStreamSignal() {
	s.streamMu.Lock()
	streamer := s.streamer
	s.streamMu.Unlock()

	if streamer == nil {
		return
	}

	streamer.RequestSignalInfo()
}

func (s *Session) processStreamSeek(request *msg.Message, response *msg.Message) {
	s.streamMu.Lock()
	streamer := s.streamer
	s.streamMu.Unlock()

	position := request.GetS64()

	// seeking without a stream (or with an empty keyframe index) answers
	// with pts 0; with a stream the seek runs whether paused or live
	pts := int64(0)
	if streamer != nil {
		pts = streamer.Seek(position)
	}

	response.PutS64(pts)
}

// stopStreaming closes the active pipeline.
func (s *Session) stopStreaming() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.streamer == nil {
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.PacketsDropped.Add(float64(s.streamer.Dropped()))
	}

	s.streamer.Close()
	s.streamer = nil
}

// Close shuts the session down: stop streaming, wake the writer for its
// best-effort drain and close the socket.
func (s *Session) Close() {
	s.queueMu.Lock()
	if s.closing {
		s.queueMu.Unlock()
		return
	}
	s.closing = true
	s.queueCond.Broadcast()
	s.queueMu.Unlock()

	s.stopStreaming()

	_ = s.conn.Close()
	close(s.done)

	s.logger.Info("client disconnected")
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
