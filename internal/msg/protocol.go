package msg

// Protocol versions accepted at login.
const (
	ProtocolVersionMin = 7
	ProtocolVersionMax = 8
)

// Packet channels.
const (
	ChannelRequestResponse = 1
	ChannelStream          = 2
	ChannelStatus          = 5
	ChannelScan            = 6
)

// Request operation codes touching the streaming core.
const (
	Login                 = 1
	GetTime               = 2
	EnableStatusInterface = 3
	Ping                  = 7

	ChannelStreamOpen    = 20
	ChannelStreamClose   = 21
	ChannelStreamRequest = 22
	ChannelStreamPause   = 23
	ChannelStreamSignal  = 24
	ChannelStreamSeek    = 25
)

// Stream channel packet types (server -> client).
const (
	StreamChange     = 1
	StreamStatus     = 2
	StreamMuxPacket  = 4
	StreamSignalInfo = 5
	StreamDetach     = 7
	StreamPositions  = 8
)

// Stream status codes.
const (
	StreamStatusSignalLost     = 111
	StreamStatusSignalRestored = 112
)

// Packet return codes.
const (
	RetOk               = 0
	RetRecordingRunning = 1
	RetEncrypted        = 994
	RetNotSupported     = 995
	RetDataUnknown      = 996
	RetDataLocked       = 997
	RetDataInvalid      = 998
	RetError            = 999
)
